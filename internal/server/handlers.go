package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alexanderramin/programs/internal/app"
	"github.com/alexanderramin/programs/internal/cron"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/source"
)

type Handler struct {
	Engine *app.Engine
	Cron   *cron.Runner
	Logger *slog.Logger
}

func NewHandler(engine *app.Engine, runner *cron.Runner) *Handler {
	return &Handler{Engine: engine, Cron: runner, Logger: engine.Logger}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sync runs the reconciliation, scoped by the optional program and user
// query parameters.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	programID, err := optionalID(r, "program")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program", err)
		return
	}
	userID, err := optionalID(r, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user", err)
		return
	}
	if err := h.Engine.Reconciler.Sync(r.Context(), programID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RunCron(w http.ResponseWriter, r *http.Request) {
	if h.Cron == nil {
		writeError(w, http.StatusNotFound, "cron not configured", nil)
		return
	}
	res, err := h.Cron.RunOnce(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CronResponse{
		Notifications: res.Notifications,
		Certificates:  res.Certificates,
		DurationMs:    res.Duration.Milliseconds(),
	})
}

func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	archived := r.URL.Query().Get("archived") == "1"
	programs, err := h.Engine.Programs.List(r.Context(), archived)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProgramDTO, 0, len(programs))
	for _, p := range programs {
		out = append(out, toProgramDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program id", err)
		return
	}
	p, err := h.Engine.Programs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(p))
}

func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program id", err)
		return
	}
	if _, err := h.Engine.Programs.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	allocs, err := h.Engine.Allocations.ListByProgram(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program id", err)
		return
	}
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "userids is required", nil)
		return
	}
	allocs, err := h.Engine.Allocations.Allocate(r.Context(), id, req.UserIDs, source.Overrides{
		TimeStart: req.TimeStart,
		TimeDue:   req.TimeDue,
		TimeEnd:   req.TimeEnd,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTOs(allocs))
}

func (h *Handler) Deallocate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid allocation id", err)
		return
	}
	if err := h.Engine.Allocations.Deallocate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid allocation id", err)
		return
	}
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rt, ok := domain.ParseResetType(req.ResetType)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown reset type %q", req.ResetType), nil)
		return
	}
	if err := h.Engine.Allocations.ResetAllocation(r.Context(), id, rt); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCohortMember records an external cohort change and syncs the user.
func (h *Handler) AddCohortMember(w http.ResponseWriter, r *http.Request) {
	cohortID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cohort id", err)
		return
	}
	var req CohortMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "userid is required", err)
		return
	}
	h.cohortChange(w, r, cohortID, req.UserID, true)
}

func (h *Handler) RemoveCohortMember(w http.ResponseWriter, r *http.Request) {
	cohortID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cohort id", err)
		return
	}
	userID, err := pathID(r, "userid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", err)
		return
	}
	h.cohortChange(w, r, cohortID, userID, false)
}

func (h *Handler) cohortChange(w http.ResponseWriter, r *http.Request, cohortID, userID int64, add bool) {
	ctx := r.Context()
	cohorts := h.Engine.Providers.Cohorts
	ok, err := cohorts.Exists(ctx, cohortID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "cohort not found", nil)
		return
	}
	if add {
		err = cohorts.AddMember(ctx, cohortID, userID)
	} else {
		err = cohorts.RemoveMember(ctx, cohortID, userID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Engine.Reconciler.Sync(ctx, nil, &userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, http.StatusText(status), err)
}

func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSourceMissing):
		return http.StatusNotFound
	case errors.As(err, &ve),
		errors.Is(err, domain.ErrInvalidDates),
		errors.Is(err, domain.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSourceNotAllowed),
		errors.Is(err, domain.ErrAlreadyAllocated),
		errors.Is(err, domain.ErrProgramArchived),
		errors.Is(err, domain.ErrDeleteNotPossible),
		errors.Is(err, domain.ErrArchiveNotPossible),
		errors.Is(err, domain.ErrRestoreNotPossible),
		errors.Is(err, domain.ErrMaxUsersReached):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func optionalID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", name)
	}
	return &id, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
