package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

// ApprovalSettings is the datajson of an approval source.
type ApprovalSettings struct {
	AllowRequest bool `json:"allowrequest"`
}

// Approval allocates users whose request was approved. Rejected requests
// are kept to block resubmission until they are deleted.
type Approval struct {
	base
}

// CanRequest reports whether the user may submit a new request.
func (a *Approval) CanRequest(ctx context.Context, programID, userID int64) (bool, error) {
	_, _, err := a.checkRequest(ctx, programID, userID)
	if err == nil {
		return true, nil
	}
	if isPolicyError(err) {
		return false, nil
	}
	return false, err
}

func (a *Approval) checkRequest(ctx context.Context, programID, userID int64) (*domain.Program, *domain.Source, error) {
	repos := repository.NewRepos(a.db)
	p, src, err := loadProgramSource(ctx, repos, programID, domain.SourceApproval)
	if err != nil {
		return nil, nil, err
	}
	if !a.IsNewAllowed(p) {
		return nil, nil, fmt.Errorf("requests in program %d: %w", programID, domain.ErrSourceNotAllowed)
	}
	var st ApprovalSettings
	if err := decodeSettings(src.Data, &st); err != nil {
		return nil, nil, err
	}
	if !st.AllowRequest {
		return nil, nil, fmt.Errorf("requests disabled in program %d: %w", programID, domain.ErrSourceNotAllowed)
	}
	if !p.AllocationOpen(a.alloc.now()) {
		return nil, nil, fmt.Errorf("allocation window of program %d closed: %w", programID, domain.ErrSourceNotAllowed)
	}
	visible, err := repos.Programs.IsVisibleTo(ctx, programID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !visible {
		return nil, nil, fmt.Errorf("program %d not visible to user %d: %w", programID, userID, domain.ErrSourceNotAllowed)
	}
	if _, err := repos.Allocations.GetByProgramUser(ctx, programID, userID); err == nil {
		return nil, nil, fmt.Errorf("user %d in program %d: %w", userID, programID, domain.ErrAlreadyAllocated)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	req, err := repos.Requests.GetBySourceUser(ctx, src.ID, userID)
	if err == nil {
		if req.TimeRejected != nil {
			return nil, nil, fmt.Errorf("request %d: %w", req.ID, domain.ErrRequestRejected)
		}
		return nil, nil, fmt.Errorf("request %d: %w", req.ID, domain.ErrRequestExists)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	return p, src, nil
}

// Request records a pending allocation request.
func (a *Approval) Request(ctx context.Context, programID, userID int64, data string) (*domain.Request, error) {
	_, src, err := a.checkRequest(ctx, programID, userID)
	if err != nil {
		return nil, err
	}
	now := a.alloc.now()
	req := &domain.Request{SourceID: src.ID, UserID: userID, TimeRequested: now, Data: data}
	var evt *domain.Event
	err = a.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		if err := repos.Requests.Create(ctx, req); err != nil {
			return err
		}
		evt = newRequestEvent(domain.EventRequestCreated, programID, req, now)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return nil, err
	}
	a.alloc.bus.Publish(ctx, evt)
	return req, nil
}

// Approve deletes the request and creates the allocation in one unit of
// work. A user allocated meanwhile by another source keeps that allocation.
func (a *Approval) Approve(ctx context.Context, requestID int64, o Overrides) (*domain.Allocation, error) {
	now := a.alloc.now()
	var alloc *domain.Allocation
	var evt *domain.Event
	err := a.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		req, err := repos.Requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req.TimeRejected != nil {
			return fmt.Errorf("request %d: %w", req.ID, domain.ErrRequestRejected)
		}
		src, err := repos.Sources.GetByID(ctx, req.SourceID)
		if err != nil {
			return err
		}
		p, err := repos.Programs.GetByID(ctx, src.ProgramID)
		if err != nil {
			return err
		}
		if !a.IsNewAllowed(p) {
			return fmt.Errorf("approving in program %d: %w", p.ID, domain.ErrSourceNotAllowed)
		}
		if err := repos.Requests.Delete(ctx, req.ID); err != nil {
			return err
		}
		alloc, evt, err = a.alloc.allocateTx(ctx, tx, p, src, req.UserID, o, now)
		if errors.Is(err, domain.ErrAlreadyAllocated) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	a.alloc.bus.Publish(ctx, evt)
	return alloc, nil
}

// Reject stamps the request as rejected. Rejecting twice is a no-op.
func (a *Approval) Reject(ctx context.Context, requestID, rejectedBy int64) error {
	now := a.alloc.now()
	var evt *domain.Event
	err := a.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		req, err := repos.Requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req.TimeRejected != nil {
			return nil
		}
		src, err := repos.Sources.GetByID(ctx, req.SourceID)
		if err != nil {
			return err
		}
		if err := repos.Requests.Reject(ctx, req.ID, rejectedBy, now); err != nil {
			return err
		}
		evt = newRequestEvent(domain.EventRequestRejected, src.ProgramID, req, now)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	a.alloc.bus.Publish(ctx, evt)
	return nil
}

// DeleteRequest removes a pending or rejected request so the user can
// request again.
func (a *Approval) DeleteRequest(ctx context.Context, requestID int64) error {
	now := a.alloc.now()
	var evt *domain.Event
	err := a.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		req, err := repos.Requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		src, err := repos.Sources.GetByID(ctx, req.SourceID)
		if err != nil {
			return err
		}
		if err := repos.Requests.Delete(ctx, req.ID); err != nil {
			return err
		}
		evt = newRequestEvent(domain.EventRequestDeleted, src.ProgramID, req, now)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	a.alloc.bus.Publish(ctx, evt)
	return nil
}

// ListRequests returns the requests of the program's approval source.
func (a *Approval) ListRequests(ctx context.Context, programID int64) ([]*domain.Request, error) {
	repos := repository.NewRepos(a.db)
	src, err := repos.Sources.GetByProgramType(ctx, programID, domain.SourceApproval)
	if err != nil {
		return nil, err
	}
	return repos.Requests.ListBySource(ctx, src.ID)
}

func newRequestEvent(name domain.EventName, programID int64, r *domain.Request, now time.Time) *domain.Event {
	userID := r.UserID
	return &domain.Event{
		Name:          name,
		ProgramID:     &programID,
		UserID:        &userID,
		CorrelationID: uuid.New().String(),
		Payload:       fmt.Sprintf(`{"requestid":%d}`, r.ID),
		TimeCreated:   now,
	}
}
