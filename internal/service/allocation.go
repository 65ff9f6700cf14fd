package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/repository"
	"github.com/alexanderramin/programs/internal/source"
)

type allocationService struct {
	deps     Deps
	allocs   repository.AllocationRepo
	logger   *slog.Logger
	observer UseCaseObserver
}

// NewAllocationService also registers itself as the reset handler of the
// certification source.
func NewAllocationService(deps Deps, observers ...UseCaseObserver) AllocationService {
	s := &allocationService{
		deps:     deps,
		allocs:   repository.NewSQLiteAllocationRepo(deps.DB),
		logger:   discardLogger(deps.Logger),
		observer: useCaseObserverOrNoop(observers),
	}
	if deps.Sources != nil && deps.Sources.Certification() != nil {
		deps.Sources.Certification().SetResetter(sweepResetter{s})
	}
	return s
}

func (s *allocationService) Get(ctx context.Context, id int64) (*domain.Allocation, error) {
	return s.allocs.GetByID(ctx, id)
}

func (s *allocationService) ListByProgram(ctx context.Context, programID int64) ([]*domain.Allocation, error) {
	return s.allocs.ListByProgram(ctx, programID)
}

func (s *allocationService) ListByUser(ctx context.Context, userID int64) ([]*domain.Allocation, error) {
	return s.allocs.ListByUser(ctx, userID)
}

// Allocate adds users through the manual source. Users already allocated
// are skipped.
func (s *allocationService) Allocate(ctx context.Context, programID int64, userIDs []int64, o source.Overrides) (out []*domain.Allocation, err error) {
	defer track(ctx, s.observer, "allocation-create", map[string]any{"program_id": programID, "users": len(userIDs)})(&err)

	out, err = s.deps.Sources.Manual().AllocateUsers(ctx, programID, userIDs, o)
	if len(out) > 0 {
		if syncErr := s.deps.Sync.Sync(ctx, &programID, nil); syncErr != nil && err == nil {
			err = syncErr
		}
	}
	return out, err
}

func (s *allocationService) Deallocate(ctx context.Context, allocationID int64) (err error) {
	defer track(ctx, s.observer, "allocation-delete", map[string]any{"allocation_id": allocationID})(&err)
	return s.mutate(ctx, allocationID, s.deps.Sources.DeleteAllocation)
}

func (s *allocationService) Archive(ctx context.Context, allocationID int64) (err error) {
	defer track(ctx, s.observer, "allocation-archive", map[string]any{"allocation_id": allocationID})(&err)
	return s.mutate(ctx, allocationID, s.deps.Sources.ArchiveAllocation)
}

func (s *allocationService) Restore(ctx context.Context, allocationID int64) (err error) {
	defer track(ctx, s.observer, "allocation-restore", map[string]any{"allocation_id": allocationID})(&err)
	return s.mutate(ctx, allocationID, s.deps.Sources.RestoreAllocation)
}

func (s *allocationService) UpdateDates(ctx context.Context, allocationID int64, d domain.DateOverrides) (err error) {
	defer track(ctx, s.observer, "allocation-update-dates", map[string]any{"allocation_id": allocationID})(&err)
	return s.mutate(ctx, allocationID, func(ctx context.Context, id int64) (*domain.Allocation, error) {
		return s.deps.Sources.UpdateAllocationDates(ctx, id, d)
	})
}

// mutate runs one registry mutation, which reports the allocation it loaded,
// then syncs that user in the program.
func (s *allocationService) mutate(ctx context.Context, allocationID int64, fn func(context.Context, int64) (*domain.Allocation, error)) error {
	a, err := fn(ctx, allocationID)
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &a.ProgramID, &a.UserID)
}

// ResetAllocation applies a reset tier. Deallocate removes the allocation
// and leaves the courses alone. Standard and full clear the user's progress
// in place, unenrol them from the program courses and purge the course data.
func (s *allocationService) ResetAllocation(ctx context.Context, allocationID int64, rt domain.ResetType) (err error) {
	defer track(ctx, s.observer, "allocation-reset", map[string]any{"allocation_id": allocationID, "tier": rt.String()})(&err)

	a, err := s.reset(ctx, allocationID, rt)
	if err != nil || a == nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &a.ProgramID, &a.UserID)
}

// sweepResetter resets without the trailing sync. The certification source
// calls it from inside a sweep whose remaining passes cover the user.
type sweepResetter struct {
	s *allocationService
}

func (r sweepResetter) ResetAllocation(ctx context.Context, allocationID int64, rt domain.ResetType) error {
	_, err := r.s.reset(ctx, allocationID, rt)
	return err
}

func (s *allocationService) reset(ctx context.Context, allocationID int64, rt domain.ResetType) (*domain.Allocation, error) {
	if rt == domain.ResetNone {
		return nil, nil
	}
	a, err := s.allocs.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if rt == domain.ResetDeallocate {
		if err := s.deps.Sources.Allocator().Delete(ctx, a.ID); err != nil {
			return nil, fmt.Errorf("deallocating allocation %d: %w", a.ID, err)
		}
		return a, nil
	}

	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		if err := repos.Completions.DeleteByAllocation(ctx, a.ID); err != nil {
			return err
		}
		if err := repos.Completions.DeleteProgramEvidence(ctx, a.ProgramID, a.UserID); err != nil {
			return err
		}
		a.TimeCompleted = nil
		a.CalendarUpdated = false
		if err := repos.Allocations.Update(ctx, a); err != nil {
			return err
		}
		evt = newEvent(domain.EventAllocationReset, &a.ProgramID, &a.ID, &a.UserID, s.deps.now(),
			map[string]any{"resettype": rt.String()})
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	if err := s.unenrol(ctx, a); err != nil {
		return nil, err
	}
	if s.deps.Reset != nil {
		courses, err := programCourses(ctx, s.deps.DB, a.ProgramID)
		if err != nil {
			return nil, err
		}
		if err := s.deps.Reset.Purge(ctx, rt, a.UserID, courses); err != nil {
			return nil, fmt.Errorf("purging courses of user %d: %w", a.UserID, err)
		}
	}
	s.deps.Bus.Publish(ctx, evt)
	return a, nil
}

// unenrol removes the user from every enrol instance of the program. The
// reconciler enrols again, suspended until the access passes allow it.
func (s *allocationService) unenrol(ctx context.Context, a *domain.Allocation) error {
	ids, err := queryIDs(ctx, s.deps.DB, `
		SELECT e.id FROM enrol_instances e
		JOIN user_enrolments ue ON ue.enrolid = e.id
		WHERE e.enrol = ? AND e.customint1 = ? AND ue.userid = ?`,
		platform.Component, a.ProgramID, a.UserID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.deps.Platform.Enrolments.UnenrolUser(ctx, id, a.UserID); err != nil {
			return fmt.Errorf("unenrolling user %d from instance %d: %w", a.UserID, id, err)
		}
	}
	return nil
}

func programCourses(ctx context.Context, q db.DBTX, programID int64) ([]int64, error) {
	return queryIDs(ctx, q, `SELECT courseid FROM items WHERE programid = ? AND courseid IS NOT NULL ORDER BY courseid`, programID)
}

func queryIDs(ctx context.Context, q db.DBTX, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
