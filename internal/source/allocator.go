package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/repository"
)

// Overrides are the optional explicit values of an allocate call. Nil dates
// fall back to the program schedule evaluated at TimeAllocated; Dates, when
// set, replaces the schedule entirely.
type Overrides struct {
	TimeAllocated    *time.Time
	Dates            *domain.DateOverrides
	TimeStart        *time.Time
	TimeDue          *time.Time
	TimeEnd          *time.Time
	SourceData       string
	SourceInstanceID *int64
}

// Allocator performs the allocation row mutations shared by every source.
// Each public method is one unit of work; events are published after commit.
type Allocator struct {
	db     db.DBTX
	uow    db.UnitOfWork
	bus    *events.Bus
	logger *slog.Logger

	Now func() time.Time
}

func NewAllocator(database db.DBTX, uow db.UnitOfWork, bus *events.Bus, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Allocator{db: database, uow: uow, bus: bus, logger: logger, Now: time.Now}
}

func (a *Allocator) now() time.Time {
	return a.Now().UTC().Truncate(time.Second)
}

// ResolveDates applies overrides on top of the program defaults and
// validates the result.
func ResolveDates(p *domain.Program, o Overrides, now time.Time) (time.Time, domain.DateOverrides, error) {
	allocated := now
	if o.TimeAllocated != nil {
		allocated = *o.TimeAllocated
	}
	if o.Dates != nil {
		return allocated, *o.Dates, o.Dates.Validate()
	}
	d, err := p.DefaultDates(allocated)
	if err != nil {
		return allocated, d, err
	}
	if o.TimeStart != nil {
		d.TimeStart = *o.TimeStart
	}
	if o.TimeDue != nil {
		d.TimeDue = o.TimeDue
	}
	if o.TimeEnd != nil {
		d.TimeEnd = o.TimeEnd
	}
	if err := d.Validate(); err != nil {
		return allocated, d, err
	}
	return allocated, d, nil
}

// AllocateUser creates the allocation of userID in p through s. When the user
// already holds an allocation in p, it is returned together with
// ErrAlreadyAllocated.
func (a *Allocator) AllocateUser(ctx context.Context, p *domain.Program, s *domain.Source, userID int64, o Overrides) (*domain.Allocation, error) {
	return a.allocateAt(ctx, p, s, userID, o, a.now())
}

func (a *Allocator) allocateAt(ctx context.Context, p *domain.Program, s *domain.Source, userID int64, o Overrides, now time.Time) (*domain.Allocation, error) {
	var alloc *domain.Allocation
	var evt *domain.Event
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		alloc, evt, err = a.allocateTx(ctx, tx, p, s, userID, o, now)
		return err
	})
	if err != nil {
		return alloc, err
	}
	a.bus.Publish(ctx, evt)
	return alloc, nil
}

func (a *Allocator) allocateTx(ctx context.Context, q db.DBTX, p *domain.Program, s *domain.Source, userID int64, o Overrides, now time.Time) (*domain.Allocation, *domain.Event, error) {
	if p.Archived {
		return nil, nil, fmt.Errorf("allocating to program %d: %w", p.ID, domain.ErrProgramArchived)
	}
	if s.ProgramID != p.ID {
		return nil, nil, fmt.Errorf("source %d does not belong to program %d: %w", s.ID, p.ID, domain.ErrSourceNotAllowed)
	}
	if err := activeUser(ctx, q, userID); err != nil {
		return nil, nil, err
	}

	repos := repository.NewRepos(q)
	existing, err := repos.Allocations.GetByProgramUser(ctx, p.ID, userID)
	if err == nil {
		return existing, nil, fmt.Errorf("user %d in program %d: %w", userID, p.ID, domain.ErrAlreadyAllocated)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	allocated, dates, err := ResolveDates(p, o, now)
	if err != nil {
		return nil, nil, err
	}
	alloc := &domain.Allocation{
		ProgramID:        p.ID,
		UserID:           userID,
		SourceID:         s.ID,
		SourceData:       o.SourceData,
		SourceInstanceID: o.SourceInstanceID,
		TimeAllocated:    allocated,
		TimeStart:        dates.TimeStart,
		TimeDue:          dates.TimeDue,
		TimeEnd:          dates.TimeEnd,
		TimeCreated:      now,
	}
	if err := repos.Allocations.Create(ctx, alloc); err != nil {
		return nil, nil, err
	}
	evt := newAllocationEvent(domain.EventAllocationCreated, alloc, now, map[string]any{"source": string(s.Type)})
	if err := repos.Events.Append(ctx, evt); err != nil {
		return nil, nil, err
	}
	return alloc, evt, nil
}

// UpdateDates replaces the dates of an allocation. Calendar events are
// flagged for regeneration.
func (a *Allocator) UpdateDates(ctx context.Context, allocationID int64, d domain.DateOverrides) error {
	return a.updateDatesAt(ctx, allocationID, d, a.now())
}

func (a *Allocator) updateDatesTx(ctx context.Context, q db.DBTX, allocationID int64, d domain.DateOverrides, now time.Time) (*domain.Event, error) {
	repos := repository.NewRepos(q)
	alloc, err := repos.Allocations.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if alloc.SameDates(d) {
		return nil, nil
	}
	alloc.TimeStart = d.TimeStart
	alloc.TimeDue = d.TimeDue
	alloc.TimeEnd = d.TimeEnd
	alloc.CalendarUpdated = false
	if err := repos.Allocations.Update(ctx, alloc); err != nil {
		return nil, err
	}
	evt := newAllocationEvent(domain.EventAllocationUpdated, alloc, now, map[string]any{"dates": true})
	if err := repos.Events.Append(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// SetArchived archives or restores an allocation. It reports whether the
// row changed.
func (a *Allocator) SetArchived(ctx context.Context, allocationID int64, archived bool) (bool, error) {
	return a.setArchivedAt(ctx, allocationID, archived, a.now())
}

func (a *Allocator) setArchivedAt(ctx context.Context, allocationID int64, archived bool, now time.Time) (bool, error) {
	var evt *domain.Event
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		evt, err = a.setArchivedTx(ctx, tx, allocationID, archived, now)
		return err
	})
	if err != nil || evt == nil {
		return false, err
	}
	a.bus.Publish(ctx, evt)
	return true, nil
}

func (a *Allocator) setArchivedTx(ctx context.Context, q db.DBTX, allocationID int64, archived bool, now time.Time) (*domain.Event, error) {
	repos := repository.NewRepos(q)
	alloc, err := repos.Allocations.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if alloc.Archived == archived {
		return nil, nil
	}
	alloc.Archived = archived
	alloc.CalendarUpdated = false
	if err := repos.Allocations.Update(ctx, alloc); err != nil {
		return nil, err
	}
	evt := newAllocationEvent(domain.EventAllocationUpdated, alloc, now, map[string]any{"archived": archived})
	if err := repos.Events.Append(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Delete removes the allocation with its item completions and the user's
// evidence for the program's items.
func (a *Allocator) Delete(ctx context.Context, allocationID int64) error {
	return a.deleteAt(ctx, allocationID, a.now())
}

func (a *Allocator) deleteAt(ctx context.Context, allocationID int64, now time.Time) error {
	var evt *domain.Event
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		evt, err = a.deleteTx(ctx, tx, allocationID, now)
		return err
	})
	if err != nil {
		return err
	}
	a.bus.Publish(ctx, evt)
	return nil
}

func (a *Allocator) deleteTx(ctx context.Context, q db.DBTX, allocationID int64, now time.Time) (*domain.Event, error) {
	repos := repository.NewRepos(q)
	alloc, err := repos.Allocations.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if err := repos.Completions.DeleteProgramEvidence(ctx, alloc.ProgramID, alloc.UserID); err != nil {
		return nil, err
	}
	if err := repos.Allocations.Delete(ctx, alloc.ID); err != nil {
		return nil, err
	}
	evt := newAllocationEvent(domain.EventAllocationDeleted, alloc, now, nil)
	if err := repos.Events.Append(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// relink moves an allocation onto a new source instance with fresh dates
// and clears its completion, starting a new cycle.
func (a *Allocator) relink(ctx context.Context, allocationID int64, instanceID int64, d domain.DateOverrides, now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	var evt *domain.Event
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		alloc, err := repos.Allocations.GetByID(ctx, allocationID)
		if err != nil {
			return err
		}
		alloc.SourceInstanceID = &instanceID
		alloc.TimeStart, alloc.TimeDue, alloc.TimeEnd = d.TimeStart, d.TimeDue, d.TimeEnd
		alloc.TimeCompleted = nil
		alloc.CalendarUpdated = false
		if err := repos.Allocations.Update(ctx, alloc); err != nil {
			return err
		}
		evt = newAllocationEvent(domain.EventAllocationUpdated, alloc, now, map[string]any{"sourceinstanceid": instanceID})
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	a.bus.Publish(ctx, evt)
	return nil
}

// updateDatesAt is UpdateDates with a pinned clock.
func (a *Allocator) updateDatesAt(ctx context.Context, allocationID int64, d domain.DateOverrides, now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	var evt *domain.Event
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		evt, err = a.updateDatesTx(ctx, tx, allocationID, d, now)
		return err
	})
	if err != nil {
		return err
	}
	a.bus.Publish(ctx, evt)
	return nil
}

func activeUser(ctx context.Context, q db.DBTX, userID int64) error {
	var deleted int
	err := q.QueryRowContext(ctx, `SELECT deleted FROM users WHERE id = ?`, userID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || deleted != 0 {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading user: %w", err)
	}
	return nil
}

func newAllocationEvent(name domain.EventName, a *domain.Allocation, now time.Time, payload map[string]any) *domain.Event {
	programID, allocationID, userID := a.ProgramID, a.ID, a.UserID
	e := &domain.Event{
		Name:          name,
		ProgramID:     &programID,
		AllocationID:  &allocationID,
		UserID:        &userID,
		CorrelationID: uuid.New().String(),
		TimeCreated:   now,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.Payload = string(b)
		}
	}
	return e
}
