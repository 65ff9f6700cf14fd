// Package reconcile derives enrolments, roles, groups and completions from
// the current allocations and program content.
//
// Every pass is an idempotent set reconciliation committed on its own, so a
// sweep interrupted halfway is completed by the next run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/flags"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/source"
)

// DefaultRoleID is the course role given to enrolled users.
const DefaultRoleID = 5

// MaxPropagationRounds bounds the prerequisite fixed point.
const MaxPropagationRounds = 100

// CalendarFixer regenerates calendar events of allocations whose dates
// changed.
type CalendarFixer interface {
	FixAllocationEvents(ctx context.Context, programID, userID *int64) error
}

// Config holds the optional collaborators of a Reconciler.
type Config struct {
	RoleID   int64
	Active   *flags.ActivePrograms
	Calendar CalendarFixer
	Observer PassObserver
	Logger   *slog.Logger
	Now      func() time.Time
	// MaxRounds overrides MaxPropagationRounds.
	MaxRounds int
}

type Reconciler struct {
	db       db.DBTX
	uow      db.UnitOfWork
	platform platform.Providers
	sources  *source.Registry
	bus      *events.Bus

	roleID   int64
	active   *flags.ActivePrograms
	calendar CalendarFixer
	observer PassObserver
	logger   *slog.Logger
	now      func() time.Time

	maxRounds int
}

func New(database db.DBTX, uow db.UnitOfWork, providers platform.Providers, sources *source.Registry, bus *events.Bus, cfg Config) *Reconciler {
	r := &Reconciler{
		db:       database,
		uow:      uow,
		platform: providers,
		sources:  sources,
		bus:      bus,
		roleID:   cfg.RoleID,
		active:   cfg.Active,
		calendar: cfg.Calendar,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,

		maxRounds: cfg.MaxRounds,
	}
	if r.maxRounds <= 0 {
		r.maxRounds = MaxPropagationRounds
	}
	if r.roleID == 0 {
		r.roleID = DefaultRoleID
	}
	if r.observer == nil {
		r.observer = NoopPassObserver{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SetCalendar wires the calendar fixer after construction.
func (r *Reconciler) SetCalendar(c CalendarFixer) {
	r.calendar = c
}

func (r *Reconciler) sweepTime() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// Sync runs the whole reconciliation for the scope: sources fix their
// allocations, then enrol instances, user enrolments and calendar events
// follow. Nil ids sweep everything.
func (r *Reconciler) Sync(ctx context.Context, programID, userID *int64) error {
	if programID == nil && userID == nil && r.active != nil {
		active, err := r.active.Get(ctx)
		if err != nil {
			return fmt.Errorf("reading active programs flag: %w", err)
		}
		if !active {
			r.logger.DebugContext(ctx, "no active programs, skipping sweep")
			return nil
		}
	}
	if err := r.checkTx(ctx); err != nil {
		return err
	}

	now := r.sweepTime()
	var errs []error
	scope := source.Scope{ProgramID: programID, UserID: userID, Now: now}
	errs = append(errs, r.pass(ctx, "fix_allocations", programID, userID, func() (int, error) {
		changed, err := r.sources.FixAllocations(ctx, scope)
		if changed {
			return 1, err
		}
		return 0, err
	}))
	errs = append(errs, r.FixEnrolInstances(ctx, programID))
	errs = append(errs, r.fixUserEnrolments(ctx, programID, userID, now))
	if r.calendar != nil {
		errs = append(errs, r.pass(ctx, "fix_calendar", programID, userID, func() (int, error) {
			return 0, r.calendar.FixAllocationEvents(ctx, programID, userID)
		}))
	}
	return errors.Join(errs...)
}

// FixUserEnrolments runs the user enrolment passes with a fresh sweep time.
func (r *Reconciler) FixUserEnrolments(ctx context.Context, programID, userID *int64) error {
	if err := r.checkTx(ctx); err != nil {
		return err
	}
	return r.fixUserEnrolments(ctx, programID, userID, r.sweepTime())
}

// FixAccess re-derives access after a manual completion change without
// copying or propagating completions: sequenced unsuspension, roles,
// program completion, groups and calendar.
func (r *Reconciler) FixAccess(ctx context.Context, programID, userID *int64) error {
	if err := r.checkTx(ctx); err != nil {
		return err
	}
	now := r.sweepTime()
	errs := []error{
		r.pass(ctx, "unsuspend_sequenced", programID, userID, func() (int, error) { return r.unsuspendSequenced(ctx, programID, userID, now) }),
		r.pass(ctx, "fix_roles", programID, userID, func() (int, error) { return r.fixRoles(ctx, programID, userID) }),
		r.pass(ctx, "complete_allocations", programID, userID, func() (int, error) { return r.completeAllocations(ctx, programID, userID, now) }),
		r.pass(ctx, "add_group_members", programID, userID, func() (int, error) { return r.addGroupMembers(ctx, programID, userID) }),
	}
	if r.calendar != nil {
		errs = append(errs, r.pass(ctx, "fix_calendar", programID, userID, func() (int, error) {
			return 0, r.calendar.FixAllocationEvents(ctx, programID, userID)
		}))
	}
	return errors.Join(errs...)
}

func (r *Reconciler) fixUserEnrolments(ctx context.Context, programID, userID *int64, now time.Time) error {
	passes := []struct {
		name string
		fn   func() (int, error)
	}{
		{"unenrol_unallocated", func() (int, error) { return r.unenrolUnallocated(ctx, programID, userID) }},
		{"enrol_allocated", func() (int, error) { return r.enrolAllocated(ctx, programID, userID) }},
		{"suspend_frozen", func() (int, error) { return r.suspendFrozen(ctx, programID, userID, now) }},
		{"copy_evidence", func() (int, error) { return r.copyEvidence(ctx, programID, userID, now) }},
		{"training_completions", func() (int, error) { return r.trainingCompletions(ctx, programID, userID, now) }},
		{"copy_course_completions", func() (int, error) { return r.copyCourseCompletions(ctx, programID, userID, now) }},
		{"propagate_prerequisites", func() (int, error) { return r.propagatePrerequisites(ctx, programID, userID, now) }},
		{"unsuspend_sequenced", func() (int, error) { return r.unsuspendSequenced(ctx, programID, userID, now) }},
		{"fix_roles", func() (int, error) { return r.fixRoles(ctx, programID, userID) }},
		{"complete_allocations", func() (int, error) { return r.completeAllocations(ctx, programID, userID, now) }},
		{"add_group_members", func() (int, error) { return r.addGroupMembers(ctx, programID, userID) }},
	}
	var errs []error
	for _, p := range passes {
		errs = append(errs, r.pass(ctx, p.name, programID, userID, p.fn))
	}
	return errors.Join(errs...)
}

// pass runs one step, reports it and wraps its error with the pass name.
func (r *Reconciler) pass(ctx context.Context, name string, programID, userID *int64, fn func() (int, error)) error {
	start := time.Now()
	rows, err := fn()
	r.observer.ObservePass(ctx, PassEvent{
		Name:      name,
		Duration:  time.Since(start),
		Rows:      rows,
		Err:       err,
		ProgramID: programID,
		UserID:    userID,
		StartedAt: start,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// checkTx rejects sweeps started inside a unit of work, whatever their
// scope. Every pass commits through the shared handle, and the ambient
// transaction already holds the only connection.
func (r *Reconciler) checkTx(ctx context.Context) error {
	if db.InTx(ctx) {
		r.logger.WarnContext(ctx, "reconciliation sweep started inside a transaction")
		return fmt.Errorf("reconciliation sweep: %w", domain.ErrInTransaction)
	}
	return nil
}
