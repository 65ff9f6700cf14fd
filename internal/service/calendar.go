package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
)

// Calendar event types, one per allocation date.
const (
	CalendarStart = "programstart"
	CalendarDue   = "programdue"
	CalendarEnd   = "programend"
)

type calendarService struct {
	deps     Deps
	observer UseCaseObserver
}

// NewCalendarService subscribes to completion and deletion events to drop
// the allocation's calendar entries.
func NewCalendarService(deps Deps, observers ...UseCaseObserver) CalendarService {
	s := &calendarService{deps: deps, observer: useCaseObserverOrNoop(observers)}
	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventAllocationCompleted, s.onAllocationGone)
		deps.Bus.Subscribe(domain.EventAllocationDeleted, s.onAllocationGone)
	}
	return s
}

func (s *calendarService) onAllocationGone(ctx context.Context, e *domain.Event) error {
	if e.AllocationID == nil {
		return nil
	}
	return s.DeleteAllocationEvents(ctx, *e.AllocationID)
}

func (s *calendarService) DeleteAllocationEvents(ctx context.Context, allocationID int64) error {
	return s.deps.Platform.Calendar.DeleteAll(ctx, allocationID)
}

type calendarRow struct {
	allocationID int64
	programID    int64
	userID       int64
	programName  string
	inactive     bool
	start        int64
	due, end     *int64
}

// FixAllocationEvents regenerates the events of allocations flagged with
// calendarupdated = 0. Archived or completed allocations, and allocations
// of archived programs, have no events.
func (s *calendarService) FixAllocationEvents(ctx context.Context, programID, userID *int64) (err error) {
	defer track(ctx, s.observer, "calendar-fix", nil)(&err)

	query := `
		SELECT a.id, a.programid, a.userid, p.fullname,
			(a.archived = 1 OR p.archived = 1 OR a.timecompleted IS NOT NULL),
			a.timestart, a.timedue, a.timeend
		FROM allocations a
		JOIN programs p ON p.id = a.programid
		WHERE a.calendarupdated = 0`
	var args []any
	if programID != nil {
		query += ` AND a.programid = ?`
		args = append(args, *programID)
	}
	if userID != nil {
		query += ` AND a.userid = ?`
		args = append(args, *userID)
	}
	query += ` ORDER BY a.id`

	rows, err := s.deps.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying allocations for calendar: %w", err)
	}
	var pending []calendarRow
	for rows.Next() {
		var r calendarRow
		if err := rows.Scan(&r.allocationID, &r.programID, &r.userID, &r.programName, &r.inactive, &r.start, &r.due, &r.end); err != nil {
			rows.Close()
			return fmt.Errorf("scanning allocation: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var errs []error
	for _, r := range pending {
		if err := s.fixOne(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("allocation %d: %w", r.allocationID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *calendarService) fixOne(ctx context.Context, r calendarRow) error {
	cal := s.deps.Platform.Calendar
	if r.inactive {
		if err := cal.DeleteAll(ctx, r.allocationID); err != nil {
			return err
		}
	} else {
		want := map[string]*int64{CalendarStart: &r.start, CalendarDue: r.due, CalendarEnd: r.end}
		for _, typ := range []string{CalendarStart, CalendarDue, CalendarEnd} {
			at := want[typ]
			if at == nil {
				if err := cal.Delete(ctx, r.allocationID, typ); err != nil {
					return err
				}
				continue
			}
			err := cal.Upsert(ctx, platform.CalendarEvent{
				ProgramID:    r.programID,
				AllocationID: r.allocationID,
				UserID:       r.userID,
				EventType:    typ,
				Name:         calendarName(typ, r.programName),
				TimeStart:    time.Unix(*at, 0).UTC(),
			})
			if err != nil {
				return err
			}
		}
	}
	_, err := s.deps.DB.ExecContext(ctx, `UPDATE allocations SET calendarupdated = 1 WHERE id = ?`, r.allocationID)
	if err != nil {
		return fmt.Errorf("marking calendar updated: %w", err)
	}
	return nil
}

func calendarName(typ, program string) string {
	switch typ {
	case CalendarStart:
		return program + " starts"
	case CalendarDue:
		return program + " is due"
	default:
		return program + " ends"
	}
}
