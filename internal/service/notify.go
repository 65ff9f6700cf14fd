package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/repository"
)

// SoonWindow is how far ahead duesoon and endsoon look.
const SoonWindow = 24 * time.Hour

type notificationService struct {
	deps     Deps
	log      repository.NotificationRepo
	logger   *slog.Logger
	observer UseCaseObserver
}

// NewNotificationService subscribes the immediate notifications to their
// events. Sweep covers the time based ones.
func NewNotificationService(deps Deps, observers ...UseCaseObserver) NotificationService {
	s := &notificationService{
		deps:     deps,
		log:      repository.NewSQLiteNotificationRepo(deps.DB),
		logger:   discardLogger(deps.Logger),
		observer: useCaseObserverOrNoop(observers),
	}
	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventAllocationCreated, s.immediate(domain.NotifyAllocation))
		deps.Bus.Subscribe(domain.EventAllocationDeleted, s.immediate(domain.NotifyDeallocation))
		deps.Bus.Subscribe(domain.EventAllocationCompleted, s.immediate(domain.NotifyCompletion))
		deps.Bus.Subscribe(domain.EventAllocationReset, s.immediate(domain.NotifyReset))
	}
	return s
}

func (s *notificationService) immediate(t domain.NotificationType) func(context.Context, *domain.Event) error {
	return func(ctx context.Context, e *domain.Event) error {
		if e.ProgramID == nil || e.AllocationID == nil || e.UserID == nil {
			return nil
		}
		enabled, err := s.log.IsEnabled(ctx, *e.ProgramID, t)
		if err != nil || !enabled {
			return err
		}
		var name string
		err = s.deps.DB.QueryRowContext(ctx, `SELECT fullname FROM programs WHERE id = ?`, *e.ProgramID).Scan(&name)
		if err != nil {
			return fmt.Errorf("loading program %d: %w", *e.ProgramID, err)
		}
		return s.send(ctx, t, *e.ProgramID, *e.AllocationID, *e.UserID, name)
	}
}

func (s *notificationService) send(ctx context.Context, t domain.NotificationType, programID, allocationID, userID int64, program string) error {
	err := s.deps.Platform.Notifier.Send(ctx, platform.Message{
		Type:         string(t),
		ProgramID:    programID,
		AllocationID: allocationID,
		UserID:       userID,
		Subject:      subject(t, program),
	})
	if err != nil {
		return fmt.Errorf("sending %s notification: %w", t, err)
	}
	return s.log.Log(ctx, programID, allocationID, userID, t, s.deps.now())
}

// scheduledCondition selects the allocations a time based type applies to.
// The placeholders take now and, for the soon types, now+SoonWindow.
type scheduledCondition struct {
	where string
	soon  bool
}

var scheduledConditions = map[domain.NotificationType]scheduledCondition{
	domain.NotifyStart:        {where: `a.timestart <= ? AND a.timecompleted IS NULL`},
	domain.NotifyDueSoon:      {where: `a.timedue > ? AND a.timedue <= ? AND a.timecompleted IS NULL`, soon: true},
	domain.NotifyDue:          {where: `a.timedue <= ? AND a.timecompleted IS NULL`},
	domain.NotifyEndSoon:      {where: `a.timeend > ? AND a.timeend <= ?`, soon: true},
	domain.NotifyEndCompleted: {where: `a.timeend <= ? AND a.timecompleted IS NOT NULL`},
	domain.NotifyEndFailed:    {where: `a.timeend <= ? AND a.timecompleted IS NULL`},
}

type pendingNotice struct {
	programID, allocationID, userID int64
	program                         string
}

func (s *notificationService) Sweep(ctx context.Context) (sent int, err error) {
	defer track(ctx, s.observer, "notification-sweep", nil)(&err)

	now := s.deps.now()
	var errs []error
	for _, t := range domain.ScheduledNotifications {
		pending, err := s.pending(ctx, t, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range pending {
			if err := s.send(ctx, t, p.programID, p.allocationID, p.userID, p.program); err != nil {
				errs = append(errs, fmt.Errorf("allocation %d: %w", p.allocationID, err))
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (s *notificationService) pending(ctx context.Context, t domain.NotificationType, now time.Time) ([]pendingNotice, error) {
	cond := scheduledConditions[t]
	query := `
		SELECT a.programid, a.id, a.userid, p.fullname
		FROM allocations a
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		JOIN program_notifications pn ON pn.programid = p.id AND pn.type = ? AND pn.enabled = 1
		JOIN users u ON u.id = a.userid AND u.deleted = 0
		WHERE a.archived = 0 AND ` + cond.where + `
			AND NOT EXISTS (SELECT 1 FROM notification_log nl WHERE nl.allocationid = a.id AND nl.type = ?)
		ORDER BY a.id`
	args := []any{string(t), now.Unix()}
	if cond.soon {
		args = append(args, now.Add(SoonWindow).Unix())
	}
	args = append(args, string(t))
	rows, err := s.deps.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s notifications: %w", t, err)
	}
	defer rows.Close()
	var out []pendingNotice
	for rows.Next() {
		var p pendingNotice
		if err := rows.Scan(&p.programID, &p.allocationID, &p.userID, &p.program); err != nil {
			return nil, fmt.Errorf("scanning %s notification: %w", t, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func subject(t domain.NotificationType, program string) string {
	switch t {
	case domain.NotifyAllocation:
		return "You have been allocated to " + program
	case domain.NotifyDeallocation:
		return "You have been deallocated from " + program
	case domain.NotifyCompletion:
		return "You completed " + program
	case domain.NotifyReset:
		return "Your progress in " + program + " was reset"
	case domain.NotifyStart:
		return program + " has started"
	case domain.NotifyDueSoon:
		return program + " is due soon"
	case domain.NotifyDue:
		return program + " is overdue"
	case domain.NotifyEndSoon:
		return program + " ends soon"
	case domain.NotifyEndCompleted:
		return program + " has ended"
	default:
		return program + " ended before completion"
	}
}
