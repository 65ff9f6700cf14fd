package service

import (
	"context"
	"errors"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

type completionService struct {
	deps     Deps
	observer UseCaseObserver
}

func NewCompletionService(deps Deps, observers ...UseCaseObserver) CompletionService {
	return &completionService{deps: deps, observer: useCaseObserverOrNoop(observers)}
}

// UpdateItemCompletion sets or clears one item completion. Only the access
// passes run afterwards unless Propagate asks for the full reconciliation.
func (s *completionService) UpdateItemCompletion(ctx context.Context, u CompletionUpdate) (err error) {
	defer track(ctx, s.observer, "item-completion-update",
		map[string]any{"allocation_id": u.AllocationID, "item_id": u.ItemID})(&err)

	var a *domain.Allocation
	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		var err error
		a, err = repos.Allocations.GetByID(ctx, u.AllocationID)
		if err != nil {
			return err
		}
		if err := sameProgram(ctx, repos, u.ItemID, a.ProgramID); err != nil {
			return err
		}
		payload := map[string]any{"itemid": u.ItemID}
		if u.TimeCompleted == nil {
			err = repos.Completions.DeleteItemCompletion(ctx, u.ItemID, a.ID)
		} else {
			payload["timecompleted"] = u.TimeCompleted.Unix()
			err = repos.Completions.UpsertItemCompletion(ctx, u.ItemID, a.ID, u.TimeCompleted.UTC().Truncate(time.Second))
		}
		if err != nil {
			return err
		}
		evt = newEvent(domain.EventItemCompletionUpdated, &a.ProgramID, &a.ID, &a.UserID, s.deps.now(), payload)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evt)
	if u.Propagate {
		return s.deps.Sync.Sync(ctx, &a.ProgramID, &a.UserID)
	}
	return s.deps.Sync.FixAccess(ctx, &a.ProgramID, &a.UserID)
}

// UpdateItemEvidence stores or removes the evidence of a user for an item.
// With Recalculate the evidence is mirrored into the completion of the
// user's allocation; for the top item the allocation completion follows.
func (s *completionService) UpdateItemEvidence(ctx context.Context, u EvidenceUpdate) (err error) {
	defer track(ctx, s.observer, "item-evidence-update",
		map[string]any{"user_id": u.UserID, "item_id": u.ItemID})(&err)

	now := s.deps.now()
	var item *domain.Item
	var a *domain.Allocation
	var evts []*domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		var err error
		item, err = repos.Items.GetByID(ctx, u.ItemID)
		if err != nil {
			return err
		}
		payload := map[string]any{"itemid": u.ItemID}
		if u.TimeCompleted == nil {
			err = repos.Completions.DeleteEvidence(ctx, u.UserID, u.ItemID)
		} else {
			payload["timecompleted"] = u.TimeCompleted.Unix()
			err = repos.Completions.UpsertEvidence(ctx, &domain.Evidence{
				UserID:        u.UserID,
				ItemID:        u.ItemID,
				Details:       u.Details,
				TimeCompleted: u.TimeCompleted.UTC().Truncate(time.Second),
				TimeCreated:   now,
				CreatedBy:     u.CreatedBy,
			})
		}
		if err != nil {
			return err
		}
		evts = append(evts, newEvent(domain.EventEvidenceUpdated, &item.ProgramID, nil, &u.UserID, now, payload))

		if u.Recalculate {
			a, err = repos.Allocations.GetByProgramUser(ctx, item.ProgramID, u.UserID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				a = nil
			case err != nil:
				return err
			default:
				evt, err := mirrorEvidence(ctx, repos, a, item, u.TimeCompleted, now)
				if err != nil {
					return err
				}
				if evt != nil {
					evts = append(evts, evt)
				}
			}
		}
		for _, e := range evts {
			if err := repos.Events.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evts...)
	if a == nil {
		return nil
	}
	return s.deps.Sync.FixAccess(ctx, &a.ProgramID, &a.UserID)
}

// mirrorEvidence copies the evidence time into the item completion. For the
// top item the allocation is stamped complete when that time has passed and
// an allocation_completed event is returned if it was not complete before.
func mirrorEvidence(ctx context.Context, repos *repository.Repos, a *domain.Allocation, item *domain.Item, completed *time.Time, now time.Time) (*domain.Event, error) {
	var at *time.Time
	if completed != nil {
		t := completed.UTC().Truncate(time.Second)
		at = &t
		if err := repos.Completions.UpsertItemCompletion(ctx, item.ID, a.ID, t); err != nil {
			return nil, err
		}
	} else if err := repos.Completions.DeleteItemCompletion(ctx, item.ID, a.ID); err != nil {
		return nil, err
	}
	if !item.TopItem {
		return nil, nil
	}

	wasComplete := a.Completed()
	if at != nil && !at.After(now) {
		a.TimeCompleted = at
	} else {
		a.TimeCompleted = nil
	}
	if err := repos.Allocations.Update(ctx, a); err != nil {
		return nil, err
	}
	if wasComplete || a.TimeCompleted == nil {
		return nil, nil
	}
	return newEvent(domain.EventAllocationCompleted, &a.ProgramID, &a.ID, &a.UserID, now,
		map[string]any{"timecompleted": a.TimeCompleted.Unix()}), nil
}

func sameProgram(ctx context.Context, repos *repository.Repos, itemID, programID int64) error {
	item, err := repos.Items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ProgramID != programID {
		return domain.NewValidationError("itemid", "belongs to another program", domain.ErrInvalidItem)
	}
	return nil
}
