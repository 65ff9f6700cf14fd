package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/repository"
)

// Resetter resets an allocation at the given tier when a certification
// starts a new period for an already certified user.
type Resetter interface {
	ResetAllocation(ctx context.Context, allocationID int64, rt domain.ResetType) error
}

// Certification mirrors the periods of an external certification: each
// user's current period owns the allocation and its dates, a revoked period
// archives it and a vanished period deletes it.
type Certification struct {
	base
	certs    platform.Certifications
	resetter Resetter
	logger   *slog.Logger
}

// SetResetter wires the reset tier handler. Without one, new periods only
// relink the allocation.
func (c *Certification) SetResetter(r Resetter) {
	c.resetter = r
}

func (c *Certification) IsAllocationArchivePossible(*domain.Program, *domain.Source, *domain.Allocation) bool {
	return false
}

func (c *Certification) IsAllocationRestorePossible(*domain.Program, *domain.Source, *domain.Allocation) bool {
	return false
}

// IsImportAllowed is false: periods belong to one program.
func (c *Certification) IsImportAllowed(_, _ *domain.Program) bool {
	return false
}

// IsAllocationDeletePossible is true only once the linked period is gone.
func (c *Certification) IsAllocationDeletePossible(ctx context.Context, _ *domain.Program, _ *domain.Source, a *domain.Allocation) (bool, error) {
	if a.SourceInstanceID == nil {
		return true, nil
	}
	_, err := c.certs.GetPeriod(ctx, *a.SourceInstanceID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	return false, err
}

func (c *Certification) FixAllocations(ctx context.Context, scope Scope) (bool, error) {
	repos := repository.NewRepos(c.db)
	sources, err := repos.Sources.ListByType(ctx, domain.SourceCertification)
	if err != nil {
		return false, err
	}
	changed := false
	var errs []error
	for _, src := range sources {
		if scope.ProgramID != nil && src.ProgramID != *scope.ProgramID {
			continue
		}
		ok, err := c.fixSource(ctx, src, scope)
		changed = changed || ok
		if err != nil {
			errs = append(errs, fmt.Errorf("certification source %d: %w", src.ID, err))
		}
	}
	return changed, errors.Join(errs...)
}

func (c *Certification) fixSource(ctx context.Context, src *domain.Source, scope Scope) (bool, error) {
	repos := repository.NewRepos(c.db)
	p, err := repos.Programs.GetByID(ctx, src.ProgramID)
	if err != nil {
		return false, err
	}

	changed, err := c.deleteVanished(ctx, src, scope)
	if err != nil {
		return changed, err
	}

	periods, err := c.certs.ListPeriods(ctx, p.ID, scope.UserID)
	if err != nil {
		return changed, err
	}
	certs := make(map[int64]*platform.Certification)
	for _, cur := range currentPeriods(periods) {
		cert, ok := certs[cur.CertificationID]
		if !ok {
			cert, err = c.certs.GetCertification(ctx, cur.CertificationID)
			if err != nil {
				return changed, err
			}
			certs[cur.CertificationID] = cert
		}
		ok, err := c.fixPeriod(ctx, p, src, cert, cur, scope)
		changed = changed || ok
		if err != nil {
			return changed, fmt.Errorf("period %d: %w", cur.ID, err)
		}
	}
	return changed, nil
}

func (c *Certification) deleteVanished(ctx context.Context, src *domain.Source, scope Scope) (bool, error) {
	allocs, err := repository.NewRepos(c.db).Allocations.ListBySource(ctx, src.ID)
	if err != nil {
		return false, err
	}
	changed := false
	for _, a := range allocs {
		if scope.UserID != nil && a.UserID != *scope.UserID {
			continue
		}
		possible, err := c.IsAllocationDeletePossible(ctx, nil, src, a)
		if err != nil {
			return changed, err
		}
		if !possible {
			continue
		}
		if err := c.alloc.deleteAt(ctx, a.ID, scope.Now); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func (c *Certification) fixPeriod(ctx context.Context, p *domain.Program, src *domain.Source, cert *platform.Certification, cur platform.Period, scope Scope) (bool, error) {
	dates := periodDates(cur)
	if err := dates.Validate(); err != nil {
		c.logger.WarnContext(ctx, "certification period has invalid window", "period_id", cur.ID, "error", err)
		return false, nil
	}
	archive := cur.TimeRevoked != nil || cert.Archived || p.Archived

	repos := repository.NewRepos(c.db)
	a, err := repos.Allocations.GetByProgramUser(ctx, p.ID, cur.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if a != nil && a.SourceID != src.ID {
		c.logger.DebugContext(ctx, "user allocated by another source", "allocation_id", a.ID, "period_id", cur.ID)
		return false, nil
	}

	changed := false
	relinked := false
	if a != nil && (a.SourceInstanceID == nil || *a.SourceInstanceID != cur.ID) {
		if a, err = c.startNewPeriod(ctx, p, src, cert, a, cur, dates, scope); err != nil {
			return true, err
		}
		changed, relinked = true, true
	}

	if a == nil {
		if archive || !c.IsNewAllowed(p) {
			return changed, nil
		}
		instance := cur.ID
		a, err = c.alloc.allocateAt(ctx, p, src, cur.UserID, Overrides{
			TimeAllocated:    &scope.Now,
			Dates:            &dates,
			SourceInstanceID: &instance,
		}, scope.Now)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return changed, nil
			}
			return changed, err
		}
		return true, c.certs.LinkAllocation(ctx, cur.ID, &a.ID)
	}

	if !relinked && !a.SameDates(dates) {
		if err := c.alloc.updateDatesAt(ctx, a.ID, dates, scope.Now); err != nil {
			return changed, err
		}
		changed = true
	}

	if a.Archived != archive {
		ok, err := c.alloc.setArchivedAt(ctx, a.ID, archive, scope.Now)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	if cur.AllocationID == nil || *cur.AllocationID != a.ID {
		if err := c.certs.LinkAllocation(ctx, cur.ID, &a.ID); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// startNewPeriod moves the allocation onto a newer period, resetting it at
// the certification's tier when the previous cycle was completed. It returns
// the allocation as it stands afterwards, or nil when the reset removed it;
// the caller then allocates afresh for the new period.
func (c *Certification) startNewPeriod(ctx context.Context, p *domain.Program, src *domain.Source, cert *platform.Certification, a *domain.Allocation, cur platform.Period, dates domain.DateOverrides, scope Scope) (*domain.Allocation, error) {
	previous := a.SourceInstanceID
	rt := domain.ResetType(cert.ResetType)
	if a.Completed() && rt != domain.ResetNone && c.resetter != nil {
		if err := c.resetter.ResetAllocation(ctx, a.ID, rt); err != nil {
			return nil, fmt.Errorf("resetting allocation %d: %w", a.ID, err)
		}
		var err error
		a, err = repository.NewRepos(c.db).Allocations.GetByProgramUser(ctx, p.ID, cur.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, c.unlinkPrevious(ctx, previous, cur.ID)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := c.alloc.relink(ctx, a.ID, cur.ID, dates, scope.Now); err != nil {
		return nil, err
	}
	if err := c.unlinkPrevious(ctx, previous, cur.ID); err != nil {
		return nil, err
	}
	return repository.NewRepos(c.db).Allocations.GetByID(ctx, a.ID)
}

func (c *Certification) unlinkPrevious(ctx context.Context, previous *int64, current int64) error {
	if previous == nil || *previous == current {
		return nil
	}
	if err := c.certs.LinkAllocation(ctx, *previous, nil); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// OnAllocationCompleted writes a program completion back to the period the
// allocation mirrors.
func (c *Certification) OnAllocationCompleted(ctx context.Context, e *domain.Event) error {
	if e.AllocationID == nil {
		return nil
	}
	repos := repository.NewRepos(c.db)
	a, err := repos.Allocations.GetByID(ctx, *e.AllocationID)
	if err != nil {
		return err
	}
	if a.SourceInstanceID == nil || a.TimeCompleted == nil {
		return nil
	}
	src, err := repos.Sources.GetByID(ctx, a.SourceID)
	if err != nil {
		return err
	}
	if src.Type != domain.SourceCertification {
		return nil
	}
	return c.certs.MarkCertified(ctx, *a.SourceInstanceID, *a.TimeCompleted)
}

// currentPeriods picks each user's latest period.
func currentPeriods(periods []platform.Period) []platform.Period {
	latest := make(map[int64]platform.Period)
	for _, pd := range periods {
		cur, ok := latest[pd.UserID]
		if !ok || pd.TimeWindowStart.After(cur.TimeWindowStart) ||
			(pd.TimeWindowStart.Equal(cur.TimeWindowStart) && pd.ID > cur.ID) {
			latest[pd.UserID] = pd
		}
	}
	out := make([]platform.Period, 0, len(latest))
	for _, pd := range latest {
		out = append(out, pd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func periodDates(pd platform.Period) domain.DateOverrides {
	return domain.DateOverrides{TimeStart: pd.TimeWindowStart, TimeDue: pd.TimeWindowDue, TimeEnd: pd.TimeWindowEnd}
}
