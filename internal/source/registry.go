package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/repository"
)

// Registry maps source type names to their strategies.
type Registry struct {
	db         db.DBTX
	alloc      *Allocator
	logger     *slog.Logger
	strategies map[domain.SourceType]Strategy

	manual        *Manual
	cohort        *Cohort
	self          *SelfAllocation
	approval      *Approval
	program       *ProgramCompletion
	certification *Certification
}

// NewRegistry builds every strategy. enabled gates new allocations per type;
// a nil map enables all of them and manual is always enabled.
func NewRegistry(database db.DBTX, alloc *Allocator, certs platform.Certifications, bus *events.Bus, enabled map[domain.SourceType]bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	on := func(t domain.SourceType) bool {
		if t == domain.SourceManual || enabled == nil {
			return true
		}
		return enabled[t]
	}
	mk := func(t domain.SourceType) base {
		return base{typ: t, enabled: on(t), db: database, alloc: alloc}
	}

	r := &Registry{db: database, alloc: alloc, logger: logger}
	r.manual = &Manual{base: mk(domain.SourceManual)}
	r.cohort = &Cohort{base: mk(domain.SourceCohort)}
	r.self = &SelfAllocation{base: mk(domain.SourceSelfAllocation)}
	r.approval = &Approval{base: mk(domain.SourceApproval)}
	r.program = &ProgramCompletion{base: mk(domain.SourceProgram)}
	r.certification = &Certification{base: mk(domain.SourceCertification), certs: certs, logger: logger}

	r.strategies = map[domain.SourceType]Strategy{
		domain.SourceManual:         r.manual,
		domain.SourceCohort:         r.cohort,
		domain.SourceSelfAllocation: r.self,
		domain.SourceApproval:       r.approval,
		domain.SourceProgram:        r.program,
		domain.SourceCertification:  r.certification,
	}
	if bus != nil {
		bus.Subscribe(domain.EventAllocationCompleted, r.certification.OnAllocationCompleted)
	}
	return r
}

func (r *Registry) Manual() *Manual                       { return r.manual }
func (r *Registry) Cohort() *Cohort                       { return r.cohort }
func (r *Registry) SelfAllocation() *SelfAllocation       { return r.self }
func (r *Registry) Approval() *Approval                   { return r.approval }
func (r *Registry) ProgramCompletion() *ProgramCompletion { return r.program }
func (r *Registry) Certification() *Certification         { return r.certification }
func (r *Registry) Allocator() *Allocator                 { return r.alloc }

// Get returns the strategy of type t.
func (r *Registry) Get(t domain.SourceType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("source type %q: %w", t, domain.ErrSourceNotAllowed)
	}
	return s, nil
}

// FixAllocations runs every strategy in order. A failing strategy does not
// stop the others.
func (r *Registry) FixAllocations(ctx context.Context, scope Scope) (bool, error) {
	changed := false
	var errs []error
	for _, t := range domain.AllSourceTypes {
		ok, err := r.strategies[t].FixAllocations(ctx, scope)
		changed = changed || ok
		if err != nil {
			r.logger.WarnContext(ctx, "fixing allocations failed", "source", string(t), "error", err)
			errs = append(errs, fmt.Errorf("%s source: %w", t, err))
		}
	}
	return changed, errors.Join(errs...)
}

type allocationContext struct {
	program    *domain.Program
	source     *domain.Source
	allocation *domain.Allocation
	strategy   Strategy
}

func (r *Registry) load(ctx context.Context, allocationID int64) (*allocationContext, error) {
	repos := repository.NewRepos(r.db)
	a, err := repos.Allocations.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	p, err := repos.Programs.GetByID(ctx, a.ProgramID)
	if err != nil {
		return nil, err
	}
	s, err := repos.Sources.GetByID(ctx, a.SourceID)
	if err != nil {
		return nil, err
	}
	st, err := r.Get(s.Type)
	if err != nil {
		return nil, err
	}
	return &allocationContext{program: p, source: s, allocation: a, strategy: st}, nil
}

// DeleteAllocation deletes an allocation if its source allows it and
// returns the row as it was.
func (r *Registry) DeleteAllocation(ctx context.Context, allocationID int64) (*domain.Allocation, error) {
	ac, err := r.load(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	ok, err := ac.strategy.IsAllocationDeletePossible(ctx, ac.program, ac.source, ac.allocation)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("allocation %d: %w", allocationID, domain.ErrDeleteNotPossible)
	}
	return ac.allocation, r.alloc.Delete(ctx, allocationID)
}

// ArchiveAllocation archives an allocation if its source allows it.
func (r *Registry) ArchiveAllocation(ctx context.Context, allocationID int64) (*domain.Allocation, error) {
	ac, err := r.load(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if !ac.strategy.IsAllocationArchivePossible(ac.program, ac.source, ac.allocation) {
		return nil, fmt.Errorf("allocation %d: %w", allocationID, domain.ErrArchiveNotPossible)
	}
	_, err = r.alloc.SetArchived(ctx, allocationID, true)
	return ac.allocation, err
}

// RestoreAllocation restores an archived allocation if its source allows it.
func (r *Registry) RestoreAllocation(ctx context.Context, allocationID int64) (*domain.Allocation, error) {
	ac, err := r.load(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if !ac.strategy.IsAllocationRestorePossible(ac.program, ac.source, ac.allocation) {
		return nil, fmt.Errorf("allocation %d: %w", allocationID, domain.ErrRestoreNotPossible)
	}
	_, err = r.alloc.SetArchived(ctx, allocationID, false)
	return ac.allocation, err
}

// UpdateAllocationDates replaces the dates of an allocation.
func (r *Registry) UpdateAllocationDates(ctx context.Context, allocationID int64, d domain.DateOverrides) (*domain.Allocation, error) {
	a, err := repository.NewRepos(r.db).Allocations.GetByID(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	return a, r.alloc.UpdateDates(ctx, allocationID, d)
}

// UpdateSource creates or updates the program's source of type t.
func (r *Registry) UpdateSource(ctx context.Context, programID int64, t domain.SourceType, data string) (*domain.Source, error) {
	st, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	repos := repository.NewRepos(r.db)
	p, err := repos.Programs.GetByID(ctx, programID)
	if err != nil {
		return nil, err
	}
	if err := st.ValidateSettings(p, data); err != nil {
		return nil, err
	}
	if data == "" {
		data = "{}"
	}

	s, err := repos.Sources.GetByProgramType(ctx, programID, t)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !st.IsNewAllowed(p) {
			return nil, fmt.Errorf("%s source in program %d: %w", t, programID, domain.ErrSourceNotAllowed)
		}
		s = &domain.Source{ProgramID: programID, Type: t, Data: data}
		if err := repos.Sources.Create(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, err
	}
	if !st.IsUpdateAllowed(p) {
		return nil, fmt.Errorf("%s source in program %d: %w", t, programID, domain.ErrSourceNotAllowed)
	}
	s.Data = data
	if err := repos.Sources.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSource removes a source that no longer holds allocations.
func (r *Registry) DeleteSource(ctx context.Context, programID int64, t domain.SourceType) error {
	repos := repository.NewRepos(r.db)
	s, err := repos.Sources.GetByProgramType(ctx, programID, t)
	if err != nil {
		return err
	}
	n, err := repos.Allocations.CountBySource(ctx, s.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%s source of program %d has %d allocations: %w", t, programID, n, domain.ErrDeleteNotPossible)
	}
	return repos.Sources.Delete(ctx, s.ID)
}

// ImportSources copies every importable source of fromProgramID into
// toProgramID and returns the imported types.
func (r *Registry) ImportSources(ctx context.Context, fromProgramID, toProgramID int64) ([]domain.SourceType, error) {
	repos := repository.NewRepos(r.db)
	from, err := repos.Programs.GetByID(ctx, fromProgramID)
	if err != nil {
		return nil, err
	}
	to, err := repos.Programs.GetByID(ctx, toProgramID)
	if err != nil {
		return nil, err
	}
	sources, err := repos.Sources.ListByProgram(ctx, fromProgramID)
	if err != nil {
		return nil, err
	}
	var imported []domain.SourceType
	for _, s := range sources {
		st, err := r.Get(s.Type)
		if err != nil || !st.IsImportAllowed(from, to) {
			continue
		}
		if err := st.ImportSourceData(ctx, fromProgramID, toProgramID); err != nil {
			return imported, fmt.Errorf("importing %s source: %w", s.Type, err)
		}
		imported = append(imported, s.Type)
	}
	return imported, nil
}
