package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

type programService struct {
	deps     Deps
	programs repository.ProgramRepo
	logger   *slog.Logger
	observer UseCaseObserver
}

func NewProgramService(deps Deps, observers ...UseCaseObserver) ProgramService {
	return &programService{
		deps:     deps,
		programs: repository.NewSQLiteProgramRepo(deps.DB),
		logger:   discardLogger(deps.Logger),
		observer: useCaseObserverOrNoop(observers),
	}
}

// Create stores the program together with its top set and a manual source.
func (s *programService) Create(ctx context.Context, p *domain.Program) (err error) {
	defer track(ctx, s.observer, "program-create", map[string]any{"idnumber": p.IDNumber})(&err)

	if p.StartDate.Type == "" {
		p.StartDate = domain.ScheduleSpec{Type: domain.ScheduleAllocation}
	}
	if p.DueDate.Type == "" {
		p.DueDate = domain.ScheduleSpec{Type: domain.ScheduleNotSet}
	}
	if p.EndDate.Type == "" {
		p.EndDate = domain.ScheduleSpec{Type: domain.ScheduleNotSet}
	}
	if p.ContextID == 0 {
		p.ContextID = 1
	}
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.deps.now()
	p.TimeCreated = now

	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		if err := uniqueIDNumber(ctx, repos.Programs, p.IDNumber, 0); err != nil {
			return err
		}
		if err := repos.Programs.Create(ctx, p); err != nil {
			return err
		}
		minPrereq, minPoints, err := domain.SetRules{SequenceType: domain.SequenceAllInAnyOrder}.Resolve(0)
		if err != nil {
			return err
		}
		top := &domain.Item{
			ProgramID:        p.ID,
			TopItem:          true,
			FullName:         p.FullName,
			Kind:             domain.ItemSet,
			SequenceType:     domain.SequenceAllInAnyOrder,
			MinPrerequisites: minPrereq,
			MinPoints:        minPoints,
			Points:           1,
		}
		if err := repos.Items.Create(ctx, top); err != nil {
			return fmt.Errorf("creating top item: %w", err)
		}
		if err := repos.Sources.Create(ctx, &domain.Source{ProgramID: p.ID, Type: domain.SourceManual}); err != nil {
			return fmt.Errorf("creating manual source: %w", err)
		}
		evt = newEvent(domain.EventProgramCreated, &p.ID, nil, nil, now, nil)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evt)
	s.invalidate(ctx)
	return nil
}

func uniqueIDNumber(ctx context.Context, programs repository.ProgramRepo, idnumber string, selfID int64) error {
	existing, err := programs.GetByIDNumber(ctx, idnumber)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return domain.NewValidationError("idnumber", fmt.Sprintf("%q is already used", idnumber), domain.ErrInvalidProgram)
	}
	return nil
}

func (s *programService) Get(ctx context.Context, id int64) (*domain.Program, error) {
	return s.programs.GetByID(ctx, id)
}

func (s *programService) GetByIDNumber(ctx context.Context, idnumber string) (*domain.Program, error) {
	return s.programs.GetByIDNumber(ctx, idnumber)
}

func (s *programService) List(ctx context.Context, includeArchived bool) ([]*domain.Program, error) {
	return s.programs.List(ctx, includeArchived)
}

// Update saves the descriptive fields and settings. The archived flag is
// changed through Archive and Restore only.
func (s *programService) Update(ctx context.Context, p *domain.Program) (err error) {
	defer track(ctx, s.observer, "program-update", map[string]any{"program_id": p.ID})(&err)

	if err := p.Validate(); err != nil {
		return err
	}
	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		current, err := repos.Programs.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := uniqueIDNumber(ctx, repos.Programs, p.IDNumber, p.ID); err != nil {
			return err
		}
		p.Archived = current.Archived
		p.TimeCreated = current.TimeCreated
		if err := repos.Programs.Update(ctx, p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET fullname = ? WHERE programid = ? AND topitem = 1`, p.FullName, p.ID); err != nil {
			return fmt.Errorf("renaming top item: %w", err)
		}
		evt = newEvent(domain.EventProgramUpdated, &p.ID, nil, nil, s.deps.now(), nil)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evt)
	return s.deps.Sync.Sync(ctx, &p.ID, nil)
}

// UpdateScheduling changes the defaults for new allocations. Existing
// allocation dates stay as they are.
func (s *programService) UpdateScheduling(ctx context.Context, programID int64, sc Scheduling) error {
	p, err := s.programs.GetByID(ctx, programID)
	if err != nil {
		return err
	}
	p.TimeAllocationStart = sc.TimeAllocationStart
	p.TimeAllocationEnd = sc.TimeAllocationEnd
	p.StartDate = sc.StartDate
	p.DueDate = sc.DueDate
	p.EndDate = sc.EndDate
	return s.Update(ctx, p)
}

func (s *programService) Archive(ctx context.Context, id int64) error {
	return s.setArchived(ctx, id, true)
}

func (s *programService) Restore(ctx context.Context, id int64) error {
	return s.setArchived(ctx, id, false)
}

func (s *programService) setArchived(ctx context.Context, id int64, archived bool) (err error) {
	name := domain.EventProgramArchived
	if !archived {
		name = domain.EventProgramRestored
	}
	defer track(ctx, s.observer, string(name), map[string]any{"program_id": id})(&err)

	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		p, err := repos.Programs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Archived == archived {
			return nil
		}
		if err := repos.Programs.SetArchived(ctx, id, archived); err != nil {
			return err
		}
		evt = newEvent(name, &id, nil, nil, s.deps.now(), nil)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil || evt == nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evt)
	s.invalidate(ctx)
	return s.deps.Sync.Sync(ctx, &id, nil)
}

// Delete removes every allocation through the allocator, then the program,
// and lets the reconciler drop enrol instances and groups.
func (s *programService) Delete(ctx context.Context, id int64) (err error) {
	defer track(ctx, s.observer, "program-delete", map[string]any{"program_id": id})(&err)

	if _, err := s.programs.GetByID(ctx, id); err != nil {
		return err
	}
	// Deallocation notices are not sent for a deleted program.
	if _, err := s.deps.DB.ExecContext(ctx, `DELETE FROM program_notifications WHERE programid = ?`, id); err != nil {
		return fmt.Errorf("clearing notification settings: %w", err)
	}
	allocs, err := repository.NewSQLiteAllocationRepo(s.deps.DB).ListByProgram(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range allocs {
		if err := s.deps.Sources.Allocator().Delete(ctx, a.ID); err != nil {
			return fmt.Errorf("deleting allocation %d: %w", a.ID, err)
		}
	}

	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		if err := repos.Programs.Delete(ctx, id); err != nil {
			return err
		}
		evt = newEvent(domain.EventProgramDeleted, &id, nil, nil, s.deps.now(), nil)
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return err
	}
	s.deps.Bus.Publish(ctx, evt)
	s.invalidate(ctx)
	return s.deps.Sync.Sync(ctx, &id, nil)
}

func (s *programService) SetVisibleCohorts(ctx context.Context, programID int64, cohortIDs []int64) error {
	if _, err := s.programs.GetByID(ctx, programID); err != nil {
		return err
	}
	return s.programs.SetCohorts(ctx, programID, cohortIDs)
}

func (s *programService) SetNotification(ctx context.Context, programID int64, t domain.NotificationType, enabled bool) error {
	if !domain.IsNotificationType(t) {
		return domain.NewValidationError("type", fmt.Sprintf("unknown notification %q", t), domain.ErrInvalidProgram)
	}
	if _, err := s.programs.GetByID(ctx, programID); err != nil {
		return err
	}
	return repository.NewSQLiteNotificationRepo(s.deps.DB).SetEnabled(ctx, programID, t, enabled)
}

func (s *programService) SetCertificate(ctx context.Context, c *domain.ProgramCertificate) error {
	if c.Expiry.Type == "" {
		c.Expiry.Type = domain.ScheduleNotSet
	}
	if err := c.Expiry.Validate("expiry"); err != nil {
		return err
	}
	if c.TemplateID <= 0 {
		return domain.NewValidationError("templateid", "is required", domain.ErrInvalidProgram)
	}
	if _, err := s.programs.GetByID(ctx, c.ProgramID); err != nil {
		return err
	}
	return repository.NewSQLiteCertificateRepo(s.deps.DB).SetConfig(ctx, c)
}

func (s *programService) RemoveCertificate(ctx context.Context, programID int64) error {
	return repository.NewSQLiteCertificateRepo(s.deps.DB).DeleteConfig(ctx, programID)
}

// invalidate drops the cached active-programs flag. Failures are logged.
func (s *programService) invalidate(ctx context.Context) {
	if s.deps.Active == nil {
		return
	}
	if err := s.deps.Active.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "invalidating active programs flag", "error", err)
	}
}
