package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/lock"
	"github.com/alexanderramin/programs/internal/repository"
)

type certificateService struct {
	deps     Deps
	locker   lock.Locker
	lockWait time.Duration
	lockTTL  time.Duration
	logger   *slog.Logger
	observer UseCaseObserver
}

func NewCertificateService(deps Deps, observers ...UseCaseObserver) CertificateService {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	wait, ttl := deps.LockWait, deps.LockTTL
	if wait <= 0 {
		wait = lock.DefaultWait
	}
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	return &certificateService{
		deps:     deps,
		locker:   locker,
		lockWait: wait,
		lockTTL:  ttl,
		logger:   discardLogger(deps.Logger),
		observer: useCaseObserverOrNoop(observers),
	}
}

// IssueCertificates issues one certificate per completion of allocations in
// programs with a certificate template. Each allocation is handled under
// its own advisory lock.
func (s *certificateService) IssueCertificates(ctx context.Context) (issued int, err error) {
	defer track(ctx, s.observer, "certificate-sweep", nil)(&err)

	pending, err := repository.NewSQLiteCertificateRepo(s.deps.DB).ListPending(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, pc := range pending {
		ok, err := s.issue(ctx, pc)
		if err != nil {
			errs = append(errs, fmt.Errorf("allocation %d: %w", pc.AllocationID, err))
			continue
		}
		if ok {
			issued++
		}
	}
	return issued, errors.Join(errs...)
}

func (s *certificateService) issue(ctx context.Context, pc repository.PendingCertificate) (bool, error) {
	key := "certificate:" + strconv.FormatInt(pc.AllocationID, 10)
	lease, ok, err := s.locker.Acquire(ctx, key, s.lockWait, s.lockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.DebugContext(ctx, "certificate lock busy, skipping", "allocation_id", pc.AllocationID)
		return false, nil
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.WarnContext(ctx, "releasing certificate lock", "allocation_id", pc.AllocationID, "error", err)
		}
	}()

	certs := repository.NewSQLiteCertificateRepo(s.deps.DB)
	issues, err := certs.ListIssues(ctx, pc.AllocationID)
	if err != nil {
		return false, err
	}
	for _, ci := range issues {
		if ci.TimeCompleted.Equal(pc.TimeCompleted) {
			return false, nil
		}
	}

	expires, err := pc.Expiry.Resolve(pc.TimeCompleted)
	if err != nil {
		return false, err
	}
	issueID, err := s.deps.Platform.Certificates.Issue(ctx, pc.TemplateID, pc.UserID, expires, map[string]any{
		"programid":     pc.ProgramID,
		"allocationid":  pc.AllocationID,
		"timecompleted": pc.TimeCompleted.Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("issuing certificate: %w", err)
	}

	now := s.deps.now()
	var evt *domain.Event
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		err := repos.Certificates.RecordIssue(ctx, &domain.CertificateIssue{
			ProgramID:     pc.ProgramID,
			AllocationID:  pc.AllocationID,
			UserID:        pc.UserID,
			IssueID:       issueID,
			TimeCompleted: pc.TimeCompleted,
			TimeCreated:   now,
		})
		if err != nil {
			return err
		}
		evt = newEvent(domain.EventCertificateIssued, &pc.ProgramID, &pc.AllocationID, &pc.UserID, now,
			map[string]any{"issueid": issueID})
		return repos.Events.Append(ctx, evt)
	})
	if err != nil {
		return false, err
	}
	s.deps.Bus.Publish(ctx, evt)
	return true, nil
}
