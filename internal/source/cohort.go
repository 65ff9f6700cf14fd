package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

// Cohort mirrors the membership of the cohorts linked to the source.
// Losing membership archives the allocation; regaining it restores it.
type Cohort struct {
	base
}

func (c *Cohort) FixAllocations(ctx context.Context, scope Scope) (bool, error) {
	changed := false
	var errs []error

	restored, err := c.restore(ctx, scope)
	changed = changed || restored
	errs = append(errs, err)

	allocated, err := c.allocate(ctx, scope)
	changed = changed || allocated
	errs = append(errs, err)

	archived, err := c.archive(ctx, scope)
	changed = changed || archived
	errs = append(errs, err)

	return changed, errors.Join(errs...)
}

const cohortMember = `EXISTS (
	SELECT 1 FROM source_cohorts sc
	JOIN cohort_members cm ON cm.cohortid = sc.cohortid
	WHERE sc.sourceid = s.id AND cm.userid = a.userid
)`

func (c *Cohort) restore(ctx context.Context, scope Scope) (bool, error) {
	filter, args := scope.where("a.programid", "a.userid")
	rows, err := queryCandidates(ctx, c.db, `
		SELECT a.programid, a.id, a.userid
		FROM allocations a
		JOIN sources s ON s.id = a.sourceid AND s.type = 'cohort'
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		JOIN users u ON u.id = a.userid AND u.deleted = 0
		WHERE a.archived = 1 AND `+cohortMember+filter+`
		ORDER BY a.id`, args...)
	if err != nil {
		return false, fmt.Errorf("listing cohort allocations to restore: %w", err)
	}
	changed := false
	for _, r := range rows {
		ok, err := c.alloc.setArchivedAt(ctx, r.RefID, false, scope.Now)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}

func (c *Cohort) allocate(ctx context.Context, scope Scope) (bool, error) {
	filter, args := scope.where("s.programid", "cm.userid")
	args = append([]any{scope.Now.Unix(), scope.Now.Unix()}, args...)
	rows, err := queryCandidates(ctx, c.db, `
		SELECT DISTINCT s.programid, s.id, cm.userid
		FROM sources s
		JOIN programs p ON p.id = s.programid AND p.archived = 0
		JOIN source_cohorts sc ON sc.sourceid = s.id
		JOIN cohort_members cm ON cm.cohortid = sc.cohortid
		JOIN users u ON u.id = cm.userid AND u.deleted = 0
		LEFT JOIN allocations a ON a.programid = s.programid AND a.userid = cm.userid
		WHERE s.type = 'cohort' AND a.id IS NULL AND `+windowOpen+filter+`
		ORDER BY s.programid, cm.userid`, args...)
	if err != nil {
		return false, fmt.Errorf("listing cohort members to allocate: %w", err)
	}

	l := newLookup(c.db)
	changed := false
	for _, r := range rows {
		p, err := l.program(ctx, r.ProgramID)
		if err != nil {
			return changed, err
		}
		s, err := l.source(ctx, r.RefID)
		if err != nil {
			return changed, err
		}
		_, err = c.alloc.allocateAt(ctx, p, s, r.UserID, Overrides{}, scope.Now)
		if errors.Is(err, domain.ErrAlreadyAllocated) {
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("allocating cohort member %d: %w", r.UserID, err)
		}
		changed = true
	}
	return changed, nil
}

func (c *Cohort) archive(ctx context.Context, scope Scope) (bool, error) {
	filter, args := scope.where("a.programid", "a.userid")
	rows, err := queryCandidates(ctx, c.db, `
		SELECT a.programid, a.id, a.userid
		FROM allocations a
		JOIN sources s ON s.id = a.sourceid AND s.type = 'cohort'
		LEFT JOIN users u ON u.id = a.userid
		WHERE a.archived = 0
			AND (u.id IS NULL OR u.deleted = 1 OR NOT `+cohortMember+`)`+filter+`
		ORDER BY a.id`, args...)
	if err != nil {
		return false, fmt.Errorf("listing cohort allocations to archive: %w", err)
	}
	changed := false
	for _, r := range rows {
		ok, err := c.alloc.setArchivedAt(ctx, r.RefID, true, scope.Now)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}

// SetCohorts replaces the cohorts linked to the program's cohort source.
func (c *Cohort) SetCohorts(ctx context.Context, programID int64, cohortIDs []int64) error {
	return c.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		s, err := repos.Sources.GetByProgramType(ctx, programID, domain.SourceCohort)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("program %d: %w", programID, domain.ErrSourceMissing)
		}
		if err != nil {
			return err
		}
		return repos.Sources.SetCohorts(ctx, s.ID, cohortIDs)
	})
}

// ImportSourceData copies the source row and its cohort links.
func (c *Cohort) ImportSourceData(ctx context.Context, fromProgramID, toProgramID int64) error {
	to, err := c.importRow(ctx, fromProgramID, toProgramID)
	if err != nil {
		return err
	}
	repos := repository.NewRepos(c.db)
	from, err := repos.Sources.GetByProgramType(ctx, fromProgramID, domain.SourceCohort)
	if err != nil {
		return err
	}
	cohorts, err := repos.Sources.ListCohorts(ctx, from.ID)
	if err != nil {
		return err
	}
	return repos.Sources.SetCohorts(ctx, to.ID, cohorts)
}
