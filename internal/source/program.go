package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/domain"
)

// ProgramSettings is the datajson of a program source: the parent programs
// whose completion justifies an allocation.
type ProgramSettings struct {
	ProgramIDs []int64 `json:"programids"`
}

// ProgramCompletion allocates users who completed any of the parent programs.
type ProgramCompletion struct {
	base
}

func (s *ProgramCompletion) ValidateSettings(p *domain.Program, data string) error {
	var st ProgramSettings
	if err := decodeSettings(data, &st); err != nil {
		return domain.NewValidationError("datajson", err.Error(), domain.ErrSourceNotAllowed)
	}
	if len(st.ProgramIDs) == 0 {
		return domain.NewValidationError("programids", "at least one program is required", domain.ErrSourceNotAllowed)
	}
	for _, id := range st.ProgramIDs {
		if id == p.ID {
			return domain.NewValidationError("programids", "a program cannot depend on itself", domain.ErrSourceNotAllowed)
		}
	}
	return nil
}

// parentAllocation matches a non-archived allocation of the user in any of
// the source's parent programs.
const parentAllocation = `EXISTS (
	SELECT 1 FROM json_each(s.datajson, '$.programids') j
	JOIN allocations pa ON pa.programid = j.value AND pa.userid = a.userid
	WHERE pa.archived = 0
)`

func (s *ProgramCompletion) FixAllocations(ctx context.Context, scope Scope) (bool, error) {
	allocated, err := s.allocate(ctx, scope)
	if err != nil {
		return allocated, err
	}
	deleted, err := s.deleteOrphans(ctx, scope)
	return allocated || deleted, err
}

func (s *ProgramCompletion) allocate(ctx context.Context, scope Scope) (bool, error) {
	filter, args := scope.where("s.programid", "pa.userid")
	args = append([]any{scope.Now.Unix(), scope.Now.Unix()}, args...)
	rows, err := queryCandidates(ctx, s.db, `
		SELECT DISTINCT s.programid, s.id, pa.userid
		FROM sources s
		JOIN programs p ON p.id = s.programid AND p.archived = 0
		CROSS JOIN json_each(s.datajson, '$.programids') j
		JOIN allocations pa ON pa.programid = j.value AND pa.archived = 0 AND pa.timecompleted IS NOT NULL
		JOIN users u ON u.id = pa.userid AND u.deleted = 0
		LEFT JOIN allocations a ON a.programid = s.programid AND a.userid = pa.userid
		WHERE s.type = 'program' AND a.id IS NULL AND `+windowOpen+filter+`
		ORDER BY s.programid, pa.userid`, args...)
	if err != nil {
		return false, fmt.Errorf("listing completed parent allocations: %w", err)
	}

	l := newLookup(s.db)
	changed := false
	for _, r := range rows {
		p, err := l.program(ctx, r.ProgramID)
		if err != nil {
			return changed, err
		}
		src, err := l.source(ctx, r.RefID)
		if err != nil {
			return changed, err
		}
		_, err = s.alloc.allocateAt(ctx, p, src, r.UserID, Overrides{}, scope.Now)
		if errors.Is(err, domain.ErrAlreadyAllocated) {
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("allocating user %d: %w", r.UserID, err)
		}
		changed = true
	}
	return changed, nil
}

// deleteOrphans removes allocations whose parent allocations are all gone,
// unless the allocation was already completed or archived.
func (s *ProgramCompletion) deleteOrphans(ctx context.Context, scope Scope) (bool, error) {
	filter, args := scope.where("a.programid", "a.userid")
	rows, err := queryCandidates(ctx, s.db, `
		SELECT a.programid, a.id, a.userid
		FROM allocations a
		JOIN sources s ON s.id = a.sourceid AND s.type = 'program'
		WHERE a.archived = 0 AND a.timecompleted IS NULL
			AND NOT `+parentAllocation+filter+`
		ORDER BY a.id`, args...)
	if err != nil {
		return false, fmt.Errorf("listing orphaned program allocations: %w", err)
	}
	changed := false
	for _, r := range rows {
		if err := s.alloc.deleteAt(ctx, r.RefID, scope.Now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// IsAllocationDeletePossible is false for completed or archived allocations
// and while any parent allocation of the user still exists.
func (s *ProgramCompletion) IsAllocationDeletePossible(ctx context.Context, _ *domain.Program, src *domain.Source, a *domain.Allocation) (bool, error) {
	if a.Completed() || a.Archived {
		return false, nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM json_each(?, '$.programids') j
			JOIN allocations pa ON pa.programid = j.value AND pa.userid = ?
			WHERE pa.archived = 0
		)`, src.Data, a.UserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking parent allocations: %w", err)
	}
	return exists == 0, nil
}
