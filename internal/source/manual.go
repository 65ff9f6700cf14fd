package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

// Manual allocates users on explicit request only.
type Manual struct {
	base
}

// AllocateUsers allocates each user in turn. Users that already hold an
// allocation in the program are skipped.
func (m *Manual) AllocateUsers(ctx context.Context, programID int64, userIDs []int64, o Overrides) ([]*domain.Allocation, error) {
	repos := repository.NewRepos(m.db)
	p, err := repos.Programs.GetByID(ctx, programID)
	if err != nil {
		return nil, err
	}
	if !m.IsNewAllowed(p) {
		return nil, fmt.Errorf("manual allocation in program %d: %w", programID, domain.ErrSourceNotAllowed)
	}
	s, err := repos.Sources.GetByProgramType(ctx, programID, domain.SourceManual)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("program %d: %w", programID, domain.ErrSourceMissing)
	}
	if err != nil {
		return nil, err
	}

	var out []*domain.Allocation
	for _, uid := range userIDs {
		a, err := m.alloc.AllocateUser(ctx, p, s, uid, o)
		if errors.Is(err, domain.ErrAlreadyAllocated) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("allocating user %d: %w", uid, err)
		}
		out = append(out, a)
	}
	return out, nil
}
