package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

// SelfAllocationSettings is the datajson of a selfallocation source.
type SelfAllocationSettings struct {
	AllowSignup bool   `json:"allowsignup"`
	MaxUsers    *int   `json:"maxusers,omitempty"`
	Key         string `json:"key,omitempty"`
}

// SelfAllocation lets users sign themselves up.
type SelfAllocation struct {
	base
}

func (s *SelfAllocation) ValidateSettings(p *domain.Program, data string) error {
	var st SelfAllocationSettings
	if err := decodeSettings(data, &st); err != nil {
		return domain.NewValidationError("datajson", err.Error(), domain.ErrSourceNotAllowed)
	}
	if st.MaxUsers != nil && *st.MaxUsers < 0 {
		return domain.NewValidationError("maxusers", "must not be negative", domain.ErrSourceNotAllowed)
	}
	return nil
}

// CanSignup reports whether Signup would create a new allocation.
func (s *SelfAllocation) CanSignup(ctx context.Context, programID, userID int64, key string) (bool, error) {
	_, _, err := s.check(ctx, programID, userID, key)
	if err == nil {
		return true, nil
	}
	if isPolicyError(err) {
		return false, nil
	}
	return false, err
}

// Signup allocates the user. Signing up twice returns the same allocation.
func (s *SelfAllocation) Signup(ctx context.Context, programID, userID int64, key string) (*domain.Allocation, error) {
	p, src, err := s.check(ctx, programID, userID, key)
	var existing *existingAllocationError
	if errors.As(err, &existing) {
		return existing.allocation, nil
	}
	if err != nil {
		return nil, err
	}
	a, err := s.alloc.AllocateUser(ctx, p, src, userID, Overrides{})
	if errors.Is(err, domain.ErrAlreadyAllocated) && a != nil && a.SourceID == src.ID {
		return a, nil
	}
	return a, err
}

func (s *SelfAllocation) check(ctx context.Context, programID, userID int64, key string) (*domain.Program, *domain.Source, error) {
	repos := repository.NewRepos(s.db)
	p, src, err := loadProgramSource(ctx, repos, programID, domain.SourceSelfAllocation)
	if err != nil {
		return nil, nil, err
	}
	if a, err := repos.Allocations.GetByProgramUser(ctx, programID, userID); err == nil {
		if a.SourceID == src.ID {
			return p, src, &existingAllocationError{allocation: a}
		}
		return nil, nil, fmt.Errorf("user %d in program %d: %w", userID, programID, domain.ErrAlreadyAllocated)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	if !s.IsNewAllowed(p) {
		return nil, nil, fmt.Errorf("self allocation in program %d: %w", programID, domain.ErrSourceNotAllowed)
	}
	var st SelfAllocationSettings
	if err := decodeSettings(src.Data, &st); err != nil {
		return nil, nil, err
	}
	if !st.AllowSignup {
		return nil, nil, fmt.Errorf("sign up disabled in program %d: %w", programID, domain.ErrSourceNotAllowed)
	}
	if !p.AllocationOpen(s.alloc.now()) {
		return nil, nil, fmt.Errorf("allocation window of program %d closed: %w", programID, domain.ErrSourceNotAllowed)
	}
	visible, err := repos.Programs.IsVisibleTo(ctx, programID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !visible {
		return nil, nil, fmt.Errorf("program %d not visible to user %d: %w", programID, userID, domain.ErrSourceNotAllowed)
	}
	if st.Key != "" && key != st.Key {
		return nil, nil, domain.ErrInvalidKey
	}
	if st.MaxUsers != nil && *st.MaxUsers > 0 {
		current, err := repos.Allocations.ListByProgram(ctx, programID)
		if err != nil {
			return nil, nil, err
		}
		if len(current) >= *st.MaxUsers {
			return nil, nil, fmt.Errorf("program %d: %w", programID, domain.ErrMaxUsersReached)
		}
	}
	return p, src, nil
}

// existingAllocationError short-circuits a repeated sign up.
type existingAllocationError struct {
	allocation *domain.Allocation
}

func (e *existingAllocationError) Error() string {
	return fmt.Sprintf("allocation %d already exists", e.allocation.ID)
}

func loadProgramSource(ctx context.Context, repos *repository.Repos, programID int64, t domain.SourceType) (*domain.Program, *domain.Source, error) {
	p, err := repos.Programs.GetByID(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	src, err := repos.Sources.GetByProgramType(ctx, programID, t)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("program %d %s source: %w", programID, t, domain.ErrSourceMissing)
	}
	if err != nil {
		return nil, nil, err
	}
	return p, src, nil
}

func isPolicyError(err error) bool {
	for _, target := range []error{
		domain.ErrSourceNotAllowed, domain.ErrSourceMissing, domain.ErrAlreadyAllocated,
		domain.ErrInvalidKey, domain.ErrMaxUsersReached, domain.ErrRequestExists, domain.ErrRequestRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var existing *existingAllocationError
	return errors.As(err, &existing)
}
