package domain

import (
	"fmt"
	"strings"
	"time"
)

type Program struct {
	ID                  int64
	ContextID           int64
	FullName            string
	IDNumber            string
	Description         string
	Archived            bool
	PublicAccess        bool
	CreateGroups        bool
	TimeAllocationStart *time.Time
	TimeAllocationEnd   *time.Time
	StartDate           ScheduleSpec
	DueDate             ScheduleSpec
	EndDate             ScheduleSpec
	TimeCreated         time.Time
}

// Validate checks the program fields that can be checked without storage.
func (p *Program) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return NewValidationError("fullname", "is required", ErrInvalidProgram)
	}
	if strings.TrimSpace(p.IDNumber) == "" {
		return NewValidationError("idnumber", "is required", ErrInvalidProgram)
	}
	if err := p.StartDate.Validate("start"); err != nil {
		return err
	}
	if err := p.DueDate.Validate("due"); err != nil {
		return err
	}
	if err := p.EndDate.Validate("end"); err != nil {
		return err
	}
	if p.DueDate.Type == ScheduleDate && p.EndDate.Type == ScheduleDate && p.DueDate.Date > p.EndDate.Date {
		return NewValidationError("duedate", "must not be after the end date", ErrInvalidSchedule)
	}
	if p.TimeAllocationStart != nil && p.TimeAllocationEnd != nil && !p.TimeAllocationEnd.After(*p.TimeAllocationStart) {
		return NewValidationError("timeallocationend", "must be after the allocation window start", ErrInvalidProgram)
	}
	return nil
}

// AllocationOpen reports whether now falls inside the program's allocation window.
func (p *Program) AllocationOpen(now time.Time) bool {
	if p.TimeAllocationStart != nil && now.Before(*p.TimeAllocationStart) {
		return false
	}
	if p.TimeAllocationEnd != nil && !now.Before(*p.TimeAllocationEnd) {
		return false
	}
	return true
}

// DefaultDates resolves the program schedule for an allocation made at allocated.
func (p *Program) DefaultDates(allocated time.Time) (DateOverrides, error) {
	var d DateOverrides
	start, err := p.StartDate.Resolve(allocated)
	if err != nil {
		return d, fmt.Errorf("resolving start date: %w", err)
	}
	if start == nil {
		start = &allocated
	}
	d.TimeStart = *start
	if d.TimeDue, err = p.DueDate.Resolve(allocated); err != nil {
		return d, fmt.Errorf("resolving due date: %w", err)
	}
	if d.TimeEnd, err = p.EndDate.Resolve(allocated); err != nil {
		return d, fmt.Errorf("resolving end date: %w", err)
	}
	return d, nil
}
