package domain

import (
	"time"
)

type Allocation struct {
	ID               int64
	ProgramID        int64
	UserID           int64
	SourceID         int64
	SourceData       string
	SourceInstanceID *int64
	Archived         bool
	TimeAllocated    time.Time
	TimeStart        time.Time
	TimeDue          *time.Time
	TimeEnd          *time.Time
	TimeCompleted    *time.Time
	CalendarUpdated  bool
	TimeCreated      time.Time
}

// Live reports whether the allocation is inside its active window at now.
// Archived allocations are never live.
func (a *Allocation) Live(now time.Time) bool {
	if a.Archived {
		return false
	}
	if a.TimeStart.After(now) {
		return false
	}
	if a.TimeEnd != nil && !a.TimeEnd.After(now) {
		return false
	}
	return true
}

// Completed reports whether the program completion has been stamped.
func (a *Allocation) Completed() bool {
	return a.TimeCompleted != nil
}

// DateOverrides carries explicit allocation dates.
type DateOverrides struct {
	TimeStart time.Time
	TimeDue   *time.Time
	TimeEnd   *time.Time
}

// Validate enforces start present, due and end after start, and due not after end.
func (d DateOverrides) Validate() error {
	if d.TimeStart.IsZero() || d.TimeStart.Unix() <= 0 {
		return NewValidationError("timestart", "is required", ErrInvalidDates)
	}
	if d.TimeDue != nil && !d.TimeDue.After(d.TimeStart) {
		return NewValidationError("timedue", "must be after the start date", ErrInvalidDates)
	}
	if d.TimeEnd != nil && !d.TimeEnd.After(d.TimeStart) {
		return NewValidationError("timeend", "must be after the start date", ErrInvalidDates)
	}
	if d.TimeDue != nil && d.TimeEnd != nil && d.TimeDue.After(*d.TimeEnd) {
		return NewValidationError("timedue", "must not be after the end date", ErrInvalidDates)
	}
	return nil
}

// Dates returns the current dates of the allocation as overrides.
func (a *Allocation) Dates() DateOverrides {
	return DateOverrides{TimeStart: a.TimeStart, TimeDue: a.TimeDue, TimeEnd: a.TimeEnd}
}

// SameDates reports whether the allocation already carries d.
func (a *Allocation) SameDates(d DateOverrides) bool {
	return a.TimeStart.Equal(d.TimeStart) && timePtrEqual(a.TimeDue, d.TimeDue) && timePtrEqual(a.TimeEnd, d.TimeEnd)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
