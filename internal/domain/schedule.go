package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ScheduleType selects how an allocation date is derived from a program.
type ScheduleType string

const (
	// ScheduleAllocation uses the allocation time itself (start date only).
	ScheduleAllocation ScheduleType = "allocation"
	// ScheduleNotSet leaves the date empty (due and end dates only).
	ScheduleNotSet ScheduleType = "notset"
	ScheduleDate   ScheduleType = "date"
	ScheduleDelay  ScheduleType = "delay"
)

// ScheduleSpec is the stored form of a program start, due or end date rule.
type ScheduleSpec struct {
	Type  ScheduleType `json:"type"`
	Date  int64        `json:"date,omitempty"`
	Delay string       `json:"delay,omitempty"`
}

// DelayUnit is the single unit allowed in a delay string.
type DelayUnit byte

const (
	DelayMonths DelayUnit = 'M'
	DelayDays   DelayUnit = 'D'
	DelayHours  DelayUnit = 'H'
)

// Delay is a parsed ISO-8601-like duration with one unit: P3M, P10D or PT5H.
type Delay struct {
	Value int
	Unit  DelayUnit
}

var delayPattern = regexp.MustCompile(`^P(?:(\d+)([MD])|T(\d+)H)$`)

// ParseDelay parses a delay string. Mixed units (P1M2D) and zero values are rejected.
func ParseDelay(s string) (Delay, error) {
	m := delayPattern.FindStringSubmatch(s)
	if m == nil {
		return Delay{}, fmt.Errorf("%w: %q", ErrInvalidDelay, s)
	}
	var d Delay
	digits := m[1]
	if m[3] != "" {
		digits = m[3]
		d.Unit = DelayHours
	} else {
		d.Unit = DelayUnit(m[2][0])
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return Delay{}, fmt.Errorf("%w: %q", ErrInvalidDelay, s)
	}
	d.Value = n
	return d, nil
}

// AddTo returns t shifted by the delay. Months use calendar arithmetic.
func (d Delay) AddTo(t time.Time) time.Time {
	switch d.Unit {
	case DelayMonths:
		return t.AddDate(0, d.Value, 0)
	case DelayDays:
		return t.AddDate(0, 0, d.Value)
	default:
		return t.Add(time.Duration(d.Value) * time.Hour)
	}
}

func (d Delay) String() string {
	if d.Unit == DelayHours {
		return fmt.Sprintf("PT%dH", d.Value)
	}
	return fmt.Sprintf("P%d%c", d.Value, d.Unit)
}

// ParseScheduleSpec decodes a stored schedule JSON document.
func ParseScheduleSpec(raw string) (ScheduleSpec, error) {
	var s ScheduleSpec
	if raw == "" {
		return s, fmt.Errorf("%w: empty document", ErrInvalidSchedule)
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return s, nil
}

// JSON encodes the spec for storage.
func (s ScheduleSpec) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Validate checks the spec for the given role ("start", "due" or "end").
func (s ScheduleSpec) Validate(role string) error {
	switch s.Type {
	case ScheduleAllocation:
		if role != "start" {
			return NewValidationError(role+"date", "allocation time can only be used for the start date", ErrInvalidSchedule)
		}
	case ScheduleNotSet:
		if role == "start" {
			return NewValidationError(role+"date", "start date is required", ErrInvalidSchedule)
		}
	case ScheduleDate:
		if s.Date <= 0 {
			return NewValidationError(role+"date", "fixed date is required", ErrInvalidSchedule)
		}
	case ScheduleDelay:
		if _, err := ParseDelay(s.Delay); err != nil {
			return NewValidationError(role+"date", err.Error(), err)
		}
	default:
		return NewValidationError(role+"date", fmt.Sprintf("unknown type %q", s.Type), ErrInvalidSchedule)
	}
	return nil
}

// Resolve computes the concrete date relative to an allocation time.
// Returns nil for notset.
func (s ScheduleSpec) Resolve(allocated time.Time) (*time.Time, error) {
	var t time.Time
	switch s.Type {
	case ScheduleNotSet, "":
		return nil, nil
	case ScheduleAllocation:
		t = allocated
	case ScheduleDate:
		t = time.Unix(s.Date, 0).UTC()
	case ScheduleDelay:
		d, err := ParseDelay(s.Delay)
		if err != nil {
			return nil, err
		}
		t = d.AddTo(allocated)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSchedule, s.Type)
	}
	return &t, nil
}
