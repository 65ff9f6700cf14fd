package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidProgram     = errors.New("invalid program")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrInvalidDelay       = errors.New("invalid delay")
	ErrInvalidSequence    = errors.New("invalid sequence")
	ErrInvalidItem        = errors.New("invalid item")
	ErrInvalidDates       = errors.New("invalid allocation dates")
	ErrSourceNotAllowed   = errors.New("source not allowed")
	ErrSourceMissing      = errors.New("program has no source of this type")
	ErrAlreadyAllocated   = errors.New("user already allocated")
	ErrNotAllocated       = errors.New("user not allocated")
	ErrRequestExists      = errors.New("request already exists")
	ErrRequestRejected    = errors.New("request was rejected")
	ErrMaxUsersReached    = errors.New("maximum number of users reached")
	ErrInvalidKey         = errors.New("invalid sign-up key")
	ErrDeleteNotPossible  = errors.New("allocation cannot be deleted")
	ErrArchiveNotPossible = errors.New("allocation cannot be archived")
	ErrRestoreNotPossible = errors.New("allocation cannot be restored")
	ErrProgramArchived    = errors.New("program is archived")
	ErrCycle              = errors.New("prerequisite cycle")
	ErrInTransaction      = errors.New("called inside a transaction")
)

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError wrapping one of the sentinels above.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// RowErrors collects validation failures keyed by row (program idnumber,
// file line, user id). Rows without entries are valid.
type RowErrors map[string][]error

// Add appends an error for the given row.
func (r RowErrors) Add(row string, err error) {
	r[row] = append(r[row], err)
}

// Has reports whether row has at least one error.
func (r RowErrors) Has(row string) bool {
	return len(r[row]) > 0
}

func (r RowErrors) Error() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, err := range r[k] {
			fmt.Fprintf(&b, "  - %s: %v\n", k, err)
		}
	}
	return fmt.Sprintf("%d row(s) failed validation:\n%s", len(r), b.String())
}
