package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
)

var testIDNumberCounter atomic.Int64

// Program options
type ProgramOption func(*domain.Program)

func WithArchived() ProgramOption {
	return func(p *domain.Program) {
		p.Archived = true
	}
}

func WithCreateGroups() ProgramOption {
	return func(p *domain.Program) {
		p.CreateGroups = true
	}
}

func WithPublicAccess() ProgramOption {
	return func(p *domain.Program) {
		p.PublicAccess = true
	}
}

func WithStartDate(s domain.ScheduleSpec) ProgramOption {
	return func(p *domain.Program) {
		p.StartDate = s
	}
}

func WithDueDate(s domain.ScheduleSpec) ProgramOption {
	return func(p *domain.Program) {
		p.DueDate = s
	}
}

func WithEndDate(s domain.ScheduleSpec) ProgramOption {
	return func(p *domain.Program) {
		p.EndDate = s
	}
}

func WithAllocationWindow(start, end *time.Time) ProgramOption {
	return func(p *domain.Program) {
		p.TimeAllocationStart = start
		p.TimeAllocationEnd = end
	}
}

func NewTestProgram(name string, opts ...ProgramOption) *domain.Program {
	p := &domain.Program{
		FullName:    name,
		IDNumber:    fmt.Sprintf("prog-%03d", testIDNumberCounter.Add(1)),
		StartDate:   domain.ScheduleSpec{Type: domain.ScheduleAllocation},
		DueDate:     domain.ScheduleSpec{Type: domain.ScheduleNotSet},
		EndDate:     domain.ScheduleSpec{Type: domain.ScheduleNotSet},
		TimeCreated: time.Now().UTC().Truncate(time.Second),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Platform seeding. These write straight into the platform tables the
// reference providers read.

func exec(t *testing.T, database *sql.DB, query string, args ...any) int64 {
	t.Helper()
	res, err := database.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("seeding %q: %v", query, err)
	}
	id, _ := res.LastInsertId()
	return id
}

var seedCounter atomic.Int64

func SeedUser(t *testing.T, database *sql.DB) int64 {
	t.Helper()
	return exec(t, database, `INSERT INTO users (username) VALUES (?)`, fmt.Sprintf("user%d", seedCounter.Add(1)))
}

func SeedDeletedUser(t *testing.T, database *sql.DB) int64 {
	t.Helper()
	return exec(t, database, `INSERT INTO users (username, deleted) VALUES (?, 1)`, fmt.Sprintf("user%d", seedCounter.Add(1)))
}

func SeedCourse(t *testing.T, database *sql.DB) int64 {
	t.Helper()
	n := seedCounter.Add(1)
	return exec(t, database, `INSERT INTO courses (shortname, fullname) VALUES (?, ?)`,
		fmt.Sprintf("C%d", n), fmt.Sprintf("Course %d", n))
}

func SeedCohort(t *testing.T, database *sql.DB, members ...int64) int64 {
	t.Helper()
	id := exec(t, database, `INSERT INTO cohorts (name) VALUES (?)`, fmt.Sprintf("cohort%d", seedCounter.Add(1)))
	for _, uid := range members {
		AddCohortMember(t, database, id, uid)
	}
	return id
}

func AddCohortMember(t *testing.T, database *sql.DB, cohortID, userID int64) {
	t.Helper()
	exec(t, database, `INSERT OR IGNORE INTO cohort_members (cohortid, userid) VALUES (?, ?)`, cohortID, userID)
}

func RemoveCohortMember(t *testing.T, database *sql.DB, cohortID, userID int64) {
	t.Helper()
	exec(t, database, `DELETE FROM cohort_members WHERE cohortid = ? AND userid = ?`, cohortID, userID)
}

// SeedCourseCompletion marks a course completed for a user.
func SeedCourseCompletion(t *testing.T, database *sql.DB, userID, courseID int64, at time.Time) {
	t.Helper()
	exec(t, database, `INSERT OR REPLACE INTO course_completions (userid, courseid, timecompleted, reaggregate) VALUES (?, ?, ?, 0)`,
		userID, courseID, at.Unix())
}

// CountRows returns the number of rows matching a WHERE clause.
func CountRows(t *testing.T, database *sql.DB, table, where string, args ...any) int {
	t.Helper()
	query := `SELECT COUNT(*) FROM ` + table
	if where != "" {
		query += ` WHERE ` + where
	}
	var n int
	if err := database.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

// FixedClock returns a Now func pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
