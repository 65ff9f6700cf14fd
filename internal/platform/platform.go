// Package platform describes the hosting learning platform the engine
// reconciles against and provides reference implementations that keep the
// platform state in the same SQLite database.
package platform

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Component tags enrolment instances, role assignments and group
// memberships owned by this engine.
const Component = "programs"

// Enrolment status values of user_enrolments.status.
const (
	StatusActive    = 0
	StatusSuspended = 1
)

type Enrolments interface {
	CreateInstance(ctx context.Context, courseID, programID int64, enabled bool) (int64, error)
	// DeleteInstance removes the instance and unenrols every user in it.
	DeleteInstance(ctx context.Context, instanceID int64) error
	SetInstanceStatus(ctx context.Context, instanceID int64, enabled bool) error
	EnrolUser(ctx context.Context, instanceID, userID int64, suspended bool) error
	UnenrolUser(ctx context.Context, instanceID, userID int64) error
	SetEnrolmentStatus(ctx context.Context, userEnrolmentID int64, suspended bool) error
	// UnenrolFromCourses removes every enrolment of the user in the given
	// courses regardless of enrolment method.
	UnenrolFromCourses(ctx context.Context, userID int64, courseIDs []int64) error
}

type Roles interface {
	Assign(ctx context.Context, roleID, userID, courseID, itemID int64) error
	Unassign(ctx context.Context, roleID, userID, courseID, itemID int64) error
}

type Groups interface {
	CreateGroup(ctx context.Context, courseID int64, name string) (int64, error)
	RenameGroup(ctx context.Context, groupID int64, name string) error
	DeleteGroup(ctx context.Context, groupID int64) error
	AddMember(ctx context.Context, groupID, userID, itemID int64) error
}

// CalendarEvent is a per-allocation calendar entry.
type CalendarEvent struct {
	ProgramID    int64
	AllocationID int64
	UserID       int64
	EventType    string
	Name         string
	TimeStart    time.Time
}

type Calendar interface {
	Upsert(ctx context.Context, e CalendarEvent) error
	Delete(ctx context.Context, allocationID int64, eventType string) error
	DeleteAll(ctx context.Context, allocationID int64) error
	List(ctx context.Context, allocationID int64) ([]CalendarEvent, error)
}

// Message is a notification addressed to one allocated user.
type Message struct {
	Type         string
	ProgramID    int64
	AllocationID int64
	UserID       int64
	Subject      string
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
}

type Certificates interface {
	Issue(ctx context.Context, templateID, userID int64, expires *time.Time, data map[string]any) (int64, error)
}

// Framework is a training framework: completing it requires a number of
// credits, optionally counting only credits earned after the allocation start.
type Framework struct {
	ID                   int64
	Name                 string
	RequiredTraining     decimal.Decimal
	RestrictedCompletion bool
}

type Training interface {
	Framework(ctx context.Context, id int64) (*Framework, error)
	Credits(ctx context.Context, frameworkID, userID int64, since *time.Time) (decimal.Decimal, error)
}

// Period is one certification window of a user.
type Period struct {
	ID              int64
	CertificationID int64
	UserID          int64
	ProgramID       int64
	AllocationID    *int64
	TimeWindowStart time.Time
	TimeWindowDue   *time.Time
	TimeWindowEnd   *time.Time
	TimeCertified   *time.Time
	TimeRevoked     *time.Time
}

type Certification struct {
	ID        int64
	FullName  string
	ResetType int
	Archived  bool
}

type Certifications interface {
	GetCertification(ctx context.Context, id int64) (*Certification, error)
	ListPeriods(ctx context.Context, programID int64, userID *int64) ([]Period, error)
	GetPeriod(ctx context.Context, id int64) (*Period, error)
	LinkAllocation(ctx context.Context, periodID int64, allocationID *int64) error
	MarkCertified(ctx context.Context, periodID int64, at time.Time) error
}

// Modules exposes installed activity modules and their per-user data for
// course resets.
type Modules interface {
	ListInstalled(ctx context.Context) ([]string, error)
	DeleteUserData(ctx context.Context, modname string, userID int64, courseIDs []int64) error
	DeleteCompletions(ctx context.Context, userID int64, courseIDs []int64) error
}

// Cohorts is the platform's site-wide user grouping. Membership changes are
// external events the engine reacts to with a user scoped sync.
type Cohorts interface {
	AddMember(ctx context.Context, cohortID, userID int64) error
	RemoveMember(ctx context.Context, cohortID, userID int64) error
	Exists(ctx context.Context, cohortID int64) (bool, error)
}

// Providers bundles every platform collaborator.
type Providers struct {
	Enrolments     Enrolments
	Roles          Roles
	Groups         Groups
	Calendar       Calendar
	Notifier       Notifier
	Certificates   Certificates
	Training       Training
	Certifications Certifications
	Modules        Modules
	Cohorts        Cohorts
}
