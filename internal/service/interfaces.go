package service

import (
	"context"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/source"
)

// Syncer runs the reconciliation for a scope. Nil ids widen the scope.
type Syncer interface {
	Sync(ctx context.Context, programID, userID *int64) error
	FixAccess(ctx context.Context, programID, userID *int64) error
}

type ProgramService interface {
	Create(ctx context.Context, p *domain.Program) error
	Get(ctx context.Context, id int64) (*domain.Program, error)
	GetByIDNumber(ctx context.Context, idnumber string) (*domain.Program, error)
	List(ctx context.Context, includeArchived bool) ([]*domain.Program, error)
	Update(ctx context.Context, p *domain.Program) error
	UpdateScheduling(ctx context.Context, programID int64, s Scheduling) error
	Archive(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	SetVisibleCohorts(ctx context.Context, programID int64, cohortIDs []int64) error
	SetNotification(ctx context.Context, programID int64, t domain.NotificationType, enabled bool) error
	SetCertificate(ctx context.Context, c *domain.ProgramCertificate) error
	RemoveCertificate(ctx context.Context, programID int64) error
}

// Scheduling holds the allocation window and default date rules of a program.
type Scheduling struct {
	TimeAllocationStart *time.Time
	TimeAllocationEnd   *time.Time
	StartDate           domain.ScheduleSpec
	DueDate             domain.ScheduleSpec
	EndDate             domain.ScheduleSpec
}

// ItemOptions are the optional fields of a new or updated item. Nil keeps
// the current value, or the default on create.
type ItemOptions struct {
	FullName        string
	IDNumber        string
	Points          *int
	CompletionDelay *int64
}

type ContentService interface {
	Tree(ctx context.Context, programID int64) (*domain.ItemNode, error)
	AppendCourse(ctx context.Context, parentID, courseID int64, opts ItemOptions) (*domain.Item, error)
	AppendTraining(ctx context.Context, parentID, frameworkID int64, opts ItemOptions) (*domain.Item, error)
	AppendSet(ctx context.Context, parentID int64, rules domain.SetRules, opts ItemOptions) (*domain.Item, error)
	UpdateSet(ctx context.Context, itemID int64, rules domain.SetRules, opts ItemOptions) error
	UpdateItem(ctx context.Context, itemID int64, opts ItemOptions) error
	MoveItem(ctx context.Context, itemID, newParentID int64) error
	DeleteItem(ctx context.Context, itemID int64) error
}

type AllocationService interface {
	Get(ctx context.Context, id int64) (*domain.Allocation, error)
	ListByProgram(ctx context.Context, programID int64) ([]*domain.Allocation, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Allocation, error)
	Allocate(ctx context.Context, programID int64, userIDs []int64, o source.Overrides) ([]*domain.Allocation, error)
	Deallocate(ctx context.Context, allocationID int64) error
	Archive(ctx context.Context, allocationID int64) error
	Restore(ctx context.Context, allocationID int64) error
	UpdateDates(ctx context.Context, allocationID int64, d domain.DateOverrides) error
	ResetAllocation(ctx context.Context, allocationID int64, rt domain.ResetType) error
}

// CompletionUpdate sets or clears one item completion of an allocation.
type CompletionUpdate struct {
	AllocationID  int64
	ItemID        int64
	TimeCompleted *time.Time
	// Propagate runs the full reconciliation instead of the access passes.
	Propagate bool
}

// EvidenceUpdate sets or, with a nil TimeCompleted, removes the evidence of
// a user for an item.
type EvidenceUpdate struct {
	UserID        int64
	ItemID        int64
	TimeCompleted *time.Time
	Details       string
	CreatedBy     *int64
	// Recalculate mirrors the evidence into the item completion of the
	// user's allocation.
	Recalculate bool
}

type CompletionService interface {
	UpdateItemCompletion(ctx context.Context, u CompletionUpdate) error
	UpdateItemEvidence(ctx context.Context, u EvidenceUpdate) error
}

type CalendarService interface {
	FixAllocationEvents(ctx context.Context, programID, userID *int64) error
	DeleteAllocationEvents(ctx context.Context, allocationID int64) error
}

type NotificationService interface {
	// Sweep sends the time based notifications that are due, at most once
	// per allocation and type, and returns how many were sent.
	Sweep(ctx context.Context) (int, error)
}

type CertificateService interface {
	IssueCertificates(ctx context.Context) (int, error)
}
