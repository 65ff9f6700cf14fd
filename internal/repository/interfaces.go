package repository

import (
	"context"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
)

type ProgramRepo interface {
	Create(ctx context.Context, p *domain.Program) error
	GetByID(ctx context.Context, id int64) (*domain.Program, error)
	GetByIDNumber(ctx context.Context, idnumber string) (*domain.Program, error)
	List(ctx context.Context, includeArchived bool) ([]*domain.Program, error)
	Update(ctx context.Context, p *domain.Program) error
	SetArchived(ctx context.Context, id int64, archived bool) error
	Delete(ctx context.Context, id int64) error
	HasActive(ctx context.Context) (bool, error)
	SetCohorts(ctx context.Context, programID int64, cohortIDs []int64) error
	ListCohorts(ctx context.Context, programID int64) ([]int64, error)
	IsVisibleTo(ctx context.Context, programID, userID int64) (bool, error)
}

type ItemRepo interface {
	Create(ctx context.Context, i *domain.Item) error
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	GetTop(ctx context.Context, programID int64) (*domain.Item, error)
	ListByProgram(ctx context.Context, programID int64) ([]*domain.Item, error)
	ListChildren(ctx context.Context, parentID int64) ([]*domain.Item, error)
	Update(ctx context.Context, i *domain.Item) error
	Delete(ctx context.Context, id int64) error
	ReplacePrerequisites(ctx context.Context, itemID int64, prerequisiteIDs []int64) error
	ListPrerequisites(ctx context.Context, itemID int64) ([]int64, error)
}

type SourceRepo interface {
	Create(ctx context.Context, s *domain.Source) error
	GetByID(ctx context.Context, id int64) (*domain.Source, error)
	GetByProgramType(ctx context.Context, programID int64, t domain.SourceType) (*domain.Source, error)
	ListByProgram(ctx context.Context, programID int64) ([]*domain.Source, error)
	ListByType(ctx context.Context, t domain.SourceType) ([]*domain.Source, error)
	Update(ctx context.Context, s *domain.Source) error
	Delete(ctx context.Context, id int64) error
	SetCohorts(ctx context.Context, sourceID int64, cohortIDs []int64) error
	ListCohorts(ctx context.Context, sourceID int64) ([]int64, error)
}

type AllocationRepo interface {
	Create(ctx context.Context, a *domain.Allocation) error
	GetByID(ctx context.Context, id int64) (*domain.Allocation, error)
	GetByProgramUser(ctx context.Context, programID, userID int64) (*domain.Allocation, error)
	ListByProgram(ctx context.Context, programID int64) ([]*domain.Allocation, error)
	ListBySource(ctx context.Context, sourceID int64) ([]*domain.Allocation, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Allocation, error)
	CountBySource(ctx context.Context, sourceID int64) (int, error)
	Update(ctx context.Context, a *domain.Allocation) error
	Delete(ctx context.Context, id int64) error
}

type CompletionRepo interface {
	GetItemCompletion(ctx context.Context, itemID, allocationID int64) (*domain.ItemCompletion, error)
	UpsertItemCompletion(ctx context.Context, itemID, allocationID int64, completed time.Time) error
	DeleteItemCompletion(ctx context.Context, itemID, allocationID int64) error
	ListByAllocation(ctx context.Context, allocationID int64) ([]*domain.ItemCompletion, error)
	DeleteByAllocation(ctx context.Context, allocationID int64) error

	GetEvidence(ctx context.Context, userID, itemID int64) (*domain.Evidence, error)
	UpsertEvidence(ctx context.Context, e *domain.Evidence) error
	DeleteEvidence(ctx context.Context, userID, itemID int64) error
	DeleteProgramEvidence(ctx context.Context, programID, userID int64) error
}

type RequestRepo interface {
	Create(ctx context.Context, r *domain.Request) error
	GetBySourceUser(ctx context.Context, sourceID, userID int64) (*domain.Request, error)
	GetByID(ctx context.Context, id int64) (*domain.Request, error)
	ListBySource(ctx context.Context, sourceID int64) ([]*domain.Request, error)
	Reject(ctx context.Context, id int64, rejectedBy int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

type EventRepo interface {
	Append(ctx context.Context, e *domain.Event) error
	ListByName(ctx context.Context, name domain.EventName) ([]*domain.Event, error)
	ListByAllocation(ctx context.Context, allocationID int64) ([]*domain.Event, error)
}

type CertificateRepo interface {
	GetConfig(ctx context.Context, programID int64) (*domain.ProgramCertificate, error)
	SetConfig(ctx context.Context, c *domain.ProgramCertificate) error
	DeleteConfig(ctx context.Context, programID int64) error
	ListPending(ctx context.Context) ([]PendingCertificate, error)
	RecordIssue(ctx context.Context, issue *domain.CertificateIssue) error
	ListIssues(ctx context.Context, allocationID int64) ([]*domain.CertificateIssue, error)
}

// PendingCertificate is a completed allocation whose program issues
// certificates but which has no issue row for its completion yet.
type PendingCertificate struct {
	ProgramID     int64
	AllocationID  int64
	UserID        int64
	TemplateID    int64
	Expiry        domain.ScheduleSpec
	TimeCompleted time.Time
}

type NotificationRepo interface {
	SetEnabled(ctx context.Context, programID int64, t domain.NotificationType, enabled bool) error
	IsEnabled(ctx context.Context, programID int64, t domain.NotificationType) (bool, error)
	Log(ctx context.Context, programID, allocationID, userID int64, t domain.NotificationType, at time.Time) error
	WasSent(ctx context.Context, allocationID int64, t domain.NotificationType) (bool, error)
	Count(ctx context.Context, allocationID int64, t domain.NotificationType) (int, error)
}
