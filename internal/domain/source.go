package domain

import "time"

// SourceType names an allocation source strategy.
type SourceType string

const (
	SourceManual         SourceType = "manual"
	SourceCohort         SourceType = "cohort"
	SourceSelfAllocation SourceType = "selfallocation"
	SourceApproval       SourceType = "approval"
	SourceProgram        SourceType = "program"
	SourceCertification  SourceType = "certification"
)

// AllSourceTypes lists the strategies in the order sources are fixed.
var AllSourceTypes = []SourceType{
	SourceManual,
	SourceCohort,
	SourceSelfAllocation,
	SourceApproval,
	SourceProgram,
	SourceCertification,
}

type Source struct {
	ID        int64
	ProgramID int64
	Type      SourceType
	Data      string
	AuxInt1   *int64
	AuxInt2   *int64
	AuxInt3   *int64
}

type Request struct {
	ID            int64
	SourceID      int64
	UserID        int64
	TimeRequested time.Time
	Data          string
	TimeRejected  *time.Time
	RejectedBy    *int64
}

type ItemCompletion struct {
	ID            int64
	ItemID        int64
	AllocationID  int64
	TimeCompleted time.Time
}

type Evidence struct {
	ID            int64
	UserID        int64
	ItemID        int64
	Details       string
	TimeCompleted time.Time
	TimeCreated   time.Time
	CreatedBy     *int64
}
