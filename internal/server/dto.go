package server

import (
	"time"

	"github.com/alexanderramin/programs/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ProgramDTO struct {
	ID          int64     `json:"id"`
	IDNumber    string    `json:"idnumber"`
	FullName    string    `json:"fullname"`
	Archived    bool      `json:"archived"`
	TimeCreated time.Time `json:"timecreated"`
}

func toProgramDTO(p *domain.Program) ProgramDTO {
	return ProgramDTO{
		ID:          p.ID,
		IDNumber:    p.IDNumber,
		FullName:    p.FullName,
		Archived:    p.Archived,
		TimeCreated: p.TimeCreated,
	}
}

type AllocationDTO struct {
	ID            int64      `json:"id"`
	ProgramID     int64      `json:"programid"`
	UserID        int64      `json:"userid"`
	SourceID      int64      `json:"sourceid"`
	Archived      bool       `json:"archived"`
	TimeAllocated time.Time  `json:"timeallocated"`
	TimeStart     time.Time  `json:"timestart"`
	TimeDue       *time.Time `json:"timedue,omitempty"`
	TimeEnd       *time.Time `json:"timeend,omitempty"`
	TimeCompleted *time.Time `json:"timecompleted,omitempty"`
}

func toAllocationDTOs(allocs []*domain.Allocation) []AllocationDTO {
	out := make([]AllocationDTO, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, AllocationDTO{
			ID:            a.ID,
			ProgramID:     a.ProgramID,
			UserID:        a.UserID,
			SourceID:      a.SourceID,
			Archived:      a.Archived,
			TimeAllocated: a.TimeAllocated,
			TimeStart:     a.TimeStart,
			TimeDue:       a.TimeDue,
			TimeEnd:       a.TimeEnd,
			TimeCompleted: a.TimeCompleted,
		})
	}
	return out
}

// AllocateRequest allocates users manually. Omitted dates follow the
// program schedule.
type AllocateRequest struct {
	UserIDs   []int64    `json:"userids"`
	TimeStart *time.Time `json:"timestart,omitempty"`
	TimeDue   *time.Time `json:"timedue,omitempty"`
	TimeEnd   *time.Time `json:"timeend,omitempty"`
}

type ResetRequest struct {
	ResetType string `json:"resettype"`
}

type CohortMemberRequest struct {
	UserID int64 `json:"userid"`
}

type CronResponse struct {
	Notifications int   `json:"notifications"`
	Certificates  int   `json:"certificates"`
	DurationMs    int64 `json:"duration_ms"`
}
