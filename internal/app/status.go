package app

import (
	"context"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
)

type StatusRequest struct {
	Now             *time.Time
	ProgramScope    []string
	IncludeArchived bool
}

// ProgramStatusView summarises the allocations of one program.
type ProgramStatusView struct {
	ProgramID       int64
	IDNumber        string
	FullName        string
	ProgramArchived bool
	Allocations     int
	Live            int
	Completed       int
	Overdue         int
	Archived        int
}

type StatusResponse struct {
	GeneratedAt time.Time
	Programs    []ProgramStatusView
}

type statusUseCase struct {
	engine *Engine
	now    func() time.Time
}

func (s *statusUseCase) GetStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	now := time.Now().UTC()
	if s.now != nil {
		now = s.now()
	}
	if req.Now != nil {
		now = *req.Now
	}

	programs, err := s.programs(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{GeneratedAt: now}
	for _, p := range programs {
		allocs, err := s.engine.Allocations.ListByProgram(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		resp.Programs = append(resp.Programs, summarise(p, allocs, now))
	}
	return resp, nil
}

func (s *statusUseCase) programs(ctx context.Context, req StatusRequest) ([]*domain.Program, error) {
	if len(req.ProgramScope) == 0 {
		return s.engine.Programs.List(ctx, req.IncludeArchived)
	}
	out := make([]*domain.Program, 0, len(req.ProgramScope))
	for _, idnumber := range req.ProgramScope {
		p, err := s.engine.Programs.GetByIDNumber(ctx, idnumber)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func summarise(p *domain.Program, allocs []*domain.Allocation, now time.Time) ProgramStatusView {
	v := ProgramStatusView{
		ProgramID:       p.ID,
		IDNumber:        p.IDNumber,
		FullName:        p.FullName,
		ProgramArchived: p.Archived,
		Allocations:     len(allocs),
	}
	for _, a := range allocs {
		switch {
		case a.Archived:
			v.Archived++
		case a.Completed():
			v.Completed++
		default:
			if a.Live(now) {
				v.Live++
			}
			if a.TimeDue != nil && !a.TimeDue.After(now) {
				v.Overdue++
			}
		}
	}
	return v
}
