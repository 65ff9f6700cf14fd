package importer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
)

const dateLayout = "2006-01-02"

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD or RFC 3339)", s)
	}
	return t.UTC(), nil
}

func optionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Schedule converts a date rule; a nil rule yields fallback.
func (s *ScheduleImport) Schedule(fallback domain.ScheduleType) (domain.ScheduleSpec, error) {
	if s == nil {
		return domain.ScheduleSpec{Type: fallback}, nil
	}
	spec := domain.ScheduleSpec{Type: domain.ScheduleType(s.Type), Delay: s.Delay}
	if s.Date != "" {
		t, err := parseTime(s.Date)
		if err != nil {
			return spec, err
		}
		spec.Date = t.Unix()
	}
	return spec, nil
}

// Program converts the program fields. Content and sources are committed
// separately.
func (p ProgramImport) Program() (*domain.Program, error) {
	out := &domain.Program{
		FullName:     p.FullName,
		IDNumber:     p.IDNumber,
		Description:  p.Description,
		PublicAccess: p.PublicAccess,
		CreateGroups: p.CreateGroups,
	}
	var err error
	if out.TimeAllocationStart, err = optionalTime(p.AllocationStart); err != nil {
		return nil, fmt.Errorf("allocation_start: %w", err)
	}
	if out.TimeAllocationEnd, err = optionalTime(p.AllocationEnd); err != nil {
		return nil, fmt.Errorf("allocation_end: %w", err)
	}
	if out.StartDate, err = p.StartDate.Schedule(domain.ScheduleAllocation); err != nil {
		return nil, fmt.Errorf("startdate: %w", err)
	}
	if out.DueDate, err = p.DueDate.Schedule(domain.ScheduleNotSet); err != nil {
		return nil, fmt.Errorf("duedate: %w", err)
	}
	if out.EndDate, err = p.EndDate.Schedule(domain.ScheduleNotSet); err != nil {
		return nil, fmt.Errorf("enddate: %w", err)
	}
	return out, nil
}

// TopRules are the completion rules of the program's top set.
func (p ProgramImport) TopRules() domain.SetRules {
	return rules(p.Sequence, p.MinPrerequisites, p.MinPoints)
}

func (it ItemImport) Rules() domain.SetRules {
	return rules(it.Sequence, it.MinPrerequisites, it.MinPoints)
}

func rules(seq string, minPrereq, minPoints int) domain.SetRules {
	st := domain.SequenceType(seq)
	if st == "" {
		st = domain.SequenceAllInAnyOrder
	}
	return domain.SetRules{SequenceType: st, MinPrerequisites: minPrereq, MinPoints: minPoints}
}

// Kind reports which item the node defines, or "" when it names none or
// more than one.
func (it ItemImport) Kind() domain.ItemKind {
	var kinds []domain.ItemKind
	if it.Set != "" {
		kinds = append(kinds, domain.ItemSet)
	}
	if it.Course != 0 {
		kinds = append(kinds, domain.ItemCourse)
	}
	if it.Training != 0 {
		kinds = append(kinds, domain.ItemTraining)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Name is the item's display name; sets fall back to their set label.
func (it ItemImport) Name() string {
	return domain.CoalesceStr(it.FullName, it.Set)
}

// Data encodes the source settings as stored source data.
func (s SourceImport) Data() (string, error) {
	if len(s.Settings) == 0 {
		return "", nil
	}
	b, err := json.Marshal(s.Settings)
	if err != nil {
		return "", fmt.Errorf("encoding %s settings: %w", s.Type, err)
	}
	return string(b), nil
}
