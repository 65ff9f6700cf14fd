package importer

import (
	"fmt"

	"github.com/alexanderramin/programs/internal/domain"
)

var validSourceTypes = map[domain.SourceType]bool{
	domain.SourceManual:         true,
	domain.SourceCohort:         true,
	domain.SourceSelfAllocation: true,
	domain.SourceApproval:       true,
	domain.SourceProgram:        true,
	domain.SourceCertification:  true,
}

// Validate checks every program of the file and returns the failures keyed
// by program row. Programs without entries can be imported on their own.
func Validate(f *File) domain.RowErrors {
	errs := domain.RowErrors{}
	seen := make(map[string]bool)

	for i, p := range f.Programs {
		row := p.Row(i)
		if p.IDNumber != "" {
			if seen[p.IDNumber] {
				errs.Add(row, fmt.Errorf("idnumber: duplicate %q in file", p.IDNumber))
			}
			seen[p.IDNumber] = true
		}
		for _, err := range validateProgram(p) {
			errs.Add(row, err)
		}
	}
	return errs
}

func validateProgram(p ProgramImport) []error {
	var errs []error

	prog, err := p.Program()
	if err != nil {
		errs = append(errs, err)
	} else if err := prog.Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, _, err := p.TopRules().Resolve(len(p.Content)); err != nil {
		errs = append(errs, fmt.Errorf("sequence: %w", err))
	}
	for i, it := range p.Content {
		errs = append(errs, validateItem(fmt.Sprintf("content[%d]", i), it)...)
	}

	types := make(map[string]bool)
	for i, s := range p.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if !validSourceTypes[domain.SourceType(s.Type)] {
			errs = append(errs, fmt.Errorf("%s.type: invalid value %q", prefix, s.Type))
			continue
		}
		if types[s.Type] {
			errs = append(errs, fmt.Errorf("%s.type: duplicate source %q", prefix, s.Type))
		}
		types[s.Type] = true
		if len(s.Cohorts) > 0 && domain.SourceType(s.Type) != domain.SourceCohort {
			errs = append(errs, fmt.Errorf("%s.cohorts: only valid for cohort sources", prefix))
		}
		if _, err := s.Data(); err != nil {
			errs = append(errs, fmt.Errorf("%s.settings: %w", prefix, err))
		}
	}

	for _, n := range p.Notifications {
		if !domain.IsNotificationType(domain.NotificationType(n)) {
			errs = append(errs, fmt.Errorf("notifications: invalid value %q", n))
		}
	}
	return errs
}

func validateItem(prefix string, it ItemImport) []error {
	var errs []error

	kind := it.Kind()
	if kind == "" {
		return append(errs, fmt.Errorf("%s: exactly one of set, course or training is required", prefix))
	}
	if it.Course < 0 || it.Training < 0 {
		errs = append(errs, fmt.Errorf("%s: course and training ids must be positive", prefix))
	}

	var delay int64
	if it.CompletionDelay != nil {
		delay = *it.CompletionDelay
	}
	if err := domain.ValidateItemValues(domain.IntFromPtrWithDefault(1, it.Points), delay); err != nil {
		errs = append(errs, fmt.Errorf("%s.%w", prefix, err))
	}

	if kind != domain.ItemSet {
		if len(it.Items) > 0 {
			errs = append(errs, fmt.Errorf("%s.items: only sets can contain items", prefix))
		}
		if it.Sequence != "" {
			errs = append(errs, fmt.Errorf("%s.sequence: only valid for sets", prefix))
		}
		return errs
	}

	if _, _, err := it.Rules().Resolve(len(it.Items)); err != nil {
		errs = append(errs, fmt.Errorf("%s.sequence: %w", prefix, err))
	}
	for i, child := range it.Items {
		errs = append(errs, validateItem(fmt.Sprintf("%s.items[%d]", prefix, i), child)...)
	}
	return errs
}
