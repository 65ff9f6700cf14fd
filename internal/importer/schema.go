package importer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a program definition file. YAML and
// JSON files share the same keys.
type File struct {
	Programs []ProgramImport `yaml:"programs" json:"programs"`
}

// ProgramImport defines one program with its content and sources.
type ProgramImport struct {
	IDNumber        string          `yaml:"idnumber" json:"idnumber"`
	FullName        string          `yaml:"fullname" json:"fullname"`
	Description     string          `yaml:"description,omitempty" json:"description,omitempty"`
	PublicAccess    bool            `yaml:"public,omitempty" json:"public,omitempty"`
	CreateGroups    bool            `yaml:"creategroups,omitempty" json:"creategroups,omitempty"`
	AllocationStart *string         `yaml:"allocation_start,omitempty" json:"allocation_start,omitempty"`
	AllocationEnd   *string         `yaml:"allocation_end,omitempty" json:"allocation_end,omitempty"`
	StartDate       *ScheduleImport `yaml:"startdate,omitempty" json:"startdate,omitempty"`
	DueDate         *ScheduleImport `yaml:"duedate,omitempty" json:"duedate,omitempty"`
	EndDate         *ScheduleImport `yaml:"enddate,omitempty" json:"enddate,omitempty"`
	// Sequence and the minimums below configure the top set.
	Sequence         string         `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	MinPrerequisites int            `yaml:"min_prerequisites,omitempty" json:"min_prerequisites,omitempty"`
	MinPoints        int            `yaml:"min_points,omitempty" json:"min_points,omitempty"`
	Content          []ItemImport   `yaml:"content,omitempty" json:"content,omitempty"`
	Sources          []SourceImport `yaml:"sources,omitempty" json:"sources,omitempty"`
	Notifications    []string       `yaml:"notifications,omitempty" json:"notifications,omitempty"`
}

// ScheduleImport is a program date rule. Date accepts YYYY-MM-DD or RFC 3339.
type ScheduleImport struct {
	Type  string `yaml:"type" json:"type"`
	Date  string `yaml:"date,omitempty" json:"date,omitempty"`
	Delay string `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// ItemImport is one node of the content tree. Exactly one of Set, Course
// and Training is given.
type ItemImport struct {
	Set              string       `yaml:"set,omitempty" json:"set,omitempty"`
	Course           int64        `yaml:"course,omitempty" json:"course,omitempty"`
	Training         int64        `yaml:"training,omitempty" json:"training,omitempty"`
	FullName         string       `yaml:"fullname,omitempty" json:"fullname,omitempty"`
	IDNumber         string       `yaml:"idnumber,omitempty" json:"idnumber,omitempty"`
	Points           *int         `yaml:"points,omitempty" json:"points,omitempty"`
	CompletionDelay  *int64       `yaml:"completion_delay,omitempty" json:"completion_delay,omitempty"`
	Sequence         string       `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	MinPrerequisites int          `yaml:"min_prerequisites,omitempty" json:"min_prerequisites,omitempty"`
	MinPoints        int          `yaml:"min_points,omitempty" json:"min_points,omitempty"`
	Items            []ItemImport `yaml:"items,omitempty" json:"items,omitempty"`
}

// SourceImport enables an allocation source. Settings is stored as the
// source's JSON data; Cohorts only applies to cohort sources.
type SourceImport struct {
	Type     string         `yaml:"type" json:"type"`
	Settings map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
	Cohorts  []int64        `yaml:"cohorts,omitempty" json:"cohorts,omitempty"`
}

// LoadFile reads and parses a program definition file. JSON is accepted
// through the YAML decoder.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing import file: %w", err)
	}
	return &f, nil
}

// Row returns the key under which errors of the i-th program are reported.
func (p ProgramImport) Row(i int) string {
	if p.IDNumber != "" {
		return p.IDNumber
	}
	return fmt.Sprintf("programs[%d]", i)
}
