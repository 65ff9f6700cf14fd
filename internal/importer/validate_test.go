package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrInt(i int) *int { return &i }

func validMinimalFile() *File {
	return &File{Programs: []ProgramImport{{
		IDNumber: "ONB",
		FullName: "Onboarding",
		Content:  []ItemImport{{Course: 10}},
	}}}
}

func TestValidate_ValidMinimal(t *testing.T) {
	assert.Empty(t, Validate(validMinimalFile()))
}

func TestValidate_ValidFull(t *testing.T) {
	f, err := Parse([]byte(`
programs:
  - idnumber: SAFE
    fullname: Safety
    allocation_start: "2025-01-01"
    allocation_end: "2025-12-31"
    startdate: {type: allocation}
    duedate: {type: delay, delay: P1M}
    enddate: {type: date, date: "2026-01-31"}
    sequence: allinorder
    content:
      - set: Basics
        sequence: atleast
        min_prerequisites: 1
        items:
          - course: 1
          - course: 2
            points: 3
      - training: 4
        completion_delay: 3600
    sources:
      - type: cohort
        cohorts: [7]
      - type: selfallocation
        settings: {maxusers: 10}
    notifications: [allocation, duesoon]
`))
	require.NoError(t, err)
	assert.Empty(t, Validate(f))
}

func TestValidate_MissingProgramFields(t *testing.T) {
	errs := Validate(&File{Programs: []ProgramImport{{}}})

	require.True(t, errs.Has("programs[0]"))
	assert.Contains(t, errs.Error(), "fullname")
}

func TestValidate_DuplicateIDNumber(t *testing.T) {
	f := validMinimalFile()
	f.Programs = append(f.Programs, f.Programs[0])

	errs := Validate(f)
	assert.Contains(t, errs.Error(), "duplicate")
}

func TestValidate_InvalidSchedule(t *testing.T) {
	f := validMinimalFile()
	f.Programs[0].DueDate = &ScheduleImport{Type: "delay", Delay: "P1M2D"}
	assert.True(t, Validate(f).Has("ONB"))

	f = validMinimalFile()
	f.Programs[0].StartDate = &ScheduleImport{Type: "date", Date: "01/02/2025"}
	assert.True(t, Validate(f).Has("ONB"))
}

func TestValidate_ItemKinds(t *testing.T) {
	f := validMinimalFile()
	f.Programs[0].Content = []ItemImport{
		{},
		{Set: "S", Course: 3},
		{Course: 4, Items: []ItemImport{{Course: 5}}},
		{Course: 6, Points: ptrInt(-1)},
	}

	errs := Validate(f)
	require.Len(t, errs["ONB"], 4)
	msg := errs.Error()
	assert.Contains(t, msg, "content[0]: exactly one")
	assert.Contains(t, msg, "content[1]: exactly one")
	assert.Contains(t, msg, "content[2].items")
	assert.Contains(t, msg, "content[3].points")
}

func TestValidate_SetRules(t *testing.T) {
	f := validMinimalFile()
	f.Programs[0].Content = []ItemImport{{Set: "S", Sequence: "atleast", Items: []ItemImport{{Course: 1}}}}
	assert.Contains(t, Validate(f).Error(), "content[0].sequence")

	f = validMinimalFile()
	f.Programs[0].Sequence = "sometimes"
	assert.Contains(t, Validate(f).Error(), "sequence")
}

func TestValidate_Sources(t *testing.T) {
	f := validMinimalFile()
	f.Programs[0].Sources = []SourceImport{
		{Type: "ldap"},
		{Type: "approval", Cohorts: []int64{1}},
		{Type: "cohort"},
		{Type: "cohort"},
	}

	msg := Validate(f).Error()
	assert.Contains(t, msg, `sources[0].type: invalid value "ldap"`)
	assert.Contains(t, msg, "sources[1].cohorts")
	assert.Contains(t, msg, `sources[3].type: duplicate`)
}

func TestValidate_KeepsValidSiblings(t *testing.T) {
	f := validMinimalFile()
	f.Programs = append(f.Programs, ProgramImport{IDNumber: "BAD", FullName: "Bad", Notifications: []string{"weekly"}})

	errs := Validate(f)
	assert.False(t, errs.Has("ONB"))
	assert.True(t, errs.Has("BAD"))
}
