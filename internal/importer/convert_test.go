package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/programs/internal/domain"
)

func TestProgram_Defaults(t *testing.T) {
	p, err := ProgramImport{IDNumber: "A", FullName: "A"}.Program()
	require.NoError(t, err)

	assert.Equal(t, domain.ScheduleAllocation, p.StartDate.Type)
	assert.Equal(t, domain.ScheduleNotSet, p.DueDate.Type)
	assert.Equal(t, domain.ScheduleNotSet, p.EndDate.Type)
	assert.Nil(t, p.TimeAllocationStart)
}

func TestProgram_DateParsing(t *testing.T) {
	start := "2025-03-01"
	end := "2025-04-01T12:00:00Z"
	p, err := ProgramImport{
		IDNumber:        "A",
		FullName:        "A",
		AllocationStart: &start,
		AllocationEnd:   &end,
		DueDate:         &ScheduleImport{Type: "date", Date: "2025-06-30"},
	}.Program()
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *p.TimeAllocationStart)
	assert.Equal(t, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC), *p.TimeAllocationEnd)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC).Unix(), p.DueDate.Date)
}

func TestProgram_BadDate(t *testing.T) {
	bad := "tomorrow"
	_, err := ProgramImport{IDNumber: "A", FullName: "A", AllocationEnd: &bad}.Program()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation_end")
}

func TestItemHelpers(t *testing.T) {
	set := ItemImport{Set: "Basics"}
	assert.Equal(t, domain.ItemSet, set.Kind())
	assert.Equal(t, "Basics", set.Name())
	assert.Equal(t, domain.SequenceAllInAnyOrder, set.Rules().SequenceType)

	named := ItemImport{Set: "Basics", FullName: "Basics of safety"}
	assert.Equal(t, "Basics of safety", named.Name())

	assert.Equal(t, domain.ItemTraining, ItemImport{Training: 3}.Kind())
	assert.Equal(t, domain.ItemKind(""), ItemImport{Course: 1, Training: 3}.Kind())
}

func TestSourceData(t *testing.T) {
	data, err := SourceImport{Type: "cohort"}.Data()
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = SourceImport{Type: "selfallocation", Settings: map[string]any{"maxusers": 5}}.Data()
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxusers":5}`, data)
}

func TestParse_JSON(t *testing.T) {
	f, err := Parse([]byte(`{"programs":[{"idnumber":"J","fullname":"Json","content":[{"course":1}]}]}`))
	require.NoError(t, err)
	require.Len(t, f.Programs, 1)
	assert.Equal(t, int64(1), f.Programs[0].Content[0].Course)
}
