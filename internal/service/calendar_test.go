package service

import (
	"context"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/source"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(t *testing.T, env *testEnv, allocationID int64) []string {
	t.Helper()
	rows, err := env.db.Query(`SELECT eventtype FROM calendar_events WHERE allocationid = ? ORDER BY eventtype`, allocationID)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestCalendarService_EventsFollowAllocationDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t, testutil.WithDueDate(domain.ScheduleSpec{Type: domain.ScheduleDelay, Delay: "P7D"}))
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	assert.Equal(t, []string{CalendarDue, CalendarStart}, eventTypes(t, env, a.ID))
	assert.True(t, env.allocation(t, a.ID).CalendarUpdated)

	end := testNow.Add(30 * 24 * time.Hour)
	require.NoError(t, env.allocations.UpdateDates(ctx, a.ID, domain.DateOverrides{TimeStart: testNow, TimeEnd: &end}))
	assert.Equal(t, []string{CalendarEnd, CalendarStart}, eventTypes(t, env, a.ID))

	require.NoError(t, env.allocations.Archive(ctx, a.ID))
	assert.Empty(t, eventTypes(t, env, a.ID))
}

func TestCalendarService_CompletionDropsEvents(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})
	require.NotEmpty(t, eventTypes(t, env, a.ID))

	require.NoError(t, env.completions.UpdateItemEvidence(context.Background(), EvidenceUpdate{
		UserID: user, ItemID: env.top(t, p.ID).ID, TimeCompleted: timePtr(testNow), Recalculate: true,
	}))
	assert.Empty(t, eventTypes(t, env, a.ID))
}
