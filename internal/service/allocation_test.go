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

type completedFixture struct {
	program *domain.Program
	course  int64
	other   int64
	user    int64
	alloc   *domain.Allocation
}

// completedProgram allocates a user to a one-course program and completes
// it through top item evidence.
func completedProgram(t *testing.T, env *testEnv) completedFixture {
	t.Helper()
	ctx := context.Background()
	f := completedFixture{program: env.createProgram(t)}
	_, f.course = env.appendCourse(t, env.top(t, f.program.ID).ID)
	f.other = testutil.SeedCourse(t, env.db)
	f.user = testutil.SeedUser(t, env.db)
	f.alloc = env.allocate(t, f.program.ID, f.user, source.Overrides{})

	err := env.completions.UpdateItemEvidence(ctx, EvidenceUpdate{
		UserID:        f.user,
		ItemID:        env.top(t, f.program.ID).ID,
		TimeCompleted: timePtr(testNow.Add(-time.Hour)),
		Recalculate:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, env.allocation(t, f.alloc.ID).TimeCompleted)
	return f
}

func seedActivity(t *testing.T, env *testEnv, courseID, userID int64) {
	t.Helper()
	_, err := env.db.Exec(`INSERT INTO activity_data (courseid, userid, modname, payload) VALUES (?, ?, 'assign', 'x')`, courseID, userID)
	require.NoError(t, err)
}

func TestAllocationService_AllocateEnrolsAndSkipsExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	_, courseID := env.appendCourse(t, env.top(t, p.ID).ID)
	u1 := testutil.SeedUser(t, env.db)
	u2 := testutil.SeedUser(t, env.db)

	env.allocate(t, p.ID, u1, source.Overrides{})
	allocs, err := env.allocations.Allocate(ctx, p.ID, []int64{u1, u2}, source.Overrides{})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, u2, allocs[0].UserID)

	assert.True(t, env.enrolled(t, courseID, u1))
	assert.True(t, env.enrolled(t, courseID, u2))

	listed, err := env.allocations.ListByProgram(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestAllocationService_DeallocateUnenrolsAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	require.NoError(t, env.programs.SetNotification(ctx, p.ID, domain.NotifyDeallocation, true))
	_, courseID := env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	require.NoError(t, env.allocations.Deallocate(ctx, a.ID))

	_, err := env.allocations.Get(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, env.enrolled(t, courseID, user))
	assert.Equal(t, []string{"deallocation"}, env.notifier.types())
}

func TestAllocationService_ArchiveSuspendsEnrolment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	_, courseID := env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	require.NoError(t, env.allocations.Archive(ctx, a.ID))
	assert.True(t, env.allocation(t, a.ID).Archived)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "user_enrolments",
		"userid = ? AND status = 1 AND enrolid IN (SELECT id FROM enrol_instances WHERE courseid = ?)", user, courseID))

	require.NoError(t, env.allocations.Restore(ctx, a.ID))
	assert.False(t, env.allocation(t, a.ID).Archived)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "user_enrolments",
		"userid = ? AND status = 0 AND enrolid IN (SELECT id FROM enrol_instances WHERE courseid = ?)", user, courseID))
}

func TestAllocationService_UpdateDatesValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	err := env.allocations.UpdateDates(ctx, a.ID, domain.DateOverrides{
		TimeStart: testNow,
		TimeEnd:   timePtr(testNow.Add(-time.Hour)),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDates)

	due := testNow.Add(48 * time.Hour)
	require.NoError(t, env.allocations.UpdateDates(ctx, a.ID, domain.DateOverrides{TimeStart: testNow, TimeDue: &due}))
	got := env.allocation(t, a.ID)
	require.NotNil(t, got.TimeDue)
	assert.True(t, due.Equal(*got.TimeDue))
}

func TestAllocationService_ResetStandardKeepsAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := completedProgram(t, env)
	require.NoError(t, env.programs.SetNotification(ctx, f.program.ID, domain.NotifyReset, true))
	_, err := env.db.Exec(`INSERT INTO installed_modules (name) VALUES ('assign')`)
	require.NoError(t, err)
	seedActivity(t, env, f.course, f.user)
	seedActivity(t, env, f.other, f.user)

	require.NoError(t, env.allocations.ResetAllocation(ctx, f.alloc.ID, domain.ResetStandard))

	a := env.allocation(t, f.alloc.ID)
	assert.Nil(t, a.TimeCompleted)
	assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
	assert.Zero(t, testutil.CountRows(t, env.db, "evidence", "userid = ?", f.user))
	assert.Zero(t, testutil.CountRows(t, env.db, "activity_data", "courseid = ? AND userid = ?", f.course, f.user))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "activity_data", "courseid = ? AND userid = ?", f.other, f.user))
	assert.True(t, env.enrolled(t, f.course, f.user), "the sync enrols the user again")
	assert.Contains(t, env.notifier.types(), "reset")

	evts, err := env.repos.Events.ListByAllocation(ctx, a.ID)
	require.NoError(t, err)
	var names []domain.EventName
	for _, e := range evts {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, domain.EventAllocationReset)
}

func TestAllocationService_ResetNoneChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	f := completedProgram(t, env)

	require.NoError(t, env.allocations.ResetAllocation(context.Background(), f.alloc.ID, domain.ResetNone))
	assert.NotNil(t, env.allocation(t, f.alloc.ID).TimeCompleted)
}

func TestAllocationService_ResetDeallocateLeavesCourseData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := completedProgram(t, env)
	require.NoError(t, env.programs.SetNotification(ctx, f.program.ID, domain.NotifyDeallocation, true))
	_, err := env.db.Exec(`INSERT INTO installed_modules (name) VALUES ('assign')`)
	require.NoError(t, err)
	seedActivity(t, env, f.course, f.user)
	_, err = env.db.Exec(`INSERT INTO course_completions (courseid, userid, timecompleted) VALUES (?, ?, ?)`,
		f.course, f.user, testNow.Unix())
	require.NoError(t, err)

	require.NoError(t, env.allocations.ResetAllocation(ctx, f.alloc.ID, domain.ResetDeallocate))

	_, err = env.allocations.Get(ctx, f.alloc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, testutil.CountRows(t, env.db, "allocations", "programid = ? AND userid = ?", f.program.ID, f.user))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "activity_data", "courseid = ? AND userid = ?", f.course, f.user))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "course_completions", "courseid = ? AND userid = ?", f.course, f.user))
	assert.Equal(t, []string{"deallocation"}, env.notifier.types())
}

func TestAllocationService_MutationsOfMissingAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.allocations.Deallocate(ctx, 999), domain.ErrNotFound)
	assert.ErrorIs(t, env.allocations.Archive(ctx, 999), domain.ErrNotFound)
	assert.ErrorIs(t, env.allocations.Restore(ctx, 999), domain.ErrNotFound)
	assert.ErrorIs(t, env.allocations.UpdateDates(ctx, 999, domain.DateOverrides{TimeStart: testNow}), domain.ErrNotFound)
}
