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

func TestCompletionService_ItemCompletionPropagatesOnRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	course, _ := env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	err := env.completions.UpdateItemCompletion(ctx, CompletionUpdate{
		AllocationID:  a.ID,
		ItemID:        course.ID,
		TimeCompleted: timePtr(testNow.Add(-time.Hour)),
	})
	require.NoError(t, err)
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted, "access passes do not propagate")

	err = env.completions.UpdateItemCompletion(ctx, CompletionUpdate{
		AllocationID:  a.ID,
		ItemID:        course.ID,
		TimeCompleted: timePtr(testNow.Add(-time.Hour)),
		Propagate:     true,
	})
	require.NoError(t, err)
	got := env.allocation(t, a.ID)
	require.NotNil(t, got.TimeCompleted)
	assert.True(t, testNow.Equal(*got.TimeCompleted))
}

func TestCompletionService_ClearItemCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	course, _ := env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	require.NoError(t, env.completions.UpdateItemCompletion(ctx, CompletionUpdate{
		AllocationID: a.ID, ItemID: course.ID, TimeCompleted: timePtr(testNow),
	}))
	require.NoError(t, env.completions.UpdateItemCompletion(ctx, CompletionUpdate{AllocationID: a.ID, ItemID: course.ID}))
	assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))

	other := env.createProgram(t)
	err := env.completions.UpdateItemCompletion(ctx, CompletionUpdate{
		AllocationID: a.ID, ItemID: env.top(t, other.ID).ID, TimeCompleted: timePtr(testNow),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestCompletionService_TopEvidenceCompletesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	require.NoError(t, env.programs.SetNotification(ctx, p.ID, domain.NotifyCompletion, true))
	env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})
	top := env.top(t, p.ID)

	done := testNow.Add(-2 * time.Hour)
	for i := 0; i < 2; i++ {
		require.NoError(t, env.completions.UpdateItemEvidence(ctx, EvidenceUpdate{
			UserID: user, ItemID: top.ID, TimeCompleted: &done, Details: `{"note":"imported"}`, Recalculate: true,
		}))
	}

	got := env.allocation(t, a.ID)
	require.NotNil(t, got.TimeCompleted)
	assert.True(t, done.Equal(*got.TimeCompleted))
	assert.Equal(t, []string{"completion"}, env.notifier.types())

	completed, err := env.repos.Events.ListByName(ctx, domain.EventAllocationCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	ev, err := env.repos.Completions.GetEvidence(ctx, user, top.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"note":"imported"}`, ev.Details)
}

func TestCompletionService_FutureEvidenceReopensAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := completedProgram(t, env)
	top := env.top(t, f.program.ID)

	require.NoError(t, env.completions.UpdateItemEvidence(ctx, EvidenceUpdate{
		UserID: f.user, ItemID: top.ID, TimeCompleted: timePtr(testNow.Add(48 * time.Hour)), Recalculate: true,
	}))
	assert.Nil(t, env.allocation(t, f.alloc.ID).TimeCompleted)

	c, err := env.repos.Completions.GetItemCompletion(ctx, top.ID, f.alloc.ID)
	require.NoError(t, err)
	assert.True(t, testNow.Add(48*time.Hour).Equal(c.TimeCompleted))
}

func TestCompletionService_EvidenceWithoutRecalculate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	course, _ := env.appendCourse(t, env.top(t, p.ID).ID)
	user := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p.ID, user, source.Overrides{})

	require.NoError(t, env.completions.UpdateItemEvidence(ctx, EvidenceUpdate{
		UserID: user, ItemID: course.ID, TimeCompleted: timePtr(testNow.Add(-time.Hour)),
	}))
	assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "evidence", "userid = ? AND itemid = ?", user, course.ID))

	require.NoError(t, env.completions.UpdateItemEvidence(ctx, EvidenceUpdate{UserID: user, ItemID: course.ID}))
	assert.Zero(t, testutil.CountRows(t, env.db, "evidence", "userid = ?", user))
}
