package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramRepo_CreateAndGetByID(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewSQLiteProgramRepo(db)
	ctx := context.Background()

	windowEnd := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testutil.NewTestProgram("Onboarding",
		testutil.WithDueDate(domain.ScheduleSpec{Type: domain.ScheduleDelay, Delay: "P1M"}),
		testutil.WithAllocationWindow(nil, &windowEnd),
	)
	require.NoError(t, repo.Create(ctx, p))
	require.NotZero(t, p.ID)

	fetched, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Onboarding", fetched.FullName)
	assert.Equal(t, p.IDNumber, fetched.IDNumber)
	assert.Equal(t, domain.ScheduleDelay, fetched.DueDate.Type)
	assert.Equal(t, "P1M", fetched.DueDate.Delay)
	assert.Nil(t, fetched.TimeAllocationStart)
	require.NotNil(t, fetched.TimeAllocationEnd)
	assert.True(t, windowEnd.Equal(*fetched.TimeAllocationEnd))
}

func TestProgramRepo_GetByID_NotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewSQLiteProgramRepo(db)

	_, err := repo.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgramRepo_ListAndHasActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewSQLiteProgramRepo(db)
	ctx := context.Background()

	active, err := repo.HasActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	p1 := testutil.NewTestProgram("A")
	p2 := testutil.NewTestProgram("B", testutil.WithArchived())
	require.NoError(t, repo.Create(ctx, p1))
	require.NoError(t, repo.Create(ctx, p2))

	list, err := repo.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	all, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err = repo.HasActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, repo.SetArchived(ctx, p1.ID, true))
	active, err = repo.HasActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestProgramRepo_IsVisibleTo(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewSQLiteProgramRepo(db)
	ctx := context.Background()

	member := testutil.SeedUser(t, db)
	outsider := testutil.SeedUser(t, db)
	cohort := testutil.SeedCohort(t, db, member)

	p := testutil.NewTestProgram("Visible")
	require.NoError(t, repo.Create(ctx, p))
	require.NoError(t, repo.SetCohorts(ctx, p.ID, []int64{cohort}))

	ok, err := repo.IsVisibleTo(ctx, p.ID, member)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsVisibleTo(ctx, p.ID, outsider)
	require.NoError(t, err)
	assert.False(t, ok)

	p.PublicAccess = true
	require.NoError(t, repo.Update(ctx, p))
	ok, err = repo.IsVisibleTo(ctx, p.ID, outsider)
	require.NoError(t, err)
	assert.True(t, ok)
}
