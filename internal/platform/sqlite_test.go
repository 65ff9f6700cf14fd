package platform

import (
	"context"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrolments_UnenrolRemovesRolesAndGroups(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := NewSQLite(db, nil)
	ctx := context.Background()

	user := testutil.SeedUser(t, db)
	course := testutil.SeedCourse(t, db)

	instance, err := p.Enrolments.CreateInstance(ctx, course, 1, true)
	require.NoError(t, err)
	require.NoError(t, p.Enrolments.EnrolUser(ctx, instance, user, false))
	require.NoError(t, p.Enrolments.EnrolUser(ctx, instance, user, true), "second enrol is a no-op")
	require.NoError(t, p.Roles.Assign(ctx, 5, user, course, instance))
	group, err := p.Groups.CreateGroup(ctx, course, "Program")
	require.NoError(t, err)
	require.NoError(t, p.Groups.AddMember(ctx, group, user, instance))

	assert.Equal(t, 1, testutil.CountRows(t, db, "user_enrolments", "status = 0"))

	require.NoError(t, p.Enrolments.UnenrolUser(ctx, instance, user))
	assert.Zero(t, testutil.CountRows(t, db, "user_enrolments", ""))
	assert.Zero(t, testutil.CountRows(t, db, "role_assignments", ""))
	assert.Zero(t, testutil.CountRows(t, db, "group_members", ""))
}

func TestTraining_CreditsSumDecimals(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := NewSQLite(db, nil)
	ctx := context.Background()

	res, err := db.Exec(`INSERT INTO training_frameworks (name, requiredtraining, restrictedcompletion) VALUES ('CPD', '1.5', 1)`)
	require.NoError(t, err)
	fid, _ := res.LastInsertId()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = db.Exec(`INSERT INTO training_completions (frameworkid, userid, credits, timecompleted) VALUES (?, 9, '0.1', ?), (?, 9, '0.2', ?), (?, 9, '1.2', ?)`,
		fid, old.Unix(), fid, recent.Unix(), fid, recent.Unix())
	require.NoError(t, err)

	f, err := p.Training.Framework(ctx, fid)
	require.NoError(t, err)
	assert.True(t, f.RequiredTraining.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, f.RestrictedCompletion)

	all, err := p.Training.Credits(ctx, fid, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.5", all.String())

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	restricted, err := p.Training.Credits(ctx, fid, 9, &since)
	require.NoError(t, err)
	assert.Equal(t, "1.4", restricted.String())

	_, err = p.Training.Framework(ctx, 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCertifications_MarkCertifiedOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := NewSQLite(db, nil)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO certifications (id, fullname) VALUES (1, 'Safety')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO certification_periods (id, certificationid, userid, programid, timewindowstart) VALUES (1, 1, 3, 4, 100)`)
	require.NoError(t, err)

	first := time.Unix(500, 0).UTC()
	require.NoError(t, p.Certifications.MarkCertified(ctx, 1, first))
	require.NoError(t, p.Certifications.MarkCertified(ctx, 1, first.Add(time.Hour)))

	period, err := p.Certifications.GetPeriod(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, period.TimeCertified)
	assert.True(t, first.Equal(*period.TimeCertified))
}

func TestCohorts_Membership(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := NewSQLite(db, nil)
	ctx := context.Background()

	user := testutil.SeedUser(t, db)
	cohort := testutil.SeedCohort(t, db)

	ok, err := p.Cohorts.Exists(ctx, cohort)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Cohorts.Exists(ctx, cohort+100)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Cohorts.AddMember(ctx, cohort, user))
	require.NoError(t, p.Cohorts.AddMember(ctx, cohort, user), "second add is a no-op")
	assert.Equal(t, 1, testutil.CountRows(t, db, "cohort_members", "cohortid = ?", cohort))

	require.NoError(t, p.Cohorts.RemoveMember(ctx, cohort, user))
	assert.Zero(t, testutil.CountRows(t, db, "cohort_members", ""))
}
