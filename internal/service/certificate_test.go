package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateService_IssuesOncePerCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := completedProgram(t, env)
	require.NoError(t, env.programs.SetCertificate(ctx, &domain.ProgramCertificate{
		ProgramID:  f.program.ID,
		TemplateID: 7,
		Expiry:     domain.ScheduleSpec{Type: domain.ScheduleDelay, Delay: "P1M"},
	}))

	n, err := env.certificates.IssueCertificates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.certificates.IssueCertificates(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var templateID, userID, expires int64
	require.NoError(t, env.db.QueryRow(`SELECT templateid, userid, expires FROM issued_certificates`).Scan(&templateID, &userID, &expires))
	assert.Equal(t, int64(7), templateID)
	assert.Equal(t, f.user, userID)
	assert.Equal(t, testNow.Add(-time.Hour).AddDate(0, 1, 0).Unix(), expires)

	issued, err := env.repos.Events.ListByName(ctx, domain.EventCertificateIssued)
	require.NoError(t, err)
	assert.Len(t, issued, 1)
}

func TestCertificateService_SkipsLockedAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := completedProgram(t, env)
	require.NoError(t, env.programs.SetCertificate(ctx, &domain.ProgramCertificate{ProgramID: f.program.ID, TemplateID: 7}))
	env.certificates.(*certificateService).lockWait = 20 * time.Millisecond

	lease, ok, err := env.locker.Acquire(ctx, fmt.Sprintf("certificate:%d", f.alloc.ID), 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := env.certificates.IssueCertificates(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, testutil.CountRows(t, env.db, "issued_certificates", ""))

	require.NoError(t, lease.Release(ctx))
	n, err = env.certificates.IssueCertificates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
