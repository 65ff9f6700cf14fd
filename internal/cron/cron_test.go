package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSteps struct {
	syncs    atomic.Int32
	sweeps   atomic.Int32
	issues   atomic.Int32
	syncErr  error
	scoped   bool
	notified int
}

func (f *fakeSteps) Sync(_ context.Context, programID, userID *int64) error {
	f.syncs.Add(1)
	if programID != nil || userID != nil {
		f.scoped = true
	}
	return f.syncErr
}

func (f *fakeSteps) Sweep(context.Context) (int, error) {
	f.sweeps.Add(1)
	return f.notified, nil
}

func (f *fakeSteps) IssueCertificates(context.Context) (int, error) {
	f.issues.Add(1)
	return 2, nil
}

func TestRunOnce_RunsEveryStep(t *testing.T) {
	f := &fakeSteps{notified: 3}
	r := New(f, f, f, time.Hour, nil)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Notifications)
	assert.Equal(t, 2, res.Certificates)
	assert.False(t, f.scoped, "cron syncs everything")
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	f := &fakeSteps{syncErr: errors.New("db locked")}
	r := New(f, f, f, time.Hour, nil)

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync: db locked")
	assert.Equal(t, int32(1), f.sweeps.Load())
	assert.Equal(t, int32(1), f.issues.Load())
}

func TestStartStop(t *testing.T) {
	f := &fakeSteps{}
	r := New(f, f, f, 10*time.Millisecond, nil)

	r.Start(context.Background())
	require.Eventually(t, func() bool { return f.syncs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	n := f.syncs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, f.syncs.Load(), "no runs after Stop")
	r.Stop()
}

func TestNew_DefaultInterval(t *testing.T) {
	r := New(&fakeSteps{}, &fakeSteps{}, &fakeSteps{}, 0, nil)
	assert.Equal(t, time.Minute, r.Interval)
}
