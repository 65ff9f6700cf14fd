// Package cron runs the periodic work of the engine: a full reconciliation,
// the scheduled notification sweep and certificate issuing.
package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Syncer is the reconciliation entry point; nil ids sync everything.
type Syncer interface {
	Sync(ctx context.Context, programID, userID *int64) error
}

type Notifier interface {
	Sweep(ctx context.Context) (int, error)
}

type Issuer interface {
	IssueCertificates(ctx context.Context) (int, error)
}

// Result counts what one run did.
type Result struct {
	StartedAt     time.Time
	Duration      time.Duration
	Notifications int
	Certificates  int
}

// Runner executes the cron steps once per Interval between Start and Stop.
type Runner struct {
	Sync          Syncer
	Notifications Notifier
	Certificates  Issuer
	Interval      time.Duration
	Logger        *slog.Logger

	mu      sync.Mutex
	running sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    *Result
}

func New(syncer Syncer, notifications Notifier, certificates Issuer, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		Sync:          syncer,
		Notifications: notifications,
		Certificates:  certificates,
		Interval:      interval,
		Logger:        logger,
	}
}

// RunOnce executes every step in order. A failing step is logged and the
// remaining steps still run; the errors are joined.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	r.running.Lock()
	defer r.running.Unlock()

	res := Result{StartedAt: time.Now()}
	var errs []error
	if err := r.Sync.Sync(ctx, nil, nil); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	n, err := r.Notifications.Sweep(ctx)
	res.Notifications = n
	if err != nil {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}
	c, err := r.Certificates.IssueCertificates(ctx)
	res.Certificates = c
	if err != nil {
		errs = append(errs, fmt.Errorf("certificates: %w", err))
	}
	res.Duration = time.Since(res.StartedAt)

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()

	err = errors.Join(errs...)
	if err != nil {
		r.Logger.ErrorContext(ctx, "cron run failed", "error", err, "duration_ms", res.Duration.Milliseconds())
	} else {
		r.Logger.InfoContext(ctx, "cron run",
			"notifications", res.Notifications,
			"certificates", res.Certificates,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	return res, err
}

// Start runs immediately and then on every tick until Stop or ctx ends.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.Logger.Info("cron started", "interval", r.Interval)
}

// Stop ends the loop and waits for a run in progress.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.Logger.Info("cron stopped")
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	_, _ = r.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the result of the most recent run, if any.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}
