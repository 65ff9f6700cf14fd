package reconcile

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// PassEvent captures the outcome of one reconciliation pass.
type PassEvent struct {
	Name      string
	Duration  time.Duration
	Rows      int
	Err       error
	ProgramID *int64
	UserID    *int64
	StartedAt time.Time
}

// PassObserver receives pass execution events.
type PassObserver interface {
	ObservePass(ctx context.Context, event PassEvent)
}

// NoopPassObserver ignores all events.
type NoopPassObserver struct{}

func (NoopPassObserver) ObservePass(context.Context, PassEvent) {}

type logPassObserver struct {
	logger *slog.Logger
}

// NewLogPassObserver writes pass events to w. Passes that changed nothing are
// logged at debug level.
func NewLogPassObserver(w io.Writer, level slog.Level) PassObserver {
	if w == nil {
		return NoopPassObserver{}
	}
	return &logPassObserver{
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

func (o *logPassObserver) ObservePass(ctx context.Context, event PassEvent) {
	attrs := make([]any, 0, 10)
	attrs = append(attrs,
		"pass", event.Name,
		"duration_ms", event.Duration.Milliseconds(),
		"rows", event.Rows,
	)
	if event.ProgramID != nil {
		attrs = append(attrs, "program_id", *event.ProgramID)
	}
	if event.UserID != nil {
		attrs = append(attrs, "user_id", *event.UserID)
	}
	switch {
	case event.Err != nil:
		attrs = append(attrs, "error", event.Err.Error())
		o.logger.ErrorContext(ctx, "reconcile_pass", attrs...)
	case event.Rows == 0:
		o.logger.DebugContext(ctx, "reconcile_pass", attrs...)
	default:
		o.logger.InfoContext(ctx, "reconcile_pass", attrs...)
	}
}
