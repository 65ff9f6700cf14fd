// Package events dispatches committed domain events to in-process handlers.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/alexanderramin/programs/internal/domain"
)

// Handler reacts to one committed event. Errors are logged, never propagated
// back to the publisher: the state change has already been committed.
type Handler func(ctx context.Context, e *domain.Event) error

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventName][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{handlers: make(map[domain.EventName][]Handler), logger: logger}
}

// Subscribe registers h for the named event.
func (b *Bus) Subscribe(name domain.EventName, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish runs every handler subscribed to each event. A nil Bus is a no-op
// and nil events are skipped.
func (b *Bus) Publish(ctx context.Context, evts ...*domain.Event) {
	if b == nil {
		return
	}
	for _, e := range evts {
		if e == nil {
			continue
		}
		b.mu.RLock()
		hs := append([]Handler(nil), b.handlers[e.Name]...)
		b.mu.RUnlock()
		for _, h := range hs {
			if err := b.run(ctx, h, e); err != nil {
				b.logger.WarnContext(ctx, "event handler failed",
					"event", string(e.Name), "allocation_id", derefInt64(e.AllocationID), "error", err)
			}
		}
	}
}

func (b *Bus) run(ctx context.Context, h Handler, e *domain.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, e)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
