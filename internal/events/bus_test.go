package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBus_PublishRunsHandlersInOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe(domain.EventAllocationCompleted, func(context.Context, *domain.Event) error {
		got = append(got, "first")
		return errors.New("boom")
	})
	bus.Subscribe(domain.EventAllocationCompleted, func(context.Context, *domain.Event) error {
		got = append(got, "second")
		return nil
	})
	bus.Subscribe(domain.EventAllocationDeleted, func(context.Context, *domain.Event) error {
		got = append(got, "other")
		return nil
	})

	bus.Publish(context.Background(), &domain.Event{Name: domain.EventAllocationCompleted})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_RecoversHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	ran := false
	bus.Subscribe(domain.EventAllocationReset, func(context.Context, *domain.Event) error {
		panic("broken")
	})
	bus.Subscribe(domain.EventAllocationReset, func(context.Context, *domain.Event) error {
		ran = true
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), &domain.Event{Name: domain.EventAllocationReset})
	})
	assert.True(t, ran)
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), &domain.Event{Name: domain.EventProgramCreated})
	})
}
