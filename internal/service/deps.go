package service

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/programs/internal/coursereset"
	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/flags"
	"github.com/alexanderramin/programs/internal/lock"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/source"
)

// Deps are the collaborators shared by the services. DB must not be used
// inside a unit of work callback; use the callback's DBTX there.
type Deps struct {
	DB       db.DBTX
	UoW      db.UnitOfWork
	Sources  *source.Registry
	Sync     Syncer
	Active   *flags.ActivePrograms
	Bus      *events.Bus
	Platform platform.Providers
	Reset    *coursereset.Resetter
	Locker   lock.Locker
	// LockWait and LockTTL bound the certificate advisory lock. Zero
	// selects lock.DefaultWait and lock.DefaultTTL.
	LockWait time.Duration
	LockTTL  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC().Truncate(time.Second)
	}
	return d.Now().UTC().Truncate(time.Second)
}

func newEvent(name domain.EventName, programID, allocationID, userID *int64, now time.Time, payload map[string]any) *domain.Event {
	e := &domain.Event{
		Name:          name,
		ProgramID:     programID,
		AllocationID:  allocationID,
		UserID:        userID,
		CorrelationID: uuid.New().String(),
		TimeCreated:   now,
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.Payload = string(b)
		}
	}
	return e
}

func ptr[T any](v T) *T { return &v }
