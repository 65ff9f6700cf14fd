package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/testutil"
)

func TestProgramService_CreateRollsBackOnFailedWrite(t *testing.T) {
	injected := errors.New("disk full")
	for _, failOn := range []int32{2, 3, 4} {
		database := testutil.NewTestDB(t)
		svc := NewProgramService(Deps{
			DB:  database,
			UoW: &testutil.FailOnNthExecUoW{DB: database, FailOn: failOn, Err: injected},
			Bus: events.NewBus(nil),
			Now: testutil.FixedClock(testNow),
		})

		err := svc.Create(context.Background(), testutil.NewTestProgram("Rollback"))
		require.ErrorIs(t, err, injected, "write %d", failOn)
		assert.Zero(t, testutil.CountRows(t, database, "programs", ""), "write %d", failOn)
		assert.Zero(t, testutil.CountRows(t, database, "items", ""), "write %d", failOn)
		assert.Zero(t, testutil.CountRows(t, database, "sources", ""), "write %d", failOn)
	}
}
