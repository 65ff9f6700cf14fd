package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/coursereset"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/flags"
	"github.com/alexanderramin/programs/internal/lock"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/reconcile"
	"github.com/alexanderramin/programs/internal/repository"
	"github.com/alexanderramin/programs/internal/source"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []platform.Message
}

func (n *recordingNotifier) Send(_ context.Context, m platform.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, m := range n.sent {
		out[i] = m.Type
	}
	return out
}

type testEnv struct {
	db       *sql.DB
	repos    *repository.Repos
	clock    *time.Time
	active   *flags.ActivePrograms
	locker   *lock.LocalLocker
	notifier *recordingNotifier

	programs      ProgramService
	content       ContentService
	allocations   AllocationService
	completions   CompletionService
	calendar      CalendarService
	notifications NotificationService
	certificates  CertificateService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database := testutil.NewTestDB(t)
	uow := testutil.NewTestUoW(database)
	clock := testNow
	now := func() time.Time { return clock }

	bus := events.NewBus(nil)
	notifier := &recordingNotifier{}
	providers := platform.NewSQLite(database, notifier)
	alloc := source.NewAllocator(database, uow, bus, nil)
	alloc.Now = now
	registry := source.NewRegistry(database, alloc, providers.Certifications, bus, nil, nil)
	active := flags.NewActivePrograms(flags.NewMemoryStore(), repository.NewSQLiteProgramRepo(database).HasActive, nil)
	locker := lock.NewLocalLocker()

	r := reconcile.New(database, uow, providers, registry, bus, reconcile.Config{Active: active, Now: now})
	deps := Deps{
		DB:       database,
		UoW:      uow,
		Sources:  registry,
		Sync:     r,
		Active:   active,
		Bus:      bus,
		Platform: providers,
		Reset:    coursereset.New(providers.Enrolments, providers.Modules, nil),
		Locker:   locker,
		Now:      now,
	}
	env := &testEnv{
		db:            database,
		repos:         repository.NewRepos(database),
		clock:         &clock,
		active:        active,
		locker:        locker,
		notifier:      notifier,
		programs:      NewProgramService(deps),
		content:       NewContentService(deps),
		allocations:   NewAllocationService(deps),
		completions:   NewCompletionService(deps),
		calendar:      NewCalendarService(deps),
		notifications: NewNotificationService(deps),
		certificates:  NewCertificateService(deps),
	}
	r.SetCalendar(env.calendar)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

func (e *testEnv) createProgram(t *testing.T, opts ...testutil.ProgramOption) *domain.Program {
	t.Helper()
	p := testutil.NewTestProgram("Onboarding", opts...)
	require.NoError(t, e.programs.Create(context.Background(), p))
	return p
}

func (e *testEnv) top(t *testing.T, programID int64) *domain.Item {
	t.Helper()
	top, err := e.repos.Items.GetTop(context.Background(), programID)
	require.NoError(t, err)
	return top
}

func (e *testEnv) appendCourse(t *testing.T, parentID int64) (*domain.Item, int64) {
	t.Helper()
	courseID := testutil.SeedCourse(t, e.db)
	item, err := e.content.AppendCourse(context.Background(), parentID, courseID, ItemOptions{})
	require.NoError(t, err)
	return item, courseID
}

func (e *testEnv) allocate(t *testing.T, programID, userID int64, o source.Overrides) *domain.Allocation {
	t.Helper()
	allocs, err := e.allocations.Allocate(context.Background(), programID, []int64{userID}, o)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	return allocs[0]
}

func (e *testEnv) allocation(t *testing.T, id int64) *domain.Allocation {
	t.Helper()
	a, err := e.repos.Allocations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) enrolled(t *testing.T, courseID, userID int64) bool {
	t.Helper()
	return testutil.CountRows(t, e.db, "user_enrolments",
		"userid = ? AND enrolid IN (SELECT id FROM enrol_instances WHERE courseid = ?)", userID, courseID) > 0
}

func timePtr(t time.Time) *time.Time { return &t }
