package reconcile_test

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/events"
	"github.com/alexanderramin/programs/internal/flags"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/reconcile"
	"github.com/alexanderramin/programs/internal/repository"
	"github.com/alexanderramin/programs/internal/source"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu     sync.Mutex
	passes []reconcile.PassEvent
}

func (o *recordingObserver) ObservePass(_ context.Context, e reconcile.PassEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, e)
}

func (o *recordingObserver) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.passes))
	for i, p := range o.passes {
		out[i] = p.Name
	}
	return out
}

type testEnv struct {
	db         *sql.DB
	uow        db.UnitOfWork
	repos      *repository.Repos
	registry   *source.Registry
	reconciler *reconcile.Reconciler
	observer   *recordingObserver
}

func newTestEnv(t *testing.T, active *flags.ActivePrograms) *testEnv {
	t.Helper()
	return newTestEnvWith(t, reconcile.Config{Active: active})
}

func newTestEnvWith(t *testing.T, cfg reconcile.Config) *testEnv {
	t.Helper()
	database := testutil.NewTestDB(t)
	uow := testutil.NewTestUoW(database)
	bus := events.NewBus(nil)
	alloc := source.NewAllocator(database, uow, bus, nil)
	alloc.Now = testutil.FixedClock(testNow)
	providers := platform.NewSQLite(database, nil)
	registry := source.NewRegistry(database, alloc, providers.Certifications, bus, nil, nil)
	obs := &recordingObserver{}
	cfg.Observer = obs
	cfg.Now = testutil.FixedClock(testNow)
	r := reconcile.New(database, uow, providers, registry, bus, cfg)
	return &testEnv{db: database, uow: uow, repos: repository.NewRepos(database), registry: registry, reconciler: r, observer: obs}
}

func debugLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func intPtr(n int) *int { return &n }

// program creates a program whose top set needs minPrereq children, plus a
// manual source.
func (e *testEnv) program(t *testing.T, minPrereq int, opts ...testutil.ProgramOption) (*domain.Program, *domain.Item) {
	t.Helper()
	ctx := context.Background()
	p := testutil.NewTestProgram("Program", opts...)
	require.NoError(t, e.repos.Programs.Create(ctx, p))
	top := &domain.Item{
		ProgramID:        p.ID,
		TopItem:          true,
		FullName:         p.FullName,
		Kind:             domain.ItemSet,
		SequenceType:     domain.SequenceAllInAnyOrder,
		MinPrerequisites: intPtr(minPrereq),
		Points:           1,
	}
	require.NoError(t, e.repos.Items.Create(ctx, top))
	_, err := e.registry.UpdateSource(ctx, p.ID, domain.SourceManual, "")
	require.NoError(t, err)
	return p, top
}

func (e *testEnv) child(t *testing.T, parent *domain.Item, item *domain.Item) *domain.Item {
	t.Helper()
	ctx := context.Background()
	item.ProgramID = parent.ProgramID
	item.ParentID = &parent.ID
	if item.FullName == "" {
		item.FullName = string(item.Kind)
	}
	require.NoError(t, e.repos.Items.Create(ctx, item))
	prereqs, err := e.repos.Items.ListPrerequisites(ctx, parent.ID)
	require.NoError(t, err)
	require.NoError(t, e.repos.Items.ReplacePrerequisites(ctx, parent.ID, append(prereqs, item.ID)))
	return item
}

func (e *testEnv) course(t *testing.T, parent *domain.Item) (*domain.Item, int64) {
	t.Helper()
	courseID := testutil.SeedCourse(t, e.db)
	return e.child(t, parent, &domain.Item{Kind: domain.ItemCourse, CourseID: &courseID, Points: 1}), courseID
}

func (e *testEnv) allocate(t *testing.T, p *domain.Program, userID int64, o source.Overrides) *domain.Allocation {
	t.Helper()
	allocs, err := e.registry.Manual().AllocateUsers(context.Background(), p.ID, []int64{userID}, o)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	return allocs[0]
}

func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, e.reconciler.Sync(context.Background(), nil, nil))
}

func (e *testEnv) enrolmentStatus(t *testing.T, courseID, userID int64) int {
	t.Helper()
	var status int
	err := e.db.QueryRow(`
		SELECT ue.status FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid
		WHERE e.courseid = ? AND ue.userid = ?`, courseID, userID).Scan(&status)
	require.NoError(t, err)
	return status
}

func (e *testEnv) evidence(t *testing.T, userID, itemID int64, at time.Time) {
	t.Helper()
	_, err := e.db.Exec(`INSERT INTO evidence (userid, itemid, timecompleted, timecreated) VALUES (?, ?, ?, ?)`,
		userID, itemID, at.Unix(), testNow.Unix())
	require.NoError(t, err)
}

// chain nests depth single-prerequisite sets under parent and returns the
// innermost one.
func (e *testEnv) chain(t *testing.T, parent *domain.Item, depth int) *domain.Item {
	t.Helper()
	for i := 0; i < depth; i++ {
		parent = e.child(t, parent, &domain.Item{Kind: domain.ItemSet, SequenceType: domain.SequenceAtLeast, MinPrerequisites: intPtr(1), Points: 1})
	}
	return parent
}

func (e *testEnv) allocation(t *testing.T, id int64) *domain.Allocation {
	t.Helper()
	a, err := e.repos.Allocations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestSync_CompletesProgramEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 2)
	_, courseA := env.course(t, top)
	_, courseB := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	env.sync(t)
	assert.Equal(t, 2, testutil.CountRows(t, env.db, "enrol_instances", "enrol = 'programs' AND customint1 = ?", p.ID))
	assert.Equal(t, platform.StatusActive, env.enrolmentStatus(t, courseA, u))
	assert.Equal(t, platform.StatusActive, env.enrolmentStatus(t, courseB, u))
	assert.Equal(t, 2, testutil.CountRows(t, env.db, "role_assignments", "roleid = ? AND userid = ?", reconcile.DefaultRoleID, u))
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted)

	testutil.SeedCourseCompletion(t, env.db, u, courseA, testNow.Add(-2*time.Hour))
	env.sync(t)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted)

	testutil.SeedCourseCompletion(t, env.db, u, courseB, testNow.Add(-time.Hour))
	env.sync(t)
	assert.Equal(t, 3, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
	done := env.allocation(t, a.ID)
	require.NotNil(t, done.TimeCompleted)
	assert.True(t, done.TimeCompleted.Equal(testNow))

	env.sync(t)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "events", "name = ? AND allocationid = ?", domain.EventAllocationCompleted, a.ID),
		"completion is announced once")
}

func TestSync_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1, testutil.WithCreateGroups())
	_, courseA := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})
	testutil.SeedCourseCompletion(t, env.db, u, courseA, testNow.Add(-time.Hour))

	env.sync(t)
	env.observer.passes = nil
	env.sync(t)

	for _, pass := range env.observer.passes {
		assert.NoError(t, pass.Err, pass.Name)
		assert.Zero(t, pass.Rows, "second sweep changed rows in %s", pass.Name)
	}
}

func TestSync_PropagatesThroughNestedSets(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	set := env.child(t, top, &domain.Item{Kind: domain.ItemSet, SequenceType: domain.SequenceAtLeast, MinPrerequisites: intPtr(1), Points: 1})
	_, course := env.course(t, set)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	testutil.SeedCourseCompletion(t, env.db, u, course, testNow.Add(-time.Hour))
	env.sync(t)

	assert.Equal(t, 1, testutil.CountRows(t, env.db, "item_completions", "itemid = ? AND allocationid = ?", set.ID, a.ID))
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
}

func TestSync_MinPointsSet(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, top := env.program(t, 0)
	top.MinPrerequisites = nil
	top.MinPoints = intPtr(3)
	top.SequenceType = domain.SequenceMinPoints
	require.NoError(t, env.repos.Items.Update(ctx, top))

	c1 := testutil.SeedCourse(t, env.db)
	c2 := testutil.SeedCourse(t, env.db)
	env.child(t, top, &domain.Item{Kind: domain.ItemCourse, CourseID: &c1, Points: 2})
	env.child(t, top, &domain.Item{Kind: domain.ItemCourse, CourseID: &c2, Points: 1})
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	testutil.SeedCourseCompletion(t, env.db, u, c1, testNow.Add(-time.Hour))
	env.sync(t)
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted, "2 of 3 points")

	testutil.SeedCourseCompletion(t, env.db, u, c2, testNow.Add(-time.Hour))
	env.sync(t)
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
}

func TestSync_CompletionDelayDefersParent(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	courseID := testutil.SeedCourse(t, env.db)
	item := env.child(t, top, &domain.Item{Kind: domain.ItemCourse, CourseID: &courseID, Points: 1, CompletionDelay: 3600})
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	testutil.SeedCourseCompletion(t, env.db, u, courseID, testNow.Add(-time.Minute))
	env.sync(t)

	c, err := env.repos.Completions.GetItemCompletion(context.Background(), item.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, c.TimeCompleted.Equal(testNow.Add(-time.Minute+time.Hour)))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "item_completions", "itemid = ?", top.ID),
		"future completions do not count yet")
}

func TestSync_UnenrolsWithoutAllocation(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	_, courseID := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})
	env.sync(t)
	require.Equal(t, platform.StatusActive, env.enrolmentStatus(t, courseID, u))

	_, err := env.db.Exec(`DELETE FROM allocations WHERE id = ?`, a.ID)
	require.NoError(t, err)
	env.sync(t)

	assert.Equal(t, 0, testutil.CountRows(t, env.db, "user_enrolments", "userid = ?", u))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "role_assignments", "userid = ?", u))
}

func TestSync_SuspendsOutsideWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	_, courseID := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	future := testNow.Add(24 * time.Hour)
	env.allocate(t, p, u, source.Overrides{TimeStart: &future})

	env.sync(t)

	assert.Equal(t, platform.StatusSuspended, env.enrolmentStatus(t, courseID, u))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "role_assignments", "userid = ?", u))
}

func TestSync_ArchivedProgramDisablesInstances(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, top := env.program(t, 1)
	_, courseID := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})
	env.sync(t)

	require.NoError(t, env.repos.Programs.SetArchived(ctx, p.ID, true))
	require.NoError(t, env.reconciler.Sync(ctx, &p.ID, nil))

	assert.Equal(t, 1, testutil.CountRows(t, env.db, "enrol_instances", "customint1 = ? AND status = 1", p.ID))
	assert.Equal(t, platform.StatusSuspended, env.enrolmentStatus(t, courseID, u))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "role_assignments", "userid = ?", u))
}

func TestSync_PreviousItemGatesEnrolment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, top := env.program(t, 2)
	first, courseA := env.course(t, top)
	second, courseB := env.course(t, top)
	second.PrevItemID = &first.ID
	require.NoError(t, env.repos.Items.Update(ctx, second))
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})

	env.sync(t)
	assert.Equal(t, platform.StatusActive, env.enrolmentStatus(t, courseA, u))
	assert.Equal(t, platform.StatusSuspended, env.enrolmentStatus(t, courseB, u))

	testutil.SeedCourseCompletion(t, env.db, u, courseA, testNow.Add(-time.Hour))
	env.sync(t)
	assert.Equal(t, platform.StatusActive, env.enrolmentStatus(t, courseB, u))
}

func TestSync_TrainingCreditsThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	res, err := env.db.Exec(`INSERT INTO training_frameworks (name, requiredtraining) VALUES ('Safety', '1.5')`)
	require.NoError(t, err)
	fw, err := res.LastInsertId()
	require.NoError(t, err)
	env.child(t, top, &domain.Item{Kind: domain.ItemTraining, TrainingID: &fw, Points: 1})
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	credit := func() {
		_, err := env.db.Exec(`INSERT INTO training_completions (frameworkid, userid, credits, timecompleted) VALUES (?, ?, '0.75', ?)`,
			fw, u, testNow.Add(-time.Hour).Unix())
		require.NoError(t, err)
	}

	credit()
	env.sync(t)
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted, "0.75 of 1.5")

	credit()
	env.sync(t)
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
}

func TestSync_ProgramGroups(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, top := env.program(t, 1, testutil.WithCreateGroups())
	env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})

	env.sync(t)
	require.Equal(t, 1, testutil.CountRows(t, env.db, "course_groups", "name = ?", p.FullName))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "group_members", "userid = ? AND component = ?", u, platform.Component))

	p.FullName = "Renamed"
	require.NoError(t, env.repos.Programs.Update(ctx, p))
	env.sync(t)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "course_groups", "name = 'Renamed'"))

	p.CreateGroups = false
	require.NoError(t, env.repos.Programs.Update(ctx, p))
	env.sync(t)
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "course_groups", ""))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "program_groups", ""))
}

func TestSync_RemovedItemDeletesInstance(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	p, top := env.program(t, 1)
	item, _ := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})
	env.sync(t)
	require.Equal(t, 1, testutil.CountRows(t, env.db, "user_enrolments", "userid = ?", u))

	require.NoError(t, env.repos.Items.Delete(ctx, item.ID))
	env.sync(t)

	assert.Equal(t, 0, testutil.CountRows(t, env.db, "enrol_instances", "customint1 = ?", p.ID))
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "user_enrolments", "userid = ?", u))
}

func TestSync_SkipsGlobalSweepWithoutActivePrograms(t *testing.T) {
	active := flags.NewActivePrograms(flags.NewMemoryStore(), func(context.Context) (bool, error) {
		return false, nil
	}, nil)
	env := newTestEnv(t, active)
	p, top := env.program(t, 1)
	env.course(t, top)

	env.sync(t)
	assert.Empty(t, env.observer.names())
	assert.Equal(t, 0, testutil.CountRows(t, env.db, "enrol_instances", ""))

	require.NoError(t, env.reconciler.Sync(context.Background(), &p.ID, nil))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "enrol_instances", ""))
}

func TestSync_ReportsEveryPass(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sync(t)

	names := env.observer.names()
	assert.Contains(t, names, "fix_allocations")
	assert.Contains(t, names, "create_instances")
	assert.Contains(t, names, "propagate_prerequisites")
	assert.Equal(t, "add_group_members", names[len(names)-1])
}

func TestSync_RejectsAmbientTransaction(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	env.allocate(t, p, u, source.Overrides{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var syncErr, accessErr, enrolErr error
	err := env.uow.WithinTx(ctx, func(ctx context.Context, _ db.DBTX) error {
		syncErr = env.reconciler.Sync(ctx, &p.ID, &u)
		accessErr = env.reconciler.FixAccess(ctx, nil, nil)
		enrolErr = env.reconciler.FixUserEnrolments(ctx, nil, &u)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, syncErr, domain.ErrInTransaction)
	assert.ErrorIs(t, accessErr, domain.ErrInTransaction)
	assert.ErrorIs(t, enrolErr, domain.ErrInTransaction)
	assert.Empty(t, env.observer.names(), "no pass runs")

	require.NoError(t, env.reconciler.Sync(ctx, &p.ID, &u))
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "user_enrolments", "userid = ?", u))
}

func TestSync_CopiesEvidenceIntoCompletions(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	item, _ := env.course(t, top)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})
	done := testNow.Add(-time.Hour)
	env.evidence(t, u, item.ID, done)

	env.sync(t)

	c, err := env.repos.Completions.GetItemCompletion(context.Background(), item.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, c.TimeCompleted.Equal(done))
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
}

func TestSync_EvidenceIgnoredOutsideAllocationWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	item, _ := env.course(t, top)

	future := testNow.Add(24 * time.Hour)
	early := testutil.SeedUser(t, env.db)
	pending := env.allocate(t, p, early, source.Overrides{TimeStart: &future})

	start, end := testNow.Add(-48*time.Hour), testNow.Add(-24*time.Hour)
	late := testutil.SeedUser(t, env.db)
	ended := env.allocate(t, p, late, source.Overrides{TimeStart: &start, TimeEnd: &end})

	env.evidence(t, early, item.ID, testNow.Add(-time.Hour))
	env.evidence(t, late, item.ID, testNow.Add(-30*time.Hour))
	env.sync(t)

	for _, a := range []*domain.Allocation{pending, ended} {
		assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
		assert.Nil(t, env.allocation(t, a.ID).TimeCompleted)
	}
}

var settledRounds = regexp.MustCompile(`msg="prerequisite propagation settled" rounds=(\d+)`)

func TestSync_DeepChainCompletesInOneSweep(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnvWith(t, reconcile.Config{Logger: debugLogger(&logs)})
	const depth = 10
	p, top := env.program(t, 1)
	innermost := env.chain(t, top, depth)
	_, course := env.course(t, innermost)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})
	testutil.SeedCourseCompletion(t, env.db, u, course, testNow.Add(-time.Hour))

	env.sync(t)

	assert.Equal(t, depth+2, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID),
		"course item, every nested set and the top set")
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)

	m := settledRounds.FindStringSubmatch(logs.String())
	require.Len(t, m, 2, logs.String())
	rounds, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	assert.Positive(t, rounds)
	assert.LessOrEqual(t, rounds, depth+1, "one round per set level")
	assert.NotContains(t, logs.String(), "did not settle")
}

func TestSync_PropagationStopsAtRoundCap(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnvWith(t, reconcile.Config{Logger: debugLogger(&logs), MaxRounds: 3})
	p, top := env.program(t, 1)
	innermost := env.chain(t, top, 10)
	_, course := env.course(t, innermost)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})
	testutil.SeedCourseCompletion(t, env.db, u, course, testNow.Add(-time.Hour))

	env.sync(t)
	assert.Contains(t, logs.String(), "prerequisite propagation did not settle")
	assert.Equal(t, 4, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID))
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted)

	env.sync(t)
	assert.Equal(t, 7, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID),
		"the next sweep resumes where the cap stopped")
}

func TestSync_CyclicPrerequisitesTerminate(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnvWith(t, reconcile.Config{Logger: debugLogger(&logs)})
	ctx := context.Background()
	p, top := env.program(t, 1)
	setA := env.chain(t, top, 1)
	setB := env.child(t, top, &domain.Item{Kind: domain.ItemSet, SequenceType: domain.SequenceAtLeast, MinPrerequisites: intPtr(1), Points: 1})
	_, course := env.course(t, setA)
	u := testutil.SeedUser(t, env.db)
	a := env.allocate(t, p, u, source.Overrides{})

	env.sync(t)
	require.NoError(t, env.repos.Items.ReplacePrerequisites(ctx, setB.ID, []int64{setA.ID}))
	prereqs, err := env.repos.Items.ListPrerequisites(ctx, setA.ID)
	require.NoError(t, err)
	require.NoError(t, env.repos.Items.ReplacePrerequisites(ctx, setA.ID, append(prereqs, setB.ID)))

	env.sync(t)
	assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "allocationid = ?", a.ID), "a cycle alone completes nothing")

	testutil.SeedCourseCompletion(t, env.db, u, course, testNow.Add(-time.Hour))
	env.sync(t)

	for _, item := range []*domain.Item{setA, setB, top} {
		assert.Equal(t, 1, testutil.CountRows(t, env.db, "item_completions", "itemid = ? AND allocationid = ?", item.ID, a.ID))
	}
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
	assert.NotContains(t, logs.String(), "did not settle")
}

func TestSync_RestrictedTrainingCountsFromAllocationStart(t *testing.T) {
	env := newTestEnv(t, nil)
	p, top := env.program(t, 1)
	res, err := env.db.Exec(`INSERT INTO training_frameworks (name, requiredtraining, restrictedcompletion) VALUES ('Safety', '1.5', 1)`)
	require.NoError(t, err)
	fw, err := res.LastInsertId()
	require.NoError(t, err)
	item := env.child(t, top, &domain.Item{Kind: domain.ItemTraining, TrainingID: &fw, Points: 1})
	u := testutil.SeedUser(t, env.db)
	start := testNow.Add(-24 * time.Hour)
	a := env.allocate(t, p, u, source.Overrides{TimeStart: &start})

	credit := func(at time.Time) {
		_, err := env.db.Exec(`INSERT INTO training_completions (frameworkid, userid, credits, timecompleted) VALUES (?, ?, '1.5', ?)`,
			fw, u, at.Unix())
		require.NoError(t, err)
	}

	credit(start.Add(-time.Hour))
	env.sync(t)
	assert.Zero(t, testutil.CountRows(t, env.db, "item_completions", "itemid = ?", item.ID),
		"credits earned before the allocation started do not count")
	assert.Nil(t, env.allocation(t, a.ID).TimeCompleted)

	credit(testNow.Add(-time.Hour))
	env.sync(t)
	assert.Equal(t, 1, testutil.CountRows(t, env.db, "item_completions", "itemid = ? AND allocationid = ?", item.ID, a.ID))
	assert.NotNil(t, env.allocation(t, a.ID).TimeCompleted)
}
