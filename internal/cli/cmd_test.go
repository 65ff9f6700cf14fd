package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/programs/internal/app"
	"github.com/alexanderramin/programs/internal/config"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/service"
	"github.com/alexanderramin/programs/internal/testutil"
)

// testApp wires an App on an in-memory database.
func testApp(t *testing.T) *App {
	t.Helper()
	e, err := app.New(testutil.NewTestDB(t), config.DefaultConfig(), app.WithLogOutput(io.Discard))
	require.NoError(t, err)
	return &App{
		Engine:  e,
		Confirm: func(string) (bool, error) { return true, nil },
	}
}

// executeCmd runs a cobra command and captures stdout/stderr.
func executeCmd(t *testing.T, a *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(a)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func createProgram(t *testing.T, a *App, idnumber string) *domain.Program {
	t.Helper()
	_, err := executeCmd(t, a, "program", "create", "--name", "Program "+idnumber, "--idnumber", idnumber)
	require.NoError(t, err)
	p, err := a.Engine.Programs.GetByIDNumber(context.Background(), idnumber)
	require.NoError(t, err)
	return p
}

func topItem(t *testing.T, a *App, programID int64) int64 {
	t.Helper()
	tree, err := a.Engine.Content.Tree(context.Background(), programID)
	require.NoError(t, err)
	return tree.Item.ID
}

func TestRootCmd_NoArgs_ShowsHelp(t *testing.T) {
	a := testApp(t)

	output, err := executeCmd(t, a)
	require.NoError(t, err)
	assert.Contains(t, output, "programs")
	assert.Contains(t, output, "allocation")
}

func TestProgramCmd_CreateListShow(t *testing.T) {
	a := testApp(t)
	p := createProgram(t, a, "SAFE01")

	out, err := executeCmd(t, a, "program", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SAFE01")
	assert.Contains(t, out, "Program SAFE01")

	out, err = executeCmd(t, a, "program", "show", "SAFE01")
	require.NoError(t, err)
	assert.Contains(t, out, "Program SAFE01")

	out, err = executeCmd(t, a, "program", "show", fmt.Sprint(p.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "SAFE01")
}

func TestProgramCmd_CreateRequiresName(t *testing.T) {
	a := testApp(t)

	_, err := executeCmd(t, a, "program", "create", "--idnumber", "X1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestProgramCmd_UnknownProgram(t *testing.T) {
	a := testApp(t)

	_, err := executeCmd(t, a, "program", "show", "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgramCmd_ArchiveRestoreDelete(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	p := createProgram(t, a, "ARC01")

	_, err := executeCmd(t, a, "program", "archive", "ARC01")
	require.NoError(t, err)
	got, err := a.Engine.Programs.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	out, err := executeCmd(t, a, "program", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "ARC01")

	_, err = executeCmd(t, a, "program", "restore", "ARC01")
	require.NoError(t, err)

	a.Confirm = func(string) (bool, error) { return false, nil }
	out, err = executeCmd(t, a, "program", "delete", "ARC01")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")

	_, err = executeCmd(t, a, "program", "delete", "ARC01", "--yes")
	require.NoError(t, err)
	_, err = a.Engine.Programs.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgramCmd_Notify(t *testing.T) {
	a := testApp(t)
	createProgram(t, a, "N01")

	out, err := executeCmd(t, a, "program", "notify", "N01", "allocation")
	require.NoError(t, err)
	assert.Contains(t, out, "enabled")

	_, err = executeCmd(t, a, "program", "notify", "N01", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification type")
}

func TestItemCmd_AppendAndTree(t *testing.T) {
	a := testApp(t)
	p := createProgram(t, a, "TREE01")
	top := topItem(t, a, p.ID)
	course := testutil.SeedCourse(t, a.Engine.DB)

	out, err := executeCmd(t, a, "item", "append-set", fmt.Sprint(top), "--name", "Basics", "--sequence", "allinorder")
	require.NoError(t, err)
	assert.Contains(t, out, "Appended set Basics")

	_, err = executeCmd(t, a, "item", "append-course", fmt.Sprint(top), fmt.Sprint(course), "--name", "Intro", "--points", "3")
	require.NoError(t, err)

	out, err = executeCmd(t, a, "item", "tree", "TREE01")
	require.NoError(t, err)
	assert.Contains(t, out, "Basics")
	assert.Contains(t, out, "Intro")
	assert.Contains(t, out, "all in order")
	assert.Contains(t, out, "3pt")
}

func TestItemCmd_InvalidParent(t *testing.T) {
	a := testApp(t)

	_, err := executeCmd(t, a, "item", "append-set", "abc", "--name", "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestAllocationCmd_AddListRemove(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	p := createProgram(t, a, "ALL01")
	u1 := testutil.SeedUser(t, a.Engine.DB)
	u2 := testutil.SeedUser(t, a.Engine.DB)

	out, err := executeCmd(t, a, "allocation", "add", "ALL01", fmt.Sprint(u1), fmt.Sprint(u2))
	require.NoError(t, err)
	assert.Contains(t, out, "Allocated 2 users")

	allocs, err := a.Engine.Allocations.ListByProgram(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	out, err = executeCmd(t, a, "allocation", "list", "ALL01")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprint(u1))
	assert.Contains(t, out, "OPEN")

	a.Confirm = func(string) (bool, error) { return false, nil }
	out, err = executeCmd(t, a, "allocation", "remove", fmt.Sprint(allocs[0].ID))
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")

	_, err = executeCmd(t, a, "allocation", "remove", fmt.Sprint(allocs[0].ID), "-y")
	require.NoError(t, err)
	left, err := a.Engine.Allocations.ListByProgram(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestAllocationCmd_ConfirmNonInteractive(t *testing.T) {
	a := testApp(t)
	a.Confirm = nil
	a.IsInteractive = func() bool { return false }

	_, err := executeCmd(t, a, "allocation", "remove", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestAllocationCmd_ResetUnknownType(t *testing.T) {
	a := testApp(t)

	_, err := executeCmd(t, a, "allocation", "reset", "1", "--type", "partial", "-y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reset type")
}

func TestAllocationCmd_ArchiveAndDates(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	p := createProgram(t, a, "DAT01")
	u := testutil.SeedUser(t, a.Engine.DB)
	_, err := executeCmd(t, a, "allocation", "add", "DAT01", fmt.Sprint(u))
	require.NoError(t, err)
	allocs, err := a.Engine.Allocations.ListByProgram(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	id := fmt.Sprint(allocs[0].ID)

	_, err = executeCmd(t, a, "allocation", "dates", id, "--due", "2099-01-01")
	require.NoError(t, err)
	got, err := a.Engine.Allocations.Get(ctx, allocs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.TimeDue)
	assert.Equal(t, 2099, got.TimeDue.Year())

	_, err = executeCmd(t, a, "allocation", "dates", id, "--due", "tomorrow")
	require.Error(t, err)

	_, err = executeCmd(t, a, "allocation", "archive", id)
	require.NoError(t, err)
	got, err = a.Engine.Allocations.Get(ctx, allocs[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	_, err = executeCmd(t, a, "allocation", "restore", id)
	require.NoError(t, err)
}

func TestCompletionCmd_SetAndClear(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	p := createProgram(t, a, "CMP01")
	course := testutil.SeedCourse(t, a.Engine.DB)
	item, err := a.Engine.Content.AppendCourse(ctx, topItem(t, a, p.ID), course, service.ItemOptions{})
	require.NoError(t, err)
	u := testutil.SeedUser(t, a.Engine.DB)
	_, err = executeCmd(t, a, "allocation", "add", "CMP01", fmt.Sprint(u))
	require.NoError(t, err)
	allocs, err := a.Engine.Allocations.ListByProgram(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	_, err = executeCmd(t, a, "completion", "set", fmt.Sprint(allocs[0].ID), fmt.Sprint(item.ID), "--date", "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CountRows(t, a.Engine.DB, "item_completions", "itemid = ?", item.ID))

	out, err := executeCmd(t, a, "item", "tree", "CMP01", "--allocation", fmt.Sprint(allocs[0].ID))
	require.NoError(t, err)
	assert.Contains(t, out, "✔")

	_, err = executeCmd(t, a, "completion", "set", fmt.Sprint(allocs[0].ID), fmt.Sprint(item.ID), "--clear")
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.CountRows(t, a.Engine.DB, "item_completions", "itemid = ?", item.ID))

	_, err = executeCmd(t, a, "completion", "set", "1", "1", "--clear", "--date", "2025-03-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestCohortCmd_AddMemberAllocates(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	p := createProgram(t, a, "COH01")
	u := testutil.SeedUser(t, a.Engine.DB)
	cohort := testutil.SeedCohort(t, a.Engine.DB)

	_, err := executeCmd(t, a, "program", "source", "COH01", "cohort", "--cohort", fmt.Sprint(cohort))
	require.NoError(t, err)

	_, err = executeCmd(t, a, "cohort", "add", fmt.Sprint(cohort), fmt.Sprint(u))
	require.NoError(t, err)
	allocs, err := a.Engine.Allocations.ListByUser(ctx, u)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, p.ID, allocs[0].ProgramID)

	_, err = executeCmd(t, a, "cohort", "add", "999999", fmt.Sprint(u))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgramCmd_SourceCohortFlagOnWrongType(t *testing.T) {
	a := testApp(t)
	createProgram(t, a, "SRC01")

	_, err := executeCmd(t, a, "program", "source", "SRC01", "manual", "--cohort", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cohort")
}

func TestImportCmd_DryRunAndImport(t *testing.T) {
	a := testApp(t)
	course := testutil.SeedCourse(t, a.Engine.DB)
	path := filepath.Join(t.TempDir(), "programs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
programs:
  - idnumber: IMP01
    fullname: Imported
    content:
      - course: %d
`, course)), 0o644))

	out, err := executeCmd(t, a, "import", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 programs are valid")
	_, err = a.Engine.Programs.GetByIDNumber(context.Background(), "IMP01")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = executeCmd(t, a, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported")
	_, err = a.Engine.Programs.GetByIDNumber(context.Background(), "IMP01")
	require.NoError(t, err)
}

func TestImportCmd_DryRunReportsErrors(t *testing.T) {
	a := testApp(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
programs:
  - idnumber: BAD
    fullname: Bad
    sequence: sometimes
`), 0o644))

	_, err := executeCmd(t, a, "import", path, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
}

func TestStatusCmd(t *testing.T) {
	a := testApp(t)
	createProgram(t, a, "ST01")
	u := testutil.SeedUser(t, a.Engine.DB)
	_, err := executeCmd(t, a, "allocation", "add", "ST01", fmt.Sprint(u))
	require.NoError(t, err)

	out, err := executeCmd(t, a, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PROGRAMS STATUS")
	assert.Contains(t, out, "ST01")

	_, err = executeCmd(t, a, "status", "--program", "MISSING")
	require.Error(t, err)
}

func TestSyncAndCronCmd(t *testing.T) {
	a := testApp(t)
	createProgram(t, a, "SY01")

	out, err := executeCmd(t, a, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced")

	out, err = executeCmd(t, a, "sync", "--program", "SY01", "--access-only")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced")

	_, err = executeCmd(t, a, "sync", "--user", "x")
	require.Error(t, err)

	out, err = executeCmd(t, a, "cron", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "Cron done")
}

func TestRootCmd_OpensEngineFromConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "programs.db")
	a := &App{}

	out, err := executeCmd(t, a, "--db", dbPath, "--log-level", "error", "program", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No programs found")
	assert.Nil(t, a.Engine, "engine closed after the command")
	assert.FileExists(t, dbPath)
}
