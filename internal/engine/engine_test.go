package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/record"
)

func testOptions() Options {
	return Options{
		PageSize:   512,
		SyncWrites: true,
		// large enough that tests control flushing explicitly via Close
		CheckpointBytes: 1 << 30,
	}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gdb")
	e, err := Create(path, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, path
}

func usersColumns() []record.Column {
	return []record.Column{
		{Name: "id", Type: record.ColInteger, PrimaryKey: true},
		{Name: "name", Type: record.ColText},
	}
}

func insertUser(t *testing.T, e *Engine, id int64, name string, extra ...record.Value) uint64 {
	t.Helper()
	values := append([]record.Value{record.Int(id), record.Text(name)}, extra...)
	rid, err := e.InsertRow("users", values)
	require.NoError(t, err)
	return rid
}

func TestEngine_TableLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 10, "alice")
	insertUser(t, e, 20, "bob")
	insertUser(t, e, 30, "carol")

	// widen the table; stored rows are untouched
	require.NoError(t, e.AddColumn("users", record.Column{
		Name: "email", Type: record.ColText, Nullable: true,
	}))

	res, err := e.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	for _, row := range res.Rows {
		require.Len(t, row.Values, 3)
		require.True(t, row.Values[2].IsNull())
	}

	// new rows carry the new column; updates touch only named columns
	insertUser(t, e, 40, "dave", record.Text("dave@example.com"))
	require.NoError(t, e.UpdateRow("users", 2, map[string]record.Value{
		"name": record.Text("bobby"),
	}))
	require.NoError(t, e.DeleteRow("users", 2))

	res, err = e.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, uint64(1), res.Rows[0].ID)
	require.Equal(t, uint64(3), res.Rows[1].ID)
	require.Equal(t, uint64(4), res.Rows[2].ID)
	require.Equal(t, "dave@example.com", res.Rows[2].Values[2].Text)

	n, err := e.RowCount("users")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestEngine_EditorWorkflow(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "a")
	insertUser(t, e, 2, "b")

	require.NoError(t, e.AddColumn("users", record.Column{
		Name: "email", Type: record.ColText, Nullable: true,
	}))

	res, err := e.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "a", res.Rows[0].Values[1].Text)
	require.True(t, res.Rows[0].Values[2].IsNull())
	require.True(t, res.Rows[1].Values[2].IsNull())

	insertUser(t, e, 3, "c", record.Text("c@x.com"))
	require.NoError(t, e.UpdateRow("users", 1, map[string]record.Value{
		"name": record.Text("A"),
	}))
	require.NoError(t, e.DeleteRow("users", 2))

	res, err = e.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, uint64(1), res.Rows[0].ID)
	require.Equal(t, "A", res.Rows[0].Values[1].Text)
	require.Equal(t, uint64(3), res.Rows[1].ID)
	require.Equal(t, "c@x.com", res.Rows[1].Values[2].Text)
}

func TestEngine_PersistsAcrossReopen(t *testing.T) {
	e, path := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "alice")
	insertUser(t, e, 2, "bob")
	require.NoError(t, e.DeleteRow("users", 2))
	require.NoError(t, e.Close())

	e2, err := Open(path, testOptions())
	require.NoError(t, err)
	defer e2.Close()

	names, err := e2.ListTables()
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)
	res, err := e2.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, uint64(1), res.Rows[0].ID)

	// deleted ids stay burned after a restart
	rid, err := e2.InsertRow("users", []record.Value{record.Int(3), record.Text("carol")})
	require.NoError(t, err)
	require.Equal(t, uint64(3), rid)
}

func TestEngine_PagedScanWindows(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	for i := int64(1); i <= 10; i++ {
		insertUser(t, e, i, "user")
	}

	seen := make(map[uint64]bool)
	for offset := 0; offset < 10; offset += 3 {
		res, err := e.PagedScan("users", offset, 3)
		require.NoError(t, err)
		require.Equal(t, 10, res.Total)
		for _, row := range res.Rows {
			require.False(t, seen[row.ID], "row %d appeared in two windows", row.ID)
			seen[row.ID] = true
		}
	}
	require.Len(t, seen, 10)

	// windows past the end are empty, not errors
	res, err := e.PagedScan("users", 100, 3)
	require.NoError(t, err)
	require.Empty(t, res.Rows)
	require.Equal(t, 10, res.Total)

	// a negative offset clamps to the start
	res, err = e.PagedScan("users", -5, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Rows[0].ID)
}

func TestEngine_FailedWriteLeavesNoTrace(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "alice")

	// definition is invalid, so the table (and its first page) must not stick
	err := e.CreateTable("broken", []record.Column{
		{Name: "a", Type: record.ColInteger},
		{Name: "a", Type: record.ColText},
	})
	require.ErrorIs(t, err, ErrDuplicateColumn)
	names, err := e.ListTables()
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)

	// the failed update names a column that does not exist
	err = e.UpdateRow("users", 1, map[string]record.Value{
		"name":    record.Text("changed"),
		"no_such": record.Int(1),
	})
	require.ErrorIs(t, err, ErrUnknownColumn)

	res, err := e.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, "alice", res.Rows[0].Values[1].Text)

	// the name freed by the rollback is usable again
	require.NoError(t, e.CreateTable("broken", usersColumns()))
}

func TestEngine_CrashRecoveryReplaysCommittedPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.gdb")
	e, err := Create(path, testOptions())
	require.NoError(t, err)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "alice")
	insertUser(t, e, 2, "bob")
	insertUser(t, e, 3, "carol")

	info, err := os.Stat(walPath(path))
	require.NoError(t, err)
	durable := info.Size()

	insertUser(t, e, 4, "dave")
	insertUser(t, e, 5, "erin")

	// crash: no Close, so nothing was ever flushed to the data file, then
	// the log loses its tail
	require.NoError(t, os.Truncate(walPath(path), durable+7))

	e2, err := Open(path, testOptions())
	require.NoError(t, err)
	defer e2.Close()

	res, err := e2.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, uint64(3), res.Rows[2].ID)
	require.Equal(t, "carol", res.Rows[2].Values[1].Text)

	// ids lost with the tail are handed out again, still monotonic
	rid, err := e2.InsertRow("users", []record.Value{record.Int(4), record.Text("dave")})
	require.NoError(t, err)
	require.Equal(t, uint64(4), rid)
}

func TestEngine_RecoveryIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.gdb")
	e, err := Create(path, testOptions())
	require.NoError(t, err)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "alice")
	// crash without Close: the state lives only in the WAL

	for i := 0; i < 3; i++ {
		e2, err := Open(path, testOptions())
		require.NoError(t, err)
		res, err := e2.PagedScan("users", 0, 0)
		require.NoError(t, err)
		require.Equal(t, 1, res.Total)
		require.Equal(t, "alice", res.Rows[0].Values[1].Text)
		require.NoError(t, e2.Close())
	}
}

func TestEngine_AutoCheckpointFlushesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.gdb")
	opts := testOptions()
	opts.CheckpointBytes = 1 // every commit checkpoints

	e, err := Create(path, opts)
	require.NoError(t, err)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	insertUser(t, e, 1, "alice")

	// crash without Close: the data file alone must carry the state
	e2, err := Open(path, testOptions())
	require.NoError(t, err)
	defer e2.Close()

	res, err := e2.PagedScan("users", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
}

func TestEngine_RowTooLarge(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	big := make([]byte, 4096)
	_, err := e.InsertRow("users", []record.Value{record.Int(1), record.Text(string(big))})
	require.ErrorIs(t, err, ErrRowTooLarge)

	n, err := e.RowCount("users")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngine_Meta(t *testing.T) {
	e, path := newTestEngine(t)

	version, ok, err := e.GetMeta("version")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, formatVersion, version)

	created, ok, err := e.GetMeta("created_at")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, created)

	_, ok, err = e.GetMeta("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.SetMeta("owner", "ops"))
	require.NoError(t, e.SetMeta("owner", "data-team"))
	require.NoError(t, e.Close())

	e2, err := Open(path, testOptions())
	require.NoError(t, err)
	defer e2.Close()

	owner, ok, err := e2.GetMeta("owner")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "data-team", owner)

	// reserved tables stay hidden
	names, err := e2.ListTables()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestEngine_Describe(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	cols, err := e.Describe("users")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.True(t, cols[0].PrimaryKey)

	// mutating the copy must not leak into the live definition
	cols[0].Name = "hacked"
	cols2, err := e.Describe("users")
	require.NoError(t, err)
	require.Equal(t, "id", cols2[0].Name)

	_, err = e.Describe("nope")
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestCreate_RejectsExistingFile(t *testing.T) {
	_, path := newTestEngine(t)
	_, err := Create(path, testOptions())
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestOpen_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign")
	require.NoError(t, os.WriteFile(path, []byte("csv,not,a,database\n"), 0o644))

	_, err := Open(path, testOptions())
	require.ErrorIs(t, err, ErrNotADatabase)
}

func TestClose_IsTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Close(), ErrClosed)

	err := e.CreateTable("users", usersColumns())
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.PagedScan("users", 0, 0)
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.ListTables()
	require.ErrorIs(t, err, ErrClosed)
}

func TestCreateTable_ReservedNamespace(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.CreateTable("_private", usersColumns())
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	names, err := e.ListTables()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestInsertRow_NullInRequiredColumn(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.CreateTable("users", usersColumns()))
	_, err := e.InsertRow("users", []record.Value{record.Int(1), record.Null()})
	require.ErrorIs(t, err, record.ErrSchemaMismatch)

	n, err := e.RowCount("users")
	require.NoError(t, err)
	require.Zero(t, n)
}
