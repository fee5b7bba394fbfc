package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testResult(hash, method string) Result {
	return Result{
		MethodHash: hash,
		OptionsKey: `{"yield":true}`,
		Method:     method,
		Body:       "return;\n",
		RunID:      "run-1",
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"runs", "results", "run_methods"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(schemaVersion), version)
}

func TestOpen_MigratesOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_run_methods_result")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_run_methods_result'").Scan(&name)
	assert.NoError(t, err, "migration 2 recreates the index")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	opts := map[string]any{"until": "", "yield": true, "version": int64(1)}
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1", Options: opts}))
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1", Options: map[string]any{"other": true}}), "duplicate ids are ignored")

	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, opts, run.Options)
	assert.False(t, run.Finished)

	require.NoError(t, s.FinishRun(ctx, "run-1", 3, 1, 2))
	run, err = s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Run{ID: "run-1", Options: opts, Methods: 3, Failures: 1, Cached: 2, Finished: true}, run)

	assert.ErrorIs(t, s.FinishRun(ctx, "missing", 0, 0, 0), sql.ErrNoRows)
	_, err = s.ReadRun(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListRunsOrdersByID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for _, id := range []string{"0192-b", "0192-a", "0193-a"} {
		require.NoError(t, s.WriteRun(ctx, Run{ID: id}))
	}
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"0192-a", "0192-b", "0193-a"}, ids)
}

func TestResultCache(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1"}))

	_, found, err := s.LookupResult(ctx, "h1", `{"yield":true}`)
	require.NoError(t, err)
	assert.False(t, found)

	r := testResult("h1", "T::M")
	inserted, err := s.WriteResult(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := r
	again.Body = "different"
	inserted, err = s.WriteResult(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted, "the first rendering wins")

	got, found, err := s.LookupResult(ctx, "h1", `{"yield":true}`)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, r, got)
	assert.False(t, got.Failed())

	_, found, err = s.LookupResult(ctx, "h1", `{"yield":false}`)
	require.NoError(t, err)
	assert.False(t, found, "options are part of the key")
}

func TestResultRequiresRun(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteResult(context.Background(), testResult("h1", "T::M"))
	assert.Error(t, err, "foreign key on run_id")
}

func TestListResultsOrdering(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1"}))

	for _, r := range []Result{testResult("h2", "T::b"), testResult("h1", "T::B"), testResult("h0", "T::b")} {
		_, err := s.WriteResult(ctx, r)
		require.NoError(t, err)
	}
	results, err := s.ListResults(ctx)
	require.NoError(t, err)
	var got []string
	for _, r := range results {
		got = append(got, r.Method+"@"+r.MethodHash)
	}
	assert.Equal(t, []string{"T::B@h1", "T::b@h0", "T::b@h2"}, got)
}

func TestRecordMethodAndReplay(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1"}))
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-2"}))

	ok := testResult("h1", "T::A")
	failed := testResult("h2", "T::B")
	failed.Body = "/* decoding failed: STACK_UNDERFLOW: pop */\n"
	failed.ErrorCode = "STACK_UNDERFLOW"
	failed.ErrorMessage = "pop"

	require.NoError(t, s.RecordMethod(ctx, "run-1", 1, ok, false))
	require.NoError(t, s.RecordMethod(ctx, "run-1", 2, failed, false))
	require.NoError(t, s.RecordMethod(ctx, "run-2", 1, ok, true))

	methods, err := s.ReplayRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, RunMethod{Seq: 1, Result: ok}, methods[0])
	assert.Equal(t, int64(2), methods[1].Seq)
	assert.True(t, methods[1].Result.Failed())

	methods, err = s.ReplayRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.True(t, methods[0].FromCache)
	assert.Equal(t, "run-1", methods[0].Result.RunID, "the cached row keeps its producing run")
}

func TestRecordMethodRollsBackOnDuplicateSeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1"}))

	require.NoError(t, s.RecordMethod(ctx, "run-1", 1, testResult("h1", "T::A"), false))
	err := s.RecordMethod(ctx, "run-1", 1, testResult("h2", "T::B"), false)
	require.Error(t, err)

	_, found, err := s.LookupResult(ctx, "h2", `{"yield":true}`)
	require.NoError(t, err)
	assert.False(t, found, "the result insert is rolled back with the failed run entry")
}

func TestRecordMethodFromCacheRequiresResult(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "run-1"}))
	err := s.RecordMethod(ctx, "run-1", 1, testResult("missing", "T::A"), true)
	assert.Error(t, err, "run_methods references an existing result")
}

func TestOptionsKey(t *testing.T) {
	a, err := OptionsKey(map[string]any{"yield": true, "until": "find-loops"})
	require.NoError(t, err)
	b, err := OptionsKey(map[string]any{"until": "find-loops", "yield": true})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"until":"find-loops","yield":true}`, a)

	empty, err := OptionsKey(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)

	back, err := unmarshalOptions(`{"n":7,"list":[1,"x"]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(7), "list": []any{int64(1), "x"}}, back)
}
