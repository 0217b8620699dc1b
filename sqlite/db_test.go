package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, mutate func(*Options)) *Database {
	t.Helper()

	opts := Options{Path: ":memory:", BusyTimeout: time.Second}
	if mutate != nil {
		mutate(&opts)
	}

	db, err := Open(context.Background(), opts, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestOpen_Memory(t *testing.T) {
	db := openMemory(t, nil)

	assert.False(t, db.Closed())
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{}, nil, nil)
	require.Error(t, err)
}

func TestOpen_Pragma(t *testing.T) {
	db := openMemory(t, func(o *Options) {
		o.Pragma = map[string]any{"case_sensitive_like": "ON"}
	})

	changes, err := db.TotalChanges()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, changes, int64(0))
}

func TestOpen_WAL(t *testing.T) {
	db := openMemory(t, func(o *Options) { o.WAL = true })

	assert.False(t, db.Closed())
}

func TestClose_Idempotent(t *testing.T) {
	db := openMemory(t, nil)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, db.Closed())
}

func TestCheckOpen_AfterClose(t *testing.T) {
	db := openMemory(t, nil)
	require.NoError(t, db.Close())

	_, err := db.LastInsertRowID()
	require.Error(t, err)

	var closedErr *ClosedError
	assert.ErrorAs(t, err, &closedErr)
}

func TestSetProgressHandler_ForcesThresholdOff(t *testing.T) {
	db := openMemory(t, func(o *Options) { o.GvlReleaseThreshold = 1000 })

	assert.Equal(t, 1000, db.gvlReleaseThreshold())

	db.SetProgressHandler(ProgressNormal, 10, 1, func(busy bool) bool { return true })

	assert.Equal(t, -1, db.gvlReleaseThreshold())
}

func TestLoadExtension_DisabledByDefault(t *testing.T) {
	db := openMemory(t, nil)

	err := db.LoadExtension("whatever", "sqlite3_extension_init")
	require.Error(t, err)
}

func TestInTransaction(t *testing.T) {
	db := openMemory(t, nil)

	inTx, err := db.InTransaction()
	require.NoError(t, err)
	assert.False(t, inTx)
}

func TestOpen_WithProgressHandlerRegistry(t *testing.T) {
	registry := NewProgressHandlerRegistry(ProgressNormal, 10, 1, func(bool) bool { return true })

	opts := Options{Path: ":memory:", GvlReleaseThreshold: 1000}
	db, err := Open(context.Background(), opts, nil, registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, -1, db.gvlReleaseThreshold())
}

func TestStatus_StubbedZero(t *testing.T) {
	db := openMemory(t, nil)

	current, highwater, err := db.Status(StatusCacheUsed, false)
	require.NoError(t, err)
	assert.Zero(t, current)
	assert.Zero(t, highwater)
}

func TestLimit_StubbedSentinel(t *testing.T) {
	db := openMemory(t, nil)

	v, err := db.Limit(0, -1)
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestInterrupt_AbortsRunningStatementOnly(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)
	mustExec(t, db, "insert into t values (1), (2), (3)", nil)

	var seen int

	err := db.QueryEach(context.Background(), "select a from t order by a", nil, QueryOptions{Mode: RowSplat}, func(any) (bool, error) {
		seen++
		db.Interrupt()
		return true, nil
	})

	var interruptErr *InterruptError
	assert.ErrorAs(t, err, &interruptErr)
	assert.Equal(t, 1, seen)

	rows, err := db.Query(context.Background(), "select a from t order by a", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, rows)
}

func TestInterrupt_BeforeAnyStatementIsANoOp(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)
	mustExec(t, db, "insert into t values (1)", nil)

	db.Interrupt()

	rows, err := db.Query(context.Background(), "select a from t", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, rows)
}
