package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExec(t *testing.T, db *Database, sql string, params any) {
	t.Helper()

	_, err := db.Execute(context.Background(), sql, params)
	require.NoError(t, err)
}

func TestQuery_Hash(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)
	mustExec(t, db, "insert into t values (?, ?)", []any{1, "x"})

	rows, err := db.Query(context.Background(), "select * from t", nil, QueryOptions{Mode: RowHash})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), row["a"])
	assert.Equal(t, "x", row["b"])
}

func TestQuery_Splat_SingleColumnDegradesToScalar(t *testing.T) {
	db := openMemory(t, nil)

	rows, err := db.Query(context.Background(), "select 1 + 1", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0])
}

func TestQuery_Ary(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)
	mustExec(t, db, "insert into t values (1, 'x')", nil)

	rows, err := db.Query(context.Background(), "select * from t", nil, QueryOptions{Mode: RowAry})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{int64(1), "x"}, rows[0])
}

func TestQuery_Transform_HashMode(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)
	mustExec(t, db, "insert into t values (1, 'x')", nil)

	transform := func(args ...any) (any, error) {
		row := args[0].(map[string]any)
		return row["a"], nil
	}

	rows, err := db.Query(context.Background(), "select * from t", nil, QueryOptions{Mode: RowHash, Transform: transform})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, rows)
}

func TestQuery_Transform_SplatMode_Positional(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)
	mustExec(t, db, "insert into t values (1, 'x')", nil)

	transform := func(args ...any) (any, error) {
		require.Len(t, args, 2)
		return args[0], nil
	}

	rows, err := db.Query(context.Background(), "select * from t", nil, QueryOptions{Mode: RowSplat, Transform: transform})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, rows)
}

func TestQuery_MaxRowsCap(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)

	for i := 0; i < 5; i++ {
		mustExec(t, db, "insert into t values (?)", i)
	}

	rows, err := db.Query(context.Background(), "select a from t order by a", nil, QueryOptions{Mode: RowSplat, MaxRows: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, []any{int64(0), int64(1), int64(2)}, rows)
}

func TestQuerySingle_NoRows(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)

	row, err := db.QuerySingle(context.Background(), "select a from t", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestQuerySingle_OneRow(t *testing.T) {
	db := openMemory(t, nil)

	row, err := db.QuerySingle(context.Background(), "select 42", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Equal(t, int64(42), row)
}

func TestExecute_ReturnsChanges(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)

	changes, err := db.Execute(context.Background(), "insert into t values (1), (2), (3)", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), changes)
}

func TestBatchExecute_SumsChanges(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)

	total, err := db.BatchExecute(context.Background(), "insert into t values (?, ?)",
		ParamsFromList([]any{1, "a"}, []any{2, "b"}, []any{3, "c"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	count, err := db.QuerySingle(context.Background(), "select count(*) from t", nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestBatchQueryCollect(t *testing.T) {
	db := openMemory(t, nil)

	sets, err := db.BatchQueryCollect(context.Background(), "select ? + ?",
		ParamsFromList([]any{1, 2}, []any{10, 20}, []any{100, 200}),
		QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, []any{int64(3)}, sets[0])
	assert.Equal(t, []any{int64(30)}, sets[1])
	assert.Equal(t, []any{int64(300)}, sets[2])
}

func TestBatchQueryEach_ReturnsTotalChanges(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a)", nil)

	var seen int

	total, err := db.BatchQueryEach(context.Background(), "insert into t values (?) returning a",
		ParamsFromList(1, 2, 3), QueryOptions{Mode: RowSplat}, func(rows []any) error {
			seen += len(rows)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, 3, seen)
}

func TestParamsFromFunc_ExhaustsOnNil(t *testing.T) {
	values := []any{"a", "b"}
	i := 0

	source := ParamsFromFunc(func() (any, error) {
		if i >= len(values) {
			return nil, nil
		}

		v := values[i]
		i++

		return v, nil
	})

	var seen []any

	for {
		v, ok, err := source.next()
		require.NoError(t, err)

		if !ok {
			break
		}

		seen = append(seen, v)
	}

	assert.Equal(t, values, seen)
}

func TestColumns_NoRowsConsumed(t *testing.T) {
	db := openMemory(t, nil)
	mustExec(t, db, "create table t(a, b)", nil)

	cols, err := db.Columns(context.Background(), "select a, b from t")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestQuery_MultiStatementScript_RunsLeadingStatements(t *testing.T) {
	db := openMemory(t, nil)

	rows, err := db.Query(context.Background(),
		"create table t(a); insert into t values (1); select * from t",
		nil, QueryOptions{Mode: RowSplat})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, rows)
}
