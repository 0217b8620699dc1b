package values

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/types"
)

// fakeStmt is a minimal engine.Stmt test double that records bound values by
// position instead of talking to a real engine.
type fakeStmt struct {
	binds      map[int]any
	paramNames map[string]int
}

func newFakeStmt(paramNames map[string]int) *fakeStmt {
	return &fakeStmt{binds: make(map[int]any), paramNames: paramNames}
}

func (s *fakeStmt) SQL() string { return "" }
func (s *fakeStmt) Tail() string { return "" }

func (s *fakeStmt) BindNull(pos int) error         { s.binds[pos] = nil; return nil }
func (s *fakeStmt) BindInt64(pos int, v int64) error { s.binds[pos] = v; return nil }
func (s *fakeStmt) BindFloat64(pos int, v float64) error { s.binds[pos] = v; return nil }
func (s *fakeStmt) BindText(pos int, v string) error { s.binds[pos] = v; return nil }
func (s *fakeStmt) BindBlob(pos int, v []byte) error { s.binds[pos] = v; return nil }
func (s *fakeStmt) BindParameterCount() int          { return len(s.binds) }

func (s *fakeStmt) BindParameterIndex(name string) int {
	return s.paramNames[name]
}

func (s *fakeStmt) Step(context.Context) (engine.StepResult, error) { return engine.StepDone, nil }
func (s *fakeStmt) Reset() error                                    { return nil }
func (s *fakeStmt) ClearBindings() error                            { s.binds = make(map[int]any); return nil }
func (s *fakeStmt) Finalize() error                                 { return nil }

func (s *fakeStmt) ColumnCount() int              { return 0 }
func (s *fakeStmt) ColumnName(int) string         { return "" }
func (s *fakeStmt) ColumnType(int) engine.ColumnType { return engine.ColumnTypeNull }
func (s *fakeStmt) ColumnInt64(int) int64         { return 0 }
func (s *fakeStmt) ColumnFloat64(int) float64     { return 0 }
func (s *fakeStmt) ColumnText(int) string         { return "" }
func (s *fakeStmt) ColumnBlob(int) []byte         { return nil }

func TestBindPositional_Scalars(t *testing.T) {
	stmt := newFakeStmt(nil)

	next, err := BindPositional(stmt, 1, int64(42))
	require.NoError(t, err)
	require.Equal(t, 2, next)
	require.Equal(t, int64(42), stmt.binds[1])

	next, err = BindPositional(stmt, next, "hello")
	require.NoError(t, err)
	require.Equal(t, 3, next)
	require.Equal(t, "hello", stmt.binds[2])

	next, err = BindPositional(stmt, next, nil)
	require.NoError(t, err)
	require.Equal(t, 4, next)
	require.Nil(t, stmt.binds[3])

	next, err = BindPositional(stmt, next, true)
	require.NoError(t, err)
	require.Equal(t, 5, next)
	require.Equal(t, int64(1), stmt.binds[4])

	next, err = BindPositional(stmt, next, false)
	require.NoError(t, err)
	require.Equal(t, 6, next)
	require.Equal(t, int64(0), stmt.binds[5])

	next, err = BindPositional(stmt, next, 3.5)
	require.NoError(t, err)
	require.Equal(t, 7, next)
	require.Equal(t, 3.5, stmt.binds[6])

	_, err = BindPositional(stmt, next, []byte("blob"))
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), stmt.binds[7])
}

func TestBindPositional_SplatsSequences(t *testing.T) {
	stmt := newFakeStmt(nil)

	next, err := BindPositional(stmt, 1, []any{int64(1), "two", int64(3)})
	require.NoError(t, err)
	require.Equal(t, 4, next)
	require.Equal(t, int64(1), stmt.binds[1])
	require.Equal(t, "two", stmt.binds[2])
	require.Equal(t, int64(3), stmt.binds[3])
}

func TestBindPositional_NestedSequence(t *testing.T) {
	stmt := newFakeStmt(nil)

	_, err := BindPositional(stmt, 1, []any{[]any{int64(1), int64(2)}, "x"})
	require.NoError(t, err)
	require.Equal(t, int64(1), stmt.binds[1])
	require.Equal(t, int64(2), stmt.binds[2])
	require.Equal(t, "x", stmt.binds[3])
}

func TestBindPositional_BlobMarker(t *testing.T) {
	stmt := newFakeStmt(nil)

	_, err := BindPositional(stmt, 1, Blob("raw bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("raw bytes"), stmt.binds[1])
}

func TestBindPositional_TypesBinary(t *testing.T) {
	stmt := newFakeStmt(nil)

	_, err := BindPositional(stmt, 1, types.Binary("raw"))
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), stmt.binds[1])
}

func TestBindPositional_DriverValuer(t *testing.T) {
	stmt := newFakeStmt(nil)

	_, err := BindPositional(stmt, 1, types.MakeInt(7))
	require.NoError(t, err)
	require.Equal(t, int64(7), stmt.binds[1])

	_, err = BindPositional(stmt, 2, types.Int{})
	require.NoError(t, err)
	require.Nil(t, stmt.binds[2])
}

func TestBindPositional_Time(t *testing.T) {
	stmt := newFakeStmt(nil)

	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	_, err := BindPositional(stmt, 1, ts)
	require.NoError(t, err)
	require.Equal(t, ts.Format(time.RFC3339Nano), stmt.binds[1])
}

func TestBindPositional_UnsupportedType(t *testing.T) {
	stmt := newFakeStmt(nil)

	_, err := BindPositional(stmt, 1, struct{ X int }{X: 1})
	require.Error(t, err)

	var paramErr *ParameterError
	require.ErrorAs(t, err, &paramErr)
	require.Equal(t, 1, paramErr.Position)
}

func TestBindNamed(t *testing.T) {
	stmt := newFakeStmt(map[string]int{":name": 1, ":age": 2})

	require.NoError(t, BindNamed(stmt, "name", "Alice"))
	require.NoError(t, BindNamed(stmt, ":age", int64(30)))

	require.Equal(t, "Alice", stmt.binds[1])
	require.Equal(t, int64(30), stmt.binds[2])
}

func TestBindNamed_UnknownKey(t *testing.T) {
	stmt := newFakeStmt(map[string]int{":name": 1})

	err := BindNamed(stmt, "nope", "x")
	require.Error(t, err)

	var paramErr *ParameterError
	require.ErrorAs(t, err, &paramErr)
	require.Equal(t, "nope", paramErr.Key)
}

func TestBindParams_Map(t *testing.T) {
	stmt := newFakeStmt(map[string]int{":a": 1, ":b": 2})

	err := BindParams(stmt, map[string]any{"a": int64(1), "b": "two"})
	require.NoError(t, err)

	require.Equal(t, int64(1), stmt.binds[1])
	require.Equal(t, "two", stmt.binds[2])
}

func TestBindParams_Struct(t *testing.T) {
	stmt := newFakeStmt(map[string]int{":name": 1, ":age": 2})

	type person struct {
		Name string `db:"name"`
		Age  int64  `db:"age"`
	}

	err := BindParams(stmt, person{Name: "Bob", Age: 42})
	require.NoError(t, err)

	require.Equal(t, "Bob", stmt.binds[1])
	require.Equal(t, int64(42), stmt.binds[2])
}

func TestBindParams_Scalar(t *testing.T) {
	stmt := newFakeStmt(nil)

	require.NoError(t, BindParams(stmt, int64(99)))
	require.Equal(t, int64(99), stmt.binds[1])
}

func TestBindParams_Nil(t *testing.T) {
	stmt := newFakeStmt(nil)

	require.NoError(t, BindParams(stmt, nil))
	require.Empty(t, stmt.binds)
}

func TestColumn(t *testing.T) {
	stmt := &columnStub{colType: engine.ColumnTypeInt64, i: 123}

	v, err := Column(stmt, 0)
	require.NoError(t, err)
	require.Equal(t, int64(123), v)
}

// columnStub wraps fakeStmt to control ColumnType/Column* for Column tests.
type columnStub struct {
	fakeStmt
	colType engine.ColumnType
	i       int64
	f       float64
	text    string
	blob    []byte
}

func (s *columnStub) ColumnType(int) engine.ColumnType { return s.colType }
func (s *columnStub) ColumnInt64(int) int64            { return s.i }
func (s *columnStub) ColumnFloat64(int) float64        { return s.f }
func (s *columnStub) ColumnText(int) string            { return s.text }
func (s *columnStub) ColumnBlob(int) []byte            { return s.blob }
