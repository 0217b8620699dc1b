package sqlite

import "github.com/go-extralite/extralite/sqlite/engine"

// columnNamesInline is the largest column count for which a statement's column
// names are kept in an inline array rather than a heap-allocated slice, per
// spec.md §4.4's column-name memoization.
const columnNamesInline = 12

// columnNames memoizes a statement's column names for the lifetime of one
// query invocation.
type columnNames struct {
	inline [columnNamesInline]string
	heap   []string
	n      int
}

func newColumnNames(stmt engine.Stmt) *columnNames {
	n := stmt.ColumnCount()
	cn := &columnNames{n: n}

	if n > columnNamesInline {
		cn.heap = make([]string, n)
	}

	for i := 0; i < n; i++ {
		cn.set(i, stmt.ColumnName(i))
	}

	return cn
}

func (cn *columnNames) set(i int, name string) {
	if cn.heap != nil {
		cn.heap[i] = name
		return
	}

	cn.inline[i] = name
}

func (cn *columnNames) at(i int) string {
	if cn.heap != nil {
		return cn.heap[i]
	}

	return cn.inline[i]
}

// list returns the column names, in order.
func (cn *columnNames) list() []string {
	if cn.heap != nil {
		return cn.heap
	}

	return cn.inline[:cn.n]
}

// columns reports the column names of a compiled but not-yet-stepped
// statement, per spec.md §4.4's `columns` operation.
func columns(stmt engine.Stmt) []string {
	return newColumnNames(stmt).list()
}
