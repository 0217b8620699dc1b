package sqlite

import (
	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/sqlite/internal/values"
)

// Transform is applied to every row a query emits, per spec.md §4.4's row
// transform. In hash and ary modes the whole shaped row is passed as a
// single argument; in splat mode the column values are passed positionally.
type Transform func(args ...any) (any, error)

// readValues extracts every column of the statement's current row, in
// column order.
func readValues(stmt engine.Stmt) ([]any, error) {
	n := stmt.ColumnCount()
	vals := make([]any, n)

	for i := 0; i < n; i++ {
		v, err := values.Column(stmt, i)
		if err != nil {
			return nil, err
		}

		vals[i] = v
	}

	return vals, nil
}

// shape arranges vals according to mode, using cols for hash-mode keys.
// Splat mode degrades to a bare scalar when there is exactly one column, per
// spec.md §4.4's query_splat description.
func shape(mode RowMode, cols *columnNames, vals []any) any {
	switch mode {
	case RowHash:
		row := make(map[string]any, len(vals))
		for i, v := range vals {
			row[cols.at(i)] = v
		}

		return row
	case RowAry:
		return vals
	case RowSplat:
		if len(vals) == 1 {
			return vals[0]
		}

		return vals
	default:
		return vals
	}
}

// shapeRow reads the statement's current row and applies transform, if any,
// per spec.md §4.4's row-transform semantics.
func shapeRow(stmt engine.Stmt, mode RowMode, cols *columnNames, transform Transform) (any, error) {
	vals, err := readValues(stmt)
	if err != nil {
		return nil, err
	}

	if transform == nil {
		return shape(mode, cols, vals), nil
	}

	if mode == RowSplat {
		return transform(vals...)
	}

	return transform(shape(mode, cols, vals))
}
