package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/sqlite/internal/values"
)

// QueryOptions configures one query invocation's row shape, the transform
// applied to every row, and the cap on rows collected, per spec.md §4.4.
type QueryOptions struct {
	// Mode selects hash, splat, or ary row shape. Zero value is RowHash.
	Mode RowMode

	// MaxRows caps the number of rows collected before iteration stops
	// early; zero means unlimited.
	MaxRows int

	// Transform, if set, is applied to every row before it is collected or
	// yielded.
	Transform Transform
}

// RowFunc is called once per row during a yielding query; returning false
// stops iteration before the statement is exhausted.
type RowFunc func(row any) (cont bool, err error)

// Query runs sql (optionally a multi-statement script, whose leading
// statements are run to completion) and collects up to opts.MaxRows rows
// from the final statement in opts.Mode, per spec.md §4.4's `query` /
// `query_splat` / `query_ary` operations.
func (db *Database) Query(ctx context.Context, sql string, params any, opts QueryOptions) ([]any, error) {
	var rows []any

	err := db.queryEach(ctx, sql, params, opts, func(row any) (bool, error) {
		rows = append(rows, row)

		return opts.MaxRows <= 0 || len(rows) < opts.MaxRows, nil
	})
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// QueryEach runs sql and invokes fn once per row, stopping early if fn
// returns false.
func (db *Database) QueryEach(ctx context.Context, sql string, params any, opts QueryOptions, fn RowFunc) error {
	return db.queryEach(ctx, sql, params, opts, fn)
}

// QuerySingle runs sql and returns only its first row (nil if there is
// none), consuming at most one row from the engine, per spec.md §4.4's
// `query_single` / `query_single_splat` / `query_single_ary` operations.
func (db *Database) QuerySingle(ctx context.Context, sql string, params any, opts QueryOptions) (any, error) {
	var (
		row   any
		found bool
	)

	err := db.queryEach(ctx, sql, params, opts, func(r any) (bool, error) {
		row = r
		found = true

		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	return row, nil
}

func (db *Database) queryEach(ctx context.Context, sql string, params any, opts QueryOptions, fn RowFunc) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if err := db.permit.acquire(ctx); err != nil {
		return errors.WithStack(err)
	}
	defer db.permit.give()

	db.traceSQL(sql)

	stmt, err := prepareMulti(ctx, db.conn, db.permit, sql)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Finalize() }()

	if params != nil {
		if err := values.BindParams(stmt, params); err != nil {
			return err
		}
	}

	return db.stepRows(ctx, stmt, opts, fn)
}

func (db *Database) stepRows(ctx context.Context, stmt engine.Stmt, opts QueryOptions, fn RowFunc) error {
	d := newStepDriver(stmt, db.permit, db.gvlReleaseThreshold())
	d.onProgress = db.onProgress()

	var cols *columnNames

	for {
		outcome, err := d.step(ctx)
		if err != nil {
			return err
		}

		if outcome == StepDone {
			return nil
		}

		if cols == nil {
			cols = newColumnNames(stmt)
		}

		row, err := shapeRow(stmt, opts.Mode, cols, opts.Transform)
		if err != nil {
			return err
		}

		cont, err := fn(row)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}
}

// Execute runs sql to completion, discarding any rows it produces, and
// returns the engine's change count once it completes, per spec.md §4.4's
// `execute`: the rows changed by the most recently completed INSERT, UPDATE
// or DELETE, so after any other kind of statement the count is the one left
// by an earlier statement.
func (db *Database) Execute(ctx context.Context, sql string, params any) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	if err := db.permit.acquire(ctx); err != nil {
		return 0, errors.WithStack(err)
	}
	defer db.permit.give()

	db.traceSQL(sql)

	stmt, err := prepareMulti(ctx, db.conn, db.permit, sql)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Finalize() }()

	if params != nil {
		if err := values.BindParams(stmt, params); err != nil {
			return 0, err
		}
	}

	d := newStepDriver(stmt, db.permit, db.gvlReleaseThreshold())
	d.onProgress = db.onProgress()

	for {
		outcome, err := d.step(ctx)
		if err != nil {
			return 0, err
		}

		if outcome == StepDone {
			changes, err := db.conn.Changes()
			if err != nil {
				return 0, err
			}

			if changes > 0 {
				db.changes.Add(uint64(changes))
			}

			return changes, nil
		}
	}
}

// BatchExecute runs sql once per parameter set drawn from source, summing
// the per-iteration change counts, per spec.md §4.4's `batch_execute` and
// §8 property 4.
func (db *Database) BatchExecute(ctx context.Context, sql string, source ParamSource) (int64, error) {
	var total int64

	for {
		params, ok, err := source.next()
		if err != nil {
			return total, err
		}

		if !ok {
			return total, nil
		}

		changes, err := db.Execute(ctx, sql, params)
		if err != nil {
			return total, err
		}

		total += changes
	}
}

// BatchQueryCollect runs sql once per parameter set drawn from source,
// collecting each iteration's result set, per spec.md §4.4's `batch_query`
// family's array-returning form.
func (db *Database) BatchQueryCollect(ctx context.Context, sql string, source ParamSource, opts QueryOptions) ([][]any, error) {
	var sets [][]any

	for {
		params, ok, err := source.next()
		if err != nil {
			return sets, err
		}

		if !ok {
			return sets, nil
		}

		rows, err := db.Query(ctx, sql, params, opts)
		if err != nil {
			return sets, err
		}

		sets = append(sets, rows)
	}
}

// BatchQueryEach runs sql once per parameter set drawn from source, invoking
// fn with each iteration's result set, and returns the sum of the engine's
// change count (see Execute) read after each iteration, per spec.md §4.4's
// `batch_query` family's yielding form.
func (db *Database) BatchQueryEach(ctx context.Context, sql string, source ParamSource, opts QueryOptions, fn func(rows []any) error) (int64, error) {
	var total int64

	for {
		params, ok, err := source.next()
		if err != nil {
			return total, err
		}

		if !ok {
			return total, nil
		}

		rows, err := db.Query(ctx, sql, params, opts)
		if err != nil {
			return total, err
		}

		if err := fn(rows); err != nil {
			return total, err
		}

		changes, err := db.Changes()
		if err != nil {
			return total, err
		}

		total += changes
	}
}

// Columns reports sql's column names without consuming any rows, per
// spec.md §4.4's `columns` operation.
func (db *Database) Columns(ctx context.Context, sql string) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	if err := db.permit.acquire(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	defer db.permit.give()

	stmt, err := prepareSingle(ctx, db.conn, db.permit, sql)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Finalize() }()

	return columns(stmt), nil
}
