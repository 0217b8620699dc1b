package sqlite

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/sqlite/internal/values"
)

// PreparedQuery is a compiled statement reused across many invocations,
// per spec.md §4.5. Its row mode is fixed at creation; its compiled
// statement is created lazily on first use, and after Close every
// operation raises ClosedError instead of compiling it again.
type PreparedQuery struct {
	db        *Database
	sql       string
	mode      RowMode
	transform Transform

	mu   sync.Mutex
	stmt engine.Stmt
	// cols is set at compile time and refreshed on every Bind, rather than
	// memoized once, so Columns/shapeRow never serve stale column names
	// once a fresh statement is compiled.
	cols   *columnNames
	eof    bool
	closed bool
}

// Prepare compiles sql (exactly one statement) for repeated use in the
// given row mode, per spec.md §4.4's `prepare` / `prepare_ary` /
// `prepare_splat` operations. Compilation itself is deferred to first use.
func (db *Database) Prepare(sql string, mode RowMode) (*PreparedQuery, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	return &PreparedQuery{db: db, sql: sql, mode: mode}, nil
}

// SetTransform installs the row transform applied to every row this query
// produces, and returns the query for chaining.
func (q *PreparedQuery) SetTransform(t Transform) *PreparedQuery {
	q.transform = t
	return q
}

func (q *PreparedQuery) checkOpen() error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return &ClosedError{What: "prepared query"}
	}

	return q.db.checkOpen()
}

func (q *PreparedQuery) ensureCompiled(ctx context.Context) error {
	if err := q.db.permit.acquire(ctx); err != nil {
		return errors.WithStack(err)
	}
	defer q.db.permit.give()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stmt != nil {
		return nil
	}

	stmt, err := prepareSingle(ctx, q.db.conn, q.db.permit, q.sql)
	if err != nil {
		return err
	}

	q.stmt = stmt
	q.cols = newColumnNames(stmt)
	q.eof = false

	return nil
}

// Reset rewinds the query so the next Next call starts at row 0, per
// spec.md §4.5's `reset`.
func (q *PreparedQuery) Reset(ctx context.Context) error {
	if err := q.checkOpen(); err != nil {
		return err
	}

	if err := q.ensureCompiled(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.stmt.Reset(); err != nil {
		return errors.Wrap(err, "can't reset prepared statement")
	}

	q.eof = false

	return nil
}

// Bind resets the query, clears any previous bindings, and binds params,
// per spec.md §4.5's `bind`.
func (q *PreparedQuery) Bind(ctx context.Context, params any) error {
	if err := q.Reset(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	stmt := q.stmt
	q.cols = newColumnNames(stmt)
	q.mu.Unlock()

	if err := stmt.ClearBindings(); err != nil {
		return errors.Wrap(err, "can't clear prepared statement bindings")
	}

	if params == nil {
		return nil
	}

	return values.BindParams(stmt, params)
}

// nextOne advances by one row, reporting eof=true once the statement is
// exhausted rather than overloading a nil row (a row's shaped value may
// itself legitimately be nil, e.g. a single NULL column in splat mode).
func (q *PreparedQuery) nextOne(ctx context.Context) (row any, eof bool, err error) {
	if err := q.checkOpen(); err != nil {
		return nil, false, err
	}

	if err := q.ensureCompiled(ctx); err != nil {
		return nil, false, err
	}

	q.mu.Lock()
	alreadyEOF := q.eof
	stmt := q.stmt
	q.mu.Unlock()

	if alreadyEOF {
		return nil, true, nil
	}

	if err := q.db.permit.acquire(ctx); err != nil {
		return nil, false, errors.WithStack(err)
	}
	defer q.db.permit.give()

	d := newStepDriver(stmt, q.db.permit, q.db.gvlReleaseThreshold())
	d.onProgress = q.db.onProgress()

	outcome, err := d.step(ctx)
	if err != nil {
		return nil, false, err
	}

	if outcome == StepDone {
		q.mu.Lock()
		q.eof = true
		q.mu.Unlock()

		return nil, true, nil
	}

	row, err = shapeRow(stmt, q.mode, q.cols, q.transform)

	return row, false, err
}

// Next produces the next row (n omitted or 1), up to n rows (n > 1), or
// every remaining row (n == -1), per spec.md §4.5's `next`. A single-row
// request returns nil once eof is reached; a multi-row request returns
// whatever rows remain, possibly none.
func (q *PreparedQuery) Next(ctx context.Context, n int) (any, error) {
	if n == 0 {
		n = 1
	}

	if n == 1 {
		row, eof, err := q.nextOne(ctx)
		if err != nil {
			return nil, err
		}

		if eof {
			return nil, nil
		}

		return row, nil
	}

	var rows []any

	for n == -1 || len(rows) < n {
		row, eof, err := q.nextOne(ctx)
		if err != nil {
			return rows, err
		}

		if eof {
			break
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// Each invokes fn once per remaining row, stopping early if fn returns
// false, per spec.md §4.5's `each`.
func (q *PreparedQuery) Each(ctx context.Context, fn RowFunc) error {
	for {
		row, eof, err := q.nextOne(ctx)
		if err != nil {
			return err
		}

		if eof {
			return nil
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

// ToA fully materializes the remaining rows, per spec.md §4.5's `to_a`.
func (q *PreparedQuery) ToA(ctx context.Context) ([]any, error) {
	var rows []any

	err := q.Each(ctx, func(row any) (bool, error) {
		rows = append(rows, row)
		return true, nil
	})

	return rows, err
}

// Execute binds params (if non-nil; otherwise just resets) and runs the
// query to completion, returning the engine's change count (see
// Database.Execute), per spec.md §4.5's `execute`.
func (q *PreparedQuery) Execute(ctx context.Context, params any) (int64, error) {
	if params != nil {
		if err := q.Bind(ctx, params); err != nil {
			return 0, err
		}
	} else if err := q.Reset(ctx); err != nil {
		return 0, err
	}

	for {
		_, eof, err := q.nextOne(ctx)
		if err != nil {
			return 0, err
		}

		if eof {
			break
		}
	}

	return q.db.conn.Changes()
}

// Push is the chaining form of Execute (spec.md §4.5's `<<` operator):
// it executes params and returns the query itself so calls can be chained.
func (q *PreparedQuery) Push(ctx context.Context, params any) (*PreparedQuery, error) {
	if _, err := q.Execute(ctx, params); err != nil {
		return nil, err
	}

	return q, nil
}

// Columns reports the query's column names without consuming any rows,
// per spec.md §4.5's `columns`.
func (q *PreparedQuery) Columns(ctx context.Context) ([]string, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	if err := q.ensureCompiled(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.cols.list(), nil
}

// StmtStatusOp selects a per-statement counter for Status.
type StmtStatusOp int

const (
	StmtStatusFullScanStep StmtStatusOp = iota
	StmtStatusSort
	StmtStatusAutoIndex
	StmtStatusVMStep
)

// Status reports a per-statement counter, per spec.md §4.5's `status`.
//
// database/sql/driver has no equivalent of sqlite3_stmt_status: the
// fine-grained planner counters it exposes live entirely inside the engine
// and aren't surfaced across the driver boundary this package is built on.
// Status is kept as part of the surface for API parity but always reports
// zero; a future engine binding with direct access to these counters can
// fill it in without changing callers.
func (q *PreparedQuery) Status(_ StmtStatusOp, _ bool) (int, error) {
	if err := q.checkOpen(); err != nil {
		return 0, err
	}

	return 0, nil
}

// Eof reports whether the query has been stepped to completion.
func (q *PreparedQuery) Eof() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.eof
}

// Close finalizes the compiled statement. Every subsequent operation
// raises ClosedError, per spec.md §4.5's `close`.
func (q *PreparedQuery) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true

	if q.stmt == nil {
		return nil
	}

	stmt := q.stmt
	q.stmt = nil

	return stmt.Finalize()
}
