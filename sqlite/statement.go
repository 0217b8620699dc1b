package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/sqlite/engine"
)

// prepareMulti walks sql, compiling and running every statement but the
// last to completion, and returns the last statement compiled and ready for
// iteration. Any statement compiled during the walk is finalized before an
// error propagates, per spec.md §4.2.
func prepareMulti(ctx context.Context, conn engine.Conn, p *permit, sql string) (engine.Stmt, error) {
	text := strings.TrimSpace(sql)
	if text == "" {
		return nil, errors.New("SQL text must not be empty")
	}

	for {
		stmt, err := compile(ctx, conn, p, text)
		if err != nil {
			return nil, err
		}

		tail := strings.TrimSpace(stmt.Tail())
		if tail == "" {
			return stmt, nil
		}

		if err := runToCompletion(ctx, p, stmt); err != nil {
			_ = stmt.Finalize()
			return nil, err
		}

		if err := stmt.Finalize(); err != nil {
			return nil, errors.Wrap(err, "can't finalize statement")
		}

		text = tail
	}
}

// prepareSingle compiles exactly one statement; any non-whitespace SQL
// trailing it is rejected, per spec.md §4.2.
func prepareSingle(ctx context.Context, conn engine.Conn, p *permit, sql string) (engine.Stmt, error) {
	text := strings.TrimSpace(sql)
	if text == "" {
		return nil, errors.New("SQL text must not be empty")
	}

	stmt, err := compile(ctx, conn, p, text)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(stmt.Tail()) != "" {
		_ = stmt.Finalize()
		return nil, errors.New("prepared queries accept only a single SQL statement")
	}

	return stmt, nil
}

// compile prepares sql into a Stmt, releasing the execution permit for the
// duration of the call per spec.md §4.2/§5, and mapping engine errors onto
// this package's taxonomy.
func compile(ctx context.Context, conn engine.Conn, p *permit, sql string) (engine.Stmt, error) {
	var (
		stmt engine.Stmt
		err  error
	)

	if suspendErr := p.suspend(func() error {
		stmt, err = conn.Prepare(ctx, sql)
		return err
	}); suspendErr != nil && err == nil {
		err = suspendErr
	}

	if err != nil {
		return nil, classifyPrepareError(err)
	}

	return stmt, nil
}

// runToCompletion steps stmt until it reports done, without yielding to any
// progress handler — used only for the interior statements of a
// multi-statement script, which the caller never sees.
func runToCompletion(ctx context.Context, p *permit, stmt engine.Stmt) error {
	d := newStepDriver(stmt, p, 1000)

	for {
		outcome, err := d.step(ctx)
		if err != nil {
			return err
		}

		if outcome == StepDone {
			return nil
		}
	}
}

func classifyPrepareError(err error) error {
	if isBusy(err) {
		return &BusyError{Msg: "Database is busy"}
	}

	return &SQLError{Msg: err.Error()}
}
