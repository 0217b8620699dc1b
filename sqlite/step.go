package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/go-extralite/extralite/sqlite/engine"
)

// StepOutcome is the result of advancing a statement by one row.
type StepOutcome int

const (
	// StepRow means a row is available.
	StepRow StepOutcome = iota
	// StepDone means the statement has no more rows.
	StepDone
)

// progressCallback reports a progress tick (or a busy condition, when busy
// is true) and returns whether stepping should continue.
type progressCallback func(busy bool) bool

// stepDriver advances a single engine.Stmt row by row, applying the
// GVL-release-threshold scheduling policy around each call and translating
// engine step outcomes into this package's error taxonomy, per spec.md §4.3.
type stepDriver struct {
	stmt      engine.Stmt
	permit    *permit
	threshold int

	started   bool
	stepCount int64

	onProgress progressCallback
}

func newStepDriver(stmt engine.Stmt, p *permit, threshold int) *stepDriver {
	return &stepDriver{stmt: stmt, permit: p, threshold: threshold}
}

func (d *stepDriver) step(ctx context.Context) (StepOutcome, error) {
	for {
		release := d.shouldRelease()
		d.stepCount++

		var (
			res engine.StepResult
			err error
		)

		run := func() error {
			res, err = d.stmt.Step(ctx)
			return err
		}

		if release {
			if suspendErr := d.permit.suspend(run); suspendErr != nil && err == nil {
				err = suspendErr
			}
		} else {
			err = run()
		}

		if err == nil {
			d.started = true

			if res == engine.StepDone {
				return StepDone, nil
			}

			return StepRow, nil
		}

		if isBusy(err) {
			if d.onProgress != nil && d.onProgress(true) {
				continue
			}

			return StepDone, &BusyError{Msg: "Database is busy"}
		}

		return StepDone, classifyStepError(err)
	}
}

// shouldRelease decides whether to release the execution permit around the
// next engine step call, per spec.md §4.3/§5:
//   - threshold < 0 (a progress handler is installed): never release.
//   - the statement hasn't produced a row yet: release on this, the first, step.
//   - threshold == 0: held across every step after the first.
//   - threshold > 0: release every threshold-th step.
func (d *stepDriver) shouldRelease() bool {
	if d.threshold < 0 {
		return false
	}

	if !d.started {
		return true
	}

	if d.threshold == 0 {
		return false
	}

	return d.stepCount%int64(d.threshold) == 0
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// classifyStepError maps an engine step error onto this package's error
// taxonomy. Real SQLite distinguishes many more result codes than
// database/sql/driver preserves across the raw connection boundary used by
// sqlite/engine, so anything that isn't recognized as interrupt or busy
// becomes a SQLError carrying the engine's message verbatim — the same
// treatment spec.md §4.3 prescribes for its own ERROR case, applied as the
// catch-all since finer-grained codes aren't observable here.
func classifyStepError(err error) error {
	if errors.Is(err, engine.ErrInterrupted()) {
		return &InterruptError{}
	}

	return &SQLError{Msg: err.Error()}
}
