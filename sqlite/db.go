package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/com"
	"github.com/go-extralite/extralite/logging"
	"github.com/go-extralite/extralite/periodic"
	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/utils"
)

// RowMode selects the shape in which Query/Execute deliver rows, per
// spec.md §3's Row Modes.
type RowMode int

const (
	// RowHash delivers each row as a map from column name to value.
	RowHash RowMode = iota
	// RowSplat delivers each row as positional values, degrading to a
	// single value when there is exactly one column and no transform.
	RowSplat
	// RowAry delivers each row as an ordered slice of values.
	RowAry
)

// ProgressMode selects how a progress handler behaves, per spec.md §3's
// Progress Handler Descriptor.
type ProgressMode int

const (
	ProgressNone ProgressMode = iota
	ProgressNormal
	ProgressOnce
	ProgressAtLeastOnce
)

// ProgressHandler is invoked on every BUSY condition a step meets (busy
// true): returning true retries the step, returning false gives up with
// BusyError, per spec.md §4.3. The step driver never invokes it with busy
// false, so no periodic progress calls are made while a statement steps and
// SetProgressHandler's period, tick and ProgressOnce settings do not affect
// when it runs.
type ProgressHandler func(busy bool) bool

// TraceHandler is invoked once per SQL text about to be executed, before
// stepping begins, per spec.md §4.4's tracing requirement.
type TraceHandler func(sql string)

// progressDescriptor is spec.md §3's Progress Handler Descriptor.
type progressDescriptor struct {
	mode     ProgressMode
	callback ProgressHandler
	period   int64
	tick     int64
	ticks    int64
	calls    int64
}

// trigger advances the descriptor's tick accumulator and invokes callback
// once the accumulator crosses period, per spec.md §4.3's progress-handler
// integration. It returns the step driver's onProgress contract: whether
// stepping should continue.
func (d *progressDescriptor) trigger(busy bool) bool {
	if d.mode == ProgressNone || d.callback == nil {
		return true
	}

	if busy {
		d.calls++
		return d.callback(true)
	}

	d.ticks += d.tick
	if d.ticks < d.period {
		return true
	}

	d.ticks -= d.period
	d.calls++

	cont := d.callback(false)

	if d.mode == ProgressOnce {
		d.callback = nil
	}

	return cont
}

// Database is one open connection to the embedded engine: spec.md §3's
// Database Handle.
type Database struct {
	mu sync.Mutex

	conn   engine.Conn
	permit *permit

	opts Options

	logger *logging.Logger
	stop   periodic.Stopper

	progress progressDescriptor
	trace    TraceHandler

	// changes counts rows changed by Execute, reset every periodic
	// logging tick and kept as a running lifetime total, the same
	// reset-per-tick/total-at-stop shape com.Counter is built for.
	changes com.Counter

	closed bool
}

// ProgressHandlerRegistry is an explicit collaborator applied to every
// Database opened with it, standing in for the process-wide default
// progress handler spec.md §9 describes the original exposing as global
// state. Constructing one and passing it to Open is the opt-in; there is
// no package-level default.
type ProgressHandlerRegistry struct {
	mode     ProgressMode
	period   int
	tick     int
	callback ProgressHandler
}

// NewProgressHandlerRegistry builds a registry that installs the given
// progress handler on every Database opened with it.
func NewProgressHandlerRegistry(mode ProgressMode, period, tick int, callback ProgressHandler) *ProgressHandlerRegistry {
	return &ProgressHandlerRegistry{mode: mode, period: period, tick: tick, callback: callback}
}

func (r *ProgressHandlerRegistry) applyTo(db *Database) {
	if r == nil {
		return
	}

	db.SetProgressHandler(r.mode, r.period, r.tick, r.callback)
}

// Open opens a database per opts, applying its pragmas, WAL and busy-timeout
// settings, and returns a ready-to-use Database. logger and registry may
// both be nil to disable logging and skip installing a default progress
// handler, respectively.
func Open(ctx context.Context, opts Options, logger *logging.Logger, registry *ProgressHandlerRegistry) (*Database, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	var onRetry engine.OnRetryFunc
	if logger != nil {
		onRetry = func(elapsed time.Duration, attempt uint64, err, lastErr error) {
			if lastErr == nil || err.Error() != lastErr.Error() {
				logger.Warnw("Can't open sqlite database. Retrying", "elapsed", elapsed, "attempt", attempt, logging.Error(err))
			}
		}
	}

	conn, err := engine.Open(ctx, opts.Path, onRetry)
	if err != nil {
		return nil, err
	}

	db := &Database{
		conn:   conn,
		permit: newPermit(),
		opts:   opts,
		logger: logger,
		progress: progressDescriptor{
			period: 1000,
			tick:   10,
		},
	}

	if err := db.configure(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	registry.applyTo(db)

	if logger != nil {
		db.stop = periodic.Start(ctx, logger.Interval(), func(periodic.Tick) {
			logger.Debugw("Sqlite database activity",
				"changes_since_last_tick", db.changes.Reset(),
				"total_changes", db.changes.Total())
		})
	}

	return db, nil
}

func (db *Database) configure(ctx context.Context) error {
	if db.opts.BusyTimeout > 0 {
		ms := int(db.opts.BusyTimeout / time.Millisecond)
		if err := db.conn.SetBusyTimeoutMillis(ms); err != nil {
			return errors.Wrap(err, "can't set busy timeout")
		}
	}

	if db.opts.ReadOnly {
		if _, err := db.conn.Exec(ctx, "PRAGMA query_only = ON"); err != nil {
			return errors.Wrap(err, "can't set database read-only")
		}
	}

	if db.opts.WAL {
		if _, err := db.conn.Exec(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return errors.Wrap(err, "can't enable WAL journal mode")
		}

		if _, err := db.conn.Exec(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
			return errors.Wrap(err, "can't set synchronous mode")
		}
	}

	for name, value := range utils.IterateOrderedMap(db.opts.Pragma) {
		stmt := fmt.Sprintf("PRAGMA %s = %v", name, value)
		if _, err := db.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "can't apply pragma %q", name)
		}
	}

	return nil
}

// Close closes the database. Repeated calls after the first succeed as a
// no-op, per spec.md §7's closed-state stickiness.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	db.closed = true

	if db.stop != nil {
		db.stop.Stop()
	}

	return db.conn.Close()
}

// Closed reports whether Close has been called.
func (db *Database) Closed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.closed
}

func (db *Database) checkOpen() error {
	if db.Closed() {
		return &ClosedError{What: "database"}
	}

	return nil
}

// Interrupt makes steps on this database's connection fail with
// InterruptError, per spec.md §4.3/§5. Safe to call concurrently. The
// request is checked at the start of each step, not mid-step, and stays set
// until the next statement is compiled: every step taken before then,
// including steps of an already compiled PreparedQuery, fails, even if no
// step was running when Interrupt was called.
func (db *Database) Interrupt() {
	db.conn.Interrupt()
}

// SetProgressHandler installs or clears the progress handler, per spec.md
// §3's invariant: installing a non-none handler forces the GVL-release
// threshold to -1 (never release) for the lifetime of the handler;
// clearing it restores ordinary threshold-based release.
func (db *Database) SetProgressHandler(mode ProgressMode, period, tick int, callback ProgressHandler) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if tick > period {
		tick = period
	}
	if period <= 0 {
		period = 1000
	}
	if tick <= 0 {
		tick = 10
	}

	db.progress = progressDescriptor{
		mode:     mode,
		callback: callback,
		period:   int64(period),
		tick:     int64(tick),
	}
}

// gvlReleaseThreshold returns the effective threshold, forced to -1 while a
// progress handler is installed.
func (db *Database) gvlReleaseThreshold() int {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.progress.mode != ProgressNone {
		return -1
	}

	return db.opts.GvlReleaseThreshold
}

func (db *Database) onProgress() progressCallback {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.progress.mode == ProgressNone || db.progress.callback == nil {
		return nil
	}

	desc := &db.progress

	return func(busy bool) bool {
		db.mu.Lock()
		defer db.mu.Unlock()

		return desc.trigger(busy)
	}
}

// SetTrace installs or clears the trace handler. Pass nil to clear it.
func (db *Database) SetTrace(handler TraceHandler) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.trace = handler
}

func (db *Database) traceSQL(sql string) {
	db.mu.Lock()
	handler := db.trace
	db.mu.Unlock()

	if handler != nil {
		handler(sql)
	}
}

// LastInsertRowID returns the rowid of the most recent successful INSERT.
func (db *Database) LastInsertRowID() (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	return db.conn.LastInsertRowID()
}

// Changes returns the number of rows changed by the most recently completed
// INSERT, UPDATE or DELETE.
func (db *Database) Changes() (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	return db.conn.Changes()
}

// TotalChanges returns the total number of rows changed since the
// connection was opened.
func (db *Database) TotalChanges() (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	return db.conn.TotalChanges()
}

// InTransaction reports whether the connection is currently inside an
// explicit transaction (i.e. not in autocommit mode).
func (db *Database) InTransaction() (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}

	return db.conn.InTransaction()
}

// StatusOp selects a connection-wide counter for Status.
type StatusOp int

const (
	StatusLookasideUsed StatusOp = iota
	StatusCacheUsed
	StatusSchemaUsed
	StatusStmtUsed
)

// Status reports a connection-wide counter's current value and high-water
// mark, per spec.md §6's `status`/`db-status`.
//
// database/sql/driver exposes no equivalent of sqlite3_db_status: these
// counters live inside the engine's own bookkeeping, unreachable across the
// raw-connection boundary sqlite/engine is built on. Status is kept for API
// parity with the engine's capability list but always reports zero.
func (db *Database) Status(_ StatusOp, _ bool) (current, highwater int, err error) {
	if err := db.checkOpen(); err != nil {
		return 0, 0, err
	}

	return 0, 0, nil
}

// Limit reports (and optionally changes, when value >= 0) a connection-wide
// limit category, per spec.md §6's `limit`.
//
// Like Status, this has no database/sql/driver equivalent (sqlite3_limit is
// unreachable across the raw-connection boundary); it is kept for API
// parity and always reports -1, matching sqlite3_limit's own "unknown
// category" sentinel.
func (db *Database) Limit(_ int, _ int) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	return -1, nil
}

// LoadExtension loads a shared library extension, gated by
// Options.AllowExtensionLoading.
func (db *Database) LoadExtension(path, entryPoint string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if !db.opts.AllowExtensionLoading {
		return errors.New("extension loading is disabled; set Options.AllowExtensionLoading to enable it")
	}

	return db.conn.LoadExtension(path, entryPoint)
}
