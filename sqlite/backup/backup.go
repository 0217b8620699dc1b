// Package backup implements online backup, spec.md §4.7.
//
// The real sqlite3_backup_init/step/remaining/pagecount family is, like the
// session extension, C-API-only and unreachable through database/sql/driver.
// This package adapts the same shape at the SQL level: ATTACH the
// destination file, copy each source table's rows in fixed-size batches
// (standing in for the real API's page batches), and report a monotonically
// non-increasing (remaining, total) row count after each batch instead of
// a page count. It consumes the source only through (*sqlite.Database)'s
// already-exported Query/Execute — both already acquire and release the
// execution permit once per call, so this package never needs to touch the
// database's internal connection or permit directly, and a stepping
// goroutine can run concurrently with the caller without risking a
// double-acquire of that single-slot permit.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-extralite/extralite/com"
	"github.com/go-extralite/extralite/logging"
	"github.com/go-extralite/extralite/retry"
	"github.com/go-extralite/extralite/sqlite"
)

// StepBatchRows caps how many rows one backup step copies per iteration,
// standing in for BACKUP_STEP_MAX_PAGES (spec.md §4.7 suggests 16).
const StepBatchRows = 16

// busyRetryInterval is the fixed sleep between BUSY/LOCKED retries during a
// backup step, per spec.md §4.7's "sleep briefly (e.g., 100 ms)".
const busyRetryInterval = 100 * time.Millisecond

// ProgressFunc is invoked after every copied batch with the number of rows
// remaining and the stable total row count, per spec.md §4.7/§8 property 9.
type ProgressFunc func(remaining, total int64)

// Context drives one or more backups of a source database.
type Context struct {
	db     *sqlite.Database
	logger *logging.Logger
}

// New creates a Context backing up from db. logger, if non-nil, receives
// debug/warn lines for the backup's lifecycle.
func New(db *sqlite.Database, logger *logging.Logger) *Context {
	return &Context{db: db, logger: logger}
}

type progressUpdate struct {
	remaining int64
}

// Backup copies srcName (default "main") into the file at dst, attached
// under dstName (default "main", remapped since "main" already names this
// connection's own schema — see the DESIGN.md note on this deviation).
// onProgress, if not nil, is invoked synchronously on the calling goroutine
// after every batch with a non-increasing remaining count, ending with
// exactly one (0, total) call before Backup returns, per spec.md §8
// property 9. Unlike the real backup API, dst is always a filesystem path:
// backing up into an already-open handle is not supported.
func (c *Context) Backup(ctx context.Context, dst string, srcName, dstName string, onProgress ProgressFunc) error {
	if dst == "" {
		return errors.New("backup: destination path must not be empty")
	}

	if srcName == "" {
		srcName = "main"
	}

	alias := destAlias(dstName)

	if c.logger != nil {
		c.logger.Debugw("Starting backup", "destination", dst, "source_schema", srcName, "dest_alias", alias)
	}

	if _, err := c.db.Execute(ctx, fmt.Sprintf("ATTACH DATABASE ? AS %s", quoteIdent(alias)), dst); err != nil {
		return errors.Wrap(err, "backup: can't attach destination")
	}
	defer c.detach(alias)

	tables, err := c.sourceTables(ctx, srcName)
	if err != nil {
		return err
	}

	if err := c.createTables(ctx, srcName, alias, tables); err != nil {
		return err
	}

	total, err := c.countRows(ctx, srcName, tables)
	if err != nil {
		return err
	}

	if total == 0 {
		if onProgress != nil {
			onProgress(0, 0)
		}

		return nil
	}

	updates := make(chan progressUpdate, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(updates)
		return c.copyTables(gctx, srcName, alias, tables, total, updates)
	})

	done := com.WaitAsync(g)

	var sentZero bool

	// The stepping goroutine always sends at least one update once total >
	// 0, so CopyFirst's synchronous first read never blocks on a channel
	// that closes empty; the rest keep draining on the ordinary range loop.
	first, rest, copyErr := com.CopyFirst(ctx, updates)
	if copyErr == nil {
		if onProgress != nil {
			onProgress(first.remaining, total)
		}

		sentZero = first.remaining == 0

		for upd := range rest {
			if onProgress != nil {
				onProgress(upd.remaining, total)
			}

			sentZero = upd.remaining == 0
		}
	}

	if err := <-done; err != nil {
		return err
	}

	if !sentZero && onProgress != nil {
		onProgress(0, total)
	}

	return nil
}

func (c *Context) detach(alias string) {
	if _, err := c.db.Execute(context.Background(), "DETACH DATABASE "+quoteIdent(alias), nil); err != nil && c.logger != nil {
		c.logger.Warnw("Can't detach backup destination", logging.Error(err))
	}
}

func (c *Context) sourceTables(ctx context.Context, srcName string) ([]string, error) {
	rows, err := c.db.Query(ctx,
		fmt.Sprintf("SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%%' ESCAPE '\\'", quoteIdent(srcName)),
		nil, sqlite.QueryOptions{Mode: sqlite.RowSplat})
	if err != nil {
		return nil, errors.Wrap(err, "backup: can't list source tables")
	}

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.(string)
	}

	return names, nil
}

// createTables replicates each source table's column structure into the
// attached destination. Only columns survive this replication — indices,
// triggers and constraints do not, a documented simplification of the
// row-batch emulation this package implements in place of a true page-level
// copy.
func (c *Context) createTables(ctx context.Context, srcName, alias string, tables []string) error {
	for _, table := range tables {
		sql := fmt.Sprintf("CREATE TABLE %s.%s AS SELECT * FROM %s.%s WHERE 0",
			quoteIdent(alias), quoteIdent(table), quoteIdent(srcName), quoteIdent(table))

		if _, err := c.db.Execute(ctx, sql, nil); err != nil {
			return errors.Wrapf(err, "backup: can't replicate table %q", table)
		}
	}

	return nil
}

func (c *Context) countRows(ctx context.Context, srcName string, tables []string) (int64, error) {
	var total int64

	for _, table := range tables {
		sql := fmt.Sprintf("SELECT count(*) FROM %s.%s", quoteIdent(srcName), quoteIdent(table))

		count, err := c.db.QuerySingle(ctx, sql, nil, sqlite.QueryOptions{Mode: sqlite.RowSplat})
		if err != nil {
			return 0, errors.Wrapf(err, "backup: can't count rows in table %q", table)
		}

		total += count.(int64)
	}

	return total, nil
}

// copyTables copies every table's rows in StepBatchRows-sized batches,
// sending a progress update after each batch. BUSY/LOCKED is retried with a
// fixed sleep, per spec.md §4.7's recovery policy.
func (c *Context) copyTables(ctx context.Context, srcName, alias string, tables []string, total int64, updates chan<- progressUpdate) error {
	remaining := total

	fixedInterval := func(uint64) time.Duration { return busyRetryInterval }

	for _, table := range tables {
		insertSQL := fmt.Sprintf("INSERT INTO %s.%s SELECT * FROM %s.%s LIMIT ? OFFSET ?",
			quoteIdent(alias), quoteIdent(table), quoteIdent(srcName), quoteIdent(table))

		var offset int64

		for {
			var batchRows int64

			err := retry.WithBackoff(ctx, func(ctx context.Context) error {
				n, err := c.db.Execute(ctx, insertSQL, []any{StepBatchRows, offset})
				if err != nil {
					return err
				}

				batchRows = n

				return nil
			}, retry.Retryable, fixedInterval, retry.Settings{
				OnRetryableError: func(elapsed time.Duration, attempt uint64, err, lastErr error) {
					if c.logger != nil {
						c.logger.Warnw("Retrying backup step after busy/locked", "table", table, "attempt", attempt, logging.Error(err))
					}
				},
			})
			if err != nil {
				return errors.Wrapf(err, "backup: can't copy rows from table %q", table)
			}

			// A batch that copied nothing leaves remaining unchanged, so no
			// progress update is sent for it.
			if batchRows == 0 {
				break
			}

			offset += batchRows
			remaining -= batchRows

			if remaining < 0 {
				remaining = 0
			}

			select {
			case updates <- progressUpdate{remaining: remaining}:
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			}

			if batchRows < StepBatchRows {
				break
			}
		}
	}

	return nil
}

// destAlias picks the schema alias the destination is attached under.
// "main" and "" both collide with this connection's own schema, so they're
// remapped to a fixed internal alias.
func destAlias(dstName string) string {
	if dstName == "" || dstName == "main" {
		return "extralite_backup"
	}

	return dstName
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
