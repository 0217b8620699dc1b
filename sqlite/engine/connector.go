package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"time"

	"github.com/go-extralite/extralite/backoff"
	"github.com/go-extralite/extralite/retry"
	"github.com/pkg/errors"
)

// openTimeout bounds how long RetryConnector.Connect keeps retrying a busy/locked
// engine before giving up.
var openTimeout = 5 * time.Minute

// OnRetryFunc is called whenever opening the database failed with a
// retryable error, before the next attempt.
type OnRetryFunc func(elapsed time.Duration, attempt uint64, err, lastErr error)

// RetryConnector wraps a driver.Connector with retry logic, so that a
// database caught mid-checkpoint or held by a crashed writer's lock file
// doesn't fail Open outright.
type RetryConnector struct {
	driver.Connector

	onRetry OnRetryFunc
}

// NewRetryConnector creates a fully initialized RetryConnector from the given
// args. onRetry may be nil.
func NewRetryConnector(c driver.Connector, onRetry OnRetryFunc) *RetryConnector {
	return &RetryConnector{Connector: c, onRetry: onRetry}
}

// Connect implements part of the driver.Connector interface.
func (c RetryConnector) Connect(ctx context.Context) (driver.Conn, error) {
	var conn driver.Conn

	err := retry.WithBackoff(
		ctx,
		func(ctx context.Context) (err error) {
			conn, err = c.Connector.Connect(ctx)
			return
		},
		isOpenRetryable,
		backoff.DefaultBackoff,
		retry.Settings{
			Timeout: openTimeout,
			OnRetryableError: func(elapsed time.Duration, attempt uint64, err, lastErr error) {
				if c.onRetry != nil {
					c.onRetry(elapsed, attempt, err, lastErr)
				}
			},
		},
	)

	return conn, errors.Wrap(err, "can't open sqlite database")
}

// Driver implements part of the driver.Connector interface.
func (c RetryConnector) Driver() driver.Driver {
	return c.Connector.Driver()
}

// isOpenRetryable recognizes the engine's busy/locked conditions surfacing
// during open (e.g. while another connection holds a write lock or is
// running a checkpoint) from modernc.org/sqlite's plain-text error strings,
// since database/sql's driver boundary does not preserve a typed SQLite
// result code across Open/Connect.
func isOpenRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return true
	}

	return retry.Retryable(err)
}

// openWithRetryConnector is like Open, but wraps the underlying
// database/sql/driver.Connector in a RetryConnector so that transient
// busy/locked conditions during the initial connect are retried with
// backoff instead of surfacing immediately.
func openWithRetryConnector(dsn string, onRetry OnRetryFunc) (*sql.DB, error) {
	// sql.Open never dials; it only resolves the registered driver, so this
	// is just a handle to reach the driver.DriverContext that can build a
	// real connector bound to dsn.
	probe, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "can't resolve sqlite driver")
	}
	drv := probe.Driver()
	_ = probe.Close()

	ctxDriver, ok := drv.(driver.DriverContext)
	if !ok {
		return nil, errors.New("sqlite driver does not support connector-based open")
	}

	connector, err := ctxDriver.OpenConnector(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "can't create sqlite connector")
	}

	return sql.OpenDB(NewRetryConnector(connector, onRetry)), nil
}
