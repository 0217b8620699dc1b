package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Open opens a sqlite database at dsn (a modernc.org/sqlite data source name —
// a file path, or ":memory:", optionally with query-string pragmas) and
// returns a Conn bound to exactly one underlying connection, matching the
// "one engine connection per Database Handle" ownership rule. onRetry, if not
// nil, is called whenever the initial connect attempt fails with a retryable
// busy/locked condition.
//
// The returned Conn drives the engine through database/sql/driver's raw
// connection escape hatch ((*sql.Conn).Raw), rather than modernc.org/sqlite's
// unexported internals, so its correctness is anchored to a stable, fully
// documented standard-library contract.
func Open(ctx context.Context, dsn string, onRetry OnRetryFunc) (Conn, error) {
	db, err := openWithRetryConnector(dsn, onRetry)
	if err != nil {
		return nil, err
	}

	// A single database/sql connection models the single engine connection
	// that a Database Handle owns exclusively.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "can't acquire sqlite connection")
	}

	sc := &sqlConn{db: db, conn: conn}

	if err := conn.Raw(func(dc any) error {
		raw, ok := dc.(driver.Conn)
		if !ok {
			return errors.New("driver connection does not implement driver.Conn")
		}

		sc.raw = raw

		return nil
	}); err != nil {
		_ = conn.Close()
		_ = db.Close()

		return nil, errors.Wrap(err, "can't access raw sqlite connection")
	}

	return sc, nil
}

// sqlConn adapts a single database/sql connection, backed by modernc.org/sqlite,
// to the Conn interface.
type sqlConn struct {
	db   *sql.DB
	conn *sql.Conn
	raw  driver.Conn

	// inTransaction is a best-effort tracker of autocommit state. The real
	// engine exposes sqlite3_get_autocommit() as a C API, unreachable from
	// database/sql/driver, so this approximates it by watching the leading
	// keyword of every statement executed through this Conn. SAVEPOINTs
	// nested inside an explicit BEGIN are not distinguished from the
	// top-level transaction; this is a documented simplification.
	inTransaction bool

	// interruptRequested is polled by in-flight steps at their next
	// opportunity. True sqlite3_interrupt() aborts a running statement from
	// another OS thread immediately; this Conn instead surfaces the request
	// at the next Step boundary, which matches spec.md's "delivered at the
	// next step boundary" wording exactly, without needing engine internals
	// not present in the retrieved pack. Prepare clears it again when a new
	// top-level statement starts, so an interrupt aborts only what was
	// running at the time rather than every statement this Conn ever
	// prepares afterward. A plain atomic flag: Interrupt is documented safe
	// to call from another goroutine while a step is in flight.
	interruptRequested atomic.Bool
}

func (c *sqlConn) Prepare(ctx context.Context, query string) (Stmt, error) {
	// A fresh top-level statement starts a new interrupt scope: a prior
	// Interrupt aborts whatever was running at the time, not every
	// statement this connection ever prepares again.
	c.interruptRequested.Store(false)

	first, tail := splitStatement(query)

	prepCtx, ok := c.raw.(driver.ConnPrepareContext)
	var (
		raw driver.Stmt
		err error
	)
	if ok {
		raw, err = prepCtx.PrepareContext(ctx, first)
	} else {
		raw, err = c.raw.Prepare(first) //nolint:staticcheck // fallback for drivers without context support
	}
	if err != nil {
		return nil, err
	}

	c.trackTransactionKeyword(first)

	stmt := &sqlStmt{conn: c, sql: first, tail: tail, raw: raw, paramNames: parseNamedParams(first)}

	if isColumnProducing(first) {
		stmt.peekColumns(ctx)
	}

	return stmt, nil
}

// isColumnProducing reports whether sql is a read-only statement shape —
// stepping it once to probe its columns has no effect beyond computing a
// result set that is then discarded. INSERT/UPDATE/DELETE, even with a
// RETURNING clause, are deliberately excluded: probing those would mean
// actually running the write with placeholder NULL arguments, which is
// unsafe. Their ColumnCount/ColumnName simply stay at 0 until the real Step.
func isColumnProducing(sql string) bool {
	switch firstKeyword(sql) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	default:
		return false
	}
}

func (c *sqlConn) Exec(ctx context.Context, query string) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}

	c.trackTransactionKeyword(query)

	return res.RowsAffected()
}

func (c *sqlConn) LastInsertRowID() (int64, error) {
	return c.scalarInt64("SELECT last_insert_rowid()")
}

func (c *sqlConn) Changes() (int64, error) {
	return c.scalarInt64("SELECT changes()")
}

func (c *sqlConn) TotalChanges() (int64, error) {
	return c.scalarInt64("SELECT total_changes()")
}

func (c *sqlConn) InTransaction() (bool, error) {
	return c.inTransaction, nil
}

func (c *sqlConn) SetBusyTimeoutMillis(ms int) error {
	_, err := c.conn.ExecContext(context.Background(), "PRAGMA busy_timeout="+itoa(ms))
	return err
}

func (c *sqlConn) Interrupt() {
	c.interruptRequested.Store(true)
}

// extensionLoader is an optional capability a driver.Conn may implement.
// modernc.org/sqlite is a pure-Go reimplementation with no dlopen, so it does
// not implement this; LoadExtension surfaces a clear error in that case
// rather than silently doing nothing.
type extensionLoader interface {
	LoadExtension(path, entryPoint string) error
}

func (c *sqlConn) LoadExtension(path, entryPoint string) error {
	if l, ok := c.raw.(extensionLoader); ok {
		return l.LoadExtension(path, entryPoint)
	}

	return errors.New("extension loading is not supported by the configured engine driver")
}

func (c *sqlConn) Close() error {
	connErr := c.conn.Close()
	dbErr := c.db.Close()

	if connErr != nil {
		return connErr
	}

	return dbErr
}

func (c *sqlConn) scalarInt64(query string) (int64, error) {
	var v int64
	if err := c.conn.QueryRowContext(context.Background(), query).Scan(&v); err != nil {
		return 0, err
	}

	return v, nil
}

func (c *sqlConn) trackTransactionKeyword(sql string) {
	switch firstKeyword(sql) {
	case "BEGIN":
		c.inTransaction = true
	case "COMMIT", "END", "ROLLBACK":
		c.inTransaction = false
	}
}

// sqlStmt adapts a single prepared driver.Stmt to the Stmt interface.
type sqlStmt struct {
	conn *sqlConn
	sql  string
	tail string
	raw  driver.Stmt

	paramNames map[string]int
	args       []driver.NamedValue

	rows driver.Rows
	// cols is populated by peekColumns at Prepare time for statement shapes
	// it can safely probe, and is overwritten (harmlessly, with the same
	// names) by the real Step's own QueryContext call.
	cols    []string
	rowVals []driver.Value
	started bool
}

func (s *sqlStmt) SQL() string {
	return s.sql
}

func (s *sqlStmt) Tail() string {
	return s.tail
}

func (s *sqlStmt) setArg(pos int, v driver.Value) {
	for len(s.args) < pos {
		s.args = append(s.args, driver.NamedValue{Ordinal: len(s.args) + 1})
	}

	s.args[pos-1] = driver.NamedValue{Ordinal: pos, Value: v}
}

func (s *sqlStmt) BindNull(pos int) error {
	s.setArg(pos, nil)
	return nil
}

func (s *sqlStmt) BindInt64(pos int, v int64) error {
	s.setArg(pos, v)
	return nil
}

func (s *sqlStmt) BindFloat64(pos int, v float64) error {
	s.setArg(pos, v)
	return nil
}

func (s *sqlStmt) BindText(pos int, v string) error {
	s.setArg(pos, v)
	return nil
}

func (s *sqlStmt) BindBlob(pos int, v []byte) error {
	s.setArg(pos, v)
	return nil
}

func (s *sqlStmt) BindParameterCount() int {
	return s.raw.NumInput()
}

func (s *sqlStmt) BindParameterIndex(name string) int {
	return s.paramNames[name]
}

// peekColumns probes s.cols right after Prepare so ColumnCount/ColumnName
// are valid before the first real Step, per the engine's "columns without
// consuming rows" contract. It queries with every placeholder bound to NULL
// — column names and count depend on the compiled statement's shape, not on
// parameter values — and closes the resulting rows without reading any of
// them, leaving s.rows/s.started untouched so the statement's real first
// Step still issues its own QueryContext against the caller's bound args.
func (s *sqlStmt) peekColumns(ctx context.Context) {
	queryCtx, ok := s.raw.(driver.StmtQueryContext)
	if !ok {
		return
	}

	n := s.raw.NumInput()
	if n < 0 {
		return
	}

	args := make([]driver.NamedValue, n)
	for i := range args {
		args[i] = driver.NamedValue{Ordinal: i + 1, Value: nil}
	}

	rows, err := queryCtx.QueryContext(ctx, args)
	if err != nil {
		// Leave s.cols empty; ColumnCount reports 0 until the real Step,
		// same as for a statement this probe can't safely run.
		return
	}
	defer func() { _ = rows.Close() }()

	s.cols = rows.Columns()
}

func (s *sqlStmt) Step(ctx context.Context) (StepResult, error) {
	if s.conn.interruptRequested.Load() {
		return StepDone, errInterrupted
	}

	if !s.started {
		queryCtx, ok := s.raw.(driver.StmtQueryContext)
		if !ok {
			return StepDone, errors.New("driver statement does not support context queries")
		}

		rows, err := queryCtx.QueryContext(ctx, s.args)
		if err != nil {
			return StepDone, err
		}

		s.rows = rows
		s.cols = rows.Columns()
		s.rowVals = make([]driver.Value, len(s.cols))
		s.started = true
	}

	err := s.rows.Next(s.rowVals)
	if err == io.EOF {
		return StepDone, nil
	}
	if err != nil {
		return StepDone, err
	}

	return StepRow, nil
}

func (s *sqlStmt) Reset() error {
	if s.rows != nil {
		err := s.rows.Close()
		s.rows = nil
		s.started = false

		return err
	}

	return nil
}

func (s *sqlStmt) ClearBindings() error {
	s.args = nil
	return nil
}

func (s *sqlStmt) Finalize() error {
	var rowsErr error
	if s.rows != nil {
		rowsErr = s.rows.Close()
	}

	stmtErr := s.raw.Close()

	if rowsErr != nil {
		return rowsErr
	}

	return stmtErr
}

func (s *sqlStmt) ColumnCount() int {
	return len(s.cols)
}

func (s *sqlStmt) ColumnName(idx int) string {
	return s.cols[idx]
}

func (s *sqlStmt) ColumnType(idx int) ColumnType {
	switch s.rowVals[idx].(type) {
	case nil:
		return ColumnTypeNull
	case int64:
		return ColumnTypeInt64
	case float64:
		return ColumnTypeFloat64
	case string:
		return ColumnTypeText
	case []byte:
		return ColumnTypeBlob
	default:
		return ColumnTypeNull
	}
}

func (s *sqlStmt) ColumnInt64(idx int) int64 {
	v, _ := s.rowVals[idx].(int64)
	return v
}

func (s *sqlStmt) ColumnFloat64(idx int) float64 {
	v, _ := s.rowVals[idx].(float64)
	return v
}

func (s *sqlStmt) ColumnText(idx int) string {
	switch v := s.rowVals[idx].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (s *sqlStmt) ColumnBlob(idx int) []byte {
	switch v := s.rowVals[idx].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// errInterrupted is returned by Step when the owning Conn's Interrupt was
// called; sqlite/step.go maps it to InterruptError.
var errInterrupted = errors.New("interrupted")

// ErrInterrupted exposes errInterrupted for callers that need to recognize it
// with errors.Is.
func ErrInterrupted() error { return errInterrupted }

// splitStatement finds the first complete SQL statement in s and returns it
// together with whatever (trimmed) text follows it. It walks the text
// tracking quoted strings and comments so that semicolons inside either are
// not mistaken for statement boundaries.
func splitStatement(s string) (first, tail string) {
	var inSingle, inDouble, inLineComment, inBlockComment bool

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
			}
		case inBlockComment:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				inBlockComment = false
				i++
			}
		case inSingle:
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
				} else {
					inSingle = false
				}
			}
		case inDouble:
			if c == '"' {
				if i+1 < len(s) && s[i+1] == '"' {
					i++
				} else {
					inDouble = false
				}
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			inLineComment = true
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			inBlockComment = true
		case c == ';':
			return s[:i+1], strings.TrimSpace(s[i+1:])
		}
	}

	return s, ""
}

// firstKeyword returns the first whitespace-delimited word of sql, upper-cased.
func firstKeyword(sql string) string {
	sql = strings.TrimSpace(sql)

	i := strings.IndexFunc(sql, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if i < 0 {
		i = len(sql)
	}

	return strings.ToUpper(sql[:i])
}

// parseNamedParams scans sql for `:name`, `@name` and `$name` placeholders
// and returns their 1-based bind position, in first-occurrence order,
// matching SQLite's own rule that repeating a named placeholder reuses its
// original bind index.
func parseNamedParams(sql string) map[string]int {
	names := make(map[string]int)

	var inSingle, inDouble bool
	pos := 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
			continue
		case inDouble:
			if c == '"' {
				inDouble = false
			}
			continue
		case c == '\'':
			inSingle = true
			continue
		case c == '"':
			inDouble = true
			continue
		case c == '?':
			pos++
			continue
		case c == ':' || c == '@' || c == '$':
			j := i + 1
			for j < len(sql) && isIdentByte(sql[j]) {
				j++
			}

			if j > i+1 {
				name := sql[i:j]
				if _, ok := names[name]; !ok {
					pos++
					names[name] = pos
				}
				i = j - 1
			}
		}
	}

	return names
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [20]byte
	i := len(buf)

	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}
