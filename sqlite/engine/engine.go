// Package engine narrows the embedded SQL engine down to the operations the
// rest of this module actually drives: prepare, bind, step, and inspect a
// single connection. Everything else (the SQL dialect, the query planner,
// the engine's own locking) stays the engine's business, never this
// package's.
package engine

import "context"

// ColumnType is the storage class the engine reports for a column value,
// per SQLite's dynamic typing (null, integer, real, text, blob).
type ColumnType int

const (
	ColumnTypeNull ColumnType = iota
	ColumnTypeInt64
	ColumnTypeFloat64
	ColumnTypeText
	ColumnTypeBlob
)

// StepResult is the outcome of advancing a prepared statement by one row.
type StepResult int

const (
	// StepRow means a row is available; read it with the Stmt's Column* methods.
	StepRow StepResult = iota
	// StepDone means the statement has no more rows.
	StepDone
)

// Conn is a single connection to the embedded engine.
type Conn interface {
	// Prepare compiles query into a Stmt. If query contains more than one
	// statement, only the first is compiled; Tail reports what follows.
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Exec runs query directly (no prepared statement kept around),
	// returning the number of rows it changed.
	Exec(ctx context.Context, query string) (changes int64, err error)

	LastInsertRowID() (int64, error)
	Changes() (int64, error)
	TotalChanges() (int64, error)
	InTransaction() (bool, error)

	SetBusyTimeoutMillis(ms int) error
	Interrupt()
	LoadExtension(path, entryPoint string) error

	Close() error
}

// Stmt is a single compiled statement, bound to the Conn that prepared it.
type Stmt interface {
	// SQL returns the exact statement text that was compiled.
	SQL() string

	// Tail returns whatever SQL text followed the compiled statement,
	// trimmed of leading whitespace, or "" if none.
	Tail() string

	BindNull(pos int) error
	BindInt64(pos int, v int64) error
	BindFloat64(pos int, v float64) error
	BindText(pos int, v string) error
	BindBlob(pos int, v []byte) error
	BindParameterCount() int
	// BindParameterIndex returns the 1-based index of the named placeholder,
	// or 0 if name is not bound by this statement.
	BindParameterIndex(name string) int

	// Step advances the statement by one row.
	Step(ctx context.Context) (StepResult, error)
	Reset() error
	ClearBindings() error
	Finalize() error

	ColumnCount() int
	ColumnName(idx int) string
	ColumnType(idx int) ColumnType
	ColumnInt64(idx int) int64
	ColumnFloat64(idx int) float64
	ColumnText(idx int) string
	ColumnBlob(idx int) []byte
}
