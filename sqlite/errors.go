package sqlite

import (
	"fmt"

	"github.com/go-extralite/extralite/sqlite/internal/values"
)

// ParameterError is re-exported from the Value Bridge so callers only need
// one error-taxonomy surface to check against
// (var pe *ParameterError; errors.As(err, &pe)).
type ParameterError = values.ParameterError

// ClosedError reports an operation attempted on a closed Database, Query or
// prepared statement. Closed-state is sticky: once set, every mutating or
// querying operation keeps raising it.
type ClosedError struct {
	What string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("%s is closed", e.What)
}

// SQLError reports that the engine rejected a statement or its execution,
// carrying the engine's message verbatim.
type SQLError struct {
	Msg string
}

func (e *SQLError) Error() string {
	return e.Msg
}

// BusyError reports that the engine was contended (SQLITE_BUSY / LOCKED) and
// the configured retry policy did not resolve it. It implements the
// retryableError contract retry.Retryable checks for, so busy conditions
// encountered outside this package's own retry loops (e.g. a caller wrapping
// a query in retry.WithBackoff) are recognized as retryable too.
type BusyError struct {
	Msg string
}

func (e *BusyError) Error() string {
	return e.Msg
}

func (e *BusyError) Retryable() bool {
	return true
}

// InterruptError reports that a step was aborted by (*Database).Interrupt.
type InterruptError struct{}

func (e *InterruptError) Error() string {
	return "query was interrupted"
}
