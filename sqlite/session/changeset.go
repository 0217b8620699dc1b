// Package session implements Changeset capture and replay, spec.md §4.6.
//
// The real SQLite session extension (sqlite3session_*) is C-API-only and
// unreachable through database/sql/driver, so this package observes writes
// by installing AFTER INSERT/UPDATE/DELETE triggers on the tracked tables
// for the lifetime of Track's closure, writing (op, table, old, new) tuples
// into a TEMP shadow table that is dropped on every exit path — the same
// "session observes a connection's writes, then is deleted" shape as the
// real extension, without binary wire-format compatibility with libsqlite3's
// own changeset blobs.
package session

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/logging"
	"github.com/go-extralite/extralite/sqlite"
)

// Op identifies the kind of change one Entry records.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is one captured change, per spec.md §4.6's `each`/`to_a` tuple
// shape: (op, table, old_values, new_values). Columns records the column
// order Old/New values were captured in (not part of the public tuple
// spec.md describes, but required internally by Invert/Apply to rebuild
// SQL against the table).
type Entry struct {
	Op      Op
	Table   string
	Columns []string
	Old     []any
	New     []any
}

// Changeset captures, inverts, applies, and serializes a set of row
// changes, per spec.md §4.6.
type Changeset struct {
	mu      sync.Mutex
	id      uuid.UUID
	entries []Entry
	logger  *logging.Logger
}

// New creates an empty Changeset. logger, if non-nil, receives a debug
// line per Track invocation tagged with the changeset's correlation ID.
func New(logger *logging.Logger) *Changeset {
	return &Changeset{logger: logger}
}

// Track opens a session on db, attaches tables (nil means every table in
// the main schema; an empty, non-nil slice attaches none), runs fn, and
// extracts whatever was captured into the changeset — replacing any
// previous contents — regardless of whether fn succeeds. The session's
// shadow table and triggers are dropped on every exit path, per spec.md
// §4.6's invariant.
func (cs *Changeset) Track(ctx context.Context, db *sqlite.Database, tables []string, fn func() error) error {
	cs.mu.Lock()
	cs.id = uuid.New()
	id := cs.id
	cs.mu.Unlock()

	if cs.logger != nil {
		cs.logger.Debugw("Tracking changeset", "changeset_id", id)
	}

	tracked, err := resolveTables(ctx, db, tables)
	if err != nil {
		return err
	}

	sess := newShadowSession(id, tracked)

	tableColumns, err := sess.install(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		if dropErr := sess.drop(ctx, db); dropErr != nil && cs.logger != nil {
			cs.logger.Warnw("Can't drop changeset shadow session", "changeset_id", id, logging.Error(dropErr))
		}
	}()

	fnErr := fn()

	entries, extractErr := sess.extract(ctx, db, tableColumns)

	cs.mu.Lock()
	cs.entries = entries
	cs.mu.Unlock()

	if fnErr != nil {
		return fnErr
	}

	return extractErr
}

// Each invokes fn once per captured entry, in capture order, stopping
// early if fn returns false.
func (cs *Changeset) Each(fn func(Entry) (bool, error)) error {
	cs.mu.Lock()
	entries := cs.entries
	cs.mu.Unlock()

	for _, e := range entries {
		cont, err := fn(e)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return nil
}

// ToA materializes every captured entry.
func (cs *Changeset) ToA() []Entry {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make([]Entry, len(cs.entries))
	copy(out, cs.entries)

	return out
}

// Invert returns a new changeset that, applied, reverses this one: entries
// are reversed in order (later changes must be undone first) and each
// entry's operation and old/new values are swapped.
func (cs *Changeset) Invert() *Changeset {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	inverted := make([]Entry, len(cs.entries))

	for i, e := range cs.entries {
		j := len(cs.entries) - 1 - i

		inv := Entry{Table: e.Table, Columns: e.Columns}

		switch e.Op {
		case OpInsert:
			inv.Op = OpDelete
			inv.Old = e.New
		case OpDelete:
			inv.Op = OpInsert
			inv.New = e.Old
		case OpUpdate:
			inv.Op = OpUpdate
			inv.Old = e.New
			inv.New = e.Old
		}

		inverted[j] = inv
	}

	return &Changeset{logger: cs.logger, entries: inverted}
}

// Apply replays every captured entry against db, in order. The conflict
// policy is hard-wired to "apply anyway": an UPDATE/DELETE that matches no
// row is silently skipped, and an INSERT that collides with an existing
// row replaces it, rather than aborting the whole changeset — spec.md
// §4.6's "the core wires 'apply anyway'".
func (cs *Changeset) Apply(ctx context.Context, db *sqlite.Database) error {
	cs.mu.Lock()
	entries := make([]Entry, len(cs.entries))
	copy(entries, cs.entries)
	cs.mu.Unlock()

	for _, e := range entries {
		if err := applyEntry(ctx, db, e); err != nil {
			return err
		}
	}

	return nil
}

func applyEntry(ctx context.Context, db *sqlite.Database, e Entry) error {
	switch e.Op {
	case OpInsert:
		return applyInsert(ctx, db, e)
	case OpUpdate:
		return applyUpdate(ctx, db, e)
	case OpDelete:
		return applyDelete(ctx, db, e)
	default:
		return errors.Errorf("changeset: unknown op %v", e.Op)
	}
}

func applyInsert(ctx context.Context, db *sqlite.Database, e Entry) error {
	cols := make([]string, len(e.Columns))
	placeholders := make([]string, len(e.Columns))

	for i, c := range e.Columns {
		cols[i] = quoteIdent(c)
		placeholders[i] = "?"
	}

	sql := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(e.Table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	_, err := db.Execute(ctx, sql, e.New)

	return err
}

func applyDelete(ctx context.Context, db *sqlite.Database, e Entry) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(e.Table), whereClause(e.Columns))

	_, err := db.Execute(ctx, sql, e.Old)

	return err
}

func applyUpdate(ctx context.Context, db *sqlite.Database, e Entry) error {
	sets := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		sets[i] = quoteIdent(c) + " = ?"
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(e.Table), strings.Join(sets, ", "), whereClause(e.Columns))

	params := make([]any, 0, len(e.New)+len(e.Old))
	params = append(params, e.New...)
	params = append(params, e.Old...)

	_, err := db.Execute(ctx, sql, params)

	return err
}

func whereClause(cols []string) string {
	clauses := make([]string, len(cols))
	for i, c := range cols {
		clauses[i] = quoteIdent(c) + " = ?"
	}

	return strings.Join(clauses, " AND ")
}

// gobEntry is Entry's wire form: Op as its underlying int so gob doesn't
// need to register the named type.
type gobEntry struct {
	Op      int
	Table   string
	Columns []string
	Old     []any
	New     []any
}

// ToBlob serializes the changeset's captured entries.
func (cs *Changeset) ToBlob() ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	wire := make([]gobEntry, len(cs.entries))
	for i, e := range cs.entries {
		wire[i] = gobEntry{Op: int(e.Op), Table: e.Table, Columns: e.Columns, Old: e.Old, New: e.New}
	}

	var buf strings.Builder

	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(wire); err != nil {
		return nil, errors.Wrap(err, "can't encode changeset")
	}

	return []byte(buf.String()), nil
}

// Load replaces the changeset's contents with the entries serialized in
// blob, per spec.md §4.6's invariant that the buffer is "freed on drop or
// replaced on re-track/load".
func (cs *Changeset) Load(blob []byte) error {
	var wire []gobEntry

	dec := gob.NewDecoder(strings.NewReader(string(blob)))
	if err := dec.Decode(&wire); err != nil {
		return errors.Wrap(err, "can't decode changeset")
	}

	entries := make([]Entry, len(wire))
	for i, w := range wire {
		entries[i] = Entry{Op: Op(w.Op), Table: w.Table, Columns: w.Columns, Old: w.Old, New: w.New}
	}

	cs.mu.Lock()
	cs.entries = entries
	cs.mu.Unlock()

	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlStringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// resolveTables expands a nil tables argument to every table in the main
// schema; a non-nil (possibly empty) slice is used as given, per spec.md
// §4.6 and §9's Open Question decision.
func resolveTables(ctx context.Context, db *sqlite.Database, tables []string) ([]string, error) {
	if tables != nil {
		return tables, nil
	}

	rows, err := db.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\'",
		nil, sqlite.QueryOptions{Mode: sqlite.RowSplat})
	if err != nil {
		return nil, err
	}

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.(string)
	}

	return names, nil
}

// decodeJSONArray parses a json_array()-produced TEXT value into a []any,
// preserving SQLite's integer/real distinction (json.Number, rather than
// collapsing every number to float64 the way encoding/json's default
// decoding would).
func decodeJSONArray(text string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "can't decode captured row values")
	}

	out := make([]any, len(raw))

	for i, v := range raw {
		num, ok := v.(json.Number)
		if !ok {
			out[i] = v
			continue
		}

		if i64, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
			out[i] = i64
			continue
		}

		f64, err := num.Float64()
		if err != nil {
			return nil, errors.Wrap(err, "can't parse captured numeric value")
		}

		out[i] = f64
	}

	return out, nil
}
