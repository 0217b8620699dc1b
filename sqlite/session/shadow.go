package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-extralite/extralite/sqlite"
)

// shadowSession is the trigger-based stand-in for a real sqlite3_session:
// one TEMP log table plus three TEMP triggers per tracked table, installed
// for the lifetime of one Track call and dropped afterward.
type shadowSession struct {
	logTable string
	tables   []string
	triggers []string
}

func newShadowSession(id uuid.UUID, tables []string) *shadowSession {
	suffix := strings.ReplaceAll(id.String(), "-", "")

	return &shadowSession{
		logTable: "__cs_log_" + suffix,
		tables:   tables,
	}
}

// install creates the shadow log table and the capture triggers, and
// returns each tracked table's column order.
func (s *shadowSession) install(ctx context.Context, db *sqlite.Database) (map[string][]string, error) {
	createLog := fmt.Sprintf(
		`CREATE TEMP TABLE %s (seq INTEGER PRIMARY KEY AUTOINCREMENT, op TEXT NOT NULL, tbl TEXT NOT NULL, old_vals TEXT, new_vals TEXT)`,
		quoteIdent(s.logTable))

	if _, err := db.Execute(ctx, createLog, nil); err != nil {
		return nil, errors.Wrap(err, "can't create changeset shadow table")
	}

	tableColumns := make(map[string][]string, len(s.tables))

	for _, table := range s.tables {
		cols, err := tableColumnNames(ctx, db, table)
		if err != nil {
			_ = s.drop(ctx, db)
			return nil, err
		}

		tableColumns[table] = cols

		if err := s.installTriggers(ctx, db, table, cols); err != nil {
			_ = s.drop(ctx, db)
			return nil, err
		}
	}

	return tableColumns, nil
}

func tableColumnNames(ctx context.Context, db *sqlite.Database, table string) ([]string, error) {
	rows, err := db.Query(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid ASC",
		table, sqlite.QueryOptions{Mode: sqlite.RowSplat})
	if err != nil {
		return nil, errors.Wrapf(err, "can't introspect columns of table %q", table)
	}

	if len(rows) == 0 {
		return nil, errors.Errorf("changeset: table %q has no columns (does it exist?)", table)
	}

	cols := make([]string, len(rows))
	for i, r := range rows {
		cols[i] = r.(string)
	}

	return cols, nil
}

func (s *shadowSession) installTriggers(ctx context.Context, db *sqlite.Database, table string, cols []string) error {
	refs := func(prefix string) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = prefix + "." + quoteIdent(c)
		}

		return strings.Join(parts, ", ")
	}

	newRefs, oldRefs := refs("NEW"), refs("OLD")
	tableLit := sqlStringLiteral(table)

	specs := []struct {
		suffix string
		sql    string
	}{
		{"ai", fmt.Sprintf(
			`CREATE TEMP TRIGGER %s AFTER INSERT ON main.%s BEGIN INSERT INTO %s (op, tbl, old_vals, new_vals) VALUES ('insert', %s, NULL, json_array(%s)); END`,
			quoteIdent(s.triggerName(table, "ai")), quoteIdent(table), quoteIdent(s.logTable), tableLit, newRefs)},
		{"au", fmt.Sprintf(
			`CREATE TEMP TRIGGER %s AFTER UPDATE ON main.%s BEGIN INSERT INTO %s (op, tbl, old_vals, new_vals) VALUES ('update', %s, json_array(%s), json_array(%s)); END`,
			quoteIdent(s.triggerName(table, "au")), quoteIdent(table), quoteIdent(s.logTable), tableLit, oldRefs, newRefs)},
		{"ad", fmt.Sprintf(
			`CREATE TEMP TRIGGER %s AFTER DELETE ON main.%s BEGIN INSERT INTO %s (op, tbl, old_vals, new_vals) VALUES ('delete', %s, json_array(%s), NULL); END`,
			quoteIdent(s.triggerName(table, "ad")), quoteIdent(table), quoteIdent(s.logTable), tableLit, oldRefs)},
	}

	for _, spec := range specs {
		if _, err := db.Execute(ctx, spec.sql, nil); err != nil {
			return errors.Wrapf(err, "can't install changeset trigger on table %q", table)
		}

		s.triggers = append(s.triggers, s.triggerName(table, spec.suffix))
	}

	return nil
}

func (s *shadowSession) triggerName(table, suffix string) string {
	return fmt.Sprintf("%s_%s_%s", s.logTable, table, suffix)
}

// extract reads every captured row out of the shadow log table, in capture
// order, decoding each old/new JSON array.
func (s *shadowSession) extract(ctx context.Context, db *sqlite.Database, tableColumns map[string][]string) ([]Entry, error) {
	sql := fmt.Sprintf("SELECT op, tbl, old_vals, new_vals FROM %s ORDER BY seq ASC", quoteIdent(s.logTable))

	rows, err := db.Query(ctx, sql, nil, sqlite.QueryOptions{Mode: sqlite.RowAry})
	if err != nil {
		return nil, errors.Wrap(err, "can't extract changeset")
	}

	entries := make([]Entry, 0, len(rows))

	for _, r := range rows {
		row := r.([]any)

		opName, _ := row[0].(string)
		table, _ := row[1].(string)

		var op Op

		switch opName {
		case "insert":
			op = OpInsert
		case "update":
			op = OpUpdate
		case "delete":
			op = OpDelete
		default:
			return nil, errors.Errorf("changeset: unrecognized captured op %q", opName)
		}

		old, err := decodeOptionalJSONArray(row[2])
		if err != nil {
			return nil, err
		}

		newVals, err := decodeOptionalJSONArray(row[3])
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{
			Op:      op,
			Table:   table,
			Columns: tableColumns[table],
			Old:     old,
			New:     newVals,
		})
	}

	return entries, nil
}

func decodeOptionalJSONArray(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}

	text, ok := v.(string)
	if !ok {
		return nil, errors.Errorf("changeset: expected text column, got %T", v)
	}

	return decodeJSONArray(text)
}

// drop removes every installed trigger and the shadow log table, best
// effort, per spec.md §4.6's "the session is deleted on every exit path".
func (s *shadowSession) drop(ctx context.Context, db *sqlite.Database) error {
	var firstErr error

	for _, trigger := range s.triggers {
		if _, err := db.Execute(ctx, "DROP TRIGGER IF EXISTS "+quoteIdent(trigger), nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if _, err := db.Execute(ctx, "DROP TABLE IF EXISTS "+quoteIdent(s.logTable), nil); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
