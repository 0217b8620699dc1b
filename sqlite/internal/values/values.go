// Package values implements the Value Bridge: translating host Go values
// into engine bind calls, and engine column values back into host Go
// values. Nothing here knows about statements, stepping, or row shapes —
// only about individual values.
package values

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-extralite/extralite/sqlite/engine"
	"github.com/go-extralite/extralite/types"
)

// ParameterError reports a parameter or parameter-key of an unsupported
// type. Position is 1-based and zero when the error concerns a key instead.
type ParameterError struct {
	Position int
	Key      string
	TypeName string
}

func (e *ParameterError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("unsupported parameter key type %s for key %q", e.TypeName, e.Key)
	}

	return fmt.Sprintf("unsupported parameter type %s at position %d", e.TypeName, e.Position)
}

// Blob marks a string as binary data rather than UTF-8 text when binding.
// []byte and the types.Binary alias for it already bind as blobs; Blob
// exists for callers that hold binary data as a plain string.
type Blob string

// BindPositional binds v at 1-based position pos.
//
// Sequences (slices/arrays, excluding []byte and Blob-like raw-bytes types)
// recursively splat starting at pos, consuming len(v) consecutive
// positions; maps and structs are rejected here since named placeholders
// are only meaningful through BindNamed. It returns the next free position.
func BindPositional(stmt engine.Stmt, pos int, v any) (int, error) {
	if seq, ok := splatSequence(v); ok {
		for _, elem := range seq {
			next, err := BindPositional(stmt, pos, elem)
			if err != nil {
				return pos, err
			}

			pos = next
		}

		return pos, nil
	}

	if err := bindScalar(stmt, pos, v); err != nil {
		return pos, err
	}

	return pos + 1, nil
}

// BindNamed binds v to the placeholder named key (":"-prefixed automatically
// if key doesn't already start with one of ':', '@', '$').
func BindNamed(stmt engine.Stmt, key string, v any) error {
	name := normalizeKey(key)

	pos := stmt.BindParameterIndex(name)
	if pos == 0 {
		// Not every named parameter needs to appear in every statement of a
		// multi-statement script; silently skipping would hide real typos,
		// so this is only reached when the caller explicitly asked for a
		// key this statement doesn't declare.
		return &ParameterError{Key: key, TypeName: "unknown parameter"}
	}

	return bindScalar(stmt, pos, v)
}

// BindParams binds params, in whichever shape the caller supplied it:
//   - nil: no parameters bound.
//   - a map[string]any (or any map with string keys): each entry bound by
//     name via BindNamed.
//   - a struct (or pointer to struct): its exported fields bound by name,
//     using a `db` struct tag if present, else the field name.
//   - anything else, including a single scalar: bound positionally,
//     starting at position 1 (splatting if params is itself a sequence).
func BindParams(stmt engine.Stmt, params any) error {
	if params == nil {
		return nil
	}

	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		return bindMap(stmt, rv)
	case reflect.Struct:
		return bindStruct(stmt, rv)
	default:
		_, err := BindPositional(stmt, 1, params)
		return err
	}
}

func bindMap(stmt engine.Stmt, rv reflect.Value) error {
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() != reflect.String {
			return &ParameterError{Key: fmt.Sprintf("%v", k.Interface()), TypeName: k.Type().String()}
		}

		if err := BindNamed(stmt, k.String(), iter.Value().Interface()); err != nil {
			return err
		}
	}

	return nil
}

func bindStruct(stmt engine.Stmt, rv reflect.Value) error {
	t := rv.Type()

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name := f.Name
		if tag, ok := f.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			if comma := strings.IndexByte(tag, ','); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" {
				name = tag
			}
		}

		if err := BindNamed(stmt, name, rv.Field(i).Interface()); err != nil {
			return err
		}
	}

	return nil
}

// normalizeKey prefixes key with ":" unless it already begins with one of
// the placeholder sigils SQLite recognizes.
func normalizeKey(key string) string {
	if key == "" {
		return key
	}

	switch key[0] {
	case ':', '@', '$':
		return key
	default:
		return ":" + key
	}
}

// splatSequence reports whether v is a sequence that should be splatted
// across consecutive positions, returning its elements boxed as any.
// []byte and Blob are excluded: they bind as a single blob/text value.
func splatSequence(v any) ([]any, bool) {
	switch v.(type) {
	case []byte, Blob, string, types.Binary:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

// bindScalar binds a single non-sequence value at pos, recognizing
// driver.Valuer first so the nullable wrapper types (types.Int, types.String,
// types.UUID, ...) bind exactly as database/sql would bind them.
func bindScalar(stmt engine.Stmt, pos int, v any) error {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return err
		}

		return bindDriverValue(stmt, pos, dv)
	}

	return bindDriverValue(stmt, pos, v)
}

func bindDriverValue(stmt engine.Stmt, pos int, v any) error {
	switch val := v.(type) {
	case nil:
		return stmt.BindNull(pos)
	case int64:
		return stmt.BindInt64(pos, val)
	case int:
		return stmt.BindInt64(pos, int64(val))
	case int32:
		return stmt.BindInt64(pos, int64(val))
	case uint:
		return stmt.BindInt64(pos, int64(val))
	case uint32:
		return stmt.BindInt64(pos, int64(val))
	case float64:
		return stmt.BindFloat64(pos, val)
	case float32:
		return stmt.BindFloat64(pos, float64(val))
	case bool:
		if val {
			return stmt.BindInt64(pos, 1)
		}
		return stmt.BindInt64(pos, 0)
	case Blob:
		return stmt.BindBlob(pos, []byte(val))
	case []byte:
		return stmt.BindBlob(pos, val)
	case types.Binary:
		return stmt.BindBlob(pos, []byte(val))
	case string:
		return stmt.BindText(pos, val)
	case time.Time:
		// time.Time is one of the native driver.Value types, but SQLite has
		// no timestamp storage class; RFC3339Nano round-trips through
		// text and sorts correctly.
		return stmt.BindText(pos, val.Format(time.RFC3339Nano))
	case fmt.Stringer:
		return stmt.BindText(pos, val.String())
	default:
		return &ParameterError{Position: pos, TypeName: fmt.Sprintf("%T", v)}
	}
}

// Column extracts the value of column idx from stmt's current row.
func Column(stmt engine.Stmt, idx int) (any, error) {
	switch stmt.ColumnType(idx) {
	case engine.ColumnTypeNull:
		return nil, nil
	case engine.ColumnTypeInt64:
		return stmt.ColumnInt64(idx), nil
	case engine.ColumnTypeFloat64:
		return stmt.ColumnFloat64(idx), nil
	case engine.ColumnTypeText:
		return stmt.ColumnText(idx), nil
	case engine.ColumnTypeBlob:
		return stmt.ColumnBlob(idx), nil
	default:
		return nil, fmt.Errorf("unknown column type %v for column %q", stmt.ColumnType(idx), stmt.ColumnName(idx))
	}
}
