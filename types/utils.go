package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"reflect"
)

// MarshalJSON marshals v into JSON without HTML-escaping.
// Used by the nullable types in this package to implement json.Marshaler.
func MarshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "can't marshal JSON")
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON unmarshals data into v.
// Used by the nullable types in this package to implement json.Unmarshaler.
func UnmarshalJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "can't unmarshal JSON %q into %s", data, Name(v))
	}

	return nil
}

// CantParseInt64 wraps err, indicating that text could not be parsed into an int64.
func CantParseInt64(err error, text string) error {
	return errors.Wrapf(err, "can't parse %q into int64", text)
}

// CantParseUint64 wraps err, indicating that text could not be parsed into a uint64.
func CantParseUint64(err error, text string) error {
	return errors.Wrapf(err, "can't parse %q into uint64", text)
}

// CantParseFloat64 wraps err, indicating that text could not be parsed into a float64.
func CantParseFloat64(err error, text string) error {
	return errors.Wrapf(err, "can't parse %q into float64", text)
}

// Name returns a short, human-readable name for the type of v,
// stripped of any package qualifier and pointer indirection.
// If v is nil, Name returns "<nil>".
func Name(v any) string {
	if v == nil {
		return fmt.Sprintf("%v", v)
	}

	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}
