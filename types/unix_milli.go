package types

import (
	"encoding"
	"encoding/json"
	"github.com/pkg/errors"
	"strconv"
	"time"
)

// UnixMilli is a time.Time that marshals to and from a Unix timestamp in milliseconds,
// used for timestamp columns exchanged with callers that do not want to deal with RFC 3339.
type UnixMilli time.Time

// MarshalJSON implements the json.Marshaler interface.
// The zero value marshals to JSON null.
func (t UnixMilli) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}

	return []byte(strconv.FormatInt(t.millis(), 10)), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// JSON null unmarshals to the zero value.
func (t *UnixMilli) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = UnixMilli{}
		return nil
	}

	return t.UnmarshalText(data)
}

// MarshalText implements the encoding.TextMarshaler interface.
// The zero value marshals to an empty string.
func (t UnixMilli) MarshalText() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte{}, nil
	}

	return []byte(strconv.FormatInt(t.millis(), 10)), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
// The empty string unmarshals to the zero value.
func (t *UnixMilli) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = UnixMilli{}
		return nil
	}

	ms, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "can't parse %q into a Unix millisecond timestamp", text)
	}

	*t = UnixMilli(time.UnixMilli(ms))

	return nil
}

// millis returns t as milliseconds elapsed since January 1, 1970 UTC.
func (t UnixMilli) millis() int64 {
	tm := time.Time(t)
	return tm.Unix()*1000 + int64(tm.Nanosecond())/int64(time.Millisecond)
}

// Assert interface compliance.
var (
	_ json.Marshaler           = UnixMilli{}
	_ json.Unmarshaler         = (*UnixMilli)(nil)
	_ encoding.TextMarshaler   = UnixMilli{}
	_ encoding.TextUnmarshaler = (*UnixMilli)(nil)
)
