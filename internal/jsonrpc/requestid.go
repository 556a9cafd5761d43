package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a correlation id: a string or a number on the wire. The zero
// value (and a nil pointer) means "no id", which is how notifications travel.
//
// Numeric ids are normalized to int64 when integral, float64 otherwise, so
// an id allocated from a session counter compares equal to the same id
// decoded off the wire.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric id. Unsupported kinds yield an
// absent id.
func NewRequestID(value any) *RequestID {
	id := &RequestID{}
	switch v := value.(type) {
	case string:
		id.value = v
	case int:
		id.value = int64(v)
	case int8:
		id.value = int64(v)
	case int16:
		id.value = int64(v)
	case int32:
		id.value = int64(v)
	case int64:
		id.value = v
	case uint:
		id.value = int64(v)
	case uint8:
		id.value = int64(v)
	case uint16:
		id.value = int64(v)
	case uint32:
		id.value = int64(v)
	case uint64:
		id.value = int64(v)
	case float32:
		id.value = normalizeFloat(float64(v))
	case float64:
		id.value = normalizeFloat(v)
	}
	return id
}

func normalizeFloat(f float64) any {
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

// String renders the id for logs and lookups. Absent ids render empty.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return ""
}

// Int64 reports the id as an integer. The second return is false for string,
// fractional, and absent ids. Correlation against the session's counter goes
// through here.
func (id *RequestID) Int64() (int64, bool) {
	if id == nil {
		return 0, false
	}
	n, ok := id.value.(int64)
	return n, ok
}

// MarshalJSON writes the underlying value; absent ids write null.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts a JSON string or number, normalizing numbers the
// same way NewRequestID does.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		id.value = normalizeFloat(num)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	return fmt.Errorf("id must be a string or number, have %s", string(data))
}
