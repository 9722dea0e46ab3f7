package schema

import "time"

// Row is a flat column-to-value view of a record. It is the common currency
// between the mutation log, the remote client, and the conflict resolver:
// values are either scalars (string, int64, float64, nil) or, after a JSON
// round trip, the float64/string forms JSON decodes to. Accessors coerce.
type Row map[string]any

// String returns the value for key as a string, or "" if absent or not a string.
func (r Row) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// StringPtr returns the value for key as a *string, or nil for absent/null.
func (r Row) StringPtr(key string) *string {
	if v, ok := r[key].(string); ok {
		return &v
	}
	return nil
}

// Int returns the value for key as an int64, coercing the numeric types
// that database scans and JSON decoding produce.
func (r Row) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float returns the value for key as a float64.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Time interprets the value for key as unix milliseconds.
// Returns the zero time for absent or null values.
func (r Row) Time(key string) time.Time {
	if _, ok := r[key]; !ok {
		return time.Time{}
	}
	if r[key] == nil {
		return time.Time{}
	}
	return time.UnixMilli(r.Int(key)).UTC()
}

// TimePtr is Time for nullable columns: nil for absent or null.
func (r Row) TimePtr(key string) *time.Time {
	if v, ok := r[key]; !ok || v == nil {
		return nil
	}
	t := time.UnixMilli(r.Int(key)).UTC()
	return &t
}

// Has reports whether key is present, even with a null value.
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ScanRow builds a Row from one database scan. NULL columns stay present
// with a nil value; []byte columns become strings. The scan argument is
// row.Scan from either database handle, local or remote.
func ScanRow(cols []string, scan func(dest ...any) error) (Row, error) {
	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}

	r := make(Row, len(cols))
	for i, col := range cols {
		switch v := vals[i].(type) {
		case []byte:
			r[col] = string(v)
		default:
			r[col] = v
		}
	}
	return r, nil
}

// Millis converts a time to the unix-millisecond form rows carry.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// MillisPtr converts a nullable time to a row value (nil stays nil).
func MillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// ptrValue converts a *string to a row value (nil stays nil).
func ptrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
