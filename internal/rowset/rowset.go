// Package rowset holds the ordered records returned by the answering service.
//
// Backend rows are JSON objects. Chart inference and table rendering both depend on the
// column order the backend emitted, which a plain map would lose, so Record keeps the
// keys in decode order next to the values.
package rowset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one row of a result set: an ordered mapping from column name to scalar value.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a record from alternating column/value pairs.
func NewRecord(pairs ...any) Record {
	r := Record{values: make(map[string]any, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			name = fmt.Sprint(pairs[i])
		}
		r.Set(name, pairs[i+1])
	}
	return r
}

// Set assigns a column value, appending the column if it is new.
func (r *Record) Set(column string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[column]; !ok {
		r.keys = append(r.keys, column)
	}
	r.values[column] = value
}

// Columns returns the column names in backend order.
func (r Record) Columns() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value for a column.
func (r Record) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value for a column, or nil when absent.
func (r Record) Value(column string) any {
	return r.values[column]
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// MarshalJSON writes the record as a JSON object preserving column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal column %s: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. Numbers decode as json.Number
// so integer and decimal text survive unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	*r = Record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode column %s: %w", key, err)
		}
		r.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Columns returns the column set of a result set, taken from its first record.
func Columns(rows []Record) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Columns()
}

// FormatValue renders a scalar for display.
func FormatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
