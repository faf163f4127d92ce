package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Limits enforced by Client.Upsert.
const (
	// MaxTextBatch bounds batches whose records carry text payloads.
	MaxTextBatch = 96
	// MaxVectorBatch bounds batches of vectors with metadata only.
	MaxVectorBatch = 1000
	// MaxMetadataBytes bounds the JSON size of one record's metadata.
	MaxMetadataBytes = 40 * 1024

	// FlatSuffix marks keys holding JSON-serialised nested values.
	FlatSuffix = "_flat"
)

// textPayloadKeys mark a record as carrying text.
var textPayloadKeys = []string{"keyText", "content"}

// Metadata is a flat payload: values are string, bool, int64, float64 or
// []string.
type Metadata map[string]any

// Record is a vector with its id and metadata.
type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match is one query result.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// IndexHandle describes a ready index.
type IndexHandle struct {
	Name      string
	Dimension int
	Metric    string
}

// IndexStats summarises index contents.
type IndexStats struct {
	Dimension  int
	TotalCount int64
	// Namespaces holds per-namespace counts when the backend can list them.
	Namespaces map[string]int64
}

// hasText reports whether the record carries a text payload.
func (r Record) hasText() bool {
	for _, k := range textPayloadKeys {
		if s, ok := r.Metadata[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

// Copy returns a shallow copy of m; []string values are cloned.
func (m Metadata) Copy() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// String returns the string value at key.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Float returns the numeric value at key as float64.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns the numeric value at key as int64. Floats are truncated.
func (m Metadata) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Bool returns the bool value at key.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Strings returns the []string value at key.
func (m Metadata) Strings(key string) []string {
	ss, _ := m[key].([]string)
	return ss
}

// Keys returns the sorted keys of m.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FlattenMetadata converts arbitrary caller metadata into flat Metadata.
// Primitive values are kept, with integers widened to int64 and floats to
// float64. []string is kept. Nil values are dropped. Any other value is
// JSON-encoded and stored as a string under key+"_flat".
func FlattenMetadata(in map[string]any) (Metadata, error) {
	out := make(Metadata, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		if flat, ok := normalizeValue(v); ok {
			out[k] = flat
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMetadataNotFlat, k, err)
		}
		out[k+FlatSuffix] = string(b)
	}
	return out, nil
}

// normalizeValue returns v in canonical flat form.
func normalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case string, bool, int64, float64:
		return x, true
	case []string:
		return append([]string(nil), x...), true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return uintValue(x)
	case float32:
		return float64(x), true
	}

	// Named string or numeric types.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	}
	return nil, false
}

func uintValue(u uint64) (any, bool) {
	if u > math.MaxInt64 {
		return float64(u), true
	}
	return int64(u), true
}

// ValidateFlat reports ErrMetadataNotFlat if any value is outside the flat
// value set, and rejects non-finite floats.
func ValidateFlat(m Metadata) error {
	for _, k := range m.Keys() {
		switch v := m[k].(type) {
		case string, bool, int64, []string:
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: key %q holds a non-finite number", ErrMetadataNotFlat, k)
			}
		default:
			return fmt.Errorf("%w: key %q has type %T", ErrMetadataNotFlat, k, v)
		}
	}
	return nil
}

// metadataSize is the JSON-encoded size of m.
func metadataSize(m Metadata) (int, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
