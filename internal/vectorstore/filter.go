package vectorstore

import (
	"fmt"
	"strings"
)

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpIn
)

// Condition constrains one metadata key. For OpEq, Values has exactly one
// element. Values are string, bool or int64.
type Condition struct {
	Key    string
	Op     Op
	Values []any
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition
}

// Eq matches records whose key equals v. A []string field matches when any
// element equals v.
func Eq(key string, v any) Condition {
	return Condition{Key: key, Op: OpEq, Values: []any{v}}
}

// In matches records whose key equals any of vs.
func In(key string, vs ...string) Condition {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return Condition{Key: key, Op: OpIn, Values: values}
}

// NewFilter builds a filter from conditions.
func NewFilter(conds ...Condition) *Filter {
	return &Filter{Must: conds}
}

// And returns a new filter with conds appended.
func (f *Filter) And(conds ...Condition) *Filter {
	out := &Filter{}
	if f != nil {
		out.Must = append(out.Must, f.Must...)
	}
	out.Must = append(out.Must, conds...)
	return out
}

// Keys returns the keys constrained by f.
func (f *Filter) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, 0, len(f.Must))
	for _, c := range f.Must {
		keys = append(keys, c.Key)
	}
	return keys
}

// Validate normalises condition values and checks the filter shape.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for i := range f.Must {
		c := &f.Must[i]
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("%w: condition %d has empty key", ErrInvalidFilter, i)
		}
		switch c.Op {
		case OpEq:
			if len(c.Values) != 1 {
				return fmt.Errorf("%w: equality on %q needs exactly one value", ErrInvalidFilter, c.Key)
			}
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: membership on %q needs at least one value", ErrInvalidFilter, c.Key)
			}
		default:
			return fmt.Errorf("%w: unknown operator %d on %q", ErrInvalidFilter, c.Op, c.Key)
		}
		for j, v := range c.Values {
			nv, ok := normalizeValue(v)
			if !ok {
				return fmt.Errorf("%w: %q value %d has type %T", ErrInvalidFilter, c.Key, j, v)
			}
			switch nv.(type) {
			case string, bool, int64:
				c.Values[j] = nv
			default:
				return fmt.Errorf("%w: %q value %d must be string, bool or integer", ErrInvalidFilter, c.Key, j)
			}
		}
	}
	return nil
}

// Matches evaluates f against m. Used by backends without native filtering.
func (f *Filter) Matches(m Metadata) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(m[c.Key]) {
			return false
		}
	}
	return true
}

func (c Condition) matches(stored any) bool {
	if stored == nil {
		return false
	}
	if list, ok := stored.([]string); ok {
		for _, s := range list {
			if c.matchesValue(s) {
				return true
			}
		}
		return false
	}
	return c.matchesValue(stored)
}

func (c Condition) matchesValue(stored any) bool {
	for _, want := range c.Values {
		if valuesEqual(stored, want) {
			return true
		}
	}
	return false
}

func valuesEqual(stored, want any) bool {
	switch w := want.(type) {
	case int64:
		switch s := stored.(type) {
		case int64:
			return s == w
		case float64:
			return s == float64(w)
		}
		return false
	default:
		return stored == want
	}
}
