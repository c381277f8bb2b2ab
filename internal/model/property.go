package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// PropertyDescriptor names a queryable property and the Go type of its values.
// Descriptors are comparable and equal when name and type are equal.
type PropertyDescriptor struct {
	Name string
	Type reflect.Type
}

// NewPropertyDescriptor returns the descriptor for a property of type T.
func NewPropertyDescriptor[T any](name string) PropertyDescriptor {
	return PropertyDescriptor{Name: name, Type: reflect.TypeOf((*T)(nil)).Elem()}
}

func (d PropertyDescriptor) String() string {
	if d.Type == nil {
		return d.Name
	}
	return d.Name + ":" + d.Type.String()
}

// Operator is a scalar comparison.
type Operator string

const (
	OpEQ   Operator = "EQ"
	OpNE   Operator = "NE"
	OpLT   Operator = "LT"
	OpLE   Operator = "LE"
	OpGT   Operator = "GT"
	OpGE   Operator = "GE"
	OpLike Operator = "LIKE"
)

// PropertyMatcher constrains a scalar property of the models a query returns.
type PropertyMatcher struct {
	Descriptor PropertyDescriptor
	Operator   Operator
	Operand    any
}

// Equal builds an equality matcher.
func Equal(d PropertyDescriptor, v any) PropertyMatcher {
	return PropertyMatcher{Descriptor: d, Operator: OpEQ, Operand: v}
}

// Key is a canonical string form of the matcher.
func (m PropertyMatcher) Key() string {
	return fmt.Sprintf("%s %s %v", m.Descriptor, m.Operator, m.Operand)
}

// Matches evaluates the matcher against a property value. A nil value never
// matches.
func (m PropertyMatcher) Matches(v any) bool {
	if v == nil {
		return false
	}
	if m.Operator == OpLike {
		s, ok := v.(string)
		p, pok := m.Operand.(string)
		return ok && pok && likeMatch(s, p)
	}

	c, ok := Compare(v, m.Operand)
	if !ok {
		return m.Operator == OpNE
	}
	switch m.Operator {
	case OpEQ:
		return c == 0
	case OpNE:
		return c != 0
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	default:
		return false
	}
}

// MatchersKey returns a canonical key for a set of matchers, independent of
// their order. Two queries with the same key have compatible scalar
// constraints.
func MatchersKey(ms []PropertyMatcher) string {
	keys := make([]string, len(ms))
	for i, m := range ms {
		keys[i] = m.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}

// MatchAll reports whether every matcher accepts the property values.
func MatchAll(ms []PropertyMatcher, values map[string]any) bool {
	for _, m := range ms {
		if !m.Matches(values[m.Descriptor.Name]) {
			return false
		}
	}
	return true
}

// OrderSpecifier orders query results by a property.
type OrderSpecifier struct {
	Descriptor PropertyDescriptor
	Descending bool
}

// Compare orders two scalar values. Numbers compare numerically regardless of
// their concrete type; strings compare lexically. ok is false when the values
// are not comparable.
func Compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, ok := a.(string)
	if !ok {
		if reflect.DeepEqual(a, b) {
			return 0, true
		}
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// likeMatch supports a leading and/or trailing '*' wildcard.
func likeMatch(s, pattern string) bool {
	prefix := strings.HasPrefix(pattern, "*")
	suffix := strings.HasSuffix(pattern, "*") && len(pattern) > 1
	core := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
	switch {
	case prefix && suffix:
		return strings.Contains(s, core)
	case prefix:
		return strings.HasSuffix(s, core)
	case suffix:
		return strings.HasPrefix(s, core)
	default:
		return s == pattern
	}
}
