package datastore

import "reflect"

// Filter selects models by their field data.
type Filter interface {
	// Matches reports whether a model's field data satisfies the filter.
	Matches(data map[string]any) bool
}

// FilterOperator compares one field against a value.
type FilterOperator struct {
	Field    string
	Operator string
	Value    any
}

// Comparison operators accepted by FilterOperator.
const (
	OpEqual          = "="
	OpNotEqual       = "!="
	OpLess           = "<"
	OpLessOrEqual    = "<="
	OpGreater        = ">"
	OpGreaterOrEqual = ">="
)

// Matches implements Filter.
func (f FilterOperator) Matches(data map[string]any) bool {
	value, ok := data[f.Field]
	if !ok {
		return false
	}
	switch f.Operator {
	case OpEqual:
		return reflect.DeepEqual(value, f.Value)
	case OpNotEqual:
		return !reflect.DeepEqual(value, f.Value)
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		left, leftOK := numericValue(value)
		right, rightOK := numericValue(f.Value)
		if !leftOK || !rightOK {
			return false
		}
		switch f.Operator {
		case OpLess:
			return left < right
		case OpLessOrEqual:
			return left <= right
		case OpGreater:
			return left > right
		default:
			return left >= right
		}
	default:
		return false
	}
}

// And matches models satisfying every inner filter.
type And struct {
	Filters []Filter
}

// Matches implements Filter.
func (f And) Matches(data map[string]any) bool {
	for _, inner := range f.Filters {
		if !inner.Matches(data) {
			return false
		}
	}
	return true
}

// Or matches models satisfying at least one inner filter.
type Or struct {
	Filters []Filter
}

// Matches implements Filter.
func (f Or) Matches(data map[string]any) bool {
	for _, inner := range f.Filters {
		if inner.Matches(data) {
			return true
		}
	}
	return false
}

// Not inverts an inner filter.
type Not struct {
	Filter Filter
}

// Matches implements Filter.
func (f Not) Matches(data map[string]any) bool {
	return !f.Filter.Matches(data)
}

func numericValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}
