package datastore

import "testing"

func TestFilterOperatorMatches(t *testing.T) {
	data := map[string]any{"state": "draft", "rank": float64(5)}

	testCases := []struct {
		name     string
		filter   FilterOperator
		expected bool
	}{
		{"equal match", FilterOperator{Field: "state", Operator: OpEqual, Value: "draft"}, true},
		{"equal mismatch", FilterOperator{Field: "state", Operator: OpEqual, Value: "final"}, false},
		{"not equal", FilterOperator{Field: "state", Operator: OpNotEqual, Value: "final"}, true},
		{"less", FilterOperator{Field: "rank", Operator: OpLess, Value: float64(6)}, true},
		{"less or equal boundary", FilterOperator{Field: "rank", Operator: OpLessOrEqual, Value: float64(5)}, true},
		{"greater", FilterOperator{Field: "rank", Operator: OpGreater, Value: float64(5)}, false},
		{"greater or equal boundary", FilterOperator{Field: "rank", Operator: OpGreaterOrEqual, Value: 5}, true},
		{"missing field", FilterOperator{Field: "missing", Operator: OpEqual, Value: "x"}, false},
		{"numeric compare on string field", FilterOperator{Field: "state", Operator: OpLess, Value: float64(1)}, false},
		{"unknown operator", FilterOperator{Field: "state", Operator: "~", Value: "draft"}, false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.filter.Matches(data); got != testCase.expected {
				t.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestCompositeFilters(t *testing.T) {
	data := map[string]any{"state": "draft", "rank": float64(5)}

	and := And{Filters: []Filter{
		FilterOperator{Field: "state", Operator: OpEqual, Value: "draft"},
		FilterOperator{Field: "rank", Operator: OpGreater, Value: float64(1)},
	}}
	if !and.Matches(data) {
		t.Fatalf("expected conjunction to match")
	}

	or := Or{Filters: []Filter{
		FilterOperator{Field: "state", Operator: OpEqual, Value: "final"},
		FilterOperator{Field: "rank", Operator: OpEqual, Value: float64(5)},
	}}
	if !or.Matches(data) {
		t.Fatalf("expected disjunction to match")
	}

	not := Not{Filter: FilterOperator{Field: "state", Operator: OpEqual, Value: "final"}}
	if !not.Matches(data) {
		t.Fatalf("expected negation to match")
	}

	emptyAnd := And{}
	if !emptyAnd.Matches(data) {
		t.Fatalf("empty conjunction must match everything")
	}
	emptyOr := Or{}
	if emptyOr.Matches(data) {
		t.Fatalf("empty disjunction must match nothing")
	}
}
