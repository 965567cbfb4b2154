package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Op is a filter operator.
type Op string

const (
	OpEq Op = "eq"
	OpIn Op = "in"
)

// Filter restricts a query or subscription to rows whose column matches.
type Filter struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  any    `json:"value"`
}

// Order sorts query results by a single column.
type Order struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// Query is the read request accepted by Select.
type Query struct {
	Filters []Filter
	Order   *Order
	Limit   int
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In matches rows whose column equals one of values.
func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: append([]string(nil), values...)}
}

// Where builds a Query from filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// OrderBy returns a copy of q sorted by column.
func (q Query) OrderBy(column string, descending bool) Query {
	q.Order = &Order{Column: column, Descending: descending}
	return q
}

// Matches reports whether row satisfies every filter.
func Matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		value, ok := row[f.Column]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if !equalValues(value, f.Value) {
				return false
			}
		case OpIn:
			if !containsValue(f.Value, value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits rows in memory. The input is not modified.
func Apply(rows []Row, q Query) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if Matches(row, q.Filters) {
			out = append(out, row)
		}
	}
	if q.Order != nil {
		column, desc := q.Order.Column, q.Order.Descending
		sort.SliceStable(out, func(i, j int) bool {
			c := CompareValues(out[i][column], out[j][column])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// CompareValues orders two column values. Times (or RFC 3339 strings) compare
// chronologically, numbers numerically, everything else by text.
func CompareValues(a, b any) int {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Column == "" {
			return fmt.Errorf("%w: empty filter column", ErrUnknownColumn)
		}
		if f.Op != OpEq && f.Op != OpIn {
			return fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return nil
}

func equalValues(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(set any, value any) bool {
	switch typed := set.(type) {
	case []string:
		for _, item := range typed {
			if equalValues(value, item) {
				return true
			}
		}
	case []any:
		for _, item := range typed {
			if equalValues(value, item) {
				return true
			}
		}
	}
	return false
}

func filterValues(set any) []any {
	switch typed := set.(type) {
	case []string:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = item
		}
		return out
	case []any:
		return typed
	default:
		return nil
	}
}

func asTime(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
