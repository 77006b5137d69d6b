package counter

import (
	"reflect"
	"strings"

	"github.com/example/fibo/internal/ports/secondary"
)

// Predicate decides whether a document counts towards an aggregate.
type Predicate func(doc secondary.Document) bool

// MatchesFilters reports whether data satisfies every filter.
func MatchesFilters(data map[string]any, filters []secondary.Filter) bool {
	for _, f := range filters {
		v, ok := Lookup(data, f.Field)
		if !ok {
			return false
		}
		switch f.Op {
		case secondary.OpEqual:
			if !valuesEqual(v, f.Value) {
				return false
			}
		case secondary.OpArrayContains:
			if !arrayContains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Lookup resolves a dotted field path ("owner.id") inside document data.
func Lookup(data map[string]any, field string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func arrayContains(v, want any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(rv.Index(i).Interface(), want) {
			return true
		}
	}
	return false
}

// valuesEqual compares scalars, treating all numeric kinds as float64 so
// values decoded from JSON compare equal to values written in config.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// FieldEquals returns a predicate matching documents whose field equals value.
func FieldEquals(field string, value any) Predicate {
	return func(doc secondary.Document) bool {
		v, ok := Lookup(doc.Data, field)
		return ok && valuesEqual(v, value)
	}
}
