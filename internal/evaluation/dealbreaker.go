package evaluation

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

// EvaluateDealBreakers returns one description per violated rule, formatted as
// "<field> <op> <value>". Rules on fields the proposal does not carry are
// skipped. A rule whose operands cannot be compared never fires.
func EvaluateDealBreakers(terms model.Terms, s model.Strategy) []string {
	var violations []string
	for _, rule := range s.DealBreakers {
		got, ok := terms.Field(rule.Field)
		if !ok {
			continue
		}
		if violates(rule.Operator, got, rule.Value) {
			violations = append(violations, rule.String())
		}
	}
	return violations
}

func violates(op string, got, want any) bool {
	switch op {
	case model.OpLess:
		g, ok1 := toFloat(got)
		w, ok2 := toFloat(want)
		return ok1 && ok2 && g < w
	case model.OpGreater:
		g, ok1 := toFloat(got)
		w, ok2 := toFloat(want)
		return ok1 && ok2 && g > w
	case model.OpEqual, model.OpEqualEq:
		return equal(got, want)
	case model.OpContains:
		return containsValue(got, want)
	}
	return false
}

func equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(haystack, needle any) bool {
	v := reflect.ValueOf(haystack)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if equal(v.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// FormatViolations joins violation descriptions into one rejection reason.
func FormatViolations(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "deal breaker violated: " + strings.Join(violations, "; ")
}
