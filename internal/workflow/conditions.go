package workflow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
)

// Evaluator checks rule conditions against an event payload. All conditions
// of a rule are ANDed; an empty list is satisfied.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate reports whether every condition holds for payload. Malformed
// conditions are logged and fail.
func (e *Evaluator) Evaluate(conditions []models.Condition, payload map[string]any) bool {
	for _, c := range conditions {
		ok, err := EvaluateCondition(c, payload)
		if err != nil {
			e.logger.Warn().
				Str("field", c.Field).
				Str("operator", string(c.Operator)).
				Err(err).
				Msg("workflow: malformed condition treated as failing")
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// EvaluateCondition evaluates a single condition. A missing field is false.
// Numeric comparisons need numbers on both sides; numeric strings are not
// coerced. A *ConditionError is returned for an empty field or an unknown
// operator.
func EvaluateCondition(c models.Condition, payload map[string]any) (bool, error) {
	if strings.TrimSpace(c.Field) == "" {
		return false, &ConditionError{Condition: c, Reason: "field is empty"}
	}
	if !c.Operator.Valid() {
		return false, &ConditionError{Condition: c, Reason: "unknown operator"}
	}

	actual, ok := lookupField(payload, c.Field)
	if !ok {
		return false, nil
	}

	switch c.Operator {
	case models.OpEquals:
		return valuesEqual(actual, c.Value), nil
	case models.OpNotEquals:
		return !valuesEqual(actual, c.Value), nil
	case models.OpGreaterThan, models.OpLessThan:
		a, aok := toNumber(actual)
		b, bok := toNumber(c.Value)
		if !aok || !bok {
			return false, nil
		}
		if c.Operator == models.OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case models.OpContains:
		return contains(actual, c.Value), nil
	case models.OpIn, models.OpNotIn:
		list, ok := toList(c.Value)
		if !ok {
			return false, nil
		}
		member := inList(actual, list)
		if c.Operator == models.OpIn {
			return member, nil
		}
		return !member, nil
	}
	return false, nil
}

// lookupField walks a dot separated path through nested maps.
func lookupField(payload map[string]any, path string) (any, bool) {
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func valuesEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return reflect.DeepEqual(a, b)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(actual, want any) bool {
	switch v := actual.(type) {
	case string:
		if want == nil {
			return false
		}
		return strings.Contains(strings.ToLower(v), strings.ToLower(fmt.Sprint(want)))
	default:
		list, ok := toList(actual)
		if !ok {
			return false
		}
		return inList(want, list)
	}
}

func inList(v any, list []any) bool {
	for _, item := range list {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	}
	return 0, false
}
