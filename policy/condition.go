// policy/condition.go
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	aegis_errors "github.com/aegis-authz/aegis/errors"
	"github.com/aegis-authz/aegis/model"
)

// EvaluateConditions reports whether every condition in the list holds
// against the request (conditions are ANDed). A malformed condition —
// unknown operator, uncompilable regex — is a route-author error and
// surfaces as an error rather than a silent false.
func EvaluateConditions(conditions []model.Condition, reqCtx *RequestContext) (bool, error) {
	for _, condition := range conditions {
		matched, err := EvaluateCondition(condition, reqCtx)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// EvaluateCondition evaluates a single declarative predicate.
func EvaluateCondition(condition model.Condition, reqCtx *RequestContext) (bool, error) {
	if !condition.Operator.IsValid() {
		return false, fmt.Errorf("%w: %q", aegis_errors.ErrInvalidOperator, condition.Operator)
	}

	actual, found := reqCtx.ResolveField(condition.Field)
	if !found {
		// An absent field satisfies the negative operators trivially and
		// fails everything else.
		switch condition.Operator {
		case model.OpNeq, model.OpNin:
			return true, nil
		default:
			return false, nil
		}
	}

	return compare(condition.Operator, actual, condition.Value)
}

func compare(op model.Operator, actual, expected interface{}) (bool, error) {
	switch op {
	case model.OpEq:
		return equalValues(actual, expected), nil
	case model.OpNeq:
		return !equalValues(actual, expected), nil
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		return compareOrdered(op, actual, expected), nil
	case model.OpIn:
		return memberOf(actual, expected), nil
	case model.OpNin:
		return !memberOf(actual, expected), nil
	case model.OpContains:
		return containsValue(actual, expected), nil
	case model.OpRegex:
		return matchRegex(actual, expected)
	default:
		return false, fmt.Errorf("%w: %q", aegis_errors.ErrInvalidOperator, op)
	}
}

// equalValues compares with numeric coercion so a JSON float64 equals the
// int a route author wrote in a condition literal.
func equalValues(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareOrdered(op model.Operator, actual, expected interface{}) bool {
	af, aok := toFloat(actual)
	bf, bok := toFloat(expected)
	if aok && bok {
		switch op {
		case model.OpGt:
			return af > bf
		case model.OpGte:
			return af >= bf
		case model.OpLt:
			return af < bf
		case model.OpLte:
			return af <= bf
		}
		return false
	}

	as, aok := actual.(string)
	bs, bok := expected.(string)
	if !aok || !bok {
		return false
	}
	switch op {
	case model.OpGt:
		return as > bs
	case model.OpGte:
		return as >= bs
	case model.OpLt:
		return as < bs
	case model.OpLte:
		return as <= bs
	}
	return false
}

func memberOf(actual, expected interface{}) bool {
	switch list := expected.(type) {
	case []interface{}:
		for _, item := range list {
			if equalValues(actual, item) {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if equalValues(actual, item) {
				return true
			}
		}
	}
	return false
}

func containsValue(actual, expected interface{}) bool {
	switch haystack := actual.(type) {
	case string:
		needle, ok := expected.(string)
		return ok && strings.Contains(haystack, needle)
	case []interface{}:
		for _, item := range haystack {
			if equalValues(item, expected) {
				return true
			}
		}
	case []string:
		for _, item := range haystack {
			if equalValues(item, expected) {
				return true
			}
		}
	}
	return false
}

func matchRegex(actual, expected interface{}) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("regex condition value must be a string, got %T", expected)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex condition %q: %w", pattern, err)
	}
	subject, ok := actual.(string)
	if !ok {
		subject = fmt.Sprint(actual)
	}
	return re.MatchString(subject), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
