package commission

import (
	"slices"

	"github.com/shopspring/decimal"
)

// EvaluateConditions reports whether every condition holds for ctx.
// An empty list is vacuously true, which is how unconditional rules match.
func EvaluateConditions(conds []Condition, ctx Context) bool {
	for _, c := range conds {
		if !EvaluateCondition(c, ctx) {
			return false
		}
	}
	return true
}

// EvaluateCondition evaluates a single condition. Combinations rejected by
// ValidateRule evaluate false.
func EvaluateCondition(c Condition, ctx Context) bool {
	switch c.Type {
	case ConditionVolume:
		return compareNumber(c.Operator, c.Value, ctx.TransactionAmount)
	case ConditionEventCount:
		return compareNumber(c.Operator, c.Value, decimal.NewFromInt(int64(ctx.UserEventCount)))
	case ConditionPlan:
		return compareText(c.Operator, c.Value, ctx.UserPlan)
	case ConditionCategory:
		return compareText(c.Operator, c.Value, ctx.ServiceCategory)
	case ConditionDateRange:
		// Reserved: no transaction date is part of the context yet.
		return true
	case ConditionPerformance:
		return false
	default:
		return false
	}
}

func compareNumber(op Operator, v Value, actual decimal.Decimal) bool {
	switch op {
	case OpGTE:
		return v.Kind == KindNumber && actual.GreaterThanOrEqual(v.Number)
	case OpLTE:
		return v.Kind == KindNumber && actual.LessThanOrEqual(v.Number)
	case OpEQ:
		return v.Kind == KindNumber && actual.Equal(v.Number)
	case OpBetween:
		return v.Kind == KindRange &&
			actual.GreaterThanOrEqual(v.Low) && actual.LessThanOrEqual(v.High)
	case OpIn:
		if v.Kind != KindNumberSet {
			return false
		}
		for _, n := range v.Numbers {
			if actual.Equal(n) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareText(op Operator, v Value, actual string) bool {
	switch {
	case op == OpEQ && v.Kind == KindText:
		return actual == v.Text
	case op == OpIn && v.Kind == KindTextSet:
		return slices.Contains(v.Texts, actual)
	default:
		return false
	}
}
