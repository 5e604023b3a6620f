package commission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	minusHundred = hundred.Neg()
)

// ValidateDraft checks a rule definition before it enters a store.
// Every violation is reported; the result unwraps to ErrValidation.
func ValidateDraft(d RuleDraft) error {
	return ValidateRule(NewRule("", d, time.Time{}))
}

// ValidateRule checks the definition fields of r. ID and timestamps are ignored.
//
// Validation fails closed: condition types, operators and value shapes the
// evaluator cannot interpret are rejected here instead of evaluating true later.
func ValidateRule(r Rule) error {
	var errs []error

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, invalid("name", "is required"))
	}
	if !r.UserType.Valid() {
		errs = append(errs, invalid("user_type", "unknown user type %q", r.UserType))
	}
	if r.BaseRate.IsNegative() || r.BaseRate.GreaterThan(hundred) {
		errs = append(errs, invalid("base_rate", "must be between 0 and 100, got %s", r.BaseRate))
	}
	for i, c := range r.Conditions {
		if err := validateCondition(fmt.Sprintf("conditions[%d]", i), c); err != nil {
			errs = append(errs, err)
		}
	}
	for i, m := range r.Modifiers {
		errs = append(errs, validateModifier(fmt.Sprintf("modifiers[%d]", i), m)...)
	}

	return errors.Join(errs...)
}

func validateModifier(field string, m Modifier) []error {
	var errs []error
	switch m.Type {
	case ModifierPercentage:
		if m.Value.LessThan(minusHundred) {
			errs = append(errs, invalid(field+".value", "percentage below -100 would make the rate negative"))
		}
	case ModifierMultiplier:
		if m.Value.IsNegative() {
			errs = append(errs, invalid(field+".value", "multiplier must not be negative"))
		}
	case ModifierFixed:
	default:
		errs = append(errs, invalid(field+".type", "unknown modifier type %q", m.Type))
	}
	for i, c := range m.Conditions {
		if err := validateCondition(fmt.Sprintf("%s.conditions[%d]", field, i), c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateCondition(field string, c Condition) error {
	switch c.Type {
	case ConditionVolume, ConditionEventCount:
		return validateNumeric(field, c)
	case ConditionPlan, ConditionCategory:
		switch c.Operator {
		case OpEQ:
			if c.Value.Kind != KindText {
				return invalid(field+".value", "%s conditions need a text value, got %s", c.Type, c.Value.Kind)
			}
		case OpIn:
			if c.Value.Kind != KindTextSet || len(c.Value.Texts) == 0 {
				return invalid(field+".value", "operator %q needs a non-empty list of texts", c.Operator)
			}
		default:
			return invalid(field+".operator", "%s conditions support %q and %q, got %q", c.Type, OpEQ, OpIn, c.Operator)
		}
		return nil
	case ConditionDateRange:
		if c.Operator != OpBetween || c.Value.Kind != KindRange {
			return invalid(field, "date_range conditions need operator %q with a range value", OpBetween)
		}
		return nil
	case ConditionPerformance:
		return invalid(field+".type", "performance conditions have no context fact to compare against")
	default:
		return invalid(field+".type", "unknown condition type %q", c.Type)
	}
}

func validateNumeric(field string, c Condition) error {
	switch c.Operator {
	case OpGTE, OpLTE, OpEQ:
		if c.Value.Kind != KindNumber {
			return invalid(field+".value", "operator %q needs a number, got %s", c.Operator, c.Value.Kind)
		}
	case OpBetween:
		if c.Value.Kind != KindRange {
			return invalid(field+".value", "operator %q needs a [low, high] range, got %s", c.Operator, c.Value.Kind)
		}
		if c.Value.Low.GreaterThan(c.Value.High) {
			return invalid(field+".value", "range low %s is above high %s", c.Value.Low, c.Value.High)
		}
	case OpIn:
		if c.Value.Kind != KindNumberSet || len(c.Value.Numbers) == 0 {
			return invalid(field+".value", "operator %q needs a non-empty list of numbers", c.Operator)
		}
	default:
		return invalid(field+".operator", "unknown operator %q", c.Operator)
	}
	return nil
}
