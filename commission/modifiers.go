package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ModifierResult is the effect of one rule's modifiers on the running rate.
type ModifierResult struct {
	Rate      decimal.Decimal // running rate after the rule's modifiers
	RateDelta decimal.Decimal // Rate minus the rate the rule started from
	Fixed     decimal.Decimal // flat amounts added by fixed modifiers
	Entries   []BreakdownEntry
}

// ApplyModifiers applies rule's modifiers in array order, starting from rate.
// Each modifier is gated by its own conditions against ctx.
//
// Percentages compound: two +10 modifiers on a 5% rate give 5 * 1.1 * 1.1.
func ApplyModifiers(rate decimal.Decimal, rule Rule, ctx Context) ModifierResult {
	res := ModifierResult{Rate: rate, Fixed: decimal.Zero}
	amount := ctx.TransactionAmount

	for _, m := range rule.Modifiers {
		if !EvaluateConditions(m.Conditions, ctx) {
			continue
		}

		var (
			money decimal.Decimal
			pct   *decimal.Decimal
		)
		switch m.Type {
		case ModifierPercentage:
			delta := res.Rate.Mul(m.Value).Div(hundred)
			res.Rate = res.Rate.Add(delta)
			money = amount.Mul(delta).Div(hundred)
			pct = &delta
		case ModifierMultiplier:
			before := res.Rate
			res.Rate = res.Rate.Mul(m.Value)
			delta := res.Rate.Sub(before)
			money = amount.Mul(delta).Div(hundred)
			pct = &delta
		case ModifierFixed:
			money = m.Value
			res.Fixed = res.Fixed.Add(money)
		default:
			continue
		}

		res.Entries = append(res.Entries, BreakdownEntry{
			RuleID:      rule.ID,
			Description: modifierDescription(m),
			Type:        breakdownTypeFor(money),
			Amount:      money,
			Percentage:  pct,
		})
	}

	res.RateDelta = res.Rate.Sub(rate)
	return res
}

func breakdownTypeFor(amount decimal.Decimal) BreakdownType {
	if amount.IsNegative() {
		return BreakdownBonus
	}
	return BreakdownPenalty
}

func modifierDescription(m Modifier) string {
	if m.Description != "" {
		return m.Description
	}
	return fmt.Sprintf("%s modifier (%s)", m.Type, m.Value)
}
