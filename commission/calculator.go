/*
calculator.go - Rule selection and commission assembly

PURPOSE:
  The single entry point for computing the commission on one transaction.
  Reads a rule snapshot, picks the contributing rules, stacks their
  modifiers and returns an itemized Calculation.

SELECTION:
  A rule contributes when it is active, its user type is "all" or the
  caller's, its service category is empty or the caller's, and all its
  conditions hold. Contributing rules are ordered by ascending priority.

  The first contributing rule is the base rule: its BaseRate seeds the
  running rate. Every contributing rule, base included, then applies its
  modifiers in priority order. One base, many modifiers.

TOTALS:
  base     = amount * baseRate / 100
  total    = base + sum(modifier contributions)
           = amount * finalRate / 100 + sum(fixed amounts)
  modified = total - base

  No contributing rule is not an error: the result is zero-valued with
  empty AppliedRules and Breakdown.

PURITY:
  Calculate performs no I/O beyond reading the RuleStore snapshot and is
  safe for concurrent use.
*/
package commission

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Request is the input to one commission calculation.
type Request struct {
	TransactionID   string // generated when empty
	Amount          decimal.Decimal
	UserID          string
	UserType        UserType
	ServiceCategory string
	UserPlan        string
	UserEventCount  int
}

// Validate rejects input no rule could sensibly price. The wildcard user
// type is for rules, not callers.
func (r Request) Validate() error {
	var errs []error
	if r.Amount.IsNegative() {
		errs = append(errs, &RequestError{Field: "amount", Reason: "must not be negative"})
	}
	if !r.UserType.Valid() || r.UserType == UserTypeAll {
		errs = append(errs, &RequestError{Field: "user_type", Reason: fmt.Sprintf("unknown user type %q", r.UserType)})
	}
	if r.UserEventCount < 0 {
		errs = append(errs, &RequestError{Field: "user_event_count", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

func (r Request) context() Context {
	return Context{
		UserType:          r.UserType,
		ServiceCategory:   r.ServiceCategory,
		UserPlan:          r.UserPlan,
		UserEventCount:    r.UserEventCount,
		TransactionAmount: r.Amount,
	}
}

type Calculator struct {
	Rules RuleStore
	Clock Clock
	IDs   IDFunc
}

func NewCalculator(rules RuleStore, clock Clock) *Calculator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calculator{Rules: rules, Clock: clock, IDs: UUIDs()}
}

// Calculate computes the commission for req against the current rules.
func (c *Calculator) Calculate(ctx context.Context, req Request) (Calculation, error) {
	if err := req.Validate(); err != nil {
		return Calculation{}, err
	}
	rules, err := c.Rules.GetAllRules(ctx)
	if err != nil {
		return Calculation{}, fmt.Errorf("failed to load rules: %w", err)
	}
	return c.calculate(rules, req), nil
}

func (c *Calculator) calculate(rules []Rule, req Request) Calculation {
	txID := req.TransactionID
	if txID == "" && c.IDs != nil {
		txID = c.IDs()
	}

	calc := Calculation{
		TransactionID:      txID,
		UserID:             req.UserID,
		UserType:           req.UserType,
		ServiceCategory:    req.ServiceCategory,
		TransactionAmount:  req.Amount,
		AppliedRules:       []AppliedRule{},
		BaseCommission:     decimal.Zero,
		ModifiedCommission: decimal.Zero,
		TotalCommission:    decimal.Zero,
		FinalRate:          decimal.Zero,
		CalculatedAt:       c.Clock.Now(),
		Breakdown:          []BreakdownEntry{},
	}

	ctx := req.context()
	matching := SelectRules(rules, ctx)
	if len(matching) == 0 {
		return calc
	}

	base := matching[0]
	rate := base.BaseRate
	calc.BaseCommission = req.Amount.Mul(base.BaseRate).Div(hundred)
	baseRate := base.BaseRate
	calc.Breakdown = append(calc.Breakdown, BreakdownEntry{
		RuleID:      base.ID,
		Description: base.Name,
		Type:        BreakdownBase,
		Amount:      calc.BaseCommission,
		Percentage:  &baseRate,
	})

	total := calc.BaseCommission
	for i, rule := range matching {
		res := ApplyModifiers(rate, rule, ctx)
		rate = res.Rate

		for _, e := range res.Entries {
			total = total.Add(e.Amount)
		}
		calc.Breakdown = append(calc.Breakdown, res.Entries...)

		if i == 0 || len(res.Entries) > 0 {
			calc.AppliedRules = append(calc.AppliedRules, AppliedRule{
				RuleID:        rule.ID,
				RuleName:      rule.Name,
				Priority:      rule.Priority,
				IsBase:        i == 0,
				BaseRate:      rule.BaseRate,
				ModifierValue: res.RateDelta,
				FixedAmount:   res.Fixed,
				FinalRate:     rate,
			})
		}
	}

	calc.FinalRate = rate
	calc.TotalCommission = total
	calc.ModifiedCommission = total.Sub(calc.BaseCommission)
	return calc
}

// SelectRules returns the rules contributing to ctx, in ascending priority.
// Equal priorities keep their input order.
func SelectRules(rules []Rule, ctx Context) []Rule {
	var out []Rule
	for _, r := range rules {
		if ruleMatches(r, ctx) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}

func ruleMatches(r Rule, ctx Context) bool {
	if !r.Active {
		return false
	}
	if r.UserType != UserTypeAll && r.UserType != ctx.UserType {
		return false
	}
	if r.ServiceCategory != "" && r.ServiceCategory != ctx.ServiceCategory {
		return false
	}
	return EvaluateConditions(r.Conditions, ctx)
}
