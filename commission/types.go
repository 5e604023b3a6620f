/*
Package commission provides the marketplace commission calculation core.

PURPOSE:
  Computes the commission owed on a transaction by matching the transaction
  and user context against a prioritized set of conditional rules. One rule
  supplies the base rate; modifiers from every matching rule stack on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rule: A named policy assigning a base rate to matching transactions
  - Condition: A predicate over the transaction context
  - Modifier: A percentage, fixed or multiplier adjustment on the base rate
  - Value: Closed variant for condition values (number, range, text, sets)
  - Calculation: The itemized result of one commission calculation

RATES:
  All rates are whole-number percentages: 5 means 5%, not 0.05.
  Money and rates use decimal.Decimal so breakdowns sum exactly.

USAGE:
  rules := store.NewMemory(store.WithSeed(factory.DefaultRules()...))
  calc := commission.NewCalculator(rules, commission.SystemClock{})
  result, err := calc.Calculate(ctx, commission.Request{
      Amount:   decimal.NewFromInt(1000),
      UserID:   "user-1",
      UserType: commission.UserTypeProvider,
  })

SEE ALSO:
  - conditions.go: Condition evaluation
  - modifiers.go: Rate composition
  - calculator.go: Rule selection and result assembly
  - simulation.go: What-if scenarios
  - stats.go: Aggregation over past calculations
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS AND ENUMERATIONS
// =============================================================================

type RuleID string

// UserType is the marketplace role a rule applies to.
type UserType string

const (
	UserTypeAll        UserType = "all"
	UserTypeProvider   UserType = "prestador"
	UserTypeAdvertiser UserType = "anunciante"
	UserTypeClient     UserType = "contratante"
)

// Valid reports whether u is one of the known roles or the wildcard.
func (u UserType) Valid() bool {
	switch u {
	case UserTypeAll, UserTypeProvider, UserTypeAdvertiser, UserTypeClient:
		return true
	}
	return false
}

const PlanPremium = "premium"

type ConditionType string

const (
	ConditionVolume      ConditionType = "volume"
	ConditionPerformance ConditionType = "performance"
	ConditionPlan        ConditionType = "plan"
	ConditionCategory    ConditionType = "category"
	ConditionDateRange   ConditionType = "date_range"
	ConditionEventCount  ConditionType = "event_count"
)

type Operator string

const (
	OpGTE     Operator = "gte"
	OpLTE     Operator = "lte"
	OpEQ      Operator = "eq"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
)

type ModifierType string

const (
	ModifierPercentage ModifierType = "percentage"
	ModifierFixed      ModifierType = "fixed"
	ModifierMultiplier ModifierType = "multiplier"
)

// =============================================================================
// VALUE - Closed variant for condition values
// =============================================================================

type ValueKind int

const (
	KindNone ValueKind = iota
	KindNumber
	KindRange
	KindText
	KindNumberSet
	KindTextSet
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindRange:
		return "range"
	case KindText:
		return "text"
	case KindNumberSet:
		return "number_set"
	case KindTextSet:
		return "text_set"
	default:
		return "none"
	}
}

// Value is what a condition compares against. Only the fields matching
// Kind are meaningful; build values with the constructors below.
type Value struct {
	Kind    ValueKind
	Number  decimal.Decimal
	Low     decimal.Decimal
	High    decimal.Decimal
	Text    string
	Numbers []decimal.Decimal
	Texts   []string
}

func Number(v float64) Value { return Value{Kind: KindNumber, Number: decimal.NewFromFloat(v)} }

func NumberDecimal(v decimal.Decimal) Value { return Value{Kind: KindNumber, Number: v} }

// Range is inclusive on both ends.
func Range(low, high float64) Value {
	return Value{Kind: KindRange, Low: decimal.NewFromFloat(low), High: decimal.NewFromFloat(high)}
}

func Text(s string) Value { return Value{Kind: KindText, Text: s} }

func NumberSet(vs ...float64) Value {
	nums := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		nums[i] = decimal.NewFromFloat(v)
	}
	return Value{Kind: KindNumberSet, Numbers: nums}
}

func TextSet(vs ...string) Value {
	return Value{Kind: KindTextSet, Texts: append([]string(nil), vs...)}
}

func (v Value) clone() Value {
	out := v
	if v.Numbers != nil {
		out.Numbers = append([]decimal.Decimal(nil), v.Numbers...)
	}
	if v.Texts != nil {
		out.Texts = append([]string(nil), v.Texts...)
	}
	return out
}

// =============================================================================
// RULES
// =============================================================================

type Condition struct {
	Type        ConditionType
	Operator    Operator
	Value       Value
	Description string
}

// Modifier adjusts the running rate (percentage, multiplier) or adds a flat
// amount (fixed). Conditions gate whether it applies; empty = always.
type Modifier struct {
	Type        ModifierType
	Value       decimal.Decimal
	Description string
	Conditions  []Condition
}

type Rule struct {
	ID              RuleID
	Name            string
	Description     string
	UserType        UserType
	ServiceCategory string // empty matches any category
	Active          bool
	Priority        int // lower is selected first
	Conditions      []Condition
	BaseRate        decimal.Decimal
	Modifiers       []Modifier
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RuleDraft is a rule before the store assigns its ID and timestamps.
type RuleDraft struct {
	Name            string
	Description     string
	UserType        UserType
	ServiceCategory string
	Active          bool
	Priority        int
	Conditions      []Condition
	BaseRate        decimal.Decimal
	Modifiers       []Modifier
}

// RulePatch is a partial update. Nil fields are left unchanged.
// An empty ServiceCategory clears the category restriction.
type RulePatch struct {
	Name            *string
	Description     *string
	UserType        *UserType
	ServiceCategory *string
	Active          *bool
	Priority        *int
	Conditions      *[]Condition
	BaseRate        *decimal.Decimal
	Modifiers       *[]Modifier
}

// Clone returns a deep copy so callers never share slices with the store.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = cloneConditions(r.Conditions)
	if r.Modifiers != nil {
		out.Modifiers = make([]Modifier, len(r.Modifiers))
		for i, m := range r.Modifiers {
			m.Conditions = cloneConditions(m.Conditions)
			out.Modifiers[i] = m
		}
	}
	return out
}

func cloneConditions(in []Condition) []Condition {
	if in == nil {
		return nil
	}
	out := make([]Condition, len(in))
	for i, c := range in {
		c.Value = c.Value.clone()
		out[i] = c
	}
	return out
}

// NewRule builds a rule from a draft. The store supplies id and timestamp.
func NewRule(id RuleID, d RuleDraft, now time.Time) Rule {
	return Rule{
		ID:              id,
		Name:            d.Name,
		Description:     d.Description,
		UserType:        d.UserType,
		ServiceCategory: d.ServiceCategory,
		Active:          d.Active,
		Priority:        d.Priority,
		Conditions:      d.Conditions,
		BaseRate:        d.BaseRate,
		Modifiers:       d.Modifiers,
		CreatedAt:       now,
		UpdatedAt:       now,
	}.Clone()
}

// Apply merges the patch into a copy of r. Timestamps are left to the caller.
func (p RulePatch) Apply(r Rule) Rule {
	out := r.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.UserType != nil {
		out.UserType = *p.UserType
	}
	if p.ServiceCategory != nil {
		out.ServiceCategory = *p.ServiceCategory
	}
	if p.Active != nil {
		out.Active = *p.Active
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Conditions != nil {
		out.Conditions = cloneConditions(*p.Conditions)
	}
	if p.BaseRate != nil {
		out.BaseRate = *p.BaseRate
	}
	if p.Modifiers != nil {
		out.Modifiers = Rule{Modifiers: *p.Modifiers}.Clone().Modifiers
	}
	return out
}

// =============================================================================
// CONTEXT AND RESULTS
// =============================================================================

// Context holds the resolved facts conditions are evaluated against.
type Context struct {
	UserType          UserType
	ServiceCategory   string
	UserPlan          string
	UserEventCount    int
	TransactionAmount decimal.Decimal
}

type BreakdownType string

const (
	BreakdownBase    BreakdownType = "base"
	BreakdownBonus   BreakdownType = "bonus"   // lowers the commission owed
	BreakdownPenalty BreakdownType = "penalty" // raises the commission owed
)

type BreakdownEntry struct {
	RuleID      RuleID
	Description string
	Type        BreakdownType
	Amount      decimal.Decimal
	Percentage  *decimal.Decimal // rate delta; nil for fixed modifiers
}

// AppliedRule summarizes how one matching rule contributed.
type AppliedRule struct {
	RuleID        RuleID
	RuleName      string
	Priority      int
	IsBase        bool
	BaseRate      decimal.Decimal
	ModifierValue decimal.Decimal // rate delta from this rule's modifiers
	FixedAmount   decimal.Decimal
	FinalRate     decimal.Decimal // running rate after this rule's modifiers
}

type Calculation struct {
	TransactionID      string
	UserID             string
	UserType           UserType
	ServiceCategory    string
	TransactionAmount  decimal.Decimal
	AppliedRules       []AppliedRule
	BaseCommission     decimal.Decimal
	ModifiedCommission decimal.Decimal
	TotalCommission    decimal.Decimal
	FinalRate          decimal.Decimal
	CalculatedAt       time.Time
	Breakdown          []BreakdownEntry
}

// Clone returns a deep copy; ledgers store and hand out clones.
func (c Calculation) Clone() Calculation {
	out := c
	if c.AppliedRules != nil {
		out.AppliedRules = append([]AppliedRule(nil), c.AppliedRules...)
	}
	if c.Breakdown != nil {
		out.Breakdown = make([]BreakdownEntry, len(c.Breakdown))
		for i, e := range c.Breakdown {
			if e.Percentage != nil {
				pct := *e.Percentage
				e.Percentage = &pct
			}
			out.Breakdown[i] = e
		}
	}
	return out
}

// BaseRule returns the rule that supplied the base rate, if any matched.
func (c Calculation) BaseRule() (AppliedRule, bool) {
	for _, ar := range c.AppliedRules {
		if ar.IsBase {
			return ar, true
		}
	}
	return AppliedRule{}, false
}
