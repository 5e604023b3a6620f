/*
Package factory provides JSON/YAML to Go rule conversion.

PURPOSE:
  Converts declarative rule definitions into commission.RuleDraft values.
  The same schema serves the embedded default rule pack, an operator
  supplied rules file (COMMISSION_RULES_FILE) and the HTTP API bodies.

SCHEMA:
  version: "2024-01"
  rules:
    - name: Provider standard
      user_type: prestador
      priority: 10
      base_rate: 5
      conditions:
        - type: volume
          operator: between
          value: [0, 10000]
      modifiers:
        - type: percentage
          value: -20
          description: Premium plan discount
          conditions:
            - {type: plan, operator: eq, value: premium}

CONDITION VALUES:
  The shape of "value" follows the operator:
    gte, lte, eq   number or text
    between        [low, high]
    in             list of numbers or list of texts
  Shapes are converted as-is; whether a shape suits the condition type is
  decided by commission.ValidateRule.

DEFAULTS:
  "active" defaults to true. "base_rate" is required.

USAGE:
  drafts, err := factory.ParseRules(data)   // YAML or JSON
  drafts := factory.DefaultRules()          // embedded pack

SEE ALSO:
  - defaults.yaml: Seed rule set
  - commission/types.go: Rule, Condition, Modifier
  - api/dto.go: Request/response wrappers around RuleJSON
*/
package factory

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// RulePackJSON is a versioned list of rules, the format of rule files.
type RulePackJSON struct {
	Version string     `json:"version,omitempty" yaml:"version,omitempty"`
	Rules   []RuleJSON `json:"rules" yaml:"rules"`
}

// RuleJSON is the declarative form of a rule.
type RuleJSON struct {
	ID              string          `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string          `json:"name" yaml:"name"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	UserType        string          `json:"user_type" yaml:"user_type"`
	ServiceCategory string          `json:"service_category,omitempty" yaml:"service_category,omitempty"`
	Active          *bool           `json:"active,omitempty" yaml:"active,omitempty"`
	Priority        int             `json:"priority" yaml:"priority"`
	Conditions      []ConditionJSON `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	BaseRate        *float64        `json:"base_rate" yaml:"base_rate"`
	Modifiers       []ModifierJSON  `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt       string          `json:"updated_at,omitempty" yaml:"-"`
}

// ConditionJSON holds its value untyped; see CONDITION VALUES above.
type ConditionJSON struct {
	Type        string `json:"type" yaml:"type"`
	Operator    string `json:"operator" yaml:"operator"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type ModifierJSON struct {
	Type        string          `json:"type" yaml:"type"`
	Value       float64         `json:"value" yaml:"value"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []ConditionJSON `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// RulePatchJSON is a partial rule. Absent fields are left unchanged.
type RulePatchJSON struct {
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	UserType        *string          `json:"user_type,omitempty"`
	ServiceCategory *string          `json:"service_category,omitempty"`
	Active          *bool            `json:"active,omitempty"`
	Priority        *int             `json:"priority,omitempty"`
	Conditions      *[]ConditionJSON `json:"conditions,omitempty"`
	BaseRate        *float64         `json:"base_rate,omitempty"`
	Modifiers       *[]ModifierJSON  `json:"modifiers,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRules parses a rule pack. YAML is a superset of JSON, so both work.
// Every rule is validated; the first failure is returned with its index.
func ParseRules(data []byte) ([]commission.RuleDraft, error) {
	var pack RulePackJSON
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse rule pack: %w", err)
	}

	drafts := make([]commission.RuleDraft, 0, len(pack.Rules))
	for i, rj := range pack.Rules {
		d, err := rj.ToDraft()
		if err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, rj.Name, err)
		}
		if err := commission.ValidateDraft(d); err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, rj.Name, err)
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// LoadRulesFile reads and parses a rule pack from disk.
func LoadRulesFile(path string) ([]commission.RuleDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

//go:embed defaults.yaml
var defaultPack []byte

// DefaultRules returns the rule set the store is seeded with.
// The embedded pack is part of the binary, so a parse failure panics.
func DefaultRules() []commission.RuleDraft {
	drafts, err := ParseRules(defaultPack)
	if err != nil {
		panic(fmt.Sprintf("embedded default rules are invalid: %v", err))
	}
	return drafts
}

// ToDraft converts the declarative rule. Shape errors wrap
// commission.ErrValidation so callers map them like any invalid rule.
func (rj RuleJSON) ToDraft() (commission.RuleDraft, error) {
	if rj.BaseRate == nil {
		return commission.RuleDraft{}, &commission.ValidationError{Field: "base_rate", Reason: "is required"}
	}
	baseRate, err := finiteDecimal("base_rate", *rj.BaseRate)
	if err != nil {
		return commission.RuleDraft{}, err
	}
	conds, err := ToConditions("conditions", rj.Conditions)
	if err != nil {
		return commission.RuleDraft{}, err
	}
	mods, err := ToModifiers(rj.Modifiers)
	if err != nil {
		return commission.RuleDraft{}, err
	}

	active := true
	if rj.Active != nil {
		active = *rj.Active
	}

	return commission.RuleDraft{
		Name:            rj.Name,
		Description:     rj.Description,
		UserType:        commission.UserType(rj.UserType),
		ServiceCategory: rj.ServiceCategory,
		Active:          active,
		Priority:        rj.Priority,
		Conditions:      conds,
		BaseRate:        baseRate,
		Modifiers:       mods,
	}, nil
}

// ToPatch converts the partial rule. Validation of the merged result is the
// store's job.
func (pj RulePatchJSON) ToPatch() (commission.RulePatch, error) {
	p := commission.RulePatch{
		Name:            pj.Name,
		Description:     pj.Description,
		ServiceCategory: pj.ServiceCategory,
		Active:          pj.Active,
		Priority:        pj.Priority,
	}
	if pj.UserType != nil {
		ut := commission.UserType(*pj.UserType)
		p.UserType = &ut
	}
	if pj.BaseRate != nil {
		br, err := finiteDecimal("base_rate", *pj.BaseRate)
		if err != nil {
			return commission.RulePatch{}, err
		}
		p.BaseRate = &br
	}
	if pj.Conditions != nil {
		conds, err := ToConditions("conditions", *pj.Conditions)
		if err != nil {
			return commission.RulePatch{}, err
		}
		if conds == nil {
			conds = []commission.Condition{}
		}
		p.Conditions = &conds
	}
	if pj.Modifiers != nil {
		mods, err := ToModifiers(*pj.Modifiers)
		if err != nil {
			return commission.RulePatch{}, err
		}
		if mods == nil {
			mods = []commission.Modifier{}
		}
		p.Modifiers = &mods
	}
	return p, nil
}

func ToConditions(field string, cjs []ConditionJSON) ([]commission.Condition, error) {
	if len(cjs) == 0 {
		return nil, nil
	}
	out := make([]commission.Condition, len(cjs))
	for i, cj := range cjs {
		v, err := parseValue(commission.Operator(cj.Operator), cj.Value)
		if err != nil {
			return nil, &commission.ValidationError{
				Field:  fmt.Sprintf("%s[%d].value", field, i),
				Reason: err.Error(),
			}
		}
		out[i] = commission.Condition{
			Type:        commission.ConditionType(cj.Type),
			Operator:    commission.Operator(cj.Operator),
			Value:       v,
			Description: cj.Description,
		}
	}
	return out, nil
}

func ToModifiers(mjs []ModifierJSON) ([]commission.Modifier, error) {
	if len(mjs) == 0 {
		return nil, nil
	}
	out := make([]commission.Modifier, len(mjs))
	for i, mj := range mjs {
		value, err := finiteDecimal(fmt.Sprintf("modifiers[%d].value", i), mj.Value)
		if err != nil {
			return nil, err
		}
		conds, err := ToConditions(fmt.Sprintf("modifiers[%d].conditions", i), mj.Conditions)
		if err != nil {
			return nil, err
		}
		out[i] = commission.Modifier{
			Type:        commission.ModifierType(mj.Type),
			Value:       value,
			Description: mj.Description,
			Conditions:  conds,
		}
	}
	return out, nil
}

// =============================================================================
// RULE TO JSON
// =============================================================================

// FromRule converts a stored rule back to its declarative form.
func FromRule(r commission.Rule) RuleJSON {
	active := r.Active
	baseRate := r.BaseRate.InexactFloat64()
	rj := RuleJSON{
		ID:              string(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		UserType:        string(r.UserType),
		ServiceCategory: r.ServiceCategory,
		Active:          &active,
		Priority:        r.Priority,
		Conditions:      fromConditions(r.Conditions),
		BaseRate:        &baseRate,
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
	for _, m := range r.Modifiers {
		rj.Modifiers = append(rj.Modifiers, ModifierJSON{
			Type:        string(m.Type),
			Value:       m.Value.InexactFloat64(),
			Description: m.Description,
			Conditions:  fromConditions(m.Conditions),
		})
	}
	return rj
}

func fromConditions(conds []commission.Condition) []ConditionJSON {
	if len(conds) == 0 {
		return nil
	}
	out := make([]ConditionJSON, len(conds))
	for i, c := range conds {
		out[i] = ConditionJSON{
			Type:        string(c.Type),
			Operator:    string(c.Operator),
			Value:       formatValue(c.Value),
			Description: c.Description,
		}
	}
	return out
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func parseValue(op commission.Operator, raw any) (commission.Value, error) {
	switch op {
	case commission.OpBetween:
		list, ok := raw.([]any)
		if !ok || len(list) != 2 {
			return commission.Value{}, fmt.Errorf("operator %q needs a [low, high] pair", op)
		}
		low, okLow := toDecimal(list[0])
		high, okHigh := toDecimal(list[1])
		if !okLow || !okHigh {
			return commission.Value{}, fmt.Errorf("operator %q needs numeric bounds", op)
		}
		return commission.Value{Kind: commission.KindRange, Low: low, High: high}, nil

	case commission.OpIn:
		list, ok := raw.([]any)
		if !ok {
			return commission.Value{}, fmt.Errorf("operator %q needs a list", op)
		}
		return parseSet(list)

	default:
		if s, ok := raw.(string); ok {
			return commission.Text(s), nil
		}
		if d, ok := toDecimal(raw); ok {
			return commission.NumberDecimal(d), nil
		}
		if raw == nil {
			return commission.Value{}, nil
		}
		return commission.Value{}, fmt.Errorf("unsupported value %v", raw)
	}
}

func parseSet(list []any) (commission.Value, error) {
	if len(list) == 0 {
		return commission.Value{Kind: commission.KindNumberSet}, nil
	}
	if _, isText := list[0].(string); isText {
		texts := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return commission.Value{}, fmt.Errorf("mixed list at index %d", i)
			}
			texts[i] = s
		}
		return commission.Value{Kind: commission.KindTextSet, Texts: texts}, nil
	}
	nums := make([]decimal.Decimal, len(list))
	for i, item := range list {
		d, ok := toDecimal(item)
		if !ok {
			return commission.Value{}, fmt.Errorf("mixed list at index %d", i)
		}
		nums[i] = d
	}
	return commission.Value{Kind: commission.KindNumberSet, Numbers: nums}, nil
}

// finiteDecimal rejects NaN and infinities, which yaml.v3 decodes from
// .nan and .inf and decimal cannot represent.
func finiteDecimal(field string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, &commission.ValidationError{Field: field, Reason: fmt.Sprintf("must be a finite number, got %v", f)}
	}
	return decimal.NewFromFloat(f), nil
}

// toDecimal accepts the numeric types encoding/json and yaml.v3 decode into.
// Non-finite floats are not numbers here.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	default:
		return decimal.Decimal{}, false
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatValue(v commission.Value) any {
	switch v.Kind {
	case commission.KindNumber:
		return v.Number.InexactFloat64()
	case commission.KindRange:
		return []float64{v.Low.InexactFloat64(), v.High.InexactFloat64()}
	case commission.KindText:
		return v.Text
	case commission.KindNumberSet:
		out := make([]float64, len(v.Numbers))
		for i, n := range v.Numbers {
			out[i] = n.InexactFloat64()
		}
		return out
	case commission.KindTextSet:
		return append([]string(nil), v.Texts...)
	default:
		return nil
	}
}
