/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the commission core from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Calculation:
    CalculateRequest, CalculationDTO, AppliedRuleDTO, BreakdownDTO

  Simulation:
    SimulateRequest, SimulationDTO, AlternativeDTO

  Stats:
    StatsDTO, RuleUsageDTO, GroupTotalsDTO

  Rules:
    factory.RuleJSON (create, read), factory.RulePatchJSON (update)

MONEY:
  Amounts and rates are JSON numbers. Calculations run on decimals and
  are converted only here, at the edge.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CalculateRequest is the request to calculate a commission.
type CalculateRequest struct {
	TransactionID   string  `json:"transaction_id,omitempty"`
	Amount          float64 `json:"amount"`
	UserID          string  `json:"user_id"`
	UserType        string  `json:"user_type"`
	ServiceCategory string  `json:"service_category,omitempty"`
	UserPlan        string  `json:"user_plan,omitempty"`
	UserEventCount  int     `json:"user_event_count,omitempty"`
}

// SimulateRequest is the request to simulate a commission.
type SimulateRequest struct {
	Amount          float64 `json:"amount"`
	UserType        string  `json:"user_type"`
	ServiceCategory string  `json:"service_category,omitempty"`
	UserPlan        string  `json:"user_plan,omitempty"`
	UserEventCount  int     `json:"user_event_count,omitempty"`
}

func (r CalculateRequest) toRequest() commission.Request {
	return commission.Request{
		TransactionID:   r.TransactionID,
		Amount:          decimal.NewFromFloat(r.Amount),
		UserID:          r.UserID,
		UserType:        commission.UserType(r.UserType),
		ServiceCategory: r.ServiceCategory,
		UserPlan:        r.UserPlan,
		UserEventCount:  r.UserEventCount,
	}
}

func (r SimulateRequest) toRequest() commission.SimulationRequest {
	return commission.SimulationRequest{
		Amount:          decimal.NewFromFloat(r.Amount),
		UserType:        commission.UserType(r.UserType),
		ServiceCategory: r.ServiceCategory,
		UserPlan:        r.UserPlan,
		UserEventCount:  r.UserEventCount,
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CalculationDTO represents a calculation result.
type CalculationDTO struct {
	TransactionID      string           `json:"transaction_id"`
	UserID             string           `json:"user_id"`
	UserType           string           `json:"user_type"`
	ServiceCategory    string           `json:"service_category,omitempty"`
	TransactionAmount  float64          `json:"transaction_amount"`
	AppliedRules       []AppliedRuleDTO `json:"applied_rules"`
	BaseCommission     float64          `json:"base_commission"`
	ModifiedCommission float64          `json:"modified_commission"`
	TotalCommission    float64          `json:"total_commission"`
	FinalRate          float64          `json:"final_rate"`
	CalculatedAt       string           `json:"calculated_at"`
	Breakdown          []BreakdownDTO   `json:"breakdown"`
}

// AppliedRuleDTO represents one contributing rule.
type AppliedRuleDTO struct {
	RuleID        string  `json:"rule_id"`
	RuleName      string  `json:"rule_name"`
	Priority      int     `json:"priority"`
	IsBase        bool    `json:"is_base"`
	BaseRate      float64 `json:"base_rate"`
	ModifierValue float64 `json:"modifier_value"`
	FixedAmount   float64 `json:"fixed_amount"`
	FinalRate     float64 `json:"final_rate"`
}

// BreakdownDTO represents one line of a calculation breakdown.
type BreakdownDTO struct {
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Amount      float64  `json:"amount"`
	Percentage  *float64 `json:"percentage,omitempty"`
}

// SimulationDTO is a baseline calculation plus what-if alternatives.
type SimulationDTO struct {
	Calculation  CalculationDTO   `json:"calculation"`
	Alternatives []AlternativeDTO `json:"alternatives"`
}

type AlternativeDTO struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Calculation CalculationDTO `json:"calculation"`
	Difference  float64        `json:"difference"`
}

// StatsDTO represents commission statistics for one period.
type StatsDTO struct {
	Period           string                    `json:"period"`
	WindowStart      string                    `json:"window_start"`
	WindowEnd        string                    `json:"window_end"`
	TransactionCount int                       `json:"transaction_count"`
	TotalVolume      float64                   `json:"total_volume"`
	TotalCommission  float64                   `json:"total_commission"`
	AverageRate      float64                   `json:"average_rate"`
	ByRule           []RuleUsageDTO            `json:"by_rule"`
	ByUserType       map[string]GroupTotalsDTO `json:"by_user_type"`
	ByCategory       map[string]GroupTotalsDTO `json:"by_category"`
	PreviousTotal    float64                   `json:"previous_total"`
	Growth           *float64                  `json:"growth"`
}

type RuleUsageDTO struct {
	RuleID      string  `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

type GroupTotalsDTO struct {
	Count      int     `json:"count"`
	Volume     float64 `json:"volume"`
	Commission float64 `json:"commission"`
}

// DeleteRuleResponse reports whether a rule was removed.
type DeleteRuleResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// HealthDTO is the liveness response.
type HealthDTO struct {
	Status  string `json:"status"`
	Rules   int    `json:"rules"`
	History bool   `json:"history"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCalculationDTO(c commission.Calculation) CalculationDTO {
	dto := CalculationDTO{
		TransactionID:      c.TransactionID,
		UserID:             c.UserID,
		UserType:           string(c.UserType),
		ServiceCategory:    c.ServiceCategory,
		TransactionAmount:  c.TransactionAmount.InexactFloat64(),
		AppliedRules:       make([]AppliedRuleDTO, len(c.AppliedRules)),
		BaseCommission:     c.BaseCommission.InexactFloat64(),
		ModifiedCommission: c.ModifiedCommission.InexactFloat64(),
		TotalCommission:    c.TotalCommission.InexactFloat64(),
		FinalRate:          c.FinalRate.InexactFloat64(),
		CalculatedAt:       c.CalculatedAt.Format(time.RFC3339),
		Breakdown:          make([]BreakdownDTO, len(c.Breakdown)),
	}
	for i, ar := range c.AppliedRules {
		dto.AppliedRules[i] = AppliedRuleDTO{
			RuleID:        string(ar.RuleID),
			RuleName:      ar.RuleName,
			Priority:      ar.Priority,
			IsBase:        ar.IsBase,
			BaseRate:      ar.BaseRate.InexactFloat64(),
			ModifierValue: ar.ModifierValue.InexactFloat64(),
			FixedAmount:   ar.FixedAmount.InexactFloat64(),
			FinalRate:     ar.FinalRate.InexactFloat64(),
		}
	}
	for i, e := range c.Breakdown {
		dto.Breakdown[i] = BreakdownDTO{
			RuleID:      string(e.RuleID),
			Description: e.Description,
			Type:        string(e.Type),
			Amount:      e.Amount.InexactFloat64(),
			Percentage:  floatPtr(e.Percentage),
		}
	}
	return dto
}

func toSimulationDTO(s commission.Simulation) SimulationDTO {
	dto := SimulationDTO{
		Calculation:  toCalculationDTO(s.Calculation),
		Alternatives: make([]AlternativeDTO, len(s.Alternatives)),
	}
	for i, alt := range s.Alternatives {
		dto.Alternatives[i] = AlternativeDTO{
			ID:          string(alt.ID),
			Name:        alt.Name,
			Description: alt.Description,
			Calculation: toCalculationDTO(alt.Calculation),
			Difference:  alt.Difference.InexactFloat64(),
		}
	}
	return dto
}

func toStatsDTO(s commission.Stats) StatsDTO {
	dto := StatsDTO{
		Period:           string(s.Period),
		WindowStart:      s.Window.Start.Format(time.RFC3339),
		WindowEnd:        s.Window.End.Format(time.RFC3339),
		TransactionCount: s.TransactionCount,
		TotalVolume:      s.TotalVolume.InexactFloat64(),
		TotalCommission:  s.TotalCommission.InexactFloat64(),
		AverageRate:      s.AverageRate.InexactFloat64(),
		ByRule:           make([]RuleUsageDTO, len(s.ByRule)),
		ByUserType:       make(map[string]GroupTotalsDTO, len(s.ByUserType)),
		ByCategory:       make(map[string]GroupTotalsDTO, len(s.ByCategory)),
		PreviousTotal:    s.PreviousTotal.InexactFloat64(),
		Growth:           floatPtr(s.Growth),
	}
	for i, u := range s.ByRule {
		dto.ByRule[i] = RuleUsageDTO{
			RuleID:      string(u.RuleID),
			RuleName:    u.RuleName,
			Count:       u.Count,
			TotalAmount: u.TotalAmount.InexactFloat64(),
		}
	}
	for ut, g := range s.ByUserType {
		dto.ByUserType[string(ut)] = toGroupTotalsDTO(g)
	}
	for cat, g := range s.ByCategory {
		dto.ByCategory[cat] = toGroupTotalsDTO(g)
	}
	return dto
}

func toGroupTotalsDTO(g commission.GroupTotals) GroupTotalsDTO {
	return GroupTotalsDTO{
		Count:      g.Count,
		Volume:     g.Volume.InexactFloat64(),
		Commission: g.Commission.InexactFloat64(),
	}
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
