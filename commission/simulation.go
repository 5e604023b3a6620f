package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ExperiencedEventThreshold is the event count the experienced-user
// scenario raises a user to.
const ExperiencedEventThreshold = 10

const simulationUserID = "simulation"

type ScenarioID string

const (
	ScenarioPremiumPlan     ScenarioID = "premium_plan"
	ScenarioExperiencedUser ScenarioID = "experienced_user"
)

// SimulationRequest is a Request without a user id; simulations are anonymous.
type SimulationRequest struct {
	Amount          decimal.Decimal
	UserType        UserType
	ServiceCategory string
	UserPlan        string
	UserEventCount  int
}

type Alternative struct {
	ID          ScenarioID
	Name        string
	Description string
	Calculation Calculation
	Difference  decimal.Decimal // alternative total minus baseline total
}

type Simulation struct {
	Calculation  Calculation
	Alternatives []Alternative
}

// Simulator runs what-if calculations. Nothing it computes is recorded.
type Simulator struct {
	Calculator *Calculator
}

func NewSimulator(calc *Calculator) *Simulator {
	return &Simulator{Calculator: calc}
}

// Simulate computes the baseline and every alternative that applies to req
// against a single rule snapshot.
func (s *Simulator) Simulate(ctx context.Context, req SimulationRequest) (Simulation, error) {
	base := Request{
		Amount:          req.Amount,
		UserID:          simulationUserID,
		UserType:        req.UserType,
		ServiceCategory: req.ServiceCategory,
		UserPlan:        req.UserPlan,
		UserEventCount:  req.UserEventCount,
	}
	if err := base.Validate(); err != nil {
		return Simulation{}, err
	}

	rules, err := s.Calculator.Rules.GetAllRules(ctx)
	if err != nil {
		return Simulation{}, fmt.Errorf("failed to load rules: %w", err)
	}

	baseline := s.Calculator.calculate(rules, base)

	sim := Simulation{Calculation: baseline, Alternatives: []Alternative{}}
	for _, sc := range scenarios(base) {
		alt := s.Calculator.calculate(rules, sc.request)
		sim.Alternatives = append(sim.Alternatives, Alternative{
			ID:          sc.id,
			Name:        sc.name,
			Description: sc.description,
			Calculation: alt,
			Difference:  alt.TotalCommission.Sub(baseline.TotalCommission),
		})
	}
	return sim, nil
}

type scenario struct {
	id          ScenarioID
	name        string
	description string
	request     Request
}

func scenarios(base Request) []scenario {
	var out []scenario

	if base.UserPlan != PlanPremium {
		r := base
		r.UserPlan = PlanPremium
		out = append(out, scenario{
			id:          ScenarioPremiumPlan,
			name:        "With premium plan",
			description: fmt.Sprintf("Same transaction on the %s plan", PlanPremium),
			request:     r,
		})
	}

	if base.UserEventCount < ExperiencedEventThreshold {
		r := base
		r.UserEventCount = ExperiencedEventThreshold
		out = append(out, scenario{
			id:          ScenarioExperiencedUser,
			name:        "As an experienced user",
			description: fmt.Sprintf("Same transaction with %d completed events", ExperiencedEventThreshold),
			request:     r,
		})
	}

	return out
}
