package commission_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(drafts ...commission.RuleDraft) *store.Memory {
	return store.NewMemory(
		store.WithClock(commission.FixedClock{At: testNow}),
		store.WithIDs(commission.SequentialIDs("rule")),
		store.WithSeed(drafts...),
	)
}

func newTestCalculator(drafts ...commission.RuleDraft) *commission.Calculator {
	calc := commission.NewCalculator(newTestStore(drafts...), commission.FixedClock{At: testNow})
	calc.IDs = commission.SequentialIDs("tx")
	return calc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// assertDecimal compares by value, so "50" equals "50.00".
func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, dec(want).String(), got.String(), msgAndArgs...)
}

func draft(name string, ut commission.UserType, priority int, baseRate string) commission.RuleDraft {
	return commission.RuleDraft{
		Name:     name,
		UserType: ut,
		Active:   true,
		Priority: priority,
		BaseRate: dec(baseRate),
	}
}

func percentage(value string, conds ...commission.Condition) commission.Modifier {
	return commission.Modifier{Type: commission.ModifierPercentage, Value: dec(value), Conditions: conds}
}

func planIs(plan string) commission.Condition {
	return commission.Condition{Type: commission.ConditionPlan, Operator: commission.OpEQ, Value: commission.Text(plan)}
}

func volumeAtLeast(v float64) commission.Condition {
	return commission.Condition{Type: commission.ConditionVolume, Operator: commission.OpGTE, Value: commission.Number(v)}
}

func provider(amount string) commission.Request {
	return commission.Request{
		Amount:   dec(amount),
		UserID:   "user-1",
		UserType: commission.UserTypeProvider,
	}
}

func breakdownSum(c commission.Calculation) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range c.Breakdown {
		sum = sum.Add(e.Amount)
	}
	return sum
}
