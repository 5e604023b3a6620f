package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleCalculation(txID string, at time.Time) commission.Calculation {
	pct := decimal.RequireFromString("-1")
	return commission.Calculation{
		TransactionID:      txID,
		UserID:             "user-1",
		UserType:           commission.UserTypeProvider,
		ServiceCategory:    "eventos",
		TransactionAmount:  decimal.RequireFromString("1000.10"),
		BaseCommission:     decimal.RequireFromString("50.005"),
		ModifiedCommission: decimal.RequireFromString("-10.001"),
		TotalCommission:    decimal.RequireFromString("40.004"),
		FinalRate:          decimal.RequireFromString("4"),
		CalculatedAt:       at,
		AppliedRules: []commission.AppliedRule{{
			RuleID:        "rule-1",
			RuleName:      "Standard",
			Priority:      10,
			IsBase:        true,
			BaseRate:      decimal.RequireFromString("5"),
			ModifierValue: pct,
			FixedAmount:   decimal.Zero,
			FinalRate:     decimal.RequireFromString("4"),
		}},
		Breakdown: []commission.BreakdownEntry{
			{RuleID: "rule-1", Description: "Standard", Type: commission.BreakdownBase, Amount: decimal.RequireFromString("50.005")},
			{RuleID: "rule-1", Description: "Premium plan discount", Type: commission.BreakdownBonus, Amount: decimal.RequireFromString("-10.001"), Percentage: &pct},
		},
	}
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestStore_RecordAndReadBack(t *testing.T) {
	// GIVEN: A recorded calculation with a full breakdown
	// WHEN: Reading its window back
	// THEN: Every field survives, decimals exactly

	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, time.March, 15, 12, 30, 45, 123456789, time.UTC)

	require.NoError(t, store.Record(ctx, sampleCalculation("tx-1", at)))

	got, err := store.Between(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "tx-1", c.TransactionID)
	assert.Equal(t, commission.UserTypeProvider, c.UserType)
	assert.Equal(t, "eventos", c.ServiceCategory)
	assert.True(t, c.CalculatedAt.Equal(at))
	assert.Equal(t, "1000.1", c.TransactionAmount.String())
	assert.Equal(t, "40.004", c.TotalCommission.String())

	require.Len(t, c.AppliedRules, 1)
	assert.Equal(t, commission.RuleID("rule-1"), c.AppliedRules[0].RuleID)
	assert.True(t, c.AppliedRules[0].IsBase)
	assert.Equal(t, "-1", c.AppliedRules[0].ModifierValue.String())

	require.Len(t, c.Breakdown, 2)
	assert.Nil(t, c.Breakdown[0].Percentage)
	require.NotNil(t, c.Breakdown[1].Percentage)
	assert.Equal(t, "-1", c.Breakdown[1].Percentage.String())
	assert.Equal(t, commission.BreakdownBonus, c.Breakdown[1].Type)
}

func TestStore_BetweenIsHalfOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, sampleCalculation("before", start.Add(-time.Nanosecond))))
	require.NoError(t, store.Record(ctx, sampleCalculation("at-start", start)))
	require.NoError(t, store.Record(ctx, sampleCalculation("inside", start.Add(10*24*time.Hour))))
	require.NoError(t, store.Record(ctx, sampleCalculation("at-end", end)))

	got, err := store.Between(ctx, start, end)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.TransactionID
	}
	assert.Equal(t, []string{"at-start", "inside"}, ids)
}

func TestStore_OrdersByTimeAcrossZones(t *testing.T) {
	// GIVEN: Calculations recorded with non-UTC timestamps out of order
	// WHEN: Reading back
	// THEN: They are ordered by instant

	store := newTestStore(t)
	ctx := context.Background()
	lisbon := time.FixedZone("WEST", 3600)
	saoPaulo := time.FixedZone("BRT", -3*3600)

	first := time.Date(2025, time.June, 1, 10, 0, 0, 0, lisbon)   // 09:00Z
	second := time.Date(2025, time.June, 1, 7, 0, 0, 0, saoPaulo) // 10:00Z

	require.NoError(t, store.Record(ctx, sampleCalculation("second", second)))
	require.NoError(t, store.Record(ctx, sampleCalculation("first", first)))

	got, err := store.Between(ctx, first.Add(-time.Hour), second.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].TransactionID)
	assert.Equal(t, "second", got[1].TransactionID)
}

func TestStore_RecalculationIsNewRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, sampleCalculation("tx-1", at)))
	require.NoError(t, store.Record(ctx, sampleCalculation("tx-1", at)))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_ServesStats(t *testing.T) {
	// GIVEN: A service backed by the SQLite ledger
	// WHEN: Calculating and asking for monthly stats
	// THEN: Stats reflect the persisted calculations

	history := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

	rules := &staticRules{rules: []commission.Rule{{
		ID: "rule-1", Name: "Standard", Active: true, Priority: 10,
		UserType: commission.UserTypeAll, BaseRate: decimal.NewFromInt(5),
	}}}
	svc := commission.NewService(rules, commission.FixedClock{At: now},
		commission.WithHistory(history), commission.WithStatsTTL(0))

	for _, amount := range []int64{1000, 3000} {
		_, err := svc.CalculateCommission(ctx, commission.Request{
			Amount:   decimal.NewFromInt(amount),
			UserID:   "user-1",
			UserType: commission.UserTypeClient,
		})
		require.NoError(t, err)
	}

	st, err := svc.GetCommissionStats(ctx, commission.PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TransactionCount)
	assert.Equal(t, "200", st.TotalCommission.String())
	require.Len(t, st.ByRule, 1)
	assert.Equal(t, 2, st.ByRule[0].Count)
}

// staticRules is a read-only RuleStore.
type staticRules struct {
	rules []commission.Rule
}

func (s *staticRules) AddRule(context.Context, commission.RuleDraft) (commission.Rule, error) {
	return commission.Rule{}, commission.ErrValidation
}

func (s *staticRules) UpdateRule(_ context.Context, id commission.RuleID, _ commission.RulePatch) (commission.Rule, error) {
	return commission.Rule{}, &commission.NotFoundError{ID: id}
}

func (s *staticRules) DeleteRule(context.Context, commission.RuleID) (bool, error) {
	return false, nil
}

func (s *staticRules) GetRuleByID(_ context.Context, id commission.RuleID) (commission.Rule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return commission.Rule{}, &commission.NotFoundError{ID: id}
}

func (s *staticRules) GetAllRules(context.Context) ([]commission.Rule, error) {
	return s.rules, nil
}
