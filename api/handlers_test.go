package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
}

type serverOption func(*api.RouterConfig, *[]commission.Option)

func withoutHistory() serverOption {
	return func(_ *api.RouterConfig, opts *[]commission.Option) {
		*opts = (*opts)[:0]
	}
}

func withRateLimit(perSecond float64) serverOption {
	return func(cfg *api.RouterConfig, _ *[]commission.Option) {
		cfg.RateLimit = perSecond
	}
}

// newTestServer seeds the default rules as rule-1 through rule-5.
func newTestServer(t *testing.T, options ...serverOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := commission.FixedClock{At: testNow}

	rules := store.NewMemory(
		store.WithClock(clock),
		store.WithIDs(commission.SequentialIDs("rule")),
		store.WithSeed(factory.DefaultRules()...),
	)
	collector := metrics.NewCollector(logger)

	cfg := api.RouterConfig{Metrics: collector}
	svcOpts := []commission.Option{commission.WithHistory(store.NewMemoryHistory())}
	for _, o := range options {
		o(&cfg, &svcOpts)
	}
	svcOpts = append(svcOpts,
		commission.WithLogger(logger),
		commission.WithRecorder(collector),
		commission.WithTransactionIDs(commission.SequentialIDs("tx")),
	)

	svc := commission.NewService(rules, clock, svcOpts...)
	return &testServer{router: api.NewRouter(api.NewHandler(svc, logger), cfg)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func (e errorBody) fields(t *testing.T) []string {
	t.Helper()
	var details []api.FieldError
	require.NoError(t, json.Unmarshal(e.Details, &details))
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Field
	}
	return out
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func TestCalculate_ProviderStandard(t *testing.T) {
	// GIVEN: The default rules
	// WHEN: A basic provider with no history earns 1000
	// THEN: The 5% standard rate applies with no modifiers

	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{
		Amount:   1000,
		UserID:   "user-1",
		UserType: "prestador",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	calc := decodeBody[api.CalculationDTO](t, rec)
	assert.Equal(t, "tx-1", calc.TransactionID)
	assert.Equal(t, 50.0, calc.BaseCommission)
	assert.Equal(t, 50.0, calc.TotalCommission)
	assert.Equal(t, 0.0, calc.ModifiedCommission)
	assert.Equal(t, 5.0, calc.FinalRate)
	require.Len(t, calc.AppliedRules, 1)
	assert.Equal(t, "rule-1", calc.AppliedRules[0].RuleID)
	assert.True(t, calc.AppliedRules[0].IsBase)
	require.Len(t, calc.Breakdown, 1)
	assert.Equal(t, "base", calc.Breakdown[0].Type)
	assert.Equal(t, "2025-03-15T12:00:00Z", calc.CalculatedAt)
}

func TestCalculate_NoMatchingRule(t *testing.T) {
	srv := newTestServer(t)

	// Remove every client rule first.
	rec := srv.do(t, http.MethodDelete, "/api/rules/rule-4", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{
		Amount:   300,
		UserID:   "user-2",
		UserType: "contratante",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	calc := decodeBody[api.CalculationDTO](t, rec)
	assert.Zero(t, calc.TotalCommission)
	assert.NotNil(t, calc.AppliedRules)
	assert.Empty(t, calc.AppliedRules)
	assert.Empty(t, calc.Breakdown)
}

func TestCalculate_InvalidRequest(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{
		Amount:   -1,
		UserType: "all",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "invalid_request", body.Code)
	assert.ElementsMatch(t, []string{"amount", "user_type"}, body.fields(t))
}

func TestCalculate_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/commissions/calculate", `{"amount": "lots"`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody[errorBody](t, rec).Error)
}

func TestSimulate_OffersAlternatives(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/commissions/simulate", api.SimulateRequest{
		Amount:         1000,
		UserType:       "prestador",
		UserPlan:       "basic",
		UserEventCount: 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sim := decodeBody[api.SimulationDTO](t, rec)
	assert.Equal(t, 50.0, sim.Calculation.TotalCommission)
	require.Len(t, sim.Alternatives, 2)
	assert.Equal(t, string(commission.ScenarioPremiumPlan), sim.Alternatives[0].ID)
	assert.Equal(t, -10.0, sim.Alternatives[0].Difference)
	assert.Equal(t, -5.0, sim.Alternatives[1].Difference)
}

func TestStats_AfterCalculations(t *testing.T) {
	srv := newTestServer(t)

	for _, amount := range []float64{1000, 500} {
		rec := srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{
			Amount: amount, UserID: "user-1", UserType: "prestador",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	// Simulations do not count.
	srv.do(t, http.MethodPost, "/api/commissions/simulate", api.SimulateRequest{Amount: 1000, UserType: "prestador"})

	rec := srv.do(t, http.MethodGet, "/api/commissions/stats?period=month", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decodeBody[api.StatsDTO](t, rec)
	assert.Equal(t, "month", st.Period)
	assert.Equal(t, "2025-03-01T00:00:00Z", st.WindowStart)
	assert.Equal(t, 2, st.TransactionCount)
	assert.Equal(t, 1500.0, st.TotalVolume)
	assert.Equal(t, 75.0, st.TotalCommission)
	assert.Equal(t, 5.0, st.AverageRate)
	require.Len(t, st.ByRule, 1)
	assert.Equal(t, "Provider standard", st.ByRule[0].RuleName)
	assert.Equal(t, 2, st.ByUserType["prestador"].Count)
	assert.Nil(t, st.Growth)
}

func TestStats_Errors(t *testing.T) {
	t.Run("unknown period", func(t *testing.T) {
		rec := newTestServer(t).do(t, http.MethodGet, "/api/commissions/stats?period=fortnight", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_period", decodeBody[errorBody](t, rec).Code)
	})

	t.Run("no history", func(t *testing.T) {
		rec := newTestServer(t, withoutHistory()).do(t, http.MethodGet, "/api/commissions/stats", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "history_unavailable", decodeBody[errorBody](t, rec).Code)
	})
}

// =============================================================================
// RULES
// =============================================================================

func TestRules_List(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rules := decodeBody[[]factory.RuleJSON](t, rec)
	require.Len(t, rules, 5)
	assert.Equal(t, "Provider high volume", rules[0].Name, "ascending priority")
	assert.Equal(t, "Event category surcharge", rules[4].Name)
}

func TestRules_Lifecycle(t *testing.T) {
	// GIVEN: The default rules
	// WHEN: Creating, reading, patching and deleting a rule over HTTP
	// THEN: Each step is reflected by the next request

	srv := newTestServer(t)
	rate := 1.5

	// Create
	rec := srv.do(t, http.MethodPost, "/api/rules", factory.RuleJSON{
		ID:       "ignored",
		Name:     "Launch promo",
		UserType: "prestador",
		Priority: 1,
		BaseRate: &rate,
		Conditions: []factory.ConditionJSON{
			{Type: "category", Operator: "eq", Value: "design"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[factory.RuleJSON](t, rec)
	assert.Equal(t, "rule-6", created.ID)
	require.NotNil(t, created.Active)
	assert.True(t, *created.Active)

	// Read
	rec = srv.do(t, http.MethodGet, "/api/rules/rule-6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Launch promo", decodeBody[factory.RuleJSON](t, rec).Name)

	// The promo takes over design work
	rec = srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{
		Amount: 1000, UserID: "user-1", UserType: "prestador", ServiceCategory: "design",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15.0, decodeBody[api.CalculationDTO](t, rec).TotalCommission)

	// Patch
	rec = srv.do(t, http.MethodPatch, "/api/rules/rule-6", `{"base_rate": 2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decodeBody[factory.RuleJSON](t, rec)
	require.NotNil(t, patched.BaseRate)
	assert.Equal(t, 2.0, *patched.BaseRate)
	assert.Equal(t, "Launch promo", patched.Name)

	// Delete
	rec = srv.do(t, http.MethodDelete, "/api/rules/rule-6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.DeleteRuleResponse{ID: "rule-6", Deleted: true}, decodeBody[api.DeleteRuleResponse](t, rec))

	rec = srv.do(t, http.MethodGet, "/api/rules/rule-6", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRules_CreateInvalid(t *testing.T) {
	srv := newTestServer(t)
	rate := 150.0

	rec := srv.do(t, http.MethodPost, "/api/rules", factory.RuleJSON{
		UserType: "prestador",
		BaseRate: &rate,
		Conditions: []factory.ConditionJSON{
			{Type: "performance", Operator: "gte", Value: 4.5},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "invalid_rule", body.Code)
	assert.ElementsMatch(t, []string{"name", "base_rate", "conditions[0].type"}, body.fields(t))

	list := decodeBody[[]factory.RuleJSON](t, srv.do(t, http.MethodGet, "/api/rules", nil))
	assert.Len(t, list, 5, "rule table unchanged")
}

func TestRules_CreateWithoutBaseRate(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodPost, "/api/rules", `{"name": "No rate", "user_type": "all"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, []string{"base_rate"}, body.fields(t))
}

func TestRules_UnknownID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPatch, "/api/rules/rule-404", `{"name": "x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "rule_not_found", decodeBody[errorBody](t, rec).Code)

	rec = srv.do(t, http.MethodDelete, "/api/rules/rule-404", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "rule_not_found", body.Code)
	assert.JSONEq(t, `{"id": "rule-404", "deleted": false}`, string(body.Details))
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealth(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.HealthDTO{Status: "ok", Rules: 5, History: true}, decodeBody[api.HealthDTO](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/commissions/calculate", api.CalculateRequest{Amount: 100, UserType: "anunciante"})

	rec := srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `commission_calculations_total{matched="true",user_type="anunciante"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/commissions/calculate"`)
}

func TestRateLimit(t *testing.T) {
	// GIVEN: One request per second on /api
	// WHEN: Two API requests arrive back to back
	// THEN: The second is rejected while health checks pass

	srv := newTestServer(t, withRateLimit(1))

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/rules", nil).Code)

	rec := srv.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody[errorBody](t, rec).Code)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/healthz", nil).Code)
}
