package metrics

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
)

func newTestCollector() *Collector {
	return NewCollector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCollector_ObserveCalculation(t *testing.T) {
	c := newTestCollector()

	c.ObserveCalculation(commission.Calculation{
		UserType:        commission.UserTypeProvider,
		AppliedRules:    []commission.AppliedRule{{RuleID: "rule-1"}},
		TotalCommission: decimal.NewFromInt(50),
		FinalRate:       decimal.NewFromInt(5),
	}, time.Millisecond)
	c.ObserveCalculation(commission.Calculation{
		UserType:        commission.UserTypeProvider,
		TotalCommission: decimal.Zero,
	}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.calculations.WithLabelValues("prestador", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calculations.WithLabelValues("prestador", "false")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.commissionTotal.WithLabelValues("prestador")))
	assert.Equal(t, uint64(2), histogramSamples(t, c, "commission_calculation_duration_seconds"))
}

// histogramSamples returns the observation count of an unlabelled histogram.
func histogramSamples(t *testing.T, c *Collector, name string) uint64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestCollector_NegativeCommissionNotAdded(t *testing.T) {
	c := newTestCollector()

	assert.NotPanics(t, func() {
		c.ObserveCalculation(commission.Calculation{
			UserType:        commission.UserTypeClient,
			AppliedRules:    []commission.AppliedRule{{RuleID: "rule-1"}},
			TotalCommission: decimal.NewFromInt(-3),
		}, 0)
	})
	assert.Zero(t, testutil.ToFloat64(c.commissionTotal.WithLabelValues("contratante")))
}

func TestCollector_ObserveRuleMutation(t *testing.T) {
	c := newTestCollector()

	c.ObserveRuleMutation("add", nil)
	c.ObserveRuleMutation("add", &commission.ValidationError{Field: "name", Reason: "is required"})
	c.ObserveRuleMutation("update", &commission.NotFoundError{ID: "rule-9"})
	c.ObserveRuleMutation("delete", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleMutations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleMutations.WithLabelValues("add", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleMutations.WithLabelValues("update", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleMutations.WithLabelValues("delete", "error")))
}

func TestCollector_Middleware_UsesRoutePattern(t *testing.T) {
	// GIVEN: A chi router with a parameterised route behind the middleware
	// WHEN: Requesting two different ids and an unknown path
	// THEN: Requests are counted under the pattern, not the raw path

	c := newTestCollector()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/rules/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/rules/a", "/rules/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/rules/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector()
	c.ObserveSimulation(commission.Simulation{Alternatives: make([]commission.Alternative, 2)}, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "commission_simulations_total 1")
	assert.Contains(t, body, "commission_simulation_alternatives_count 1")
}
