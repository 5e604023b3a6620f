// Package metrics exposes commission engine measurements to Prometheus.
//
// Collector implements commission.Recorder, so the service reports into it
// without importing Prometheus itself. Every metric lives on a private
// registry served by Handler.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/commission-engine/commission"
)

var _ commission.Recorder = (*Collector)(nil)

type Collector struct {
	registry            *prometheus.Registry
	calculations        *prometheus.CounterVec
	calculationDuration prometheus.Histogram
	commissionTotal     *prometheus.CounterVec
	effectiveRate       prometheus.Histogram
	simulations         prometheus.Counter
	alternatives        prometheus.Histogram
	ruleMutations       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	logger              *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		calculations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_calculations_total",
			Help: "Total number of commission calculations",
		}, []string{"user_type", "matched"}),
		calculationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commission_calculation_duration_seconds",
			Help:    "Time taken to calculate a commission",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		commissionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_amount_total",
			Help: "Sum of calculated commission amounts",
		}, []string{"user_type"}),
		effectiveRate: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commission_effective_rate_percent",
			Help:    "Distribution of final commission rates",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 7.5, 10, 15, 20},
		}),
		simulations: factory.NewCounter(prometheus.CounterOpts{
			Name: "commission_simulations_total",
			Help: "Total number of commission simulations",
		}),
		alternatives: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commission_simulation_alternatives",
			Help:    "Number of alternatives returned per simulation",
			Buckets: []float64{0, 1, 2, 3},
		}),
		ruleMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_rule_mutations_total",
			Help: "Rule add/update/delete operations by outcome",
		}, []string{"op", "result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logger: logger,
	}
}

func (c *Collector) ObserveCalculation(calc commission.Calculation, elapsed time.Duration) {
	matched := strconv.FormatBool(len(calc.AppliedRules) > 0)
	c.calculations.WithLabelValues(string(calc.UserType), matched).Inc()
	c.calculationDuration.Observe(elapsed.Seconds())
	if len(calc.AppliedRules) == 0 {
		return
	}
	// Counters reject negative adds; a net-negative commission only counts as zero.
	if total := calc.TotalCommission.InexactFloat64(); total > 0 {
		c.commissionTotal.WithLabelValues(string(calc.UserType)).Add(total)
	}
	c.effectiveRate.Observe(calc.FinalRate.InexactFloat64())
}

func (c *Collector) ObserveSimulation(sim commission.Simulation, _ time.Duration) {
	c.simulations.Inc()
	c.alternatives.Observe(float64(len(sim.Alternatives)))
}

func (c *Collector) ObserveRuleMutation(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case commission.IsNotFound(err):
		result = "not_found"
	case commission.IsClientError(err):
		result = "invalid"
	default:
		result = "error"
		c.logger.Warn("Rule mutation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
	c.ruleMutations.WithLabelValues(op, result).Inc()
}

// Middleware counts requests by chi route pattern, not raw path, so rule
// ids do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests that gather metric families directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
