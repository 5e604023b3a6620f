/*
service.go - Call-level contract for the hosting service

PURPOSE:
  Bundles the rule store, calculator, simulator and history ledger behind
  the operations a hosting service exposes:

    CalculateCommission   SimulateCommission   GetCommissionStats
    AddRule  UpdateRule  DeleteRule  GetAllRules  GetRuleByID

  The calculator and simulator stay pure. The service adds the side
  effects around them: recording calculations into History, structured
  logging, metrics, and a short-lived stats cache.

HISTORY:
  History is optional. Without it, calculations are not recorded and
  GetCommissionStats returns ErrHistoryUnavailable. A failed Record is
  logged, not returned: the calculation itself is still valid.

STATS CACHE:
  Stats per period are cached for a TTL and flushed whenever a new
  calculation is recorded.
*/
package commission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Recorder receives operational measurements. metrics.Collector implements it.
type Recorder interface {
	ObserveCalculation(calc Calculation, elapsed time.Duration)
	ObserveSimulation(sim Simulation, elapsed time.Duration)
	ObserveRuleMutation(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCalculation(Calculation, time.Duration) {}
func (nopRecorder) ObserveSimulation(Simulation, time.Duration)   {}
func (nopRecorder) ObserveRuleMutation(string, error)             {}

type Service struct {
	rules    RuleStore
	calc     *Calculator
	sim      *Simulator
	history  History
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
	stats    *cache.Cache

	// statsMu orders cache writes against flushes. statsGen counts flushes so
	// an aggregate read before a flush is never cached after it.
	statsMu  sync.Mutex
	statsGen uint64
}

type Option func(*Service)

func WithHistory(h History) Option { return func(s *Service) { s.history = h } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithTransactionIDs overrides how missing transaction ids are generated.
func WithTransactionIDs(ids IDFunc) Option { return func(s *Service) { s.calc.IDs = ids } }

// WithStatsTTL sets how long stats stay cached. Zero disables the cache.
func WithStatsTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			s.stats = nil
			return
		}
		s.stats = cache.New(ttl, 2*ttl)
	}
}

func NewService(rules RuleStore, clock Clock, opts ...Option) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	calc := NewCalculator(rules, clock)
	s := &Service{
		rules:    rules,
		calc:     calc,
		sim:      NewSimulator(calc),
		clock:    clock,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		stats:    cache.New(time.Minute, 2*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasHistory reports whether calculations are recorded and stats available.
func (s *Service) HasHistory() bool {
	return s.history != nil
}

// =============================================================================
// CALCULATION
// =============================================================================

func (s *Service) CalculateCommission(ctx context.Context, req Request) (Calculation, error) {
	start := time.Now()
	calc, err := s.calc.Calculate(ctx, req)
	if err != nil {
		return Calculation{}, err
	}
	s.recorder.ObserveCalculation(calc, time.Since(start))

	if len(calc.AppliedRules) == 0 {
		s.logger.InfoContext(ctx, "No commission rule applies",
			slog.String("transaction_id", calc.TransactionID),
			slog.String("user_type", string(req.UserType)),
			slog.String("service_category", req.ServiceCategory))
	} else {
		s.logger.DebugContext(ctx, "Commission calculated",
			slog.String("transaction_id", calc.TransactionID),
			slog.String("user_id", calc.UserID),
			slog.String("total", calc.TotalCommission.String()),
			slog.String("final_rate", calc.FinalRate.String()),
			slog.Int("applied_rules", len(calc.AppliedRules)))
	}

	if s.history != nil {
		if err := s.history.Record(ctx, calc); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record calculation",
				slog.String("transaction_id", calc.TransactionID),
				slog.String("error", err.Error()))
		} else {
			s.invalidateStats()
		}
	}
	return calc, nil
}

func (s *Service) SimulateCommission(ctx context.Context, req SimulationRequest) (Simulation, error) {
	start := time.Now()
	sim, err := s.sim.Simulate(ctx, req)
	if err != nil {
		return Simulation{}, err
	}
	s.recorder.ObserveSimulation(sim, time.Since(start))
	return sim, nil
}

// =============================================================================
// RULES
// =============================================================================

func (s *Service) AddRule(ctx context.Context, draft RuleDraft) (Rule, error) {
	rule, err := s.rules.AddRule(ctx, draft)
	s.recorder.ObserveRuleMutation("add", err)
	if err != nil {
		return Rule{}, err
	}
	s.logger.InfoContext(ctx, "Rule added",
		slog.String("rule_id", string(rule.ID)),
		slog.String("name", rule.Name),
		slog.Int("priority", rule.Priority))
	return rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, id RuleID, patch RulePatch) (Rule, error) {
	rule, err := s.rules.UpdateRule(ctx, id, patch)
	s.recorder.ObserveRuleMutation("update", err)
	if err != nil {
		return Rule{}, err
	}
	s.logger.InfoContext(ctx, "Rule updated",
		slog.String("rule_id", string(rule.ID)),
		slog.Bool("active", rule.Active))
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id RuleID) (bool, error) {
	deleted, err := s.rules.DeleteRule(ctx, id)
	s.recorder.ObserveRuleMutation("delete", err)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.InfoContext(ctx, "Rule deleted", slog.String("rule_id", string(id)))
	}
	return deleted, nil
}

func (s *Service) GetAllRules(ctx context.Context) ([]Rule, error) {
	return s.rules.GetAllRules(ctx)
}

func (s *Service) GetRuleByID(ctx context.Context, id RuleID) (Rule, error) {
	return s.rules.GetRuleByID(ctx, id)
}

// =============================================================================
// STATS
// =============================================================================

// GetCommissionStats aggregates recorded calculations for the current window
// of period, with growth against the previous window.
func (s *Service) GetCommissionStats(ctx context.Context, period StatsPeriod) (Stats, error) {
	if s.history == nil {
		return Stats{}, ErrHistoryUnavailable
	}

	window, err := period.WindowFor(s.clock.Now())
	if err != nil {
		return Stats{}, err
	}

	key := string(period) + "@" + window.Start.Format(time.RFC3339)
	if s.stats != nil {
		if cached, ok := s.stats.Get(key); ok {
			return cached.(Stats), nil
		}
	}

	gen := s.statsGeneration()
	prevWindow := period.Previous(window)
	records, err := s.history.Between(ctx, prevWindow.Start, window.End)
	if err != nil {
		return Stats{}, err
	}

	st := Aggregate(records, window).WithPrevious(Aggregate(records, prevWindow))
	st.Period = period

	s.cacheStats(key, st, gen)
	return st, nil
}

func (s *Service) statsGeneration() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.statsGen
}

// cacheStats stores st unless a calculation was recorded since gen was read.
func (s *Service) cacheStats(key string, st Stats, gen uint64) {
	if s.stats == nil {
		return
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.statsGen == gen {
		s.stats.Set(key, st, cache.DefaultExpiration)
	}
}

func (s *Service) invalidateStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.statsGen++
	if s.stats != nil {
		s.stats.Flush()
	}
}
