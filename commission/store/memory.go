// Package store provides in-memory RuleStore and History implementations.
package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/commission-engine/commission"
)

var (
	_ commission.RuleStore = (*Memory)(nil)
	_ commission.History   = (*MemoryHistory)(nil)
)

// =============================================================================
// MEMORY RULE STORE
// =============================================================================

// Memory is a RuleStore guarded by a single RWMutex. Rules go in and come
// out as deep copies, so readers never observe a partially updated rule.
type Memory struct {
	mu    sync.RWMutex
	rules map[commission.RuleID]commission.Rule
	seq   map[commission.RuleID]int64 // insertion order, breaks priority ties
	next  int64
	clock commission.Clock
	ids   commission.IDFunc
	seed  []commission.RuleDraft
}

type Option func(*Memory)

func WithClock(c commission.Clock) Option { return func(m *Memory) { m.clock = c } }

func WithIDs(f commission.IDFunc) Option { return func(m *Memory) { m.ids = f } }

// WithSeed adds drafts at construction, in order, after the clock and id
// options are applied. Invalid drafts panic: the seed set is part of the
// program, not user input.
func WithSeed(drafts ...commission.RuleDraft) Option {
	return func(m *Memory) { m.seed = append(m.seed, drafts...) }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		rules: make(map[commission.RuleID]commission.Rule),
		seq:   make(map[commission.RuleID]int64),
		clock: commission.SystemClock{},
		ids:   commission.UUIDs(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range m.seed {
		if _, err := m.AddRule(context.Background(), d); err != nil {
			panic(fmt.Sprintf("invalid seed rule %q: %v", d.Name, err))
		}
	}
	m.seed = nil
	return m
}

func (m *Memory) AddRule(_ context.Context, draft commission.RuleDraft) (commission.Rule, error) {
	if err := commission.ValidateDraft(draft); err != nil {
		return commission.Rule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := commission.RuleID(m.ids())
	for {
		if _, taken := m.rules[id]; !taken {
			break
		}
		id = commission.RuleID(m.ids())
	}

	rule := commission.NewRule(id, draft, m.clock.Now())
	m.rules[id] = rule
	m.next++
	m.seq[id] = m.next
	return rule.Clone(), nil
}

func (m *Memory) UpdateRule(_ context.Context, id commission.RuleID, patch commission.RulePatch) (commission.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[id]
	if !ok {
		return commission.Rule{}, &commission.NotFoundError{ID: id}
	}

	updated := patch.Apply(existing)
	if err := commission.ValidateRule(updated); err != nil {
		return commission.Rule{}, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = m.clock.Now()

	m.rules[id] = updated
	return updated.Clone(), nil
}

func (m *Memory) DeleteRule(_ context.Context, id commission.RuleID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return false, nil
	}
	delete(m.rules, id)
	delete(m.seq, id)
	return true, nil
}

func (m *Memory) GetRuleByID(_ context.Context, id commission.RuleID) (commission.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return commission.Rule{}, &commission.NotFoundError{ID: id}
	}
	return rule.Clone(), nil
}

// GetAllRules returns rules by ascending priority, then insertion order.
func (m *Memory) GetAllRules(_ context.Context) ([]commission.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]commission.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r.Clone())
	}
	slices.SortFunc(result, func(a, b commission.Rule) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(m.seq[a.ID], m.seq[b.ID])
	})
	return result, nil
}

// =============================================================================
// MEMORY HISTORY
// =============================================================================

// MemoryHistory keeps calculations ordered by CalculatedAt.
type MemoryHistory struct {
	mu    sync.RWMutex
	calcs []commission.Calculation
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Record inserts a copy of calc in CalculatedAt order. Append-only.
func (h *MemoryHistory) Record(_ context.Context, calc commission.Calculation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Binary search for insertion point; equal timestamps keep arrival order.
	i := sort.Search(len(h.calcs), func(i int) bool {
		return h.calcs[i].CalculatedAt.After(calc.CalculatedAt)
	})
	h.calcs = append(h.calcs, commission.Calculation{})
	copy(h.calcs[i+1:], h.calcs[i:])
	h.calcs[i] = calc.Clone()
	return nil
}

func (h *MemoryHistory) Between(_ context.Context, from, to time.Time) ([]commission.Calculation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []commission.Calculation
	for _, c := range h.calcs {
		if !c.CalculatedAt.Before(from) && c.CalculatedAt.Before(to) {
			result = append(result, c.Clone())
		}
	}
	return result, nil
}
