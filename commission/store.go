/*
store.go - Persistence interfaces for rules and calculation history

PURPOSE:
  Defines the boundary between the calculation core and its storage.
  Rules live in a RuleStore for the lifetime of the process. Past
  calculations are appended to a History ledger that stats read from.

KEY INTERFACES:
  RuleStore: Rule CRUD and priority-ordered enumeration
  History:   Append-only ledger of calculation records
  Clock:     Time source, injected so tests are deterministic
  IDFunc:    Rule/transaction id source

CONSISTENCY:
  RuleStore implementations serialize writes against reads and hand out
  deep copies, so a calculation never observes a half-updated rule.

IMPLEMENTATIONS:
  - commission/store/memory.go: In-memory RuleStore and History
  - store/sqlite/sqlite.go: SQLite History

SEE ALSO:
  - calculator.go: Reads rules through RuleStore
  - stats.go: Reads History
*/
package commission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RULE STORE
// =============================================================================

// RuleStore holds commission rule definitions.
type RuleStore interface {
	// AddRule validates the draft, assigns an id and both timestamps.
	AddRule(ctx context.Context, draft RuleDraft) (Rule, error)

	// UpdateRule merges patch into an existing rule and refreshes UpdatedAt.
	// Unknown ids return ErrRuleNotFound and change nothing.
	UpdateRule(ctx context.Context, id RuleID, patch RulePatch) (Rule, error)

	// DeleteRule removes a rule. Unknown ids return false, not an error.
	DeleteRule(ctx context.Context, id RuleID) (bool, error)

	// GetRuleByID returns ErrRuleNotFound for unknown ids.
	GetRuleByID(ctx context.Context, id RuleID) (Rule, error)

	// GetAllRules returns every rule in ascending priority order.
	GetAllRules(ctx context.Context) ([]Rule, error)
}

// =============================================================================
// HISTORY - Append-only calculation ledger
// =============================================================================

// History stores past calculations for reporting.
type History interface {
	Record(ctx context.Context, calc Calculation) error

	// Between returns calculations with CalculatedAt in [from, to).
	Between(ctx context.Context, from, to time.Time) ([]Calculation, error)
}

// =============================================================================
// CLOCK AND IDS
// =============================================================================

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// IDFunc produces unique identifiers.
type IDFunc func() string

// UUIDs returns random UUIDs.
func UUIDs() IDFunc {
	return uuid.NewString
}

// SequentialIDs returns prefix-1, prefix-2, ... Safe for concurrent use.
func SequentialIDs(prefix string) IDFunc {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
