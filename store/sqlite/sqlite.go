/*
Package sqlite provides a SQLite-backed calculation history.

PURPOSE:
  Implements commission.History on SQLite so stats survive restarts.
  Rules stay in memory; only calculation records are persisted.

APPEND-ONLY ENFORCEMENT:
  The ledger has no UPDATE or DELETE path. A recalculation of the same
  transaction is a new record.

KEY TABLES:
  calculations: One row per calculation. Money and rates are stored as
                decimal TEXT; applied rules and breakdown as JSON.

INDEXES:
  - idx_calculations_calculated_at: Stats window scans (hot path)
  - idx_calculations_transaction:   Lookup by transaction id

TIME FORMAT:
  calculated_at is stored in UTC with fixed nanosecond width, so string
  order equals time order and the window query can compare TEXT.

CONCURRENCY:
  Writes are serialized with a mutex. The pool is capped to one
  connection so ":memory:" databases are shared by every query.

USAGE:
  history, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer history.Close()

  svc := commission.NewService(rules, clock, commission.WithHistory(history))

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - commission/store.go: History interface
  - commission/store/memory.go: In-memory History for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ commission.History = (*Store)(nil)

// Store implements commission.History using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calculations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_type TEXT NOT NULL,
		service_category TEXT NOT NULL DEFAULT '',
		transaction_amount TEXT NOT NULL,
		base_commission TEXT NOT NULL,
		modified_commission TEXT NOT NULL,
		total_commission TEXT NOT NULL,
		final_rate TEXT NOT NULL,
		applied_rules_json TEXT NOT NULL,
		breakdown_json TEXT NOT NULL,
		calculated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calculations_calculated_at
		ON calculations(calculated_at);
	CREATE INDEX IF NOT EXISTS idx_calculations_transaction
		ON calculations(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HISTORY (commission.History interface)
// =============================================================================

// Record appends a calculation to the ledger.
func (s *Store) Record(ctx context.Context, calc commission.Calculation) error {
	applied, err := json.Marshal(toAppliedRows(calc.AppliedRules))
	if err != nil {
		return fmt.Errorf("failed to encode applied rules: %w", err)
	}
	breakdown, err := json.Marshal(toBreakdownRows(calc.Breakdown))
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO calculations
		(transaction_id, user_id, user_type, service_category, transaction_amount,
		 base_commission, modified_commission, total_commission, final_rate,
		 applied_rules_json, breakdown_json, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		calc.TransactionID,
		calc.UserID,
		string(calc.UserType),
		calc.ServiceCategory,
		calc.TransactionAmount.String(),
		calc.BaseCommission.String(),
		calc.ModifiedCommission.String(),
		calc.TotalCommission.String(),
		calc.FinalRate.String(),
		string(applied),
		string(breakdown),
		formatTime(calc.CalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record calculation: %w", err)
	}
	return nil
}

// Between returns calculations with CalculatedAt in [from, to), oldest first.
func (s *Store) Between(ctx context.Context, from, to time.Time) ([]commission.Calculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT transaction_id, user_id, user_type, service_category, transaction_amount,
		       base_commission, modified_commission, total_commission, final_rate,
		       applied_rules_json, breakdown_json, calculated_at
		FROM calculations
		WHERE calculated_at >= ? AND calculated_at < ?
		ORDER BY calculated_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}
	defer rows.Close()

	var calcs []commission.Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, c)
	}

	return calcs, rows.Err()
}

// Count returns the number of recorded calculations.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calculations").Scan(&n)
	return n, err
}

func scanCalculation(rows *sql.Rows) (commission.Calculation, error) {
	var (
		c            commission.Calculation
		userType     string
		amount       string
		base         string
		modified     string
		total        string
		finalRate    string
		appliedJSON  string
		breakdownRaw string
		calculatedAt string
	)

	err := rows.Scan(
		&c.TransactionID, &c.UserID, &userType, &c.ServiceCategory, &amount,
		&base, &modified, &total, &finalRate,
		&appliedJSON, &breakdownRaw, &calculatedAt,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan calculation: %w", err)
	}

	c.UserType = commission.UserType(userType)
	c.TransactionAmount = parseDecimal(amount)
	c.BaseCommission = parseDecimal(base)
	c.ModifiedCommission = parseDecimal(modified)
	c.TotalCommission = parseDecimal(total)
	c.FinalRate = parseDecimal(finalRate)
	c.CalculatedAt, _ = time.Parse(timeLayout, calculatedAt)

	var applied []appliedRow
	if err := json.Unmarshal([]byte(appliedJSON), &applied); err != nil {
		return c, fmt.Errorf("failed to decode applied rules: %w", err)
	}
	var breakdown []breakdownRow
	if err := json.Unmarshal([]byte(breakdownRaw), &breakdown); err != nil {
		return c, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	c.AppliedRules = fromAppliedRows(applied)
	c.Breakdown = fromBreakdownRows(breakdown)

	return c, nil
}

// =============================================================================
// JSON COLUMNS
// =============================================================================

// decimal.Decimal marshals as a quoted string, so amounts round-trip exactly.

type appliedRow struct {
	RuleID        string          `json:"rule_id"`
	RuleName      string          `json:"rule_name"`
	Priority      int             `json:"priority"`
	IsBase        bool            `json:"is_base"`
	BaseRate      decimal.Decimal `json:"base_rate"`
	ModifierValue decimal.Decimal `json:"modifier_value"`
	FixedAmount   decimal.Decimal `json:"fixed_amount"`
	FinalRate     decimal.Decimal `json:"final_rate"`
}

type breakdownRow struct {
	RuleID      string           `json:"rule_id"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
}

func toAppliedRows(in []commission.AppliedRule) []appliedRow {
	out := make([]appliedRow, len(in))
	for i, ar := range in {
		out[i] = appliedRow{
			RuleID:        string(ar.RuleID),
			RuleName:      ar.RuleName,
			Priority:      ar.Priority,
			IsBase:        ar.IsBase,
			BaseRate:      ar.BaseRate,
			ModifierValue: ar.ModifierValue,
			FixedAmount:   ar.FixedAmount,
			FinalRate:     ar.FinalRate,
		}
	}
	return out
}

func fromAppliedRows(in []appliedRow) []commission.AppliedRule {
	out := make([]commission.AppliedRule, len(in))
	for i, r := range in {
		out[i] = commission.AppliedRule{
			RuleID:        commission.RuleID(r.RuleID),
			RuleName:      r.RuleName,
			Priority:      r.Priority,
			IsBase:        r.IsBase,
			BaseRate:      r.BaseRate,
			ModifierValue: r.ModifierValue,
			FixedAmount:   r.FixedAmount,
			FinalRate:     r.FinalRate,
		}
	}
	return out
}

func toBreakdownRows(in []commission.BreakdownEntry) []breakdownRow {
	out := make([]breakdownRow, len(in))
	for i, e := range in {
		out[i] = breakdownRow{
			RuleID:      string(e.RuleID),
			Description: e.Description,
			Type:        string(e.Type),
			Amount:      e.Amount,
			Percentage:  e.Percentage,
		}
	}
	return out
}

func fromBreakdownRows(in []breakdownRow) []commission.BreakdownEntry {
	out := make([]commission.BreakdownEntry, len(in))
	for i, r := range in {
		out[i] = commission.BreakdownEntry{
			RuleID:      commission.RuleID(r.RuleID),
			Description: r.Description,
			Type:        commission.BreakdownType(r.Type),
			Amount:      r.Amount,
			Percentage:  r.Percentage,
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
