/*
stats.go - Reporting over past calculations

PURPOSE:
  Answers reporting questions over a History of calculation records:
  totals and average effective rate for a period, per-rule usage,
  per-user-type and per-category breakdowns, and growth against the
  previous period of the same length.

PERIODS:
  Stats are always computed for a window [Start, End) derived from the
  clock: the current day, ISO week (Monday start), month or year, in UTC.
  The previous window is the one immediately before it.

ATTRIBUTION:
  A rule's TotalAmount is the sum of the breakdown entries it produced:
  the base entry for the base rule, modifier entries for every rule.

SEE ALSO:
  - store.go: History interface
  - service.go: GetCommissionStats, caching
*/
package commission

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - Reporting windows
// =============================================================================

type StatsPeriod string

const (
	PeriodDay   StatsPeriod = "day"
	PeriodWeek  StatsPeriod = "week"
	PeriodMonth StatsPeriod = "month"
	PeriodYear  StatsPeriod = "year"
)

func ParseStatsPeriod(s string) (StatsPeriod, error) {
	switch p := StatsPeriod(s); p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	case "":
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// WindowFor returns the window of period p that contains now.
func (p StatsPeriod) WindowFor(now time.Time) (Window, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch p {
	case PeriodDay:
		return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7 // days since Monday
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case PeriodMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case PeriodYear:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(1, 0, 0)}, nil
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
	}
}

// Previous returns the window of the same period immediately before w.
func (p StatsPeriod) Previous(w Window) Window {
	switch p {
	case PeriodDay:
		return Window{Start: w.Start.AddDate(0, 0, -1), End: w.Start}
	case PeriodWeek:
		return Window{Start: w.Start.AddDate(0, 0, -7), End: w.Start}
	case PeriodMonth:
		return Window{Start: w.Start.AddDate(0, -1, 0), End: w.Start}
	default:
		return Window{Start: w.Start.AddDate(-1, 0, 0), End: w.Start}
	}
}

// =============================================================================
// STATS
// =============================================================================

type RuleUsage struct {
	RuleID      RuleID
	RuleName    string
	Count       int
	TotalAmount decimal.Decimal
}

type GroupTotals struct {
	Count      int
	Volume     decimal.Decimal
	Commission decimal.Decimal
}

type Stats struct {
	Period           StatsPeriod
	Window           Window
	TransactionCount int
	TotalVolume      decimal.Decimal
	TotalCommission  decimal.Decimal
	AverageRate      decimal.Decimal // TotalCommission / TotalVolume * 100
	ByRule           []RuleUsage     // most used first
	ByUserType       map[UserType]GroupTotals
	ByCategory       map[string]GroupTotals
	PreviousTotal    decimal.Decimal
	Growth           *decimal.Decimal // percent; nil when the previous window is empty
}

// Aggregate summarizes the records that fall inside w.
func Aggregate(records []Calculation, w Window) Stats {
	st := Stats{
		Window:          w,
		TotalVolume:     decimal.Zero,
		TotalCommission: decimal.Zero,
		AverageRate:     decimal.Zero,
		ByRule:          []RuleUsage{},
		ByUserType:      make(map[UserType]GroupTotals),
		ByCategory:      make(map[string]GroupTotals),
		PreviousTotal:   decimal.Zero,
	}

	usage := make(map[RuleID]*RuleUsage)
	var order []RuleID

	for _, c := range records {
		if !w.Contains(c.CalculatedAt) {
			continue
		}
		st.TransactionCount++
		st.TotalVolume = st.TotalVolume.Add(c.TransactionAmount)
		st.TotalCommission = st.TotalCommission.Add(c.TotalCommission)
		st.ByUserType[c.UserType] = addGroup(st.ByUserType[c.UserType], c)
		st.ByCategory[c.ServiceCategory] = addGroup(st.ByCategory[c.ServiceCategory], c)

		for _, ar := range c.AppliedRules {
			u, ok := usage[ar.RuleID]
			if !ok {
				u = &RuleUsage{RuleID: ar.RuleID, RuleName: ar.RuleName, TotalAmount: decimal.Zero}
				usage[ar.RuleID] = u
				order = append(order, ar.RuleID)
			}
			u.Count++
		}
		for _, e := range c.Breakdown {
			if u, ok := usage[e.RuleID]; ok {
				u.TotalAmount = u.TotalAmount.Add(e.Amount)
			}
		}
	}

	for _, id := range order {
		st.ByRule = append(st.ByRule, *usage[id])
	}
	slices.SortStableFunc(st.ByRule, func(a, b RuleUsage) int {
		return cmp.Compare(b.Count, a.Count)
	})

	if st.TotalVolume.IsPositive() {
		st.AverageRate = st.TotalCommission.Div(st.TotalVolume).Mul(hundred).Round(4)
	}
	return st
}

// WithPrevious fills PreviousTotal and Growth from the previous window's stats.
func (s Stats) WithPrevious(prev Stats) Stats {
	s.PreviousTotal = prev.TotalCommission
	if prev.TotalCommission.IsZero() {
		s.Growth = nil
		return s
	}
	g := s.TotalCommission.Sub(prev.TotalCommission).
		Div(prev.TotalCommission).Mul(hundred).Round(2)
	s.Growth = &g
	return s
}

func addGroup(g GroupTotals, c Calculation) GroupTotals {
	g.Count++
	g.Volume = g.Volume.Add(c.TransactionAmount)
	g.Commission = g.Commission.Add(c.TotalCommission)
	return g
}
