package ledger

import (
	"sort"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/shopspring/decimal"
)

const (
	Checking         Category = "checking"
	Savings          Category = "savings"
	Cash             Category = "cash"
	RetirementBucket Category = "retirement"
	InvestmentBucket Category = "investment"
	StocksBucket     Category = "stocks"
	RealEstateBucket Category = "real_estate"
)

// Category is a net worth bucket.
type Category string

// Categories lists buckets in display order.
var Categories = []Category{Checking, Savings, Cash, RetirementBucket, InvestmentBucket, StocksBucket, RealEstateBucket}

// CategoryOf buckets a stream. Accounts are bucketed by subtype and default
// to checking.
func CategoryOf(s es.Stream) Category {
	switch s.Type {
	case es.Account:
		switch strings.ToLower(strings.TrimSpace(s.Metadata[es.MetaSubtype])) {
		case "savings":
			return Savings
		case "cash":
			return Cash
		}
		return Checking
	case es.Retirement:
		return RetirementBucket
	case es.Stocks:
		return StocksBucket
	case es.RealEstate:
		return RealEstateBucket
	}
	return InvestmentBucket
}

// IsInvestment reports whether the stream counts as an investment for the
// investment views.
func IsInvestment(s es.Stream) bool {
	return s.Type == es.Investment || s.Type == es.Stocks || s.Type == es.Retirement
}

// Totals maps buckets to their balance.
type Totals map[Category]decimal.Decimal

func (t Totals) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range t {
		sum = sum.Add(v)
	}
	return sum
}

// BalanceAt reconstructs the stream balance at the end of day: the balance
// of the latest event that occurred on or before day, ordered by occurrence
// and then version. Streams without such an event are at 0.
func BalanceAt(events []es.Event, day core.Date) decimal.Decimal {
	var (
		found bool
		best  es.Event
	)
	for _, e := range events {
		if e.Day().After(day.Time) {
			continue
		}
		if !found || laterThan(e, best) {
			best, found = e, true
		}
	}
	if !found {
		return decimal.Zero
	}
	return best.Balance()
}

func laterThan(a, b es.Event) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	return a.Version > b.Version
}

// TotalsAt sums balances at day across streams active on that day.
func TotalsAt(snap Snapshot, day core.Date) Totals {
	totals := Totals{}
	for _, st := range snap.Streams {
		if !st.ActiveAt(day) {
			continue
		}
		cat := CategoryOf(st)
		totals[cat] = totals[cat].Add(BalanceAt(snap.Events[st.ID], day))
	}
	return totals
}

// DayTotal is one point of the net worth history.
type DayTotal struct {
	Date   core.Date
	Totals Totals
	Total  decimal.Decimal
}

// History recomputes the totals for every day between the first and last
// event of the snapshot, inclusive.
func History(snap Snapshot) []DayTotal {
	first, last, ok := snap.DateRange()
	if !ok {
		return nil
	}
	var out []DayTotal
	for day := first; !day.After(last.Time); day = day.AddDays(1) {
		totals := TotalsAt(snap, day)
		out = append(out, DayTotal{Date: day, Totals: totals, Total: totals.Sum()})
	}
	return out
}

// MonthlyProfit is the change in net worth over one month.
type MonthlyProfit struct {
	Month  core.Month
	Total  decimal.Decimal
	Profit decimal.Decimal
}

// MonthlyProfits computes, for each month in [from, to], the total at the
// month's last day and its difference from the previous month's last day.
func MonthlyProfits(snap Snapshot, from, to core.Month) []MonthlyProfit {
	if to.Before(from) {
		return nil
	}
	prev := TotalsAt(snap, from.Prev().LastDay()).Sum()
	var out []MonthlyProfit
	for m := from; !to.Before(m); m = m.Next() {
		total := TotalsAt(snap, m.LastDay()).Sum()
		out = append(out, MonthlyProfit{Month: m, Total: total, Profit: total.Sub(prev)})
		prev = total
	}
	return out
}

// Flows sums deposits and withdrawals of active accounts within month.
// Spending is returned as a positive amount.
func Flows(snap Snapshot, month core.Month) (income, spending decimal.Decimal) {
	for _, st := range snap.Streams {
		if st.Type != es.Account || !st.Metadata.Active() {
			continue
		}
		for _, e := range snap.Events[st.ID] {
			if e.Day().YearMonth() != month {
				continue
			}
			flow, ok := e.Data.(es.CashFlow)
			if !ok {
				continue
			}
			if amt := flow.Flow(); amt.IsNegative() {
				spending = spending.Add(amt.Neg())
			} else {
				income = income.Add(amt)
			}
		}
	}
	return income, spending
}

// Share is one bucket of a distribution.
type Share struct {
	Name       string
	Total      decimal.Decimal
	Percentage decimal.Decimal
}

// Distribute turns bucket totals into shares ordered by name, with
// percentages of the overall sum rounded to four places. A zero sum yields
// zero percentages.
func Distribute(buckets map[string]decimal.Decimal) []Share {
	sum := decimal.Zero
	names := make([]string, 0, len(buckets))
	for name, v := range buckets {
		sum = sum.Add(v)
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Share, 0, len(names))
	for _, name := range names {
		out = append(out, Share{Name: name, Total: buckets[name], Percentage: Percentage(buckets[name], sum)})
	}
	return out
}

// Percentage returns part/whole rounded to four places, or 0 when whole is 0.
func Percentage(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(whole, core.PercentPlaces)
}
