package ledger

import (
	"testing"
	"time"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/shopspring/decimal"
)

func mustOps(t *testing.T, s es.Stream, pos Position, ops ...core.Operation) []es.Event {
	t.Helper()
	events, err := OperationEvents(s, pos, ops)
	if err != nil {
		t.Fatalf("OperationEvents() error = %v", err)
	}
	return events
}

func checkingScenario(t *testing.T) (es.Stream, []es.Event) {
	t.Helper()
	s := es.NewStream(es.Account, es.Metadata{es.MetaSubtype: "checking"}, nil)
	events := mustOps(t, s, Position{},
		op(core.NewDate(2021, 1, 2), "1000"),
		op(core.NewDate(2021, 1, 2), "-333.23"),
		op(core.NewDate(2021, 1, 5), "67.90"),
		op(core.NewDate(2021, 1, 5), "-8.90"),
		op(core.NewDate(2021, 1, 5), "-200"),
	)
	s.Version = len(events)
	return s, events
}

func TestHistory_CheckingScenario(t *testing.T) {
	s, events := checkingScenario(t)
	snap := NewSnapshot([]es.Stream{s}, events)

	history := History(snap)
	if len(history) != 4 {
		t.Fatalf("expected 4 days, got %d", len(history))
	}
	want := map[string]string{
		"2021-01-02": "666.77",
		"2021-01-03": "666.77",
		"2021-01-04": "666.77",
		"2021-01-05": "525.77",
	}
	for _, day := range history {
		if !day.Total.Equal(dec(want[day.Date.String()])) {
			t.Errorf("%s total = %s, want %s", day.Date, day.Total, want[day.Date.String()])
		}
		if !day.Totals[Checking].Equal(day.Total) {
			t.Errorf("%s checking bucket = %s", day.Date, day.Totals[Checking])
		}
	}
}

func TestBalanceAt(t *testing.T) {
	_, events := checkingScenario(t)

	tests := []struct {
		day  core.Date
		want string
	}{
		{core.NewDate(2021, 1, 1), "0"},
		{core.NewDate(2021, 1, 2), "666.77"},
		{core.NewDate(2021, 1, 4), "666.77"},
		{core.NewDate(2021, 1, 5), "525.77"},
		{core.NewDate(2030, 1, 1), "525.77"},
	}
	for _, tt := range tests {
		if got := BalanceAt(events, tt.day); !got.Equal(dec(tt.want)) {
			t.Errorf("BalanceAt(%s) = %s, want %s", tt.day, got, tt.want)
		}
	}
}

func TestBalanceAt_SourceIsMonotonic(t *testing.T) {
	_, events := checkingScenario(t)
	source := func(day core.Date) int {
		v := 0
		for _, e := range events {
			if !e.Day().After(day.Time) && e.Version > v {
				v = e.Version
			}
		}
		return v
	}
	prev := 0
	for day := core.NewDate(2020, 12, 30); day.Before(core.NewDate(2021, 1, 10).Time); day = day.AddDays(1) {
		v := source(day)
		if v < prev {
			t.Fatalf("source version went backwards on %s: %d < %d", day, v, prev)
		}
		prev = v
	}
}

func TestTotalsAt_RespectsActivity(t *testing.T) {
	d := core.NewDate(2021, 1, 1)
	checking := es.NewStream(es.Account, nil, nil)
	closed := es.NewStream(es.Account, es.Metadata{es.MetaSubtype: "savings", es.MetaActive: "false"}, nil)
	bond := es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "bonds", es.MetaEndDate: "2021-06-30"}, nil)

	var events []es.Event
	events = append(events, mustOps(t, checking, Position{}, op(d, "100"))...)
	events = append(events, mustOps(t, closed, Position{}, op(d, "50"))...)
	bondEvents, err := TradeEvents(bond, Position{}, []core.Trade{{Date: d, Action: core.Buy, Units: dec("10"), TotalValue: dec("1000")}})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}
	events = append(events, bondEvents...)

	snap := NewSnapshot([]es.Stream{checking, closed, bond}, events)

	totals := TotalsAt(snap, core.NewDate(2021, 3, 1))
	if !totals.Sum().Equal(dec("1100")) {
		t.Errorf("March totals = %s, want 1100", totals.Sum())
	}
	if !totals[InvestmentBucket].Equal(dec("1000")) || !totals[Savings].IsZero() {
		t.Errorf("unexpected buckets %v", totals)
	}

	after := TotalsAt(snap, core.NewDate(2021, 7, 1))
	if !after.Sum().Equal(dec("100")) {
		t.Errorf("July totals = %s, want 100", after.Sum())
	}
}

func TestMonthlyProfits(t *testing.T) {
	s := es.NewStream(es.Account, nil, nil)
	events := mustOps(t, s, Position{},
		op(core.NewDate(2021, 1, 10), "1000"),
		op(core.NewDate(2021, 2, 3), "250"),
		op(core.NewDate(2021, 3, 15), "-400"),
	)
	snap := NewSnapshot([]es.Stream{s}, events)

	got := MonthlyProfits(snap, core.Month{Year: 2021, Month: time.January}, core.Month{Year: 2021, Month: time.April})
	want := []struct {
		month  string
		total  string
		profit string
	}{
		{"2021-01", "1000", "1000"},
		{"2021-02", "1250", "250"},
		{"2021-03", "850", "-400"},
		{"2021-04", "850", "0"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d months, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Month.String() != w.month || !got[i].Total.Equal(dec(w.total)) || !got[i].Profit.Equal(dec(w.profit)) {
			t.Errorf("month %d = %s %s %s, want %s %s %s", i, got[i].Month, got[i].Total, got[i].Profit, w.month, w.total, w.profit)
		}
	}

	if MonthlyProfits(snap, core.Month{Year: 2021, Month: time.May}, core.Month{Year: 2021, Month: time.April}) != nil {
		t.Error("expected nil for an empty window")
	}
}

func TestFlows(t *testing.T) {
	s := es.NewStream(es.Account, nil, nil)
	events := mustOps(t, s, Position{},
		op(core.NewDate(2021, 1, 31), "500"),
		op(core.NewDate(2021, 2, 1), "1000"),
		op(core.NewDate(2021, 2, 2), "-120.5"),
		op(core.NewDate(2021, 2, 20), "-30"),
	)
	snap := NewSnapshot([]es.Stream{s}, events)

	income, spending := Flows(snap, core.Month{Year: 2021, Month: time.February})
	if !income.Equal(dec("1000")) || !spending.Equal(dec("150.5")) {
		t.Errorf("Flows() = %s, %s", income, spending)
	}
}

func TestDistribute(t *testing.T) {
	shares := Distribute(map[string]decimal.Decimal{
		"checking": dec("1"),
		"savings":  dec("1"),
		"stocks":   dec("1"),
	})
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s.Percentage)
		if !s.Percentage.Equal(dec("0.3333")) {
			t.Errorf("%s percentage = %s", s.Name, s.Percentage)
		}
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(dec("0.001")) {
		t.Errorf("percentages sum to %s", sum)
	}
	if shares[0].Name != "checking" || shares[2].Name != "stocks" {
		t.Errorf("shares not sorted: %v", shares)
	}

	zero := Distribute(map[string]decimal.Decimal{"a": decimal.Zero})
	if !zero[0].Percentage.IsZero() {
		t.Errorf("zero denominator should yield 0, got %s", zero[0].Percentage)
	}
}

func TestSnapshot_LatestAndOnly(t *testing.T) {
	s, events := checkingScenario(t)
	stocks := es.NewStream(es.Stocks, nil, nil)
	snap := NewSnapshot([]es.Stream{s, stocks}, events)

	latest, ok := snap.Latest(s)
	if !ok || latest.Version != 5 || !latest.Balance().Equal(dec("525.77")) {
		t.Fatalf("Latest() = %+v, %v", latest, ok)
	}
	if _, ok := snap.Latest(stocks); ok {
		t.Error("stream without events should have no latest event")
	}

	only := snap.Only(map[es.StreamType]bool{es.Stocks: true})
	if len(only.Streams) != 1 || only.Streams[0].ID != stocks.ID {
		t.Fatalf("Only() kept %v", only.Streams)
	}

	snap.Reject(s.ID, es.ErrUnsupportedType)
	if len(snap.Streams) != 1 || snap.Events[s.ID] != nil || snap.Rejected[s.ID] == nil {
		t.Fatalf("Reject() did not remove stream")
	}
}
