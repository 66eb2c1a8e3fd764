package ledger

import (
	"errors"
	"testing"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func op(date core.Date, amount string) core.Operation {
	return core.Operation{Date: date, Title: "op " + amount, Amount: dec(amount), Currency: "EUR"}
}

func TestOperationEvents_RunningBalance(t *testing.T) {
	s := es.NewStream(es.Account, es.Metadata{es.MetaCurrency: "EUR"}, nil)
	d := core.NewDate(2021, 1, 2)

	events, err := OperationEvents(s, Position{}, []core.Operation{op(d, "1000"), op(d, "-200")})
	if err != nil {
		t.Fatalf("OperationEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	want := []struct {
		typ     string
		version int
		balance string
	}{
		{"MoneyDeposited", 1, "1000"},
		{"MoneyWithdrawn", 2, "800"},
	}
	for i, w := range want {
		e := events[i]
		if e.Type != w.typ || e.Version != w.version || !e.Balance().Equal(dec(w.balance)) {
			t.Errorf("event %d = %s v%d balance %s, want %s v%d balance %s", i, e.Type, e.Version, e.Balance(), w.typ, w.version, w.balance)
		}
		if err := e.Validate(es.Builtin); err != nil {
			t.Errorf("event %d invalid: %v", i, err)
		}
	}
}

func TestOperationEvents_SeedsFromPosition(t *testing.T) {
	s := es.NewStream(es.Account, nil, nil)
	s.Version = 7
	events, err := OperationEvents(s, PositionOf(s, nil), []core.Operation{op(core.NewDate(2021, 1, 1), "0")})
	if err != nil {
		t.Fatalf("OperationEvents() error = %v", err)
	}
	if events[0].Version != 8 || events[0].Type != "MoneyDeposited" || !events[0].Balance().IsZero() {
		t.Fatalf("unexpected event %+v", events[0])
	}

	pos := Position{Version: 2, Balance: dec("800")}
	events, err = OperationEvents(s, pos, []core.Operation{op(core.NewDate(2021, 1, 3), "-50.5")})
	if err != nil {
		t.Fatalf("OperationEvents() error = %v", err)
	}
	if events[0].Version != 3 || !events[0].Balance().Equal(dec("749.5")) {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestOperationEvents_FailFast(t *testing.T) {
	s := es.NewStream(es.Account, es.Metadata{es.MetaCurrency: "EUR"}, nil)
	d := core.NewDate(2021, 1, 2)

	tests := []struct {
		name  string
		ops   []core.Operation
		index int
	}{
		{"missing date", []core.Operation{op(d, "1"), {Amount: dec("1"), Currency: "EUR"}}, 1},
		{"foreign currency", []core.Operation{{Date: d, Amount: dec("1"), Currency: "USD"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := OperationEvents(s, Position{}, tt.ops)
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Index != tt.index {
				t.Errorf("Index = %d, want %d", verr.Index, tt.index)
			}
			if events != nil {
				t.Errorf("expected no events on failure, got %d", len(events))
			}
		})
	}
}

func TestOperationEvents_EmptyAndUnsupported(t *testing.T) {
	events, err := OperationEvents(es.NewStream(es.Account, nil, nil), Position{}, nil)
	if err != nil || events != nil {
		t.Fatalf("empty batch should be a no-op, got %v, %v", events, err)
	}

	_, err = OperationEvents(es.NewStream(es.Stocks, nil, nil), Position{}, []core.Operation{op(core.NewDate(2021, 1, 1), "1")})
	if !errors.Is(err, es.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
}

func TestOperationEvents_Retirement(t *testing.T) {
	s := es.NewStream(es.Retirement, nil, nil)
	events, err := OperationEvents(s, Position{Balance: dec("100")}, []core.Operation{op(core.NewDate(2021, 1, 1), "50")})
	if err != nil {
		t.Fatalf("OperationEvents() error = %v", err)
	}
	if events[0].Type != "RetirementContributed" || !events[0].Balance().Equal(dec("150")) {
		t.Fatalf("unexpected event %s balance %s", events[0].Type, events[0].Balance())
	}
}

func TestTradeEvents_Gold(t *testing.T) {
	s := es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "gold"}, nil)
	d := core.NewDate(2021, 3, 1)

	events, err := TradeEvents(s, Position{}, []core.Trade{
		{Date: d, Action: core.Buy, Units: dec("31.1"), TotalValue: dec("8500")},
		{Date: d.AddDays(1), Action: core.Price, UnitPrice: dec("300")},
		{Date: d.AddDays(2), Action: core.Sell, Units: dec("31.1"), TotalValue: dec("9330")},
	})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}

	want := []struct {
		typ     string
		balance string
	}{
		{"GoldBought", "8500"},
		{"GoldPriced", "9330"},
		{"GoldSold", "0"},
	}
	for i, w := range want {
		if events[i].Type != w.typ || !events[i].Balance().Equal(dec(w.balance)) {
			t.Errorf("event %d = %s balance %s, want %s balance %s", i, events[i].Type, events[i].Balance(), w.typ, w.balance)
		}
	}
	bought := events[0].Data.(es.GoldBought)
	if !bought.UnitPrice.Round(2).Equal(dec("273.31")) || !bought.OwnedWeight.Equal(dec("31.1")) {
		t.Errorf("unexpected buy payload %+v", bought)
	}
}

func TestTradeEvents_BuyDerivesUnitPrice(t *testing.T) {
	s := es.NewStream(es.Stocks, nil, nil)
	events, err := TradeEvents(s, Position{}, []core.Trade{
		{Date: core.NewDate(2021, 1, 4), Action: core.Buy, Units: dec("10"), TotalValue: dec("1000"), UnitPrice: dec("120")},
	})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}
	bought := events[0].Data.(es.ETFBought)
	if !bought.UnitPrice.Equal(dec("100")) {
		t.Errorf("unit price = %s, want 100", bought.UnitPrice)
	}
	if !events[0].Balance().Equal(dec("1000")) {
		t.Errorf("balance = %s, want the total value 1000", events[0].Balance())
	}
}

func TestTradeEvents_ETFContinuesPosition(t *testing.T) {
	s := es.NewStream(es.Stocks, nil, nil)
	s.Version = 1
	prior := []es.Event{es.NewEvent(s, 1, core.NewDate(2021, 1, 1).Time, es.ETFBought{UnitTrade: es.UnitTrade{
		Units: dec("10"), UnitPrice: dec("100"), TotalValue: dec("1000"), OwnedUnits: dec("10"), Balance: dec("1000"),
	}})}
	pos := PositionOf(s, prior)
	if !pos.Owned.Equal(dec("10")) || pos.Version != 1 {
		t.Fatalf("unexpected position %+v", pos)
	}

	events, err := TradeEvents(s, pos, []core.Trade{
		{Date: core.NewDate(2021, 2, 1), Action: core.Price, UnitPrice: dec("110")},
		{Date: core.NewDate(2021, 2, 2), Action: core.Sell, Units: dec("4"), TotalValue: dec("480")},
	})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}
	if events[0].Type != "ETFPriced" || !events[0].Balance().Equal(dec("1100")) || events[0].Version != 2 {
		t.Errorf("unexpected price event %s v%d %s", events[0].Type, events[0].Version, events[0].Balance())
	}
	if events[1].Type != "ETFSold" || !events[1].Balance().Equal(dec("720")) {
		t.Errorf("unexpected sell event %s %s", events[1].Type, events[1].Balance())
	}
}

func TestTradeEvents_Validation(t *testing.T) {
	d := core.NewDate(2021, 1, 1)
	etf := es.NewStream(es.Stocks, nil, nil)
	bonds := es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "bonds"}, nil)

	tests := []struct {
		name   string
		stream es.Stream
		trades []core.Trade
		want   error
	}{
		{"price with nothing owned", etf, []core.Trade{{Date: d, Action: core.Price, UnitPrice: dec("1")}}, core.ErrValidation},
		{"zero units", etf, []core.Trade{{Date: d, Action: core.Buy, TotalValue: dec("1")}}, core.ErrValidation},
		{"bonds repriced", bonds, []core.Trade{
			{Date: d, Action: core.Buy, Units: dec("1"), TotalValue: dec("100")},
			{Date: d, Action: core.Price, UnitPrice: dec("101")},
		}, core.ErrValidation},
		{"no instrument", es.NewStream(es.Investment, nil, nil), []core.Trade{{Date: d, Action: core.Buy, Units: dec("1"), TotalValue: dec("1")}}, es.ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := TradeEvents(tt.stream, Position{}, tt.trades)
			if !errors.Is(err, tt.want) {
				t.Fatalf("TradeEvents() = %v, want %v", err, tt.want)
			}
			if events != nil {
				t.Errorf("expected no events, got %d", len(events))
			}
		})
	}
}

func TestTradeEvents_OversellNotChecked(t *testing.T) {
	s := es.NewStream(es.Stocks, nil, nil)
	events, err := TradeEvents(s, Position{Owned: dec("1")}, []core.Trade{
		{Date: core.NewDate(2021, 1, 1), Action: core.Sell, Units: dec("3"), TotalValue: dec("30")},
	})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}
	sold := events[0].Data.(es.ETFSold)
	if !sold.OwnedUnits.Equal(dec("-2")) || !sold.Balance.Equal(dec("-20")) {
		t.Errorf("unexpected oversell payload %+v", sold)
	}
}

func TestTradeEvents_Bonds(t *testing.T) {
	s := es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "bonds"}, nil)
	events, err := TradeEvents(s, Position{}, []core.Trade{
		{Date: core.NewDate(2021, 1, 1), Action: core.Buy, Units: dec("10"), TotalValue: dec("1000")},
		{Date: core.NewDate(2022, 1, 1), Action: core.Sell, Units: dec("10"), TotalValue: dec("1030")},
	})
	if err != nil {
		t.Fatalf("TradeEvents() error = %v", err)
	}
	if events[0].Type != "TreasuryBondsBought" || events[1].Type != "TreasuryBondsMatured" {
		t.Fatalf("unexpected types %s, %s", events[0].Type, events[1].Type)
	}
	if !events[1].Balance().IsZero() {
		t.Errorf("matured bonds balance = %s", events[1].Balance())
	}
}

func TestValuationEvents(t *testing.T) {
	house := es.NewStream(es.RealEstate, nil, nil)
	events, err := ValuationEvents(house, Position{Version: 3}, []core.Valuation{{Date: core.NewDate(2021, 1, 1), Balance: dec("250000")}})
	if err != nil {
		t.Fatalf("ValuationEvents() error = %v", err)
	}
	if events[0].Type != "RealEstateValued" || events[0].Version != 4 || !events[0].Balance().Equal(dec("250000")) {
		t.Fatalf("unexpected event %+v", events[0])
	}

	_, err = ValuationEvents(es.NewStream(es.Account, nil, nil), Position{}, []core.Valuation{{Date: core.NewDate(2021, 1, 1)}})
	if !errors.Is(err, es.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}

	_, err = ValuationEvents(house, Position{}, []core.Valuation{{Date: core.NewDate(2021, 1, 1), Balance: dec("-1")}})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInstrumentOf(t *testing.T) {
	tests := []struct {
		stream es.Stream
		want   Instrument
	}{
		{es.NewStream(es.Stocks, nil, nil), ETF},
		{es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "ETF"}, nil), ETF},
		{es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "gold"}, nil), Gold},
		{es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "bonds"}, nil), Bonds},
		{es.NewStream(es.Investment, es.Metadata{es.MetaInvestmentType: "p2p"}, nil), NoInstrument},
		{es.NewStream(es.Account, nil, nil), NoInstrument},
	}
	for _, tt := range tests {
		if got := InstrumentOf(tt.stream); got != tt.want {
			t.Errorf("InstrumentOf(%s/%s) = %s, want %s", tt.stream.Type, tt.stream.Metadata[es.MetaInvestmentType], got, tt.want)
		}
	}
}
