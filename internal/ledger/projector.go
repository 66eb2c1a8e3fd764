// Package ledger turns normalized operations into stream events and derives
// balances, totals and time series from the event log. Everything here is
// pure: callers load the events and persist the results.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/shopspring/decimal"
)

const (
	NoInstrument Instrument = iota
	ETF
	Gold
	Bonds
)

// Instrument is the kind of unit-priced holding a stream tracks.
type Instrument int

func (i Instrument) String() string {
	switch i {
	case ETF:
		return "etf"
	case Gold:
		return "gold"
	case Bonds:
		return "bonds"
	}
	return "none"
}

// InstrumentOf derives the holding kind from the stream type and its
// investment_type metadata. Stocks streams always hold ETF units.
func InstrumentOf(s es.Stream) Instrument {
	switch s.Type {
	case es.Stocks:
		return ETF
	case es.Investment:
		switch strings.ToLower(strings.TrimSpace(s.Metadata[es.MetaInvestmentType])) {
		case "etf", "stocks":
			return ETF
		case "gold":
			return Gold
		case "bonds", "treasury_bonds", "treasury-bonds":
			return Bonds
		}
	}
	return NoInstrument
}

// Position is the state of a stream right before a new batch.
type Position struct {
	Version int
	Balance decimal.Decimal
	Owned   decimal.Decimal
	Price   decimal.Decimal
}

// PositionOf folds the stream's events. The version comes from the stream
// row, which is authoritative for the next append.
func PositionOf(s es.Stream, events []es.Event) Position {
	pos := Position{Version: s.Version}
	if len(events) == 0 {
		return pos
	}
	sorted := append([]es.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	last := sorted[len(sorted)-1]
	pos.Balance = last.Balance()
	for i := len(sorted) - 1; i >= 0; i-- {
		if h, ok := sorted[i].Data.(es.Holding); ok {
			pos.Owned = h.Owned()
			pos.Price = h.LastPrice()
			break
		}
	}
	return pos
}

// OperationEvents turns cash operations into events for account and
// retirement streams, continuing the running balance from pos.
func OperationEvents(s es.Stream, pos Position, ops []core.Operation) ([]es.Event, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if s.Type != es.Account && s.Type != es.Retirement {
		return nil, &es.UnsupportedTypeError{Kind: "stream", Name: string(s.Type)}
	}

	streamCurrency := strings.ToUpper(strings.TrimSpace(s.Metadata[es.MetaCurrency]))
	normalized := make([]string, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, at(i, err)
		}
		code, _ := core.NormalizeCurrency(op.Currency)
		if streamCurrency != "" && code != streamCurrency {
			return nil, core.Invalid("currency", fmt.Sprintf("%s does not match stream currency %s", code, streamCurrency)).At(i)
		}
		normalized[i] = code
	}

	events := make([]es.Event, 0, len(ops))
	balance := pos.Balance
	for i, op := range ops {
		balance = balance.Add(op.Amount)
		var data es.Payload
		switch {
		case s.Type == es.Retirement:
			data = es.RetirementContributed{Title: op.Title, Amount: op.Amount, Balance: balance}
		case op.Amount.IsNegative():
			data = es.MoneyWithdrawn{Movement: es.Movement{Title: op.Title, Amount: op.Amount, Currency: normalized[i], Balance: balance}}
		default:
			data = es.MoneyDeposited{Movement: es.Movement{Title: op.Title, Amount: op.Amount, Currency: normalized[i], Balance: balance}}
		}
		events = append(events, es.NewEvent(s, pos.Version+i+1, op.Date.Time, data))
	}
	return events, nil
}

// TradeEvents turns trades into holding events. The whole batch is checked
// against the simulated owned units before any event is built.
func TradeEvents(s es.Stream, pos Position, trades []core.Trade) ([]es.Event, error) {
	if len(trades) == 0 {
		return nil, nil
	}
	inst := InstrumentOf(s)
	if inst == NoInstrument {
		return nil, &es.UnsupportedTypeError{Kind: "stream", Name: fmt.Sprintf("%s/%s", s.Type, s.Metadata[es.MetaInvestmentType])}
	}

	owned := pos.Owned
	for i, tr := range trades {
		if err := tr.Validate(); err != nil {
			return nil, at(i, err)
		}
		switch tr.Action {
		case core.Buy:
			owned = owned.Add(tr.Units)
		case core.Sell:
			owned = owned.Sub(tr.Units)
		case core.Price:
			if inst == Bonds {
				return nil, core.Invalid("action", "treasury bonds cannot be repriced").At(i)
			}
			if owned.IsZero() {
				return nil, core.Invalid("units", "price update requires owned units").At(i)
			}
		}
	}

	events := make([]es.Event, 0, len(trades))
	owned = pos.Owned
	for i, tr := range trades {
		price := tr.Price()
		switch tr.Action {
		case core.Buy:
			owned = owned.Add(tr.Units)
		case core.Sell:
			owned = owned.Sub(tr.Units)
		}
		balance := owned.Mul(price).Round(core.BalancePlaces)
		events = append(events, es.NewEvent(s, pos.Version+i+1, tr.Date.Time, holdingPayload(inst, tr, price, owned, balance)))
	}
	return events, nil
}

func holdingPayload(inst Instrument, tr core.Trade, price, owned, balance decimal.Decimal) es.Payload {
	unit := es.UnitTrade{Title: tr.Title, Units: tr.Units, UnitPrice: price, TotalValue: tr.TotalValue, OwnedUnits: owned, Balance: balance}
	weight := es.WeightTrade{Title: tr.Title, Weight: tr.Units, UnitPrice: price, TotalValue: tr.TotalValue, OwnedWeight: owned, Balance: balance}

	switch inst {
	case Gold:
		switch tr.Action {
		case core.Buy:
			return es.GoldBought{WeightTrade: weight}
		case core.Sell:
			return es.GoldSold{WeightTrade: weight}
		}
		return es.GoldPriced{UnitPrice: price, OwnedWeight: owned, Balance: balance}
	case Bonds:
		if tr.Action == core.Sell {
			return es.TreasuryBondsMatured{UnitTrade: unit}
		}
		return es.TreasuryBondsBought{UnitTrade: unit}
	}
	switch tr.Action {
	case core.Buy:
		return es.ETFBought{UnitTrade: unit}
	case core.Sell:
		return es.ETFSold{UnitTrade: unit}
	}
	return es.ETFPriced{Repricing: es.Repricing{UnitPrice: price, OwnedUnits: owned, Balance: balance}}
}

// ValuationEvents records appraisals of retirement and real estate streams.
func ValuationEvents(s es.Stream, pos Position, vals []core.Valuation) ([]es.Event, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	if s.Type != es.Retirement && s.Type != es.RealEstate {
		return nil, &es.UnsupportedTypeError{Kind: "stream", Name: string(s.Type)}
	}
	for i, v := range vals {
		if err := v.Validate(); err != nil {
			return nil, at(i, err)
		}
	}

	events := make([]es.Event, 0, len(vals))
	for i, v := range vals {
		valued := es.Valued{Title: v.Title, Balance: v.Balance}
		var data es.Payload = es.RealEstateValued{Valued: valued}
		if s.Type == es.Retirement {
			data = es.RetirementValued{Valued: valued}
		}
		events = append(events, es.NewEvent(s, pos.Version+i+1, v.Date.Time, data))
	}
	return events, nil
}

func at(i int, err error) error {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return verr.At(i)
	}
	return fmt.Errorf("record %d: %w", i, err)
}
