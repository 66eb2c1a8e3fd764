package eventstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Payload is the variant-specific body of an event. Every variant carries
// the stream balance after the event was applied.
type Payload interface {
	EventType() string
	ResultingBalance() decimal.Decimal
}

// CashFlow is implemented by payloads that move money in or out of an
// account. Flow is signed.
type CashFlow interface {
	Flow() decimal.Decimal
}

// Holding is implemented by payloads of unit-priced instruments.
type Holding interface {
	Owned() decimal.Decimal
	LastPrice() decimal.Decimal
}

type (
	Movement struct {
		Title    string          `json:"title,omitempty"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency,omitempty"`
		Balance  decimal.Decimal `json:"balance"`
	}

	MoneyDeposited struct{ Movement }
	MoneyWithdrawn struct{ Movement }

	UnitTrade struct {
		Title      string          `json:"title,omitempty"`
		Units      decimal.Decimal `json:"units"`
		UnitPrice  decimal.Decimal `json:"unitPrice"`
		TotalValue decimal.Decimal `json:"totalValue"`
		OwnedUnits decimal.Decimal `json:"ownedUnits"`
		Balance    decimal.Decimal `json:"balance"`
	}

	Repricing struct {
		UnitPrice  decimal.Decimal `json:"unitPrice"`
		OwnedUnits decimal.Decimal `json:"ownedUnits"`
		Balance    decimal.Decimal `json:"balance"`
	}

	ETFBought            struct{ UnitTrade }
	ETFSold              struct{ UnitTrade }
	ETFPriced            struct{ Repricing }
	TreasuryBondsBought  struct{ UnitTrade }
	TreasuryBondsMatured struct{ UnitTrade }

	WeightTrade struct {
		Title       string          `json:"title,omitempty"`
		Weight      decimal.Decimal `json:"weight"`
		UnitPrice   decimal.Decimal `json:"unitPrice"`
		TotalValue  decimal.Decimal `json:"totalValue"`
		OwnedWeight decimal.Decimal `json:"ownedWeight"`
		Balance     decimal.Decimal `json:"balance"`
	}

	GoldBought struct{ WeightTrade }
	GoldSold   struct{ WeightTrade }
	GoldPriced struct {
		UnitPrice   decimal.Decimal `json:"unitPrice"`
		OwnedWeight decimal.Decimal `json:"ownedWeight"`
		Balance     decimal.Decimal `json:"balance"`
	}

	RetirementContributed struct {
		Title   string          `json:"title,omitempty"`
		Amount  decimal.Decimal `json:"amount"`
		Balance decimal.Decimal `json:"balance"`
	}

	Valued struct {
		Title   string          `json:"title,omitempty"`
		Balance decimal.Decimal `json:"balance"`
	}

	RetirementValued struct{ Valued }
	RealEstateValued struct{ Valued }
)

func (MoneyDeposited) EventType() string        { return "MoneyDeposited" }
func (MoneyWithdrawn) EventType() string        { return "MoneyWithdrawn" }
func (ETFBought) EventType() string             { return "ETFBought" }
func (ETFSold) EventType() string               { return "ETFSold" }
func (ETFPriced) EventType() string             { return "ETFPriced" }
func (TreasuryBondsBought) EventType() string   { return "TreasuryBondsBought" }
func (TreasuryBondsMatured) EventType() string  { return "TreasuryBondsMatured" }
func (GoldBought) EventType() string            { return "GoldBought" }
func (GoldSold) EventType() string              { return "GoldSold" }
func (GoldPriced) EventType() string            { return "GoldPriced" }
func (RetirementContributed) EventType() string { return "RetirementContributed" }
func (RetirementValued) EventType() string      { return "RetirementValued" }
func (RealEstateValued) EventType() string      { return "RealEstateValued" }

func (m Movement) ResultingBalance() decimal.Decimal              { return m.Balance }
func (m Movement) Flow() decimal.Decimal                          { return m.Amount }
func (t UnitTrade) ResultingBalance() decimal.Decimal             { return t.Balance }
func (t UnitTrade) Owned() decimal.Decimal                        { return t.OwnedUnits }
func (t UnitTrade) LastPrice() decimal.Decimal                    { return t.UnitPrice }
func (p Repricing) ResultingBalance() decimal.Decimal             { return p.Balance }
func (p Repricing) Owned() decimal.Decimal                        { return p.OwnedUnits }
func (p Repricing) LastPrice() decimal.Decimal                    { return p.UnitPrice }
func (t WeightTrade) ResultingBalance() decimal.Decimal           { return t.Balance }
func (t WeightTrade) Owned() decimal.Decimal                      { return t.OwnedWeight }
func (t WeightTrade) LastPrice() decimal.Decimal                  { return t.UnitPrice }
func (p GoldPriced) ResultingBalance() decimal.Decimal            { return p.Balance }
func (p GoldPriced) Owned() decimal.Decimal                       { return p.OwnedWeight }
func (p GoldPriced) LastPrice() decimal.Decimal                   { return p.UnitPrice }
func (c RetirementContributed) ResultingBalance() decimal.Decimal { return c.Balance }
func (v Valued) ResultingBalance() decimal.Decimal                { return v.Balance }

// Decoder turns the stored JSON body of an event into its payload.
type Decoder func(data []byte) (Payload, error)

type registration struct {
	decode  Decoder
	streams map[StreamType]bool
}

// Registry maps event type names to decoders and to the stream types that
// may carry them.
type Registry struct {
	types map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register adds a decoder for name. Registering the same name twice
// replaces the previous decoder.
func (r *Registry) Register(name string, decode Decoder, streams ...StreamType) {
	allowed := make(map[StreamType]bool, len(streams))
	for _, s := range streams {
		allowed[s] = true
	}
	r.types[name] = registration{decode: decode, streams: allowed}
}

// Decode returns UnsupportedTypeError for unknown names.
func (r *Registry) Decode(name string, data []byte) (Payload, error) {
	reg, ok := r.types[name]
	if !ok {
		return nil, &UnsupportedTypeError{Kind: "event", Name: name}
	}
	p, err := reg.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return p, nil
}

// Allows reports whether events named name may be appended to streams of
// type st.
func (r *Registry) Allows(st StreamType, name string) bool {
	reg, ok := r.types[name]
	if !ok {
		return false
	}
	return len(reg.streams) == 0 || reg.streams[st]
}

// Known reports whether name has a registered decoder.
func (r *Registry) Known(name string) bool {
	_, ok := r.types[name]
	return ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func register[T Payload](r *Registry, streams ...StreamType) {
	var zero T
	r.Register(zero.EventType(), decodeAs[T], streams...)
}

// Builtin holds every event variant known to the ledger.
var Builtin = builtinRegistry()

func builtinRegistry() *Registry {
	r := NewRegistry()
	register[MoneyDeposited](r, Account)
	register[MoneyWithdrawn](r, Account)
	register[ETFBought](r, Stocks, Investment)
	register[ETFSold](r, Stocks, Investment)
	register[ETFPriced](r, Stocks, Investment)
	register[TreasuryBondsBought](r, Investment)
	register[TreasuryBondsMatured](r, Investment)
	register[GoldBought](r, Investment)
	register[GoldSold](r, Investment)
	register[GoldPriced](r, Investment)
	register[RetirementContributed](r, Retirement)
	register[RetirementValued](r, Retirement)
	register[RealEstateValued](r, RealEstate)
	return r
}
