package views

import (
	"encoding/json"
	"sort"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/ledger"

	"github.com/shopspring/decimal"
)

const (
	MainIndicators               = "main-indicators"
	SavingsDistribution          = "savings-distribution"
	TotalHistory                 = "total-history"
	InvestmentIndicators         = "investment-indicators"
	InvestmentTypeDistribution   = "investment-type-distribution"
	InvestmentWalletDistribution = "investment-wallet-distribution"
	InvestmentTypeByWallet       = "investment-type-by-wallet"
	MonthlyProfit                = "monthly-profit"

	// SavingsAccountsBucket groups savings accounts in the investment type
	// distribution.
	SavingsAccountsBucket = "Savings Accounts"

	unassignedWallet = "unassigned"
)

// Input is everything a view may read.
type Input struct {
	Snapshot       ledger.Snapshot
	MonthlyProfits []ledger.MonthlyProfit
}

// View is a named, pure projection of the ledger. DependsOn lists the stream
// types the view reads; Compute must ignore every other stream.
type View struct {
	Name      string
	DependsOn map[es.StreamType]bool
	Compute   func(in Input) (any, error)
}

var (
	allTypes        = typeSet(es.StreamTypes...)
	accountTypes    = typeSet(es.Account)
	investmentTypes = typeSet(es.Investment, es.Stocks, es.Retirement)
)

func typeSet(types ...es.StreamType) map[es.StreamType]bool {
	out := make(map[es.StreamType]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}

// Definitions returns the built-in views in a stable order.
func Definitions() []View {
	return []View{
		{Name: MainIndicators, DependsOn: allTypes, Compute: mainIndicators},
		{Name: SavingsDistribution, DependsOn: accountTypes, Compute: savingsDistribution},
		{Name: TotalHistory, DependsOn: allTypes, Compute: totalHistory},
		{Name: InvestmentIndicators, DependsOn: investmentTypes, Compute: investmentIndicators},
		{Name: InvestmentTypeDistribution, DependsOn: typeSet(es.Investment, es.Stocks, es.Retirement, es.Account), Compute: investmentTypeDistribution},
		{Name: InvestmentWalletDistribution, DependsOn: investmentTypes, Compute: investmentWalletDistribution},
		{Name: InvestmentTypeByWallet, DependsOn: investmentTypes, Compute: investmentTypeByWallet},
		{Name: MonthlyProfit, DependsOn: allTypes, Compute: monthlyProfit},
	}
}

// Names lists the built-in view names.
func Names() []string {
	defs := Definitions()
	out := make([]string, len(defs))
	for i, v := range defs {
		out[i] = v.Name
	}
	return out
}

// num renders a decimal as an unquoted JSON number with its exact digits.
func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type share struct {
	Name       string      `json:"name"`
	Total      json.Number `json:"total"`
	Percentage json.Number `json:"percentage"`
}

func shares(buckets map[string]decimal.Decimal) []share {
	dist := ledger.Distribute(buckets)
	out := make([]share, len(dist))
	for i, s := range dist {
		out[i] = share{Name: s.Name, Total: num(s.Total), Percentage: num(s.Percentage)}
	}
	return out
}

// current yields active streams accepted by keep, with their latest balance.
func current(snap ledger.Snapshot, keep func(es.Stream) bool, fn func(es.Stream, es.Event)) {
	for _, st := range snap.Streams {
		if !st.Metadata.Active() || !keep(st) {
			continue
		}
		latest, ok := snap.Latest(st)
		if !ok {
			continue
		}
		fn(st, latest)
	}
}

func isAccount(s es.Stream) bool { return s.Type == es.Account }

type mainIndicatorsView struct {
	AsOf         core.Date   `json:"asOf"`
	TotalSavings json.Number `json:"totalSavings"`
	NetWorth     json.Number `json:"netWorth"`
	Income       json.Number `json:"income"`
	Spending     json.Number `json:"spending"`
}

func mainIndicators(in Input) (any, error) {
	snap := in.Snapshot
	savings := decimal.Zero
	current(snap, isAccount, func(_ es.Stream, e es.Event) {
		savings = savings.Add(e.Balance())
	})
	today := snap.Today()
	income, spending := ledger.Flows(snap, today.YearMonth())
	return mainIndicatorsView{
		AsOf:         today,
		TotalSavings: num(savings),
		NetWorth:     num(ledger.TotalsAt(snap, today).Sum()),
		Income:       num(income),
		Spending:     num(spending),
	}, nil
}

func savingsDistribution(in Input) (any, error) {
	buckets := map[string]decimal.Decimal{}
	current(in.Snapshot, isAccount, func(st es.Stream, e es.Event) {
		cat := string(ledger.CategoryOf(st))
		buckets[cat] = buckets[cat].Add(e.Balance())
	})
	return shares(buckets), nil
}

type historyPoint struct {
	Date    core.Date              `json:"date"`
	Total   json.Number            `json:"total"`
	Buckets map[string]json.Number `json:"buckets"`
}

func totalHistory(in Input) (any, error) {
	history := ledger.History(in.Snapshot)
	out := make([]historyPoint, 0, len(history))
	for _, day := range history {
		buckets := make(map[string]json.Number, len(day.Totals))
		for cat, v := range day.Totals {
			buckets[string(cat)] = num(v)
		}
		out = append(out, historyPoint{Date: day.Date, Total: num(day.Total), Buckets: buckets})
	}
	return out, nil
}

type position struct {
	StreamID   string      `json:"streamId"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Wallet     string      `json:"wallet"`
	Instrument string      `json:"instrument,omitempty"`
	Owned      json.Number `json:"owned"`
	LastPrice  json.Number `json:"lastPrice"`
	Balance    json.Number `json:"balance"`
}

type investmentIndicatorsView struct {
	TotalInvested json.Number `json:"totalInvested"`
	Count         int         `json:"count"`
	Positions     []position  `json:"positions"`
}

func investmentIndicators(in Input) (any, error) {
	snap := in.Snapshot
	out := investmentIndicatorsView{Positions: []position{}}
	total := decimal.Zero
	current(snap, ledger.IsInvestment, func(st es.Stream, e es.Event) {
		pos := ledger.PositionOf(st, snap.Events[st.ID])
		p := position{
			StreamID:  st.ID.String(),
			Name:      st.Name(),
			Type:      investmentType(st),
			Wallet:    st.Label(es.LabelWallet, unassignedWallet),
			Owned:     num(pos.Owned),
			LastPrice: num(pos.Price),
			Balance:   num(e.Balance()),
		}
		if inst := ledger.InstrumentOf(st); inst != ledger.NoInstrument {
			p.Instrument = inst.String()
		}
		total = total.Add(e.Balance())
		out.Positions = append(out.Positions, p)
	})
	sort.Slice(out.Positions, func(i, j int) bool {
		if out.Positions[i].Name != out.Positions[j].Name {
			return out.Positions[i].Name < out.Positions[j].Name
		}
		return out.Positions[i].StreamID < out.Positions[j].StreamID
	})
	out.TotalInvested = num(total)
	out.Count = len(out.Positions)
	return out, nil
}

// investmentType is the distribution key of an investment stream.
func investmentType(st es.Stream) string {
	switch st.Type {
	case es.Stocks, es.Retirement:
		return string(st.Type)
	}
	if t := strings.ToLower(strings.TrimSpace(st.Metadata[es.MetaInvestmentType])); t != "" {
		return t
	}
	return "other"
}

func investmentTypeDistribution(in Input) (any, error) {
	buckets := map[string]decimal.Decimal{}
	current(in.Snapshot, ledger.IsInvestment, func(st es.Stream, e es.Event) {
		key := investmentType(st)
		buckets[key] = buckets[key].Add(e.Balance())
	})
	current(in.Snapshot, isAccount, func(st es.Stream, e es.Event) {
		if ledger.CategoryOf(st) == ledger.Savings {
			buckets[SavingsAccountsBucket] = buckets[SavingsAccountsBucket].Add(e.Balance())
		}
	})
	return shares(buckets), nil
}

func investmentWalletDistribution(in Input) (any, error) {
	buckets := map[string]decimal.Decimal{}
	current(in.Snapshot, ledger.IsInvestment, func(st es.Stream, e es.Event) {
		w := st.Label(es.LabelWallet, unassignedWallet)
		buckets[w] = buckets[w].Add(e.Balance())
	})
	return shares(buckets), nil
}

type walletTypes struct {
	Wallet string      `json:"wallet"`
	Total  json.Number `json:"total"`
	Types  []share     `json:"types"`
}

func investmentTypeByWallet(in Input) (any, error) {
	wallets := map[string]map[string]decimal.Decimal{}
	current(in.Snapshot, ledger.IsInvestment, func(st es.Stream, e es.Event) {
		w := st.Label(es.LabelWallet, unassignedWallet)
		if wallets[w] == nil {
			wallets[w] = map[string]decimal.Decimal{}
		}
		key := investmentType(st)
		wallets[w][key] = wallets[w][key].Add(e.Balance())
	})

	names := make([]string, 0, len(wallets))
	for w := range wallets {
		names = append(names, w)
	}
	sort.Strings(names)

	out := make([]walletTypes, 0, len(names))
	for _, w := range names {
		total := decimal.Zero
		for _, v := range wallets[w] {
			total = total.Add(v)
		}
		out = append(out, walletTypes{Wallet: w, Total: num(total), Types: shares(wallets[w])})
	}
	return out, nil
}

type monthPoint struct {
	Month  core.Month  `json:"month"`
	Total  json.Number `json:"total"`
	Profit json.Number `json:"profit"`
}

func monthlyProfit(in Input) (any, error) {
	out := make([]monthPoint, 0, len(in.MonthlyProfits))
	for _, p := range in.MonthlyProfits {
		out = append(out, monthPoint{Month: p.Month, Total: num(p.Total), Profit: num(p.Profit)})
	}
	return out, nil
}
