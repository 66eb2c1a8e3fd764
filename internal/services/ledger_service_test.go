package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T) *LedgerService {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewLedgerService(repo, "eur")
}

func op(day core.Date, amount string) core.Operation {
	return core.Operation{Date: day, Title: "op", Amount: decimal.RequireFromString(amount)}
}

func TestRecordOperations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	st, err := svc.OpenStream(ctx, OpenRequest{Type: es.Account, Metadata: es.Metadata{es.MetaName: "Checking"}})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	first, err := svc.RecordOperations(ctx, st.ID, []core.Operation{op(core.NewDate(2021, 1, 2), "1000")})
	if err != nil {
		t.Fatalf("RecordOperations() error = %v", err)
	}
	if first[0].Version != 1 {
		t.Fatalf("first version = %d", first[0].Version)
	}

	second, err := svc.RecordOperations(ctx, st.ID, []core.Operation{op(core.NewDate(2021, 1, 3), "-200")})
	if err != nil {
		t.Fatalf("RecordOperations() error = %v", err)
	}
	if second[0].Version != 2 || !second[0].Balance().Equal(decimal.NewFromInt(800)) {
		t.Fatalf("second event = %+v", second[0])
	}
	if _, ok := second[0].Data.(es.MoneyWithdrawn); !ok {
		t.Errorf("expected MoneyWithdrawn, got %T", second[0].Data)
	}
	if second[0].Data.(es.MoneyWithdrawn).Currency != "EUR" {
		t.Errorf("default currency not applied: %+v", second[0].Data)
	}

	events, err := svc.Events(ctx, st.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("Events() = %d, %v", len(events), err)
	}
}

func TestRecordOperations_UnknownStream(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.RecordOperations(context.Background(), uuid.New(), []core.Operation{op(core.NewDate(2021, 1, 2), "1")})
	if !errors.Is(err, es.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordOperations_ValidationFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	st, _ := svc.OpenStream(ctx, OpenRequest{Type: es.Account})

	bad := op(core.NewDate(2021, 1, 3), "5")
	bad.Currency = "XXX1"
	_, err := svc.RecordOperations(ctx, st.ID, []core.Operation{op(core.NewDate(2021, 1, 2), "1"), bad})
	var verr *core.ValidationError
	if !errors.As(err, &verr) || verr.Index != 1 {
		t.Fatalf("expected validation error at index 1, got %v", err)
	}
	events, _ := svc.Events(ctx, st.ID)
	if len(events) != 0 {
		t.Errorf("no event should be appended, got %d", len(events))
	}
}

func TestRecordTrades_Gold(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	st, err := svc.OpenStream(ctx, OpenRequest{Type: es.Investment, Metadata: es.Metadata{es.MetaInvestmentType: "gold"}})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}

	d := core.NewDate(2021, 1, 2)
	events, err := svc.RecordTrades(ctx, st.ID, []core.Trade{
		{Date: d, Action: core.Buy, Units: decimal.RequireFromString("31.1"), TotalValue: decimal.NewFromInt(8500)},
	})
	if err != nil {
		t.Fatalf("RecordTrades(buy) error = %v", err)
	}
	if !events[0].Balance().Equal(decimal.NewFromInt(8500)) {
		t.Errorf("balance after buy = %s", events[0].Balance())
	}

	events, err = svc.RecordTrades(ctx, st.ID, []core.Trade{
		{Date: d.AddDays(1), Action: core.Price, UnitPrice: decimal.NewFromInt(300)},
	})
	if err != nil {
		t.Fatalf("RecordTrades(price) error = %v", err)
	}
	if events[0].Version != 2 || !events[0].Balance().Equal(decimal.NewFromInt(9330)) {
		t.Errorf("after price: version %d balance %s", events[0].Version, events[0].Balance())
	}
}

func TestRecordValuations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	st, _ := svc.OpenStream(ctx, OpenRequest{Type: es.RealEstate})

	events, err := svc.RecordValuations(ctx, st.ID, []core.Valuation{{Date: core.NewDate(2021, 1, 1), Balance: decimal.NewFromInt(250000)}})
	if err != nil {
		t.Fatalf("RecordValuations() error = %v", err)
	}
	if _, ok := events[0].Data.(es.RealEstateValued); !ok {
		t.Errorf("expected RealEstateValued, got %T", events[0].Data)
	}

	if _, err := svc.RecordOperations(ctx, st.ID, []core.Operation{op(core.NewDate(2021, 1, 2), "1")}); !errors.Is(err, es.ErrUnsupportedType) {
		t.Errorf("operations on real estate should be unsupported, got %v", err)
	}
}

func TestOpenStream(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"unknown type", OpenRequest{Type: "crypto"}, es.ErrUnsupportedType},
		{"bad currency", OpenRequest{Type: es.Account, Metadata: es.Metadata{es.MetaCurrency: "zzz"}}, core.ErrValidation},
		{"bad end date", OpenRequest{Type: es.Investment, Metadata: es.Metadata{es.MetaEndDate: "soon"}}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.OpenStream(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("OpenStream() error = %v, want %v", err, tt.want)
			}
		})
	}

	iban := es.Metadata{es.MetaIBAN: "IT60X0542811101000000123456", es.MetaCurrency: "eur"}
	first, err := svc.OpenStream(ctx, OpenRequest{Type: es.Account, Metadata: iban})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	if first.Metadata[es.MetaCurrency] != "EUR" {
		t.Errorf("currency not normalized: %v", first.Metadata)
	}
	_, err = svc.OpenStream(ctx, OpenRequest{Type: es.Account, Metadata: iban})
	var dup *es.DuplicateStreamError
	if !errors.As(err, &dup) || dup.StreamID != first.ID {
		t.Errorf("expected duplicate of %s, got %v", first.ID, err)
	}

	events, err := svc.RecordOperationsByMetadata(ctx, es.MetaIBAN, "IT60X0542811101000000123456", []core.Operation{op(core.NewDate(2021, 1, 2), "10")})
	if err != nil || len(events) != 1 || events[0].StreamID != first.ID {
		t.Fatalf("RecordOperationsByMetadata() = %v, %v", events, err)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	st, _ := svc.OpenStream(ctx, OpenRequest{Type: es.Account, Metadata: es.Metadata{es.MetaName: "Old"}})

	got, err := svc.Deactivate(ctx, st.ID)
	if err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if got.Metadata.Active() || got.Name() != "Old" {
		t.Errorf("Deactivate() = %+v", got)
	}
	reloaded, _ := svc.Stream(ctx, st.ID)
	if reloaded.Metadata.Active() {
		t.Error("deactivation not persisted")
	}
	if _, err := svc.Deactivate(ctx, uuid.New()); !errors.Is(err, es.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
