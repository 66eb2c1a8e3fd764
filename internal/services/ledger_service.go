package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/ledger"
	"bilancio/internal/log"

	"github.com/google/uuid"
)

// LedgerService records operations against existing streams. Every call
// reads the stream's current version right before building events, so a
// concurrent writer surfaces as a ConcurrencyConflictError from the store.
type LedgerService struct {
	store           es.Store
	defaultCurrency string
}

func NewLedgerService(store es.Store, defaultCurrency string) *LedgerService {
	return &LedgerService{
		store:           store,
		defaultCurrency: strings.ToUpper(strings.TrimSpace(defaultCurrency)),
	}
}

// OpenRequest describes a new stream.
type OpenRequest struct {
	Type     es.StreamType     `json:"type"`
	Metadata es.Metadata       `json:"metadata"`
	Labels   map[string]string `json:"labels"`
}

// OpenStream creates a stream at version 0. An IBAN already registered on
// another stream is reported as a duplicate of that stream.
func (s *LedgerService) OpenStream(ctx context.Context, req OpenRequest) (es.Stream, error) {
	t, err := es.ParseStreamType(string(req.Type))
	if err != nil {
		return es.Stream{}, err
	}
	metadata := req.Metadata.Clone()
	if code := metadata[es.MetaCurrency]; code != "" {
		normalized, err := core.NormalizeCurrency(code)
		if err != nil {
			return es.Stream{}, core.Invalid("currency", err.Error())
		}
		metadata[es.MetaCurrency] = normalized
	}
	if raw := metadata[es.MetaEndDate]; raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return es.Stream{}, core.Invalid("end_date", err.Error())
		}
		metadata[es.MetaEndDate] = d.String()
	}
	if iban := metadata[es.MetaIBAN]; iban != "" {
		existing, err := s.store.GetStreamByMetadata(ctx, es.MetaIBAN, iban)
		if err != nil {
			return es.Stream{}, fmt.Errorf("lookup iban: %w", err)
		}
		if existing != nil {
			return es.Stream{}, &es.DuplicateStreamError{StreamID: existing.ID}
		}
	}

	stream := es.NewStream(t, metadata, req.Labels)
	if err := s.store.Create(ctx, stream); err != nil {
		return es.Stream{}, err
	}
	slog.InfoContext(ctx, "Stream opened", log.FieldComponent, log.ComponentLedger, log.FieldOperation, log.OpOpen, log.FieldStreamID, stream.ID, log.FieldStreamType, stream.Type)
	return stream, nil
}

// Stream returns the stream or a NotFoundError.
func (s *LedgerService) Stream(ctx context.Context, id uuid.UUID) (es.Stream, error) {
	st, err := s.store.GetStreamByID(ctx, id)
	if err != nil {
		return es.Stream{}, err
	}
	if st == nil {
		return es.Stream{}, &es.NotFoundError{Kind: "stream", ID: id.String()}
	}
	return *st, nil
}

// Events loads a stream's events, failing when the stream does not exist.
func (s *LedgerService) Events(ctx context.Context, id uuid.UUID) ([]es.Event, error) {
	if _, err := s.Stream(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Load(ctx, id)
}

// Append passes prebuilt events to the store.
func (s *LedgerService) Append(ctx context.Context, events ...es.Event) error {
	return s.store.Append(ctx, events...)
}

// RecordOperations appends cash operations to an account or retirement
// stream. Operations without a currency get the stream currency, or the
// service default.
func (s *LedgerService) RecordOperations(ctx context.Context, id uuid.UUID, ops []core.Operation) ([]es.Event, error) {
	return s.record(ctx, id, func(st es.Stream, pos ledger.Position) ([]es.Event, error) {
		fallback := st.Metadata[es.MetaCurrency]
		if fallback == "" {
			fallback = s.defaultCurrency
		}
		filled := make([]core.Operation, len(ops))
		for i, op := range ops {
			if strings.TrimSpace(op.Currency) == "" {
				op.Currency = fallback
			}
			filled[i] = op
		}
		return ledger.OperationEvents(st, pos, filled)
	})
}

// RecordOperationsByMetadata resolves the stream by a metadata value, such
// as an IBAN, before recording.
func (s *LedgerService) RecordOperationsByMetadata(ctx context.Context, key, value string, ops []core.Operation) ([]es.Event, error) {
	st, err := s.store.GetStreamByMetadata(ctx, key, value)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, &es.NotFoundError{Kind: "stream", ID: key + "=" + value}
	}
	return s.RecordOperations(ctx, st.ID, ops)
}

// RecordTrades appends buys, sells and price updates to a holding stream.
func (s *LedgerService) RecordTrades(ctx context.Context, id uuid.UUID, trades []core.Trade) ([]es.Event, error) {
	return s.record(ctx, id, func(st es.Stream, pos ledger.Position) ([]es.Event, error) {
		return ledger.TradeEvents(st, pos, trades)
	})
}

// RecordValuations appends appraisals to a retirement or real estate stream.
func (s *LedgerService) RecordValuations(ctx context.Context, id uuid.UUID, vals []core.Valuation) ([]es.Event, error) {
	return s.record(ctx, id, func(st es.Stream, pos ledger.Position) ([]es.Event, error) {
		return ledger.ValuationEvents(st, pos, vals)
	})
}

// Deactivate marks the stream inactive. Its history is kept, and the store
// queues a notification so views stop counting the stream.
func (s *LedgerService) Deactivate(ctx context.Context, id uuid.UUID) (es.Stream, error) {
	st, err := s.Stream(ctx, id)
	if err != nil {
		return es.Stream{}, err
	}
	metadata := st.Metadata.Clone()
	metadata[es.MetaActive] = "false"
	if err := s.store.UpdateStreamMetadata(ctx, id, metadata); err != nil {
		return es.Stream{}, err
	}
	st.Metadata = metadata
	slog.InfoContext(ctx, "Stream deactivated", log.FieldComponent, log.ComponentLedger, log.FieldStreamID, id)
	return st, nil
}

func (s *LedgerService) record(ctx context.Context, id uuid.UUID, build func(es.Stream, ledger.Position) ([]es.Event, error)) ([]es.Event, error) {
	st, err := s.Stream(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", id, err)
	}

	events, err := build(st, ledger.PositionOf(st, history))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	if err := s.store.Append(ctx, events...); err != nil {
		return nil, err
	}

	last := events[len(events)-1]
	slog.InfoContext(ctx, "Events recorded",
		log.FieldComponent, log.ComponentLedger,
		log.FieldStreamID, id,
		log.FieldStreamType, st.Type,
		log.FieldEventType, last.Type,
		log.FieldEventCount, len(events),
		log.FieldVersion, last.Version)
	return events, nil
}
