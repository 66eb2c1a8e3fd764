// Package eventstore defines the event-sourced model: streams, versioned
// events with tagged payloads, and the Store port that persists them.
package eventstore

import (
	"context"
	"strings"

	"bilancio/internal/core"

	"github.com/google/uuid"
)

const (
	Account    StreamType = "account"
	Investment StreamType = "investment"
	Retirement StreamType = "retirement"
	Stocks     StreamType = "stocks"
	RealEstate StreamType = "real-estate"
)

// Well-known metadata keys.
const (
	MetaName           = "name"
	MetaSubtype        = "subtype"
	MetaActive         = "active"
	MetaInvestmentType = "investment_type"
	MetaEndDate        = "end_date"
	MetaCurrency       = "currency"
	MetaIBAN           = "iban"

	LabelWallet = "wallet"
)

// StreamTypes lists every supported stream type.
var StreamTypes = []StreamType{Account, Investment, Retirement, Stocks, RealEstate}

type (
	StreamType string

	Metadata map[string]string

	// Stream is the history of one financial entity. Version equals the
	// number of events appended to it.
	Stream struct {
		ID       uuid.UUID         `json:"id"`
		Type     StreamType        `json:"type"`
		Version  int               `json:"version"`
		Metadata Metadata          `json:"metadata"`
		Labels   map[string]string `json:"labels"`
	}

	// Store is the append-only event log. Lookups that miss return a nil
	// stream and no error.
	Store interface {
		Create(ctx context.Context, streams ...Stream) error
		Append(ctx context.Context, events ...Event) error
		Load(ctx context.Context, streamID uuid.UUID) ([]Event, error)
		GetStreamByID(ctx context.Context, id uuid.UUID) (*Stream, error)
		GetStreamByMetadata(ctx context.Context, key, value string) (*Stream, error)
		UpdateStreamMetadata(ctx context.Context, id uuid.UUID, metadata Metadata) error
	}
)

func ParseStreamType(s string) (StreamType, error) {
	t := StreamType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &UnsupportedTypeError{Kind: "stream", Name: s}
	}
	return t, nil
}

func (t StreamType) Valid() bool {
	for _, known := range StreamTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NewStream returns a stream at version 0 with a fresh id.
func NewStream(t StreamType, metadata Metadata, labels map[string]string) Stream {
	if metadata == nil {
		metadata = Metadata{}
	}
	if labels == nil {
		labels = map[string]string{}
	}
	return Stream{ID: uuid.New(), Type: t, Metadata: metadata, Labels: labels}
}

// Active reports whether the stream has not been deactivated.
func (m Metadata) Active() bool {
	return !strings.EqualFold(m[MetaActive], "false")
}

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s Stream) Name() string {
	if n := s.Metadata[MetaName]; n != "" {
		return n
	}
	return s.ID.String()
}

// EndDate returns the end_date metadata of investments, if set and valid.
func (s Stream) EndDate() (core.Date, bool) {
	raw := s.Metadata[MetaEndDate]
	if raw == "" {
		return core.Date{}, false
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, false
	}
	return d, true
}

// ActiveAt reports whether the stream counts towards totals on day: it must
// not be deactivated, and investments with an end date are inactive after it.
func (s Stream) ActiveAt(day core.Date) bool {
	if !s.Metadata.Active() {
		return false
	}
	if end, ok := s.EndDate(); ok && day.After(end.Time) {
		return false
	}
	return true
}

// Label returns the label value or fallback when unset.
func (s Stream) Label(key, fallback string) string {
	if v := strings.TrimSpace(s.Labels[key]); v != "" {
		return v
	}
	return fallback
}
