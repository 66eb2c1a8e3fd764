package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"bilancio/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is an immutable fact appended to a stream. Versions of a stream's
// events form the sequence 1..n.
type Event struct {
	ID         uuid.UUID
	StreamID   uuid.UUID
	StreamType StreamType
	Type       string
	Data       Payload
	OccurredAt time.Time
	Version    int
}

type eventJSON struct {
	ID         uuid.UUID       `json:"id"`
	StreamID   uuid.UUID       `json:"streamId"`
	StreamType StreamType      `json:"streamType"`
	Type       string          `json:"eventType"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
	Version    int             `json:"version"`
}

// NewEvent builds the event that will become version of stream s.
func NewEvent(s Stream, version int, occurredAt time.Time, data Payload) Event {
	return Event{
		ID:         uuid.New(),
		StreamID:   s.ID,
		StreamType: s.Type,
		Type:       data.EventType(),
		Data:       data,
		OccurredAt: occurredAt.UTC(),
		Version:    version,
	}
}

// Day returns the calendar day the event occurred on.
func (e Event) Day() core.Date {
	return core.DateOf(e.OccurredAt)
}

// Balance returns the stream balance after the event.
func (e Event) Balance() decimal.Decimal {
	if e.Data == nil {
		return decimal.Zero
	}
	return e.Data.ResultingBalance()
}

// Validate checks the envelope of an event before it is stored.
func (e Event) Validate(r *Registry) error {
	if e.StreamID == uuid.Nil {
		return core.Invalid("streamId", "is required")
	}
	if !e.StreamType.Valid() {
		return &UnsupportedTypeError{Kind: "stream", Name: string(e.StreamType)}
	}
	if e.Data == nil {
		return core.Invalid("data", "is required")
	}
	if e.Type != e.Data.EventType() {
		return core.Invalid("eventType", fmt.Sprintf("%q does not match payload %s", e.Type, e.Data.EventType()))
	}
	if !r.Known(e.Type) {
		return &UnsupportedTypeError{Kind: "event", Name: e.Type}
	}
	if !r.Allows(e.StreamType, e.Type) {
		return core.Invalid("eventType", fmt.Sprintf("%s is not allowed on %s streams", e.Type, e.StreamType))
	}
	if e.Version < 1 {
		return core.Invalid("version", "must be at least 1")
	}
	if e.OccurredAt.IsZero() {
		return core.Invalid("occurredAt", "is required")
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(eventJSON{
		ID:         e.ID,
		StreamID:   e.StreamID,
		StreamType: e.StreamType,
		Type:       e.Type,
		Data:       data,
		OccurredAt: e.OccurredAt,
		Version:    e.Version,
	})
}

// UnmarshalJSON decodes the payload with the Builtin registry.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := Builtin.Decode(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*e = Event{
		ID:         raw.ID,
		StreamID:   raw.StreamID,
		StreamType: raw.StreamType,
		Type:       raw.Type,
		Data:       data,
		OccurredAt: raw.OccurredAt,
		Version:    raw.Version,
	}
	return nil
}
