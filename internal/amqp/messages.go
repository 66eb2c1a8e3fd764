package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"bilancio/internal/notify"
)

// messageVersion is bumped when the envelope layout changes.
const messageVersion = 1

// NotificationMessage is the envelope published for every coalesced outbox
// notification.
type NotificationMessage struct {
	Version     int            `json:"version"`
	Source      string         `json:"source,omitempty"`
	PublishedAt time.Time      `json:"publishedAt"`
	Payload     notify.Message `json:"payload"`
}

// NewNotificationMessage wraps msg in a fresh envelope
func NewNotificationMessage(source string, msg notify.Message) *NotificationMessage {
	return &NotificationMessage{
		Version:     messageVersion,
		Source:      source,
		PublishedAt: time.Now().UTC(),
		Payload:     msg,
	}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON decodes an envelope and rejects unknown
// versions.
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != messageVersion {
		return nil, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	return &msg, nil
}
