package notify

import (
	"context"
	"sort"
	"time"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
)

// Message tells the materializer that events were appended. OldestDate is
// the earliest day whose derived data may have changed.
type Message struct {
	OldestDate  core.Date       `json:"oldestDate"`
	StreamTypes []es.StreamType `json:"streamTypes"`
	Count       int             `json:"count"`
	ReceivedAt  time.Time       `json:"receivedAt"`
}

// Merge folds o into m: the oldest date wins and stream types are unioned.
func (m Message) Merge(o Message) Message {
	out := Message{
		OldestDate: m.OldestDate,
		Count:      m.Count + o.Count,
		ReceivedAt: m.ReceivedAt,
	}
	if out.OldestDate.IsZero() || (!o.OldestDate.IsZero() && o.OldestDate.Before(out.OldestDate.Time)) {
		out.OldestDate = o.OldestDate
	}
	if o.ReceivedAt.After(out.ReceivedAt) {
		out.ReceivedAt = o.ReceivedAt
	}
	out.StreamTypes = unionTypes(m.StreamTypes, o.StreamTypes)
	return out
}

// Touches reports whether the message carries any of the given stream types.
// A message without stream types touches everything.
func (m Message) Touches(types map[es.StreamType]bool) bool {
	if len(m.StreamTypes) == 0 {
		return true
	}
	for _, t := range m.StreamTypes {
		if types[t] {
			return true
		}
	}
	return false
}

func unionTypes(a, b []es.StreamType) []es.StreamType {
	seen := make(map[es.StreamType]bool, len(a)+len(b))
	var out []es.StreamType
	for _, list := range [][]es.StreamType{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sink receives coalesced messages.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// ChannelSink delivers messages to an in-process channel.
type ChannelSink chan Message

// Deliver blocks until the message is queued or ctx is done.
func (c ChannelSink) Deliver(ctx context.Context, msg Message) error {
	select {
	case c <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
