package ledger

import (
	"sort"
	"time"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"

	"github.com/google/uuid"
)

// Snapshot is a consistent read of every stream and its events. Streams
// whose events could not be decoded are excluded and listed in Rejected.
type Snapshot struct {
	Streams  []es.Stream
	Events   map[uuid.UUID][]es.Event
	Rejected map[uuid.UUID]error
	TakenAt  time.Time
}

// NewSnapshot groups events by stream, sorted by version.
func NewSnapshot(streams []es.Stream, events []es.Event) Snapshot {
	snap := Snapshot{
		Streams:  append([]es.Stream(nil), streams...),
		Events:   make(map[uuid.UUID][]es.Event, len(streams)),
		Rejected: map[uuid.UUID]error{},
		TakenAt:  time.Now().UTC(),
	}
	for _, e := range events {
		snap.Events[e.StreamID] = append(snap.Events[e.StreamID], e)
	}
	for id := range snap.Events {
		evs := snap.Events[id]
		sort.Slice(evs, func(i, j int) bool { return evs[i].Version < evs[j].Version })
	}
	sort.Slice(snap.Streams, func(i, j int) bool { return snap.Streams[i].ID.String() < snap.Streams[j].ID.String() })
	return snap
}

// Reject removes a stream from the snapshot and records why.
func (s *Snapshot) Reject(id uuid.UUID, err error) {
	s.Rejected[id] = err
	delete(s.Events, id)
	kept := s.Streams[:0]
	for _, st := range s.Streams {
		if st.ID != id {
			kept = append(kept, st)
		}
	}
	s.Streams = kept
}

// Latest returns the event whose version equals the stream version.
func (s Snapshot) Latest(st es.Stream) (es.Event, bool) {
	evs := s.Events[st.ID]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Version == st.Version {
			return evs[i], true
		}
	}
	return es.Event{}, false
}

// Only returns a snapshot restricted to streams of the given types.
func (s Snapshot) Only(types map[es.StreamType]bool) Snapshot {
	out := Snapshot{
		Events:   make(map[uuid.UUID][]es.Event),
		Rejected: s.Rejected,
		TakenAt:  s.TakenAt,
	}
	for _, st := range s.Streams {
		if types[st.Type] {
			out.Streams = append(out.Streams, st)
			out.Events[st.ID] = s.Events[st.ID]
		}
	}
	return out
}

// DateRange returns the first and last day with an event.
func (s Snapshot) DateRange() (first, last core.Date, ok bool) {
	for _, st := range s.Streams {
		for _, e := range s.Events[st.ID] {
			d := e.Day()
			if !ok || d.Before(first.Time) {
				first = d
			}
			if !ok || d.After(last.Time) {
				last = d
			}
			ok = true
		}
	}
	return first, last, ok
}

// Today is the day the snapshot was taken.
func (s Snapshot) Today() core.Date {
	return core.DateOf(s.TakenAt)
}
