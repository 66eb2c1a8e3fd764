package http

import (
	es "bilancio/internal/eventstore"

	"github.com/google/uuid"
)

// lastVersions returns the highest version appended per stream.
func lastVersions(events []es.Event) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(events))
	for _, e := range events {
		if e.Version > out[e.StreamID] {
			out[e.StreamID] = e.Version
		}
	}
	return out
}

func countFor(events []es.Event, id uuid.UUID) int {
	n := 0
	for _, e := range events {
		if e.StreamID == id {
			n++
		}
	}
	return n
}
