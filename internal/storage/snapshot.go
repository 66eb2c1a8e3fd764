package storage

import (
	"context"
	"fmt"
	"log/slog"

	es "bilancio/internal/eventstore"
	"bilancio/internal/ledger"

	"github.com/google/uuid"
)

// Snapshot reads every stream and event inside one read transaction. A
// stream with an event that cannot be decoded is excluded from the result
// and reported in Snapshot.Rejected.
func (r *SQLiteRepository) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	streams, err := listStreams(ctx, tx)
	if err != nil {
		return ledger.Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, stream_id, stream_type, event_type, data, occurred_at, version FROM events ORDER BY stream_id, version`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var (
		events   []es.Event
		rejected = map[uuid.UUID]error{}
	)
	for rows.Next() {
		raw, err := scanRawEvent(rows)
		if err != nil {
			return ledger.Snapshot{}, err
		}
		e, err := r.decodeEvent(raw)
		if err != nil {
			sid, perr := uuid.Parse(raw.streamID)
			if perr != nil {
				return ledger.Snapshot{}, fmt.Errorf("parse stream id %q: %w", raw.streamID, perr)
			}
			if _, seen := rejected[sid]; !seen {
				rejected[sid] = err
			}
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("iterate events: %w", err)
	}

	snap := ledger.NewSnapshot(streams, events)
	snap.TakenAt = r.now().UTC()
	for id, cause := range rejected {
		slog.WarnContext(ctx, "Stream excluded from snapshot", "stream_id", id, "error", cause)
		snap.Reject(id, cause)
	}
	return snap, nil
}
