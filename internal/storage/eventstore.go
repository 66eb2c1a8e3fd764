package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"
	"bilancio/internal/metrics"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const streamColumns = "id, type, version, metadata, labels"

// Create inserts new streams at version 0.
func (r *SQLiteRepository) Create(ctx context.Context, streams ...es.Stream) error {
	if len(streams) == 0 {
		return nil
	}
	for _, s := range streams {
		if s.ID == uuid.Nil {
			return core.Invalid("id", "is required")
		}
		if !s.Type.Valid() {
			return &es.UnsupportedTypeError{Kind: "stream", Name: string(s.Type)}
		}
	}

	return r.withImmediateTx(ctx, func(q querier) error {
		for _, s := range streams {
			if err := r.insertStream(ctx, q, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) insertStream(ctx context.Context, q querier, s es.Stream) error {
	metadata, err := encodeMap(s.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	labels, err := encodeMap(s.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	now := toMillis(r.now())
	_, err = q.ExecContext(ctx,
		`INSERT INTO streams (id, type, version, metadata, labels, created_at, updated_at) VALUES (?, ?, 0, ?, ?, ?, ?)`,
		s.ID.String(), string(s.Type), metadata, labels, now, now)
	if err != nil {
		if isConstraintError(err) {
			return &es.DuplicateStreamError{StreamID: s.ID}
		}
		return fmt.Errorf("insert stream %s: %w", s.ID, err)
	}
	return nil
}

// Append stores events in one transaction. Each event must carry the next
// version of its stream; otherwise the whole batch is rolled back with a
// ConcurrencyConflictError. Missing streams are created at version 0.
func (r *SQLiteRepository) Append(ctx context.Context, events ...es.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
		if err := events[i].Validate(r.registry); err != nil {
			return err
		}
	}

	err := r.withImmediateTx(ctx, func(q querier) error {
		current := make(map[uuid.UUID]int)
		recordedAt := toMillis(r.now())
		for _, e := range events {
			version, ok := current[e.StreamID]
			if !ok {
				v, err := r.lockStream(ctx, q, e)
				if err != nil {
					return err
				}
				version = v
			}
			if e.Version != version+1 {
				return &es.ConcurrencyConflictError{StreamID: e.StreamID, Expected: version + 1, Actual: e.Version}
			}
			if err := r.insertEvent(ctx, q, e, recordedAt); err != nil {
				return err
			}
			if err := bumpVersion(ctx, q, e, recordedAt); err != nil {
				return err
			}
			current[e.StreamID] = e.Version
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, es.ErrConcurrencyConflict) {
			metrics.AppendConflicts.Inc()
			slog.WarnContext(ctx, "Append rejected", log.FieldComponent, log.ComponentStorage, log.FieldError, err, log.FieldEventCount, len(events))
		}
		return err
	}

	metrics.EventsAppended.Add(float64(len(events)))
	slog.DebugContext(ctx, "Events appended", log.FieldComponent, log.ComponentStorage, log.FieldEventCount, len(events))
	return nil
}

// lockStream returns the current version of the event's stream, creating
// the stream when it does not exist yet. The caller holds the write lock.
func (r *SQLiteRepository) lockStream(ctx context.Context, q querier, e es.Event) (int, error) {
	var (
		version    int
		streamType string
	)
	err := q.QueryRowContext(ctx, `SELECT version, type FROM streams WHERE id = ?`, e.StreamID.String()).Scan(&version, &streamType)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.insertStream(ctx, q, es.Stream{ID: e.StreamID, Type: e.StreamType}); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read stream %s: %w", e.StreamID, err)
	}
	if es.StreamType(streamType) != e.StreamType {
		return 0, core.Invalid("streamType", fmt.Sprintf("%s does not match stream %s of type %s", e.StreamType, e.StreamID, streamType))
	}
	return version, nil
}

func (r *SQLiteRepository) insertEvent(ctx context.Context, q querier, e es.Event, recordedAt int64) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Type, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO events (id, stream_id, stream_type, event_type, data, occurred_at, recorded_at, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.StreamID.String(), string(e.StreamType), e.Type, string(data), toMillis(e.OccurredAt), recordedAt, e.Version)
	if err != nil {
		if isConstraintError(err) {
			return &es.ConcurrencyConflictError{StreamID: e.StreamID, Expected: e.Version, Actual: e.Version}
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// bumpVersion moves the stream from Version-1 to Version. The compare in the
// WHERE clause makes this a compare-and-swap.
func bumpVersion(ctx context.Context, q querier, e es.Event, updatedAt int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE streams SET version = ?, updated_at = ? WHERE id = ? AND version = ?`,
		e.Version, updatedAt, e.StreamID.String(), e.Version-1)
	if err != nil {
		return fmt.Errorf("update stream version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stream version: %w", err)
	}
	if n != 1 {
		return &es.ConcurrencyConflictError{StreamID: e.StreamID, Expected: e.Version, Actual: e.Version}
	}
	return nil
}

// Load returns the events of a stream ordered by version. Unknown event
// types fail the whole load.
func (r *SQLiteRepository) Load(ctx context.Context, streamID uuid.UUID) ([]es.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, stream_id, stream_type, event_type, data, occurred_at, version FROM events WHERE stream_id = ? ORDER BY version`,
		streamID.String())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []es.Event
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rawEvent struct {
	id, streamID, streamType, eventType, data string
	occurredAt                                int64
	version                                   int
}

func scanRawEvent(row rowScanner) (rawEvent, error) {
	var raw rawEvent
	if err := row.Scan(&raw.id, &raw.streamID, &raw.streamType, &raw.eventType, &raw.data, &raw.occurredAt, &raw.version); err != nil {
		return rawEvent{}, fmt.Errorf("scan event: %w", err)
	}
	return raw, nil
}

func (r *SQLiteRepository) scanEvent(row rowScanner) (es.Event, error) {
	raw, err := scanRawEvent(row)
	if err != nil {
		return es.Event{}, err
	}
	return r.decodeEvent(raw)
}

func (r *SQLiteRepository) decodeEvent(raw rawEvent) (es.Event, error) {
	payload, err := r.registry.Decode(raw.eventType, []byte(raw.data))
	if err != nil {
		return es.Event{}, err
	}
	eid, err := uuid.Parse(raw.id)
	if err != nil {
		return es.Event{}, fmt.Errorf("parse event id %q: %w", raw.id, err)
	}
	sid, err := uuid.Parse(raw.streamID)
	if err != nil {
		return es.Event{}, fmt.Errorf("parse stream id %q: %w", raw.streamID, err)
	}
	return es.Event{
		ID:         eid,
		StreamID:   sid,
		StreamType: es.StreamType(raw.streamType),
		Type:       raw.eventType,
		Data:       payload,
		OccurredAt: fromMillis(raw.occurredAt),
		Version:    raw.version,
	}, nil
}

// GetStreamByID returns nil when the stream does not exist.
func (r *SQLiteRepository) GetStreamByID(ctx context.Context, id uuid.UUID) (*es.Stream, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, id.String())
	s, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStreamByMetadata returns the oldest stream whose metadata key equals
// value, or nil.
func (r *SQLiteRepository) GetStreamByMetadata(ctx context.Context, key, value string) (*es.Stream, error) {
	if key == "" || strings.ContainsAny(key, `"\`) {
		return nil, core.Invalid("key", fmt.Sprintf("%q is not a valid metadata key", key))
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE json_extract(metadata, ?) = ? ORDER BY created_at, id LIMIT 1`,
		fmt.Sprintf(`$."%s"`, key), value)
	s, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStreamMetadata replaces the whole metadata map of a stream.
func (r *SQLiteRepository) UpdateStreamMetadata(ctx context.Context, id uuid.UUID, metadata es.Metadata) error {
	encoded, err := encodeMap(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := toMillis(r.now())
	return r.withImmediateTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `UPDATE streams SET metadata = ?, updated_at = ? WHERE id = ?`, encoded, now, id.String())
		if err != nil {
			return fmt.Errorf("update stream metadata: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update stream metadata: %w", err)
		}
		if n == 0 {
			return &es.NotFoundError{Kind: "stream", ID: id.String()}
		}
		// Views filter on metadata, so the stream's whole history is stale.
		_, err = q.ExecContext(ctx,
			`INSERT INTO event_notifications (oldest_occurred_at, stream_type, created_at)
			 SELECT MIN(occurred_at), stream_type, ? FROM events WHERE stream_id = ? GROUP BY stream_type`,
			now, id.String())
		if err != nil {
			return fmt.Errorf("enqueue metadata notification: %w", err)
		}
		slog.DebugContext(ctx, "Stream metadata updated", log.FieldComponent, log.ComponentStorage, log.FieldStreamID, id.String())
		return nil
	})
}

// ListStreams returns every stream ordered by type and id.
func (r *SQLiteRepository) ListStreams(ctx context.Context) ([]es.Stream, error) {
	return listStreams(ctx, r.db)
}

func listStreams(ctx context.Context, q querier) ([]es.Stream, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY type, id`)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var out []es.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return out, nil
}

func scanStream(row rowScanner) (es.Stream, error) {
	var (
		id, streamType, metadata, labels string
		version                          int
	)
	if err := row.Scan(&id, &streamType, &version, &metadata, &labels); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return es.Stream{}, err
		}
		return es.Stream{}, fmt.Errorf("scan stream: %w", err)
	}
	sid, err := uuid.Parse(id)
	if err != nil {
		return es.Stream{}, fmt.Errorf("parse stream id %q: %w", id, err)
	}
	meta, err := decodeMap(metadata)
	if err != nil {
		return es.Stream{}, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	lbls, err := decodeMap(labels)
	if err != nil {
		return es.Stream{}, fmt.Errorf("decode labels of %s: %w", id, err)
	}
	return es.Stream{ID: sid, Type: es.StreamType(streamType), Version: version, Metadata: meta, Labels: lbls}, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
