package storage

import (
	"context"
	"fmt"
	"time"

	es "bilancio/internal/eventstore"
)

// PendingNotification is one row of the event_notifications outbox.
type PendingNotification struct {
	ID               int64
	OldestOccurredAt time.Time
	StreamType       es.StreamType
	CreatedAt        time.Time
}

// PendingNotifications returns up to limit outbox rows in insertion order.
func (r *SQLiteRepository) PendingNotifications(ctx context.Context, limit int) ([]PendingNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, oldest_occurred_at, stream_type, created_at FROM event_notifications ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []PendingNotification
	for rows.Next() {
		var (
			n                 PendingNotification
			oldest, createdAt int64
			streamType        string
		)
		if err := rows.Scan(&n.ID, &oldest, &streamType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.OldestOccurredAt = fromMillis(oldest)
		n.StreamType = es.StreamType(streamType)
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// AckNotifications deletes every outbox row up to and including id.
func (r *SQLiteRepository) AckNotifications(ctx context.Context, upToID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_notifications WHERE id <= ?`, upToID)
	if err != nil {
		return 0, fmt.Errorf("ack notifications: %w", err)
	}
	return res.RowsAffected()
}
