package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/storage"
)

// Source is the notification outbox.
type Source interface {
	PendingNotifications(ctx context.Context, limit int) ([]storage.PendingNotification, error)
	AckNotifications(ctx context.Context, upToID int64) (int64, error)
}

// ListenerConfig holds configuration for the outbox listener
type ListenerConfig struct {
	// PollInterval is how often to check the outbox (default: 2s)
	PollInterval time.Duration

	// BatchSize is the max number of outbox rows coalesced per message (default: 500)
	BatchSize int
}

// DefaultListenerConfig returns sensible defaults
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    500,
	}
}

// Listener drains the outbox, coalesces rows into one Message per poll and
// hands it to a Sink. Rows are deleted only after the sink accepted the
// message, so delivery is at least once.
type Listener struct {
	source Source
	sink   Sink
	config ListenerConfig
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewListener creates a new outbox listener
func NewListener(source Source, sink Sink, config ListenerConfig) *Listener {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultListenerConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultListenerConfig().BatchSize
	}
	return &Listener{
		source: source,
		sink:   sink,
		config: config,
		now:    time.Now,
	}
}

// Start begins the polling loop. Returns an error if already running.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("notification listener is already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.runLoop(ctx)

	slog.InfoContext(ctx, "Notification listener started",
		log.FieldComponent, log.ComponentNotify,
		"poll_interval", l.config.PollInterval,
		"batch_size", l.config.BatchSize)

	return nil
}

// Stop gracefully stops the listener and waits for the loop to exit.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	close(l.stopCh)

	select {
	case <-l.doneCh:
		slog.InfoContext(ctx, "Notification listener stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Notification listener stop timed out")
		return ctx.Err()
	}

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	return nil
}

// IsRunning returns whether the listener is currently running
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) runLoop(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	l.drain(ctx)

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx)
		}
	}
}

// drain polls until the outbox returns a short batch.
func (l *Listener) drain(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := l.Poll(ctx)
		if err != nil {
			metrics.NotificationFailures.Inc()
			slog.ErrorContext(ctx, "Notification poll failed", "error", err)
			return
		}
		if n < l.config.BatchSize {
			return
		}
	}
}

// Poll delivers at most one coalesced message and returns how many outbox
// rows it covered.
func (l *Listener) Poll(ctx context.Context) (int, error) {
	rows, err := l.source.PendingNotifications(ctx, l.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	msg, maxID := Coalesce(rows, l.now())
	if err := l.sink.Deliver(ctx, msg); err != nil {
		return 0, fmt.Errorf("deliver notification: %w", err)
	}
	if _, err := l.source.AckNotifications(ctx, maxID); err != nil {
		return 0, fmt.Errorf("ack outbox: %w", err)
	}

	metrics.NotificationsDelivered.Inc()
	slog.DebugContext(ctx, "Notification delivered",
		"rows", len(rows),
		log.FieldOldestDate, msg.OldestDate,
		"stream_types", msg.StreamTypes)
	return len(rows), nil
}

// Coalesce turns outbox rows into one message plus the highest row id.
func Coalesce(rows []storage.PendingNotification, receivedAt time.Time) (Message, int64) {
	var (
		maxID int64
		types []es.StreamType
		msg   = Message{Count: len(rows), ReceivedAt: receivedAt.UTC()}
	)
	for i, r := range rows {
		day := core.DateOf(r.OldestOccurredAt)
		if i == 0 || day.Before(msg.OldestDate.Time) {
			msg.OldestDate = day
		}
		if r.ID > maxID {
			maxID = r.ID
		}
		types = append(types, r.StreamType)
	}
	msg.StreamTypes = unionTypes(types, nil)
	return msg, maxID
}
