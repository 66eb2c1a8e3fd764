package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/metrics"
	"bilancio/internal/notify"
	"bilancio/internal/sheets"
	"bilancio/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Store is the persistence the materializer reads from and writes to.
type Store interface {
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
	UpsertView(ctx context.Context, name string, content []byte) error
	LoadView(ctx context.Context, name string) (*storage.StoredView, error)
	MissingMonthlyProfits(ctx context.Context, from, to core.Month) (bool, error)
	UpsertMonthlyProfits(ctx context.Context, profits []ledger.MonthlyProfit) error
	ListMonthlyProfits(ctx context.Context) ([]ledger.MonthlyProfit, error)
}

// Config controls how views are recomputed.
type Config struct {
	// Sharded recomputes only views whose dependencies intersect the stream
	// types of a notification, each over its own slice of the snapshot.
	Sharded bool

	// Concurrency bounds how many views are computed at once (default: 4).
	Concurrency int
}

// Materializer recomputes named views from a consistent snapshot of the
// event log and upserts them.
type Materializer struct {
	store     Store
	views     []View
	exporters []sheets.ViewExporter
	config    Config
}

// ViewError is the failure of a single view during a refresh.
type ViewError struct {
	View string
	Err  error
}

func (e *ViewError) Error() string { return fmt.Sprintf("view %s: %v", e.View, e.Err) }
func (e *ViewError) Unwrap() error { return e.Err }

// NewMaterializer creates a materializer over the built-in views.
func NewMaterializer(store Store, config Config, exporters ...sheets.ViewExporter) *Materializer {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Materializer{
		store:     store,
		views:     Definitions(),
		exporters: exporters,
		config:    config,
	}
}

// UpdateViews refreshes monthly profits from the month of oldest, then
// recomputes every view. A zero oldest recomputes monthly profits from the
// first event.
func (m *Materializer) UpdateViews(ctx context.Context, oldest core.Date) error {
	return m.refresh(ctx, oldest, m.views, false)
}

// Handle processes one notification. In sharded mode only views touched by
// the notification's stream types are recomputed.
func (m *Materializer) Handle(ctx context.Context, msg notify.Message) error {
	selected := m.views
	if m.config.Sharded {
		selected = nil
		for _, v := range m.views {
			if msg.Touches(v.DependsOn) {
				selected = append(selected, v)
			}
		}
	}
	return m.refresh(ctx, msg.OldestDate, selected, m.config.Sharded)
}

// Run consumes notifications until ctx is done or msgs is closed. Messages
// queued while a refresh runs are merged into the next one. Refresh errors
// are logged and never stop the loop.
func (m *Materializer) Run(ctx context.Context, msgs <-chan notify.Message) {
	slog.InfoContext(ctx, "View materializer started", log.FieldComponent, log.ComponentViews, "sharded", m.config.Sharded, "views", len(m.views))
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "View materializer stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.InfoContext(ctx, "Notification channel closed, materializer stopping")
				return
			}
			msg = drainPending(msg, msgs)
			if err := m.Handle(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "View refresh failed",
					log.FieldOldestDate, msg.OldestDate,
					"stream_types", msg.StreamTypes,
					log.FieldError, err)
			}
		}
	}
}

func drainPending(msg notify.Message, msgs <-chan notify.Message) notify.Message {
	for {
		select {
		case next, ok := <-msgs:
			if !ok {
				return msg
			}
			msg = msg.Merge(next)
		default:
			return msg
		}
	}
}

// UpdateMonthlyProfits recomputes stored monthly profits from since up to
// the latest month. Without force only months with no stored row are
// written, and nothing is done when none are missing.
func (m *Materializer) UpdateMonthlyProfits(ctx context.Context, since core.Month, force bool) error {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	return m.updateMonthlyProfits(ctx, snap, since, force)
}

func (m *Materializer) updateMonthlyProfits(ctx context.Context, snap ledger.Snapshot, since core.Month, force bool) error {
	from, to, ok := profitWindow(snap, since)
	if !ok {
		return nil
	}

	if !force {
		missing, err := m.store.MissingMonthlyProfits(ctx, from, to)
		if err != nil {
			return err
		}
		if !missing {
			return nil
		}
	}

	profits := ledger.MonthlyProfits(snap, from, to)
	if !force {
		stored, err := m.store.ListMonthlyProfits(ctx)
		if err != nil {
			return err
		}
		have := make(map[core.Month]bool, len(stored))
		for _, p := range stored {
			have[p.Month] = true
		}
		kept := profits[:0]
		for _, p := range profits {
			if !have[p.Month] {
				kept = append(kept, p)
			}
		}
		profits = kept
	}

	if err := m.store.UpsertMonthlyProfits(ctx, profits); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Monthly profits updated", "from", from, "to", to, "months", len(profits), "force", force)
	return nil
}

// profitWindow clamps since to the first month with events and extends the
// window to the current month.
func profitWindow(snap ledger.Snapshot, since core.Month) (from, to core.Month, ok bool) {
	first, last, ok := snap.DateRange()
	if !ok {
		return core.Month{}, core.Month{}, false
	}
	from = since
	if from.Year == 0 || from.Before(first.YearMonth()) {
		from = first.YearMonth()
	}
	to = last.YearMonth()
	if today := snap.Today().YearMonth(); to.Before(today) {
		to = today
	}
	if to.Before(from) {
		return core.Month{}, core.Month{}, false
	}
	return from, to, true
}

func (m *Materializer) refresh(ctx context.Context, oldest core.Date, selected []View, sharded bool) error {
	start := time.Now()
	defer func() {
		metrics.ViewUpdateDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	metrics.RejectedStreams.Set(float64(len(snap.Rejected)))

	var errs []error
	if err := m.updateMonthlyProfits(ctx, snap, oldest.YearMonth(), true); err != nil {
		errs = append(errs, fmt.Errorf("update monthly profits: %w", err))
	}
	profits, err := m.store.ListMonthlyProfits(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list monthly profits: %w", err))
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.config.Concurrency)
	for _, v := range selected {
		g.Go(func() error {
			in := Input{Snapshot: snap, MonthlyProfits: profits}
			if sharded {
				in.Snapshot = snap.Only(v.DependsOn)
			}
			if err := m.materialize(ctx, v, in); err != nil {
				metrics.ViewUpdates.WithLabelValues(v.Name, "error").Inc()
				slog.ErrorContext(ctx, "View materialization failed", log.NewFields().WithView(v.Name).WithError(err).ToSlice()...)
				mu.Lock()
				errs = append(errs, &ViewError{View: v.Name, Err: err})
				mu.Unlock()
				return nil
			}
			metrics.ViewUpdates.WithLabelValues(v.Name, "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Views refreshed",
		log.FieldComponent, log.ComponentViews,
		log.FieldOperation, log.OpRefresh,
		"views", len(selected),
		"failed", len(errs),
		log.FieldOldestDate, oldest,
		"duration", time.Since(start))
	return errors.Join(errs...)
}

func (m *Materializer) materialize(ctx context.Context, v View, in Input) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	content, err := Render(v, in)
	if err != nil {
		return err
	}
	if err := m.store.UpsertView(ctx, v.Name, content); err != nil {
		return err
	}
	for _, exp := range m.exporters {
		if err := exp.ExportView(ctx, v.Name, content); err != nil {
			slog.WarnContext(ctx, "View export failed", log.NewFields().WithView(v.Name).WithOperation(log.OpExport).WithError(err).ToSlice()...)
		}
	}
	return nil
}

// Render computes a view and encodes it as JSON.
func Render(v View, in Input) ([]byte, error) {
	value, err := v.Compute(in)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode view: %w", err)
	}
	return content, nil
}

// LoadView returns the stored JSON of a view, or nil when it was never
// materialized.
func (m *Materializer) LoadView(ctx context.Context, name string) ([]byte, error) {
	v, err := m.store.LoadView(ctx, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.Content, nil
}

// Lookup returns the definition of a built-in view.
func (m *Materializer) Lookup(name string) (View, bool) {
	for _, v := range m.views {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}
