package http

import (
	"context"
	"net/http"
	"time"

	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/views"

	"github.com/google/uuid"
)

type recordedResponse struct {
	StreamID uuid.UUID  `json:"streamId"`
	Version  int        `json:"version"`
	Events   []es.Event `json:"events"`
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the event store and reports the view cache size.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if s.pinger == nil {
		checks["database"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.pinger.Ping(ctx); err != nil {
		checks["database"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}
	stats := s.viewCache.Stats()
	checks["view_cache"] = map[string]any{"size": stats.Size, "hits": stats.Hits, "misses": stats.Misses}

	NewJSONResponse().Status(code).Body(map[string]any{"status": status, "checks": checks}).Write(w)
}

func (s *Server) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	var req services.OpenRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	stream, err := s.ledger.OpenStream(r.Context(), req)
	if err != nil {
		s.writeError(w, r, log.OpOpen, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).
		Header("Location", "/streams/"+stream.ID.String()).
		Body(stream).
		Write(w)
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, err := streamID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	stream, err := s.ledger.Stream(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(stream).Write(w)
}

func (s *Server) handleLoadEvents(w http.ResponseWriter, r *http.Request) {
	id, err := streamID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	events, err := s.ledger.Events(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if events == nil {
		events = []es.Event{}
	}
	NewJSONResponse().Body(map[string]any{"streamId": id, "events": events}).Write(w)
}

// handleAppendEvents stores caller-built events as one atomic batch.
func (s *Server) handleAppendEvents(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		s.writeError(w, r, log.OpAppend, core.Invalid("events", "must not be empty"))
		return
	}
	if err := s.ledger.Append(r.Context(), req.Events...); err != nil {
		s.writeError(w, r, log.OpAppend, err)
		return
	}

	sl := log.NewStructuredLogger(log.FromContext(r.Context()))
	for id, version := range lastVersions(req.Events) {
		sl.LogEventsRecorded(r.Context(), id.String(), countFor(req.Events, id), int64(version))
	}
	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{"appended": len(req.Events)}).Write(w)
}

func (s *Server) handleRecordOperations(w http.ResponseWriter, r *http.Request) {
	var req operationsRequest
	s.record(w, r, &req, func(ctx context.Context, id uuid.UUID) ([]es.Event, error) {
		return s.ledger.RecordOperations(ctx, id, req.Operations)
	})
}

func (s *Server) handleRecordTrades(w http.ResponseWriter, r *http.Request) {
	var req tradesRequest
	s.record(w, r, &req, func(ctx context.Context, id uuid.UUID) ([]es.Event, error) {
		return s.ledger.RecordTrades(ctx, id, req.Trades)
	})
}

func (s *Server) handleRecordValuations(w http.ResponseWriter, r *http.Request) {
	var req valuationsRequest
	s.record(w, r, &req, func(ctx context.Context, id uuid.UUID) ([]es.Event, error) {
		return s.ledger.RecordValuations(ctx, id, req.Valuations)
	})
}

// record decodes body, runs fn against the {id} stream and reports the
// events it appended.
func (s *Server) record(w http.ResponseWriter, r *http.Request, body any, fn func(context.Context, uuid.UUID) ([]es.Event, error)) {
	id, err := streamID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if !s.decodeOrReject(w, r, body) {
		return
	}
	events, err := fn(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpAppend, err)
		return
	}

	resp := recordedResponse{StreamID: id, Events: events}
	if events == nil {
		resp.Events = []es.Event{}
	}
	if n := len(events); n > 0 {
		resp.Version = events[n-1].Version
	}
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogEventsRecorded(r.Context(), id.String(), len(events), int64(resp.Version))
	NewJSONResponse().Status(http.StatusCreated).Body(resp).Write(w)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := streamID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	stream, err := s.ledger.Deactivate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, log.OpAppend, err)
		return
	}
	NewJSONResponse().Body(stream).Write(w)
}

// handleGetView serves the stored JSON of a view, cached for a few seconds.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !knownView(name) {
		NotFoundError("unknown view " + name).Write(w)
		return
	}

	if content, ok := s.viewCache.Get(name); ok {
		NewJSONResponse().Header("X-Cache", "HIT").Raw(content).Write(w)
		return
	}

	content, err := s.views.LoadView(r.Context(), name)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if content == nil {
		NewJSONResponse().Status(http.StatusNotFound).
			Body(errorBody{Error: "view " + name + " has not been materialized yet", Code: "view_not_materialized"}).
			Write(w)
		return
	}
	s.viewCache.Set(name, content)
	NewJSONResponse().Header("X-Cache", "MISS").Raw(content).Write(w)
}

// handleRefreshViews recomputes every view from the given date and drops
// cached copies.
func (s *Server) handleRefreshViews(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		s.writeError(w, r, log.OpRefresh, core.Invalid("since", err.Error()))
		return
	}

	start := time.Now()
	refreshErr := s.views.UpdateViews(r.Context(), since)
	s.viewCache.Purge()
	if refreshErr != nil {
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "View refresh failed", refreshErr, log.OpRefresh, nil)
		NewJSONResponse().Status(http.StatusInternalServerError).
			Body(errorBody{Error: refreshErr.Error(), Code: "refresh_failed"}).
			Write(w)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"since":      since,
		"views":      views.Names(),
		"durationMs": time.Since(start).Milliseconds(),
	}).Write(w)
}

func knownView(name string) bool {
	for _, n := range views.Names() {
		if n == name {
			return true
		}
	}
	return false
}
