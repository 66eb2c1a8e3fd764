package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	es "bilancio/internal/eventstore"
	"bilancio/internal/log"
	"bilancio/internal/middleware/ratelimit"
	"bilancio/internal/middleware/security"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/services"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger is the write side used by the stream handlers.
type Ledger interface {
	OpenStream(ctx context.Context, req services.OpenRequest) (es.Stream, error)
	Stream(ctx context.Context, id uuid.UUID) (es.Stream, error)
	Events(ctx context.Context, id uuid.UUID) ([]es.Event, error)
	Append(ctx context.Context, events ...es.Event) error
	RecordOperations(ctx context.Context, id uuid.UUID, ops []core.Operation) ([]es.Event, error)
	RecordTrades(ctx context.Context, id uuid.UUID, trades []core.Trade) ([]es.Event, error)
	RecordValuations(ctx context.Context, id uuid.UUID, vals []core.Valuation) ([]es.Event, error)
	Deactivate(ctx context.Context, id uuid.UUID) (es.Stream, error)
}

var _ Ledger = (*services.LedgerService)(nil)

// Views is the read side plus the manual refresh trigger.
type Views interface {
	LoadView(ctx context.Context, name string) ([]byte, error)
	UpdateViews(ctx context.Context, oldest core.Date) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the server. Zero values fall back to defaults.
type Options struct {
	RateLimitPerMinute int
	ViewCacheTTL       time.Duration
	ViewCacheSize      int

	// TrustedProxies are CIDRs, beyond loopback and private networks,
	// whose forwarding headers are believed.
	TrustedProxies []string
	Logger         *log.Logger
}

type Server struct {
	http.Server
	ledger  Ledger
	views   Views
	pinger  Pinger
	logger  *log.Logger
	started time.Time

	viewCache    *cache.LRUCache[[]byte]
	cacheManager *cache.Manager
	limiter      *ratelimit.Limiter
	ips          *security.ClientIPResolver
	shutdownOnce sync.Once
}

// NewServer wires the JSON API routes and middleware, returning a
// ready-to-run server.
func NewServer(addr string, ledger Ledger, vs Views, pinger Pinger, opts Options) *Server {
	if opts.ViewCacheTTL <= 0 {
		opts.ViewCacheTTL = 5 * time.Second
	}
	if opts.ViewCacheSize <= 0 {
		opts.ViewCacheSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		ledger:       ledger,
		views:        vs,
		pinger:       pinger,
		logger:       logger,
		started:      time.Now(),
		viewCache:    cache.NewLRUCache[[]byte](opts.ViewCacheSize, opts.ViewCacheTTL),
		cacheManager: cache.NewManager(),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
	}
	s.ips, _ = security.NewClientIPResolver()
	for _, cidr := range opts.TrustedProxies {
		if err := s.ips.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s.cacheManager.Register(s.viewCache)
	s.cacheManager.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /events", s.handleAppendEvents)
	mux.HandleFunc("POST /streams", s.handleOpenStream)
	mux.HandleFunc("GET /streams/{id}", s.handleGetStream)
	mux.HandleFunc("GET /streams/{id}/events", s.handleLoadEvents)
	mux.HandleFunc("POST /streams/{id}/operations", s.handleRecordOperations)
	mux.HandleFunc("POST /streams/{id}/trades", s.handleRecordTrades)
	mux.HandleFunc("POST /streams/{id}/valuations", s.handleRecordValuations)
	mux.HandleFunc("POST /streams/{id}/deactivate", s.handleDeactivate)

	mux.HandleFunc("GET /views/{name}", s.handleGetView)
	mux.HandleFunc("POST /views/refresh", s.handleRefreshViews)

	route := func(r *http.Request) string {
		if _, pattern := mux.Handler(r); pattern != "" {
			return pattern
		}
		return "unmatched"
	}
	tracer := trace.NewMiddleware(logger, s.ips.ClientIP, route)

	var h http.Handler = mux
	h = s.limitWrites(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = tracer.Middleware(h)
	h = log.Middleware(logger)(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// limitWrites applies the rate limit to mutating requests only.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(s.ips.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", log.FieldComponent, log.ComponentRateLimit, log.FieldClientIP, s.ips.ClientIP(r), log.FieldPath, r.URL.Path)
		NewJSONResponse().
			Status(http.StatusTooManyRequests).
			Body(errorBody{Error: "rate limit exceeded", Code: "rate_limited"}).
			Write(w)
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}

// Shutdown stops background cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
