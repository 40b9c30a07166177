package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/aggregate"
	"github.com/JakeFAU/urlhealth/internal/config"
	"github.com/JakeFAU/urlhealth/internal/dispatcher"
	"github.com/JakeFAU/urlhealth/internal/metrics"
	"github.com/JakeFAU/urlhealth/internal/probe"
)

// Runner streams the events of one batch. *dispatcher.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, batch dispatcher.Batch, lim dispatcher.Limiter, state *aggregate.State) <-chan probe.Event
}

// LimiterSource returns the limiter a new batch should run under.
type LimiterSource func() dispatcher.Limiter

// IDGenerator mints batch and request identifiers.
type IDGenerator interface {
	probe.IDGenerator
	NewRequestID() string
}

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router   chi.Router
	handler  http.Handler
	runner   Runner
	limiters LimiterSource
	idGen    IDGenerator
	cfg      config.Config
	logger   *zap.Logger
	ready    atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	limiters LimiterSource,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		limiters: limiters,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	s.ready.Store(true)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{
			headerRequestID, headerBatchID, headerDroppedEmpty, headerDroppedDuplicate,
		},
		MaxAge: cfg.CORS.MaxAgeSeconds,
	}))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout()))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	// Streaming routes flush as they go and must not sit behind
	// http.TimeoutHandler, which buffers the whole response.
	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(bodyLimitMiddleware(cfg.Server.MaxBodyBytes))
		r.Post("/process", s.process)
		r.Post("/process/csv", s.processCSV)
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "urlhealth",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// Handler returns the instrumented router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady flips the readiness probe. The composition root clears it when
// shutdown begins so load balancers stop routing new batches here.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
