// Package api serves the chart upload API, analysis lookups, RSI plots, the
// WebSocket stream and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"chart-rsi/internal/gateway"
	"chart-rsi/internal/indicator"
	"chart-rsi/internal/metrics"
	"chart-rsi/internal/model"
	"chart-rsi/internal/notification"
	"chart-rsi/internal/pipeline"
)

// Options configures request limits and access control.
type Options struct {
	MaxUploadBytes int64
	MaxPixels      int64 // decoded width×height cap, checked from the image header
	AllowedOrigins []string
	RateLimit      float64 // uploads per second per client
	RateBurst      int
	TOTPSecret     string // uploads require a valid X-TOTP-Code when set
}

// Deps are the collaborators a Server needs. Publisher and Notifier may be nil.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Zones     indicator.Zones
	Journal   model.AnalysisJournal
	Publisher LatestPublisher
	Hub       *gateway.Hub
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       *slog.Logger
}

// LatestPublisher is an AnalysisPublisher that can also return the most
// recently published analysis.
type LatestPublisher interface {
	Publish(ctx context.Context, a *model.Analysis) error
	Latest(ctx context.Context) ([]byte, error)
}

// Server wires HTTP routes to the analysis pipeline and its sinks.
type Server struct {
	opts    Options
	deps    Deps
	limiter *ipLimiter
	router  *mux.Router
	now     func() time.Time
}

// NewServer builds the router. It does not listen.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Journal == nil || deps.Hub == nil || deps.Metrics == nil {
		return nil, errors.New("api: pipeline, journal, hub and metrics are required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = 25_000_000
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier(deps.Log)
	}

	s := &Server{
		opts:    opts,
		deps:    deps,
		limiter: newIPLimiter(opts.RateLimit, opts.RateBurst),
		now:     time.Now,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()
	r.Use(s.recoveryMiddleware)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(s.traceMiddleware)

	apiV1.Handle("/health", s.deps.Health).Methods(http.MethodGet)

	upload := http.Handler(http.HandlerFunc(s.handleAnalyze))
	upload = s.totpMiddleware(upload)
	upload = s.rateLimitMiddleware(upload)
	apiV1.Handle("/analyses", upload).Methods(http.MethodPost)

	apiV1.HandleFunc("/analyses", s.handleList).Methods(http.MethodGet)
	apiV1.HandleFunc("/analyses/latest", s.handleLatest).Methods(http.MethodGet)
	apiV1.HandleFunc("/analyses/{id}", s.handleGet).Methods(http.MethodGet)
	apiV1.HandleFunc("/analyses/{id}/plot.png", s.handlePlot).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.deps.Hub.ServeWS).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	s.router = r
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", traceHeader, totpHeader}),
		handlers.ExposedHeaders([]string{traceHeader}),
	)(s.router)
}
