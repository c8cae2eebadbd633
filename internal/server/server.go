package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/metrics"
	"github.com/lazypower/linkboard/internal/registry"
)

// Options configures a Server.
type Options struct {
	Version string
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Checks are health probes keyed by store name, reported by /api/health.
	Checks map[string]func() error
}

// Server is the linkboard HTTP API server.
type Server struct {
	reg     *registry.Registry
	ctrl    *engine.Controller
	metrics *metrics.Collector
	logger  *zap.Logger
	checks  map[string]func() error
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over the board registry and analysis controller.
func New(reg *registry.Registry, ctrl *engine.Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		reg:     reg,
		ctrl:    ctrl,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		checks:  opts.Checks,
		version: opts.Version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/boards", s.handleListBoards)
		r.Post("/boards", s.handleCreateBoard)
		r.Patch("/boards/{boardID}", s.handleRenameBoard)
		r.Delete("/boards/{boardID}", s.handleDeleteBoard)
		r.Post("/boards/{boardID}/activate", s.handleActivateBoard)

		r.Get("/board", s.handleActiveBoard)
		r.Post("/items", s.handleAddItem)
		r.Patch("/items/{itemID}", s.handleUpdateItem)
		r.Delete("/items/{itemID}", s.handleRemoveItem)

		r.Get("/connections", s.handleConnections)
		r.Delete("/connections", s.handleClearConnections)
		r.Get("/layout", s.handleLayout)

		r.Get("/analyze", s.handleAnalysisStatus)
		r.Post("/analyze/{layer}", s.handleAnalyze)

		r.Get("/warning", s.handleWarning)
		r.Delete("/warning", s.handleDismissWarning)
		r.Post("/flush", s.handleFlush)
	})

	s.router = r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stores := make(map[string]bool, len(s.checks))
	for name, check := range s.checks {
		stores[name] = check() == nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"ready":   s.reg.Ready(),
		"stores":  stores,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
