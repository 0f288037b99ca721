// Package ipc serves the operator console's HTTP API: point configuration,
// telemetry streaming, command approval, and the embedded legacy dashboard.
package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tetherview/scadabridge/pkg/gate"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/telemetry"
	"github.com/tetherview/scadabridge/pkg/upstream"
)

// Config holds the server's listen and origin settings.
type Config struct {
	BindAddress    string
	PublicOrigin   string
	AllowedOrigins []string
	ProxyPrefix    string
}

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Registry  *registry.Registry
	Upstream  *upstream.Client
	Collector *telemetry.Collector
	Buffer    *telemetry.Buffer
	Hub       *telemetry.Hub
	Gate      *gate.Gate
	// Proxy handles everything under ProxyPrefix. Optional; when nil the
	// embed routes are not mounted.
	Proxy  http.Handler
	Logger *slog.Logger
}

// Server is the console's HTTP front end.
type Server struct {
	cfg           Config
	registry      *registry.Registry
	upstream      *upstream.Client
	collector     *telemetry.Collector
	buffer        *telemetry.Buffer
	hub           *telemetry.Hub
	gate          *gate.Gate
	proxy         http.Handler
	logger        *slog.Logger
	router        chi.Router
	actionLimiter *rateLimiter
}

// NewServer wires the router. Call Start to listen.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:           cfg,
		registry:      deps.Registry,
		upstream:      deps.Upstream,
		collector:     deps.Collector,
		buffer:        deps.Buffer,
		hub:           deps.Hub,
		gate:          deps.Gate,
		proxy:         deps.Proxy,
		logger:        logger,
		actionLimiter: newRateLimiter(actionRatePerSecond, actionRateBurst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/ws/data", s.handleDataSocket)

	router.Route("/api", func(r chi.Router) {
		r.Use(s.securityHeadersMiddleware)

		r.Get("/status", s.handleStatus)
		r.Get("/export", s.handleExport)

		r.Route("/points", func(r chi.Router) {
			r.Get("/", s.handleListPoints)
			r.Post("/", s.handleAddPoint)
			r.Post("/reorder", s.handleReorderPoints)
			r.Get("/{id}/stats", s.handlePointStats)
			r.Put("/{id}", s.handleUpdatePoint)
			r.Delete("/{id}", s.handleDeletePoint)
		})

		r.Route("/action", func(r chi.Router) {
			r.Use(s.actionRateLimitMiddleware)
			r.Post("/propose", s.handleProposeAction)
			r.Post("/approve", s.handleApproveAction)
			r.Post("/reject", s.handleRejectAction)
		})
		r.Get("/actions/pending", s.handlePendingActions)
	})

	if s.proxy != nil {
		// The embedded application gets the raw proxy responses. No API
		// middleware here; frame headers are managed by the proxy itself.
		router.Handle(s.cfg.ProxyPrefix, s.proxy)
		router.Handle(s.cfg.ProxyPrefix+"/*", s.proxy)
	}
	return router
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.BindAddress)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
