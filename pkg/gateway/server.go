package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/admission"
	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/health"
	"github.com/sluiceio/sluice/pkg/lifecycle"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/pool"
	"github.com/sluiceio/sluice/pkg/queue"
	"github.com/sluiceio/sluice/pkg/tracker"
)

// Server is the HTTP edge of the gateway. It owns the public listener and
// the admin listener and translates between HTTP and the event sequences
// produced by the lifecycle and the failover bridge.
type Server struct {
	cfg      *config.Config
	runtime  *config.Runtime
	pool     *pool.Coordinator
	orch     *lifecycle.Orchestrator
	failover *queue.Failover
	shedder  *admission.Shedder
	tracker  *tracker.Tracker
	checks   *health.Registry
	logger   zerolog.Logger

	public *http.Server
	admin  *http.Server
}

// New wires the server. failover may be nil when queue failover is
// disabled at startup.
func New(
	cfg *config.Config,
	runtime *config.Runtime,
	coord *pool.Coordinator,
	orch *lifecycle.Orchestrator,
	failover *queue.Failover,
	shedder *admission.Shedder,
	trk *tracker.Tracker,
	checks *health.Registry,
) *Server {
	s := &Server{
		cfg:      cfg,
		runtime:  runtime,
		pool:     coord,
		orch:     orch,
		failover: failover,
		shedder:  shedder,
		tracker:  trk,
		checks:   checks,
		logger:   log.WithComponent("gateway"),
	}

	s.public = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.admin = &http.Server{
		Addr:              cfg.AdminListen,
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the public API router. Middleware runs outermost first:
// error translation, CORS, security headers, admission gate, thread
// extraction.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(corsMiddleware(s.cfg))
	r.Use(securityHeaders(s.cfg.Environment))
	r.Use(admissionGate(s.shedder))
	r.Use(threadExtractor)
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/stream", s.handleStream)
		r.Get("/health", s.handleHealth)
		r.Get("/health/ready", s.handleReady)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/execution-stats", s.handleExecStats)
			r.Get("/execution-stats/{stageID}", s.handleExecStatsStage)
			r.Get("/config", s.handleConfigGet)
			r.Post("/config", s.handleConfigSet)
		})
	})
	return r
}

// AdminRouter serves the operational surface on the admin listener.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	return r
}

// Start runs both listeners. Errors other than a clean close are reported
// on the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 2)
	go func() {
		s.logger.Info().Str("addr", s.public.Addr).Msg("public listener started")
		if err := s.public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	go func() {
		s.logger.Info().Str("addr", s.admin.Addr).Msg("admin listener started")
		if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	return errs
}

// Shutdown drains both listeners, letting in-flight streams finish within
// the deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down listeners")
	adminErr := s.admin.Shutdown(ctx)
	publicErr := s.public.Shutdown(ctx)
	if publicErr != nil {
		return publicErr
	}
	return adminErr
}
