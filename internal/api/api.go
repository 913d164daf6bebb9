package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"livechat-backend/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type ServerConfig struct {
	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

type APIServer struct {
	cfg                 ServerConfig
	requestQueueManager *queue.RequestQueueManager
	routeRegistrars     []RouteRegistrar
	metrics             *metrics
	log                 zerolog.Logger
}

func NewAPIServer(cfg ServerConfig, rqm *queue.RequestQueueManager, log zerolog.Logger, registrars ...RouteRegistrar) *APIServer {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &APIServer{
		cfg:                 cfg,
		requestQueueManager: rqm,
		routeRegistrars:     registrars,
		metrics:             newMetrics(reg, cfg.ListenAddr, rqm),
		log:                 log.With().Str("component", "http").Str("listen_addr", cfg.ListenAddr).Logger(),
	}
}

// Handler builds the mux with every registered route plus /metrics.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	return s.metrics.instrument(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *APIServer) Logger() zerolog.Logger {
	return s.log
}
