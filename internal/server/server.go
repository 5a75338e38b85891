// Package server wires the HTTP side server, the RTMP service and the relays
// together and handles their lifecycle. The HTTP side carries health, metrics,
// the JSON API and FLV playback.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
	"rtmpsess/internal/svc/api"
	"rtmpsess/internal/svc/health"
	"rtmpsess/internal/svc/httpflv"
	"rtmpsess/internal/svc/relay"
	rtmpsvc "rtmpsess/internal/svc/rtmp"
	"rtmpsess/internal/svc/rtmpclient"
	"rtmpsess/internal/svc/wsflv"
)

// Server owns the HTTP side server, the RTMP listener and the relays.
type Server struct {
	httpServer *http.Server
	rtmpServer *rtmpsvc.Server
	relays     *relay.Manager
	relayCfg   []config.RelayConfig
	rtmpAddr   string
	logger     *zap.Logger
}

// New creates a new server instance with the given configuration.
// Nothing listens until Start is called.
func New(cfg *config.Config, logger *zap.Logger) *Server {
	registry := bus.NewRegistry()
	collector := metrics.New()

	opts := rtmpsvc.OptionsFromConfig(cfg)
	relays := relay.NewManager(registry, rtmpclient.SessionConfig(cfg), opts.SubscriberQueue,
		collector, logger.Named("relay"))

	mux := http.NewServeMux()
	health.New(collector.Handler()).RegisterRoutes(mux)
	api.NewService(registry, relays, logger.Named("api")).RegisterRoutes(mux)
	httpflv.NewService(registry, opts.SubscriberQueue, collector, logger.Named("httpflv")).RegisterRoutes(mux)
	wsflv.NewService(registry, opts.SubscriberQueue, cfg.Server.WSAllowedOrigins, collector,
		logger.Named("wsflv")).RegisterRoutes(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		rtmpServer: rtmpsvc.NewServer(opts, registry, collector, logger),
		relays:     relays,
		relayCfg:   cfg.Relays,
		rtmpAddr:   fmt.Sprintf(":%d", cfg.Server.RTMPPort),
		logger:     logger,
	}
}

// Start binds both listeners, starts the relays and serves until ctx is done
// or one of the listeners fails. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.rtmpServer.Listen(s.rtmpAddr); err != nil {
		return fmt.Errorf("rtmp listen: %w", err)
	}
	if err := s.relays.StartTasks(s.relayCfg); err != nil {
		_ = s.rtmpServer.Close()
		return fmt.Errorf("relays: %w", err)
	}

	errs := make(chan error, 2)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
			return
		}
		errs <- nil
	}()
	go func() {
		if err := s.rtmpServer.Serve(ctx); err != nil {
			errs <- fmt.Errorf("rtmp server: %w", err)
			return
		}
		errs <- nil
	}()
	s.logger.Info("server started",
		zap.String("http_addr", s.httpServer.Addr),
		zap.String("rtmp_addr", s.rtmpAddr),
		zap.Int("relays", s.relays.TaskCount()))

	return <-errs
}

// Shutdown stops the relays and then both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.relays.Stop()
	rtmpErr := s.rtmpServer.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return rtmpErr
}

// ShutdownWithTimeout stops the server with a fixed 5-second timeout.
func (s *Server) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
