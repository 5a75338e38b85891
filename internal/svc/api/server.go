// Package api serves a read-mostly JSON view of the server: live streams and
// relays, plus relay restarts. Handlers never touch media paths.
package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/svc/relay"
)

// RelayManager is the part of the relay manager the API uses.
type RelayManager interface {
	Tasks() []relay.TaskInfo
	Restart(app, name string) error
}

// Service provides HTTP API functionality.
type Service struct {
	registry  *bus.Registry
	relayMgr  RelayManager
	startTime time.Time
	version   string
	logger    *zap.Logger
}

// NewService creates a new API service.
func NewService(registry *bus.Registry, relayMgr RelayManager, logger *zap.Logger) *Service {
	return &Service{
		registry:  registry,
		relayMgr:  relayMgr,
		startTime: time.Now(),
		version:   buildVersion(),
		logger:    logger,
	}
}

// RegisterRoutes registers API routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server", s.handleServer)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/relay", s.handleRelay)
	mux.HandleFunc("/api/relay/restart", s.handleRelayRestart)
}

// buildVersion reports the main module version, "devel" for local builds.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}
