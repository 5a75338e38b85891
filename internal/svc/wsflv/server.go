// Package wsflv serves live streams from the bus as FLV over WebSocket, one
// tag per binary message.
package wsflv

import (
	"net/http"

	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
)

// Service provides WebSocket-FLV streaming functionality.
type Service struct {
	handler *Handler
}

// NewService creates a new WebSocket-FLV service. An empty allowedOrigins
// accepts every origin.
func NewService(registry *bus.Registry, queue uint32, allowedOrigins []string, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		handler: NewHandler(registry, queue, allowedOrigins, collector, logger),
	}
}

// RegisterRoutes registers WebSocket-FLV routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}
