// Package httpflv serves live streams from the bus as HTTP-FLV.
package httpflv

import (
	"net/http"

	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
)

// Service provides HTTP-FLV streaming functionality.
type Service struct {
	handler *Handler
}

// NewService creates a new HTTP-FLV service. queue is the per-viewer frame
// capacity.
func NewService(registry *bus.Registry, queue uint32, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		handler: NewHandler(registry, queue, collector, logger),
	}
}

// RegisterRoutes registers HTTP-FLV routes on the provided mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}
