// Package health serves liveness and metrics endpoints.
package health

import (
	"net/http"
)

// Service provides health check functionality.
type Service struct {
	metrics http.Handler
}

// New creates a health service. metrics may be nil.
func New(metrics http.Handler) *Service {
	return &Service{metrics: metrics}
}

// RegisterRoutes adds /healthz and, when configured, /metrics.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}
