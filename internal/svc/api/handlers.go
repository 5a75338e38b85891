package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/svc/relay"
)

// ServerResponse represents the /api/server response.
type ServerResponse struct {
	Version         string   `json:"version"`
	Uptime          int64    `json:"uptime"` // seconds
	GoVersion       string   `json:"go_version"`
	EnabledServices []string `json:"enabled_services"`
	Streams         int      `json:"streams"`
}

// StreamInfo represents information about a stream.
type StreamInfo struct {
	App             string `json:"app"`
	Name            string `json:"name"`
	HasPublisher    bool   `json:"has_publisher"`
	Publisher       string `json:"publisher,omitempty"`
	SubscriberCount int    `json:"subscriber_count"`
	// Metadata holds the onMetaData fields the publisher set.
	Metadata amf0.ECMAArray `json:"metadata,omitempty"`
}

// StreamsResponse represents the /api/streams response.
type StreamsResponse struct {
	Streams []StreamInfo `json:"streams"`
}

// RelayTaskInfo represents information about a relay task for API responses.
type RelayTaskInfo struct {
	App       string `json:"app"`
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	RemoteURL string `json:"remote_url"`
	Running   bool   `json:"running"`
}

// RelayResponse represents the /api/relay response.
type RelayResponse struct {
	Tasks []RelayTaskInfo `json:"tasks"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleServer handles GET /api/server.
func (s *Service) handleServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	services := []string{"rtmp"}
	if len(s.relayMgr.Tasks()) > 0 {
		services = append(services, "relay")
	}
	s.writeJSON(w, http.StatusOK, ServerResponse{
		Version:         s.version,
		Uptime:          int64(time.Since(s.startTime) / time.Second),
		GoVersion:       runtime.Version(),
		EnabledServices: services,
		Streams:         s.registry.Count(),
	})
}

// handleStreams handles GET /api/streams.
// Returns list of active streams with publisher/subscriber info.
func (s *Service) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	keys := s.registry.List()
	streams := make([]StreamInfo, 0, len(keys))
	for _, key := range keys {
		stream := s.registry.Get(key)
		if stream == nil {
			continue
		}
		info := StreamInfo{
			App:             key.App,
			Name:            key.Name,
			Publisher:       stream.Publisher(),
			SubscriberCount: stream.SubscriberCount(),
		}
		info.HasPublisher = info.Publisher != ""
		if md := stream.Metadata(); md != nil {
			info.Metadata = md.Properties()
		}
		streams = append(streams, info)
	}

	s.writeJSON(w, http.StatusOK, StreamsResponse{Streams: streams})
}

// handleRelay handles GET /api/relay.
func (s *Service) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	relayTasks := s.relayMgr.Tasks()
	tasks := make([]RelayTaskInfo, 0, len(relayTasks))
	for _, rt := range relayTasks {
		tasks = append(tasks, RelayTaskInfo{
			App:       rt.App,
			Name:      rt.Name,
			Mode:      rt.Mode,
			RemoteURL: rt.RemoteURL,
			Running:   rt.Running,
		})
	}
	s.writeJSON(w, http.StatusOK, RelayResponse{Tasks: tasks})
}

// handleRelayRestart handles POST /api/relay/restart.
func (s *Service) handleRelayRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		App  string `json:"app"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.App == "" || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "app and name are required")
		return
	}

	if err := s.relayMgr.Restart(req.App, req.Name); err != nil {
		if errors.Is(err, relay.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Warn("relay restart failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

// writeJSON writes a JSON response.
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// writeError writes an error response.
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
