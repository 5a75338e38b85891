package wsflv

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
)

// Handler handles WebSocket-FLV requests.
type Handler struct {
	registry  *bus.Registry
	queue     uint32
	collector *metrics.Collector
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a new WebSocket-FLV handler.
func NewHandler(registry *bus.Registry, queue uint32, allowedOrigins []string, collector *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		queue:     queue,
		collector: collector,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP upgrades GET /ws/{app}/{name} and streams until either side
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	urlPath := strings.TrimPrefix(r.URL.Path, "/ws/")
	if urlPath == r.URL.Path {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	app, name, ok := strings.Cut(urlPath, "/")
	if !ok || app == "" || name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := bus.NewStreamKey(app, name)
	stream := h.registry.Publishing(key)
	if stream == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		return
	}
	logger := h.logger.With(zap.String("stream", key.String()), zap.String("remote", r.RemoteAddr))

	sub := NewSubscriber(conn, stream, h.queue)
	h.collector.StreamStarted("ws_flv")
	defer func() {
		dropped := sub.Detach()
		_ = conn.Close()
		h.registry.RemoveIfEmpty(key)
		h.collector.StreamEnded("ws_flv")
		if dropped > 0 {
			h.collector.FramesDropped(dropped)
			logger.Warn("ws-flv viewer dropped frames", zap.Uint64("dropped", dropped))
		}
	}()

	// The viewer sends nothing, but reading is what notices a close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug("ws-flv viewer attached")
	if err := sub.Run(ctx); err != nil {
		logger.Debug("ws-flv viewer finished", zap.Error(err))
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
}

// RegisterRoutes registers WebSocket-FLV routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/", h.ServeHTTP)
}
