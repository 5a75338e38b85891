package httpflv

import (
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/metrics"
)

// Handler handles HTTP-FLV requests.
type Handler struct {
	registry  *bus.Registry
	queue     uint32
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewHandler creates a new HTTP-FLV handler.
func NewHandler(registry *bus.Registry, queue uint32, collector *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		queue:     queue,
		collector: collector,
		logger:    logger,
	}
}

// parseStreamPath splits /{app}/{name}.flv into its stream key.
func parseStreamPath(p string) (bus.StreamKey, bool) {
	p = strings.TrimPrefix(p, "/")
	if !strings.HasSuffix(p, ".flv") {
		return bus.StreamKey{}, false
	}
	app, name, ok := strings.Cut(strings.TrimSuffix(p, ".flv"), "/")
	if !ok || app == "" || name == "" {
		return bus.StreamKey{}, false
	}
	return bus.NewStreamKey(app, name), true
}

// ServeHTTP streams GET /{app}/{name}.flv until the client goes away or the
// publisher stops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key, ok := parseStreamPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	stream := h.registry.Publishing(key)
	if stream == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger := h.logger.With(zap.String("stream", key.String()), zap.String("remote", r.RemoteAddr))
	sub := newSubscriber(w, flusher, stream, h.queue)
	h.collector.StreamStarted("http_flv")
	defer func() {
		dropped := sub.detach()
		h.registry.RemoveIfEmpty(key)
		h.collector.StreamEnded("http_flv")
		if dropped > 0 {
			h.collector.FramesDropped(dropped)
			logger.Warn("http-flv viewer dropped frames", zap.Uint64("dropped", dropped))
		}
	}()

	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	logger.Debug("http-flv viewer attached")
	if err := sub.run(r.Context()); err != nil {
		logger.Debug("http-flv viewer finished", zap.Error(err))
	}
}

// RegisterRoutes registers the catch-all FLV route. Requests without the
// .flv extension get 404.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if path.Ext(r.URL.Path) != ".flv" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ServeHTTP(w, r)
	})
}
