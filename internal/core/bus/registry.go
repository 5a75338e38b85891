package bus

import (
	"sort"
	"sync"
)

// Registry maps stream keys to live streams.
type Registry struct {
	mu      sync.RWMutex
	streams map[StreamKey]*Stream
}

// NewRegistry creates a new stream registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[StreamKey]*Stream),
	}
}

// GetOrCreate retrieves an existing stream or creates a new one.
// Returns the stream and true if it was newly created.
func (r *Registry) GetOrCreate(key StreamKey) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stream, exists := r.streams[key]; exists {
		return stream, false
	}

	stream := NewStream(key)
	r.streams[key] = stream
	return stream, true
}

// Get retrieves a stream by key, returning nil if not found.
func (r *Registry) Get(key StreamKey) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[key]
}

// Publishing returns the stream under key only while it has a publisher.
func (r *Registry) Publishing(key StreamKey) *Stream {
	stream := r.Get(key)
	if stream == nil || !stream.HasPublisher() {
		return nil
	}
	return stream
}

// RemoveIfEmpty removes a stream that has no publisher and no subscribers.
func (r *Registry) RemoveIfEmpty(key StreamKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, exists := r.streams[key]
	if !exists || !stream.IsEmpty() {
		return false
	}
	delete(r.streams, key)
	return true
}

// Count returns the number of streams in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// List returns all stream keys sorted by their string form.
func (r *Registry) List() []StreamKey {
	r.mu.RLock()
	keys := make([]StreamKey, 0, len(r.streams))
	for key := range r.streams {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
