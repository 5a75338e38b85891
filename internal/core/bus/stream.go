package bus

import (
	"sync"

	"rtmpsess/internal/core/session"
)

// Stream is one live stream: at most one publisher and any number of
// subscribers. The last metadata the publisher sent is kept for late joiners.
type Stream struct {
	key         StreamKey
	mu          sync.RWMutex
	publisher   string
	subscribers map[uint64]*Subscriber
	nextSubID   uint64
	metadata    *session.StreamMetadata
}

// NewStream creates a new stream with the given key.
func NewStream(key StreamKey) *Stream {
	return &Stream{
		key:         key,
		subscribers: make(map[uint64]*Subscriber),
		nextSubID:   1,
	}
}

// Key returns the stream's key.
func (s *Stream) Key() StreamKey {
	return s.key
}

// AttachPublisher attaches a publisher identified by owner.
// Returns false if another publisher is attached.
func (s *Stream) AttachPublisher(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher != "" {
		return false
	}
	s.publisher = owner
	return true
}

// DetachPublisher removes the publisher if it is owner. Subscribers are
// ended and removed, and the cached metadata is dropped.
func (s *Stream) DetachPublisher(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher != owner {
		return false
	}
	s.publisher = ""
	s.metadata = nil
	for id, sub := range s.subscribers {
		sub.end()
		delete(s.subscribers, id)
	}
	return true
}

// HasPublisher returns true if a publisher is currently attached.
func (s *Stream) HasPublisher() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher != ""
}

// Publisher returns the owner of the attached publisher, empty if none.
func (s *Stream) Publisher() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher
}

// Metadata returns a copy of the cached metadata, nil if none was sent.
func (s *Stream) Metadata() *session.StreamMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata == nil {
		return nil
	}
	clone := s.metadata.Clone()
	return &clone
}

// AttachSubscriber attaches a new subscriber. The returned metadata is the
// publisher's current metadata, nil if none was sent yet.
func (s *Stream) AttachSubscriber(capacity uint32, strategy BackpressureStrategy) (*Subscriber, *session.StreamMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++

	sub := newSubscriber(id, capacity, strategy)
	s.subscribers[id] = sub

	var md *session.StreamMetadata
	if s.metadata != nil {
		clone := s.metadata.Clone()
		md = &clone
	}
	return sub, md
}

// DetachSubscriber detaches a subscriber from the stream.
func (s *Stream) DetachSubscriber(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// Publish delivers a frame to all subscribers. Metadata frames also replace
// the cached metadata.
func (s *Stream) Publish(f *Frame) {
	if f == nil {
		return
	}

	if f.Kind == FrameMetadata {
		s.mu.Lock()
		s.metadata = f.Metadata
		s.mu.Unlock()
	}

	s.mu.RLock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(f)
	}
}

// SubscriberCount returns the number of active subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// IsEmpty returns true if the stream has no publisher and no subscribers.
func (s *Stream) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher == "" && len(s.subscribers) == 0
}
