package bus

import "sync"

// Subscriber receives frames from one stream. Frames are queued in a ring
// buffer so a slow subscriber never blocks the publisher.
type Subscriber struct {
	id      uint64
	buffer  *RingBuffer
	notify  chan struct{}
	ended   chan struct{}
	endOnce sync.Once
}

func newSubscriber(id uint64, capacity uint32, strategy BackpressureStrategy) *Subscriber {
	return &Subscriber{
		id:     id,
		buffer: NewRingBuffer(capacity, strategy),
		notify: make(chan struct{}, 1),
		ended:  make(chan struct{}),
	}
}

// ID returns the subscriber identifier within its stream.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Ready is signalled after frames were queued.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.notify
}

// Ended is closed when the publisher leaves the stream.
func (s *Subscriber) Ended() <-chan struct{} {
	return s.ended
}

// Next returns the next queued frame.
func (s *Subscriber) Next() (*Frame, bool) {
	return s.buffer.Read()
}

// Dropped returns the number of frames dropped due to backpressure.
func (s *Subscriber) Dropped() uint64 {
	return s.buffer.Dropped()
}

func (s *Subscriber) deliver(f *Frame) {
	s.buffer.Write(f)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) end() {
	s.endOnce.Do(func() { close(s.ended) })
}
