package bus

import (
	"sync/atomic"
)

// BackpressureStrategy defines how the ring buffer handles overflow.
type BackpressureStrategy uint8

const (
	// BackpressureDropOldest drops the oldest frame when the buffer is full.
	BackpressureDropOldest BackpressureStrategy = iota
	// BackpressureDropNewest drops the incoming frame when the buffer is full.
	BackpressureDropNewest
)

// RingBuffer is a bounded frame queue for one producer and one consumer.
// Both positions run freely and are masked only when indexing slots, so
// readPos == writePos means empty even after uint32 wrap.
type RingBuffer struct {
	slots    []atomic.Pointer[Frame]
	size     uint32
	mask     uint32
	writePos atomic.Uint32
	readPos  atomic.Uint32
	strategy BackpressureStrategy
	dropped  atomic.Uint64
}

// NewRingBuffer creates a ring buffer. Capacity is rounded up to a power of 2.
func NewRingBuffer(capacity uint32, strategy BackpressureStrategy) *RingBuffer {
	size := uint32(1)
	for size < capacity {
		size <<= 1
	}
	return &RingBuffer{
		slots:    make([]atomic.Pointer[Frame], size),
		size:     size,
		mask:     size - 1,
		strategy: strategy,
	}
}

// Write queues a frame. It returns false when the frame was dropped.
func (rb *RingBuffer) Write(f *Frame) bool {
	if f == nil {
		return false
	}
	w := rb.writePos.Load()
	for {
		r := rb.readPos.Load()
		if w-r < rb.size {
			break
		}
		if rb.strategy == BackpressureDropNewest {
			rb.dropped.Add(1)
			return false
		}
		// A failed swap means the reader freed a slot in the meantime.
		if rb.readPos.CompareAndSwap(r, r+1) {
			rb.dropped.Add(1)
			break
		}
	}
	rb.slots[w&rb.mask].Store(f)
	rb.writePos.Store(w + 1)
	return true
}

// Read dequeues the oldest frame, if any.
func (rb *RingBuffer) Read() (*Frame, bool) {
	for {
		r := rb.readPos.Load()
		if r == rb.writePos.Load() {
			return nil, false
		}
		f := rb.slots[r&rb.mask].Load()
		// The writer advances readPos before overwriting a full buffer's
		// oldest slot, so a successful swap means f was not replaced.
		if rb.readPos.CompareAndSwap(r, r+1) {
			return f, true
		}
	}
}

// Dropped returns the number of frames lost to backpressure.
func (rb *RingBuffer) Dropped() uint64 {
	return rb.dropped.Load()
}

// Len returns the number of queued frames.
func (rb *RingBuffer) Len() uint32 {
	return rb.writePos.Load() - rb.readPos.Load()
}
