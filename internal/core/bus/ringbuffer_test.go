package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoFrame(ts uint32) *Frame {
	return &Frame{Kind: FrameVideo, Timestamp: ts}
}

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(8, BackpressureDropOldest)

	f := videoFrame(1)
	require.True(t, rb.Write(f))

	got, ok := rb.Read()
	require.True(t, ok)
	assert.Same(t, f, got)

	_, ok = rb.Read()
	assert.False(t, ok)
}

func TestRingBufferRoundsUpCapacity(t *testing.T) {
	rb := NewRingBuffer(5, BackpressureDropNewest)
	for i := 0; i < 8; i++ {
		require.True(t, rb.Write(videoFrame(uint32(i))))
	}
	assert.False(t, rb.Write(videoFrame(8)))
	assert.Equal(t, uint32(8), rb.Len())
}

func TestRingBufferDropOldest(t *testing.T) {
	rb := NewRingBuffer(4, BackpressureDropOldest)
	for i := 0; i < 6; i++ {
		require.True(t, rb.Write(videoFrame(uint32(i))))
	}
	assert.Equal(t, uint64(2), rb.Dropped())

	var got []uint32
	for f, ok := rb.Read(); ok; f, ok = rb.Read() {
		got = append(got, f.Timestamp)
	}
	assert.Equal(t, []uint32{2, 3, 4, 5}, got)
}

func TestRingBufferDropNewest(t *testing.T) {
	rb := NewRingBuffer(2, BackpressureDropNewest)
	rb.Write(videoFrame(0))
	rb.Write(videoFrame(1))
	assert.False(t, rb.Write(videoFrame(2)))
	assert.Equal(t, uint64(1), rb.Dropped())

	f, ok := rb.Read()
	require.True(t, ok)
	assert.Equal(t, uint32(0), f.Timestamp)
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(4, BackpressureDropNewest)
	rb.writePos.Store(^uint32(0) - 1)
	rb.readPos.Store(^uint32(0) - 1)

	for i := 0; i < 4; i++ {
		require.True(t, rb.Write(videoFrame(uint32(i))))
	}
	assert.False(t, rb.Write(videoFrame(4)))
	for i := 0; i < 4; i++ {
		f, ok := rb.Read()
		require.True(t, ok)
		assert.Equal(t, uint32(i), f.Timestamp)
	}
	_, ok := rb.Read()
	assert.False(t, ok)
}

func TestRingBufferConcurrentDropOldest(t *testing.T) {
	rb := NewRingBuffer(16, BackpressureDropOldest)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			rb.Write(videoFrame(uint32(i)))
		}
	}()

	var last int64 = -1
	read := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		f, ok := rb.Read()
		if ok {
			assert.Greater(t, int64(f.Timestamp), last)
			last = int64(f.Timestamp)
			read++
			continue
		}
		select {
		case <-done:
			if rb.Len() == 0 {
				assert.Equal(t, uint64(total), uint64(read)+rb.Dropped())
				return
			}
		default:
		}
	}
}
