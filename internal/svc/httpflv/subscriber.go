package httpflv

import (
	"bufio"
	"context"
	"io"
	"net/http"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/protocol/flv"
)

// subscriber copies frames from one bus subscription to an HTTP response.
type subscriber struct {
	writer  *bufio.Writer
	flusher http.Flusher
	stream  *bus.Stream
	sub     *bus.Subscriber
	md      *flv.Tag
	muxer   flv.Muxer
	buf     []byte
}

func newSubscriber(w io.Writer, flusher http.Flusher, stream *bus.Stream, queue uint32) *subscriber {
	sub, md := stream.AttachSubscriber(queue, bus.BackpressureDropOldest)
	s := &subscriber{
		writer:  bufio.NewWriter(w),
		flusher: flusher,
		stream:  stream,
		sub:     sub,
	}
	if md != nil {
		// Encoding only fails for values metadata never holds.
		s.md, _ = flv.MetadataTag(*md)
	}
	return s
}

// run writes the FLV header, the cached metadata and then every frame until
// ctx ends, the publisher stops or a write fails.
func (s *subscriber) run(ctx context.Context) error {
	if _, err := s.writer.Write(flv.NewHeader(true, true).Bytes()); err != nil {
		return err
	}
	if s.md != nil {
		if _, err := s.writer.Write(s.md.Bytes()); err != nil {
			return err
		}
	}
	if err := s.flush(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.sub.Ready():
			if err := s.drain(); err != nil {
				return err
			}
		case <-s.sub.Ended():
			return s.drain()
		}
	}
}

func (s *subscriber) drain() error {
	for {
		f, ok := s.sub.Next()
		if !ok {
			return s.flush()
		}
		tag, err := s.muxer.Mux(f)
		if err != nil {
			continue
		}
		s.buf = tag.AppendTo(s.buf[:0])
		if _, err := s.writer.Write(s.buf); err != nil {
			return err
		}
	}
}

func (s *subscriber) flush() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// detach leaves the stream and returns how many frames were dropped.
func (s *subscriber) detach() uint64 {
	s.stream.DetachSubscriber(s.sub.ID())
	return s.sub.Dropped()
}
