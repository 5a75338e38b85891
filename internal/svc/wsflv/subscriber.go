package wsflv

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/protocol/flv"
)

// writeTimeout bounds each WebSocket write so a stalled viewer is dropped.
const writeTimeout = 10 * time.Second

// WebSocketConn is the part of a WebSocket connection the subscriber writes to.
type WebSocketConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Subscriber copies frames from one bus subscription to a WebSocket.
type Subscriber struct {
	conn   WebSocketConn
	stream *bus.Stream
	sub    *bus.Subscriber
	md     *flv.Tag
	muxer  flv.Muxer
}

// NewSubscriber attaches a subscription with room for queue frames.
func NewSubscriber(conn WebSocketConn, stream *bus.Stream, queue uint32) *Subscriber {
	sub, md := stream.AttachSubscriber(queue, bus.BackpressureDropOldest)
	s := &Subscriber{conn: conn, stream: stream, sub: sub}
	if md != nil {
		s.md, _ = flv.MetadataTag(*md)
	}
	return s
}

// Run sends the FLV header as the first message, then the cached metadata
// and every frame until ctx ends, the publisher stops or a write fails.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.write(flv.NewHeader(true, true).Bytes()); err != nil {
		return err
	}
	if s.md != nil {
		if err := s.write(s.md.Bytes()); err != nil {
			return err
		}
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

func (s *Subscriber) drain() error {
	for {
		f, ok := s.sub.Next()
		if !ok {
			return nil
		}
		tag, err := s.muxer.Mux(f)
		if err != nil {
			continue
		}
		if err := s.write(tag.Bytes()); err != nil {
			return err
		}
	}
}

func (s *Subscriber) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Detach leaves the stream and returns how many frames were dropped.
func (s *Subscriber) Detach() uint64 {
	s.stream.DetachSubscriber(s.sub.ID())
	return s.sub.Dropped()
}
