package rtmp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	rtmpprotocol "rtmpsess/internal/core/protocol/rtmp"
	"rtmpsess/internal/core/session"
)

// connection runs one server session. The read loop and player goroutines
// share the session under mu.
type connection struct {
	srv    *Server
	raw    net.Conn
	id     string
	logger *zap.Logger

	conn *rtmpprotocol.Conn

	mu         sync.Mutex
	session    *session.ServerSession
	publishing map[uint32]*bus.Stream
	players    map[uint32]*player

	playerWG sync.WaitGroup
}

func newConnection(srv *Server, raw net.Conn, id string) *connection {
	return &connection{
		srv: srv,
		raw: raw,
		id:  id,
		logger: srv.logger.With(
			zap.String("conn_id", id),
			zap.String("remote", raw.RemoteAddr().String()),
		),
		publishing: make(map[uint32]*bus.Stream),
		players:    make(map[uint32]*player),
	}
}

func (c *connection) run() {
	defer func() {
		if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()

	if c.srv.opts.IdleTimeout > 0 {
		_ = c.raw.SetDeadline(time.Now().Add(c.srv.opts.IdleTimeout))
	}
	if err := rtmpprotocol.ServerHandshake(c.raw); err != nil {
		c.srv.metrics.HandshakeFailed()
		c.logger.Debug("handshake failed", zap.Error(err))
		return
	}
	_ = c.raw.SetDeadline(time.Time{})

	c.srv.metrics.ConnectionOpened()
	defer c.srv.metrics.ConnectionClosed()
	c.logger.Info("connection opened")

	c.conn = rtmpprotocol.NewConn(c.raw)
	if c.srv.opts.MaxMessageSize > 0 {
		c.conn.SetMaxMessageSize(c.srv.opts.MaxMessageSize)
	}

	cfg := c.srv.opts.Session
	cfg.Logger = c.logger
	sess, out, err := session.NewServerSession(cfg)
	if err != nil {
		c.logger.Error("create session", zap.Error(err))
		return
	}
	c.session = sess
	defer c.shutdown()

	if err := c.write(out); err != nil {
		c.logger.Debug("write initial messages", zap.Error(err))
		return
	}

	for {
		c.refreshReadDeadline()
		msg, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.logger.Info("connection closed by peer")
			} else {
				c.logger.Warn("read message", zap.Error(err))
			}
			return
		}
		c.srv.metrics.BytesReceived(len(msg.Body))

		if err := c.handle(msg); err != nil {
			c.logger.Error("session failed", zap.Error(err))
			return
		}
	}
}

// refreshReadDeadline bounds the wait for the next message. Players may stay
// silent for long stretches, so no deadline applies while any are attached.
func (c *connection) refreshReadDeadline() {
	if c.srv.opts.IdleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	idle := len(c.players) == 0
	c.mu.Unlock()
	if idle {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.opts.IdleTimeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

func (c *connection) handle(msg *rtmpprotocol.Message) error {
	if msg.Type == rtmpprotocol.MessageTypeAbortMessage {
		if csID, err := rtmpprotocol.ParseUint32(msg.Body); err == nil {
			c.conn.AbortMessage(csID)
		}
	}

	c.mu.Lock()
	res, err := c.session.HandleMessage(msg)
	out := res.Outbound
	var started []*player
	for _, ev := range res.Events {
		more, p := c.handleEvent(ev)
		out = append(out, more...)
		if p != nil {
			started = append(started, p)
		}
	}
	c.mu.Unlock()

	if werr := c.write(out); werr != nil {
		return werr
	}
	for _, p := range started {
		p := p
		c.playerWG.Add(1)
		go func() {
			defer c.playerWG.Done()
			c.runPlayer(p)
		}()
	}
	return err
}

func (c *connection) write(msgs []*rtmpprotocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.conn.WriteMessages(msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		c.srv.metrics.BytesSent(len(m.Body))
	}
	return nil
}

// handleEvent applies one session event. It runs with mu held and returns
// messages to send plus a player to start once they are written.
func (c *connection) handleEvent(ev session.Event) ([]*rtmpprotocol.Message, *player) {
	c.srv.metrics.SessionEvent(session.EventName(ev))

	switch e := ev.(type) {
	case session.PeerChunkSizeChanged:
		c.conn.SetReadChunkSize(e.Size)

	case session.ProtocolError:
		c.srv.metrics.ProtocolError(e.Err.Kind.String())
		c.logger.Warn("protocol error", zap.Error(e.Err))

	case session.ClientConnectionRequested:
		return c.decideConnect(e), nil

	case session.PublishStreamRequested:
		return c.decidePublish(e), nil

	case session.PlayStreamRequested:
		return c.decidePlay(e)

	case session.AudioDataReceived:
		if stream := c.publishing[e.StreamID]; stream != nil {
			stream.Publish(bus.AudioFrame(e))
		}

	case session.VideoDataReceived:
		if stream := c.publishing[e.StreamID]; stream != nil {
			stream.Publish(bus.VideoFrame(e))
		}

	case session.StreamMetadataChanged:
		if stream := c.publishing[e.StreamID]; stream != nil {
			stream.Publish(bus.MetadataFrame(e.Metadata))
		}

	case session.PublishStreamFinished:
		c.finishPublish(e.StreamID)

	case session.PlayStreamFinished:
		c.stopPlayer(e.StreamID)
	}
	return nil, nil
}

func (c *connection) decideConnect(e session.ClientConnectionRequested) []*rtmpprotocol.Message {
	if !c.srv.opts.appAllowed(e.App) {
		c.logger.Info("connect rejected", zap.String("app", e.App))
		out, err := c.session.RejectRequest(e.RequestID, "Application "+e.App+" is not allowed.")
		if err != nil {
			c.logger.Error("reject connect", zap.Error(err))
		}
		return out
	}
	c.logger.Info("connect accepted", zap.String("app", e.App))
	out, err := c.session.AcceptRequest(e.RequestID)
	if err != nil {
		c.logger.Error("accept connect", zap.Error(err))
	}
	return out
}

func (c *connection) decidePublish(e session.PublishStreamRequested) []*rtmpprotocol.Message {
	key := bus.NewStreamKey(e.App, e.StreamName)
	logger := c.logger.With(zap.Stringer("stream", key), zap.Uint32("stream_id", e.StreamID))

	stream, _ := c.srv.registry.GetOrCreate(key)
	if !stream.AttachPublisher(c.id) {
		logger.Info("publish rejected, stream is already published")
		out, err := c.session.RejectRequest(e.RequestID, key.String()+" is already being published.")
		if err != nil {
			logger.Error("reject publish", zap.Error(err))
		}
		return out
	}

	out, err := c.session.AcceptRequest(e.RequestID)
	if err != nil {
		stream.DetachPublisher(c.id)
		c.srv.registry.RemoveIfEmpty(key)
		logger.Error("accept publish", zap.Error(err))
		return nil
	}
	c.publishing[e.StreamID] = stream
	c.srv.metrics.StreamStarted("publishing")
	logger.Info("publish started", zap.Stringer("mode", e.Mode))
	return out
}

func (c *connection) finishPublish(streamID uint32) {
	stream, ok := c.publishing[streamID]
	if !ok {
		return
	}
	delete(c.publishing, streamID)
	stream.DetachPublisher(c.id)
	c.srv.registry.RemoveIfEmpty(stream.Key())
	c.srv.metrics.StreamEnded("publishing")
	c.logger.Info("publish finished", zap.Stringer("stream", stream.Key()))
}

// shutdown closes the session and releases every stream it held.
func (c *connection) shutdown() {
	c.mu.Lock()
	for _, ev := range c.session.Close() {
		c.handleEvent(ev)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
	c.playerWG.Wait()
}
