// Package rtmpclient drives a ClientSession over TCP. It backs the stream
// probe and the relays.
package rtmpclient

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	rtmpprotocol "rtmpsess/internal/core/protocol/rtmp"
	"rtmpsess/internal/core/session"
)

// Client owns one connection and its session. It is used from one goroutine.
type Client struct {
	target  Target
	conn    *rtmpprotocol.Conn
	session *session.ClientSession
	logger  *zap.Logger
	// stop releases the close-on-cancel hook registered by Dial.
	stop func() bool
	// pending holds events read past the point where Until last returned.
	pending []session.Event
}

// Dial connects to target and completes the handshake. The connection is
// closed when ctx ends.
func Dial(ctx context.Context, target Target, cfg session.ClientSessionConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", target.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	// Unblock reads and writes when ctx ends before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })

	if err := rtmpprotocol.ClientHandshake(raw); err != nil {
		stop()
		_ = raw.Close()
		return nil, errors.Wrap(err, "handshake")
	}

	cfg.TcURL = target.TcURL
	cfg.Logger = logger
	sess, out, err := session.NewClientSession(cfg)
	if err != nil {
		stop()
		_ = raw.Close()
		return nil, err
	}

	c := &Client{
		target:  target,
		conn:    rtmpprotocol.NewConn(raw),
		session: sess,
		logger:  logger,
		stop:    stop,
	}
	if err := c.conn.WriteMessages(out); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "write")
	}
	return c, nil
}

// Session returns the client session. Messages it produces go out through Send.
func (c *Client) Session() *session.ClientSession {
	return c.session
}

// Connect sends connect and waits for the outcome.
func (c *Client) Connect(ctx context.Context) error {
	_, out, err := c.session.Connect(c.target.App)
	if err != nil {
		return err
	}
	if err := c.Send(out); err != nil {
		return err
	}
	return c.Until(ctx, func(ev session.Event) (bool, error) {
		switch e := ev.(type) {
		case session.ConnectionRequestAccepted:
			return true, nil
		case session.ConnectionRequestRejected:
			return false, errors.Errorf("connect rejected: %s", e.Description)
		}
		return false, nil
	})
}

// CreateStream sends createStream and returns the new stream id.
func (c *Client) CreateStream(ctx context.Context) (uint32, error) {
	req, out, err := c.session.CreateStream()
	if err != nil {
		return 0, err
	}
	if err := c.Send(out); err != nil {
		return 0, err
	}
	var streamID uint32
	err = c.Until(ctx, func(ev session.Event) (bool, error) {
		if e, ok := ev.(session.StreamCreated); ok && e.TransactionID == req.TransactionID {
			streamID = e.StreamID
			return true, nil
		}
		return false, nil
	})
	return streamID, err
}

// Send writes messages produced by the session.
func (c *Client) Send(msgs []*rtmpprotocol.Message) error {
	return errors.Wrap(c.conn.WriteMessages(msgs), "write")
}

// Until reads messages until done reports true or returns an error. Chunk
// size changes and protocol errors are handled before done sees them.
// Events that follow the finishing one are kept for the next call.
func (c *Client) Until(ctx context.Context, done func(session.Event) (bool, error)) error {
	for {
		for len(c.pending) > 0 {
			ev := c.pending[0]
			c.pending = c.pending[1:]
			finished, err := done(ev)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.readOne(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) readOne(ctx context.Context) error {
	msg, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(err, "read")
	}
	res, err := c.session.HandleMessage(msg)
	if sendErr := c.Send(res.Outbound); sendErr != nil {
		return sendErr
	}
	if err != nil {
		return err
	}
	for _, ev := range res.Events {
		switch e := ev.(type) {
		case session.PeerChunkSizeChanged:
			c.conn.SetReadChunkSize(e.Size)
		case session.ProtocolError:
			c.logger.Warn("protocol error", zap.Error(e.Err))
		}
	}
	c.pending = append(c.pending, res.Events...)
	return nil
}

// Play requests playback of name on streamID and waits for the answer.
func (c *Client) Play(ctx context.Context, streamID uint32, name string) error {
	req, out, err := c.session.Play(streamID, name)
	if err != nil {
		return err
	}
	if err := c.Send(out); err != nil {
		return err
	}
	return c.Until(ctx, func(ev session.Event) (bool, error) {
		switch e := ev.(type) {
		case session.PlaybackRequestAccepted:
			return e.TransactionID == req.TransactionID, nil
		case session.RequestRejected:
			if e.TransactionID != req.TransactionID {
				return false, nil
			}
			return false, errors.Errorf("play rejected: %s", e.Description)
		}
		return false, nil
	})
}

// Publish requests a live publish of name on streamID and waits for the answer.
func (c *Client) Publish(ctx context.Context, streamID uint32, name string) error {
	req, out, err := c.session.Publish(streamID, name, session.PublishLive)
	if err != nil {
		return err
	}
	if err := c.Send(out); err != nil {
		return err
	}
	return c.Until(ctx, func(ev session.Event) (bool, error) {
		switch e := ev.(type) {
		case session.PublishRequestAccepted:
			return e.TransactionID == req.TransactionID, nil
		case session.RequestRejected:
			if e.TransactionID != req.TransactionID {
				return false, nil
			}
			return false, errors.Errorf("publish rejected: %s", e.Description)
		}
		return false, nil
	})
}

// SendMedia publishes one audio or video frame on streamID.
func (c *Client) SendMedia(streamID uint32, video bool, timestamp uint32, data []byte) error {
	var (
		msg *rtmpprotocol.Message
		err error
	)
	if video {
		msg, err = c.session.PublishVideoData(streamID, timestamp, data)
	} else {
		msg, err = c.session.PublishAudioData(streamID, timestamp, data)
	}
	if err != nil {
		return err
	}
	return c.Send([]*rtmpprotocol.Message{msg})
}

// SendMetadata publishes stream metadata on streamID.
func (c *Client) SendMetadata(streamID uint32, md session.StreamMetadata) error {
	msg, err := c.session.PublishMetadata(streamID, md)
	if err != nil {
		return err
	}
	return c.Send([]*rtmpprotocol.Message{msg})
}

// Close deletes open streams and closes the connection.
func (c *Client) Close() {
	c.stop()
	if out := c.session.Close(); len(out) > 0 {
		_ = c.conn.WriteMessages(out)
	}
	_ = c.conn.Close()
}
