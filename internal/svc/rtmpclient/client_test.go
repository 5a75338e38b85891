package rtmpclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	rtmpprotocol "rtmpsess/internal/core/protocol/rtmp"
	"rtmpsess/internal/core/session"
)

// decideFunc answers connect, publish and play requests for scriptedServer.
type decideFunc func(s *session.ServerSession, ev session.Event) ([]*rtmpprotocol.Message, error)

// acceptAll accepts every request.
func acceptAll(s *session.ServerSession, ev session.Event) ([]*rtmpprotocol.Message, error) {
	switch e := ev.(type) {
	case session.ClientConnectionRequested:
		return s.AcceptRequest(e.RequestID)
	case session.PublishStreamRequested:
		return s.AcceptRequest(e.RequestID)
	case session.PlayStreamRequested:
		return s.AcceptRequest(e.RequestID)
	}
	return nil, nil
}

// scriptedServer serves one connection with a bare ServerSession and
// returns the target to dial.
func scriptedServer(t *testing.T, decide decideFunc) Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		if err := rtmpprotocol.ServerHandshake(raw); err != nil {
			return
		}
		conn := rtmpprotocol.NewConn(raw)
		sess, out, err := session.NewServerSession(session.DefaultServerSessionConfig())
		if err != nil || conn.WriteMessages(out) != nil {
			return
		}
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			res, err := sess.HandleMessage(msg)
			if err != nil {
				return
			}
			out := res.Outbound
			for _, ev := range res.Events {
				if e, ok := ev.(session.PeerChunkSizeChanged); ok {
					conn.SetReadChunkSize(e.Size)
				}
				more, err := decide(sess, ev)
				if err != nil {
					return
				}
				out = append(out, more...)
			}
			if err := conn.WriteMessages(out); err != nil {
				return
			}
		}
	}()

	return Target{Addr: ln.Addr().String(), App: "live", Stream: "cam", TcURL: "rtmp://" + ln.Addr().String() + "/live"}
}

func dialConnected(t *testing.T, ctx context.Context, target Target) *Client {
	t.Helper()
	c, err := Dial(ctx, target, session.DefaultClientSessionConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	return c
}

func TestCloseReleasesContextHook(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialConnected(t, ctx, scriptedServer(t, acceptAll))
	c.Close()
	// Close already deregistered the hook, so nothing stays attached to ctx.
	assert.False(t, c.stop())
}

func TestPlayIgnoresOtherRejections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := scriptedServer(t, func(s *session.ServerSession, ev session.Event) ([]*rtmpprotocol.Message, error) {
		if e, ok := ev.(session.PlayStreamRequested); ok && e.StreamName == "other" {
			return s.RejectRequest(e.RequestID, "other is not published.")
		}
		return acceptAll(s, ev)
	})
	c := dialConnected(t, ctx, target)
	defer c.Close()

	first, err := c.CreateStream(ctx)
	require.NoError(t, err)
	second, err := c.CreateStream(ctx)
	require.NoError(t, err)

	// A play on the second stream is still pending when the first is requested.
	_, out, err := c.Session().Play(second, "other")
	require.NoError(t, err)
	require.NoError(t, c.Send(out))

	require.NoError(t, c.Play(ctx, first, "cam"))
}

func TestPlayReportsOwnRejection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := scriptedServer(t, func(s *session.ServerSession, ev session.Event) ([]*rtmpprotocol.Message, error) {
		if e, ok := ev.(session.PlayStreamRequested); ok {
			return s.RejectRequest(e.RequestID, "cam is not published.")
		}
		return acceptAll(s, ev)
	})
	c := dialConnected(t, ctx, target)
	defer c.Close()

	streamID, err := c.CreateStream(ctx)
	require.NoError(t, err)
	err = c.Play(ctx, streamID, "cam")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cam is not published.")
}
