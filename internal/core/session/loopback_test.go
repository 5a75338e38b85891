package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/protocol/rtmp"
)

// pipe carries messages one way through the chunk codec.
type pipe struct {
	buf    bytes.Buffer
	writer *rtmp.ChunkWriter
	reader *rtmp.ChunkReader
}

func newPipe() *pipe {
	p := &pipe{}
	p.writer = rtmp.NewChunkWriter(&p.buf)
	p.reader = rtmp.NewChunkReader(&p.buf)
	return p
}

// loopback connects a client and a server session in memory.
type loopback struct {
	t            *testing.T
	client       *ClientSession
	server       *ServerSession
	toServer     *pipe
	toClient     *pipe
	clientEvents []Event
	serverEvents []Event
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	client, clientOut, err := NewClientSession(DefaultClientSessionConfig())
	require.NoError(t, err)
	server, serverOut, err := NewServerSession(DefaultServerSessionConfig())
	require.NoError(t, err)

	l := &loopback{
		t:        t,
		client:   client,
		server:   server,
		toServer: newPipe(),
		toClient: newPipe(),
	}
	l.sendToClient(serverOut)
	l.sendToServer(clientOut)
	return l
}

func (l *loopback) sendToServer(msgs []*rtmp.Message) {
	l.t.Helper()
	require.NoError(l.t, l.toServer.writer.WriteMessages(msgs))
	l.pump()
}

func (l *loopback) sendToClient(msgs []*rtmp.Message) {
	l.t.Helper()
	require.NoError(l.t, l.toClient.writer.WriteMessages(msgs))
	l.pump()
}

// pump delivers everything in flight until both directions are drained.
func (l *loopback) pump() {
	l.t.Helper()
	for l.toServer.buf.Len() > 0 || l.toClient.buf.Len() > 0 {
		for l.toServer.buf.Len() > 0 {
			msg, err := l.toServer.reader.ReadMessage()
			require.NoError(l.t, err)
			res, err := l.server.HandleMessage(msg)
			require.NoError(l.t, err)
			l.applyChunkSize(l.toServer.reader, res.Events)
			l.serverEvents = append(l.serverEvents, res.Events...)
			require.NoError(l.t, l.toClient.writer.WriteMessages(res.Outbound))
		}
		for l.toClient.buf.Len() > 0 {
			msg, err := l.toClient.reader.ReadMessage()
			require.NoError(l.t, err)
			res, err := l.client.HandleMessage(msg)
			require.NoError(l.t, err)
			l.applyChunkSize(l.toClient.reader, res.Events)
			l.clientEvents = append(l.clientEvents, res.Events...)
			require.NoError(l.t, l.toServer.writer.WriteMessages(res.Outbound))
		}
	}
}

func (l *loopback) applyChunkSize(r *rtmp.ChunkReader, events []Event) {
	for _, ev := range events {
		if changed, ok := ev.(PeerChunkSizeChanged); ok {
			r.SetChunkSize(changed.Size)
		}
	}
}

// takeClientEvents returns and clears the collected client events.
func (l *loopback) takeClientEvents() []Event {
	events := l.clientEvents
	l.clientEvents = nil
	return events
}

// takeServerEvents returns and clears the collected server events.
func (l *loopback) takeServerEvents() []Event {
	events := l.serverEvents
	l.serverEvents = nil
	return events
}

// connect runs connect and accept. The server accepts every request.
func (l *loopback) connect(app string) {
	l.t.Helper()
	_, out, err := l.client.Connect(app)
	require.NoError(l.t, err)
	l.sendToServer(out)

	req := findEvent[ClientConnectionRequested](l.t, l.takeServerEvents())
	accept, err := l.server.AcceptRequest(req.RequestID)
	require.NoError(l.t, err)
	l.sendToClient(accept)
	findEvent[ConnectionRequestAccepted](l.t, l.takeClientEvents())
}

func (l *loopback) createStream() uint32 {
	l.t.Helper()
	req, out, err := l.client.CreateStream()
	require.NoError(l.t, err)
	l.sendToServer(out)
	l.takeServerEvents()

	created := findEvent[StreamCreated](l.t, l.takeClientEvents())
	require.Equal(l.t, req.TransactionID, created.TransactionID)
	return created.StreamID
}

func findEvent[T Event](t *testing.T, events []Event) T {
	t.Helper()
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			return typed
		}
	}
	var zero T
	require.Failf(t, "event not found", "%T not in %#v", zero, events)
	return zero
}

func eventsOf[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
