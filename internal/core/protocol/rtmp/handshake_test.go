package rtmp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- ServerHandshake(server)
	}()

	require.NoError(t, ClientHandshake(client))
	require.NoError(t, <-errc)
}

func TestServerHandshakeRejectsVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		c0c1 := make([]byte, HandshakeC0C1Size)
		c0c1[0] = 6
		_, _ = client.Write(c0c1)
	}()

	err := ServerHandshake(server)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestConnExchangesMessages(t *testing.T) {
	a, b := net.Pipe()
	ca, cb := NewConn(a), NewConn(b)
	defer ca.Close()
	defer cb.Close()

	go func() {
		_ = ca.WriteMessages([]*Message{
			{Type: MessageTypeSetChunkSize, Body: CreateSetChunkSize(256)},
			{Type: MessageTypeVideo, Timestamp: 33, StreamID: 1, Body: make([]byte, 600)},
		})
	}()

	first, err := cb.ReadMessage()
	require.NoError(t, err)
	size, err := ParseSetChunkSize(first.Body)
	require.NoError(t, err)
	cb.SetReadChunkSize(size)

	second, err := cb.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(33), second.Timestamp)
	assert.Len(t, second.Body, 600)
}
