package session

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/protocol/rtmp"
)

func acks(msgs []*rtmp.Message) []uint32 {
	var seqs []uint32
	for _, msg := range msgs {
		if msg.Type == rtmp.MessageTypeAck {
			seqs = append(seqs, binary.BigEndian.Uint32(msg.Body))
		}
	}
	return seqs
}

func TestAcknowledgementPerWindowBoundary(t *testing.T) {
	server, _, err := NewServerSession(DefaultServerSessionConfig())
	require.NoError(t, err)

	res, err := server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeWinAckSize, Body: rtmp.CreateWindowAckSize(100)})
	require.NoError(t, err)
	assert.Empty(t, acks(res.Outbound))

	var seqs []uint32
	// 4 bytes from the window message, then 96 bytes: exactly one boundary.
	res, err = server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeAbortMessage, Body: make([]byte, 96)})
	require.NoError(t, err)
	seqs = append(seqs, acks(res.Outbound)...)
	assert.Equal(t, []uint32{100}, seqs)

	// 99 more bytes stay below the next boundary.
	res, err = server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeAbortMessage, Body: make([]byte, 99)})
	require.NoError(t, err)
	assert.Empty(t, acks(res.Outbound))

	// 251 bytes cross 200, 300 and 400.
	res, err = server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeAbortMessage, Body: make([]byte, 251)})
	require.NoError(t, err)
	assert.Equal(t, []uint32{200, 300, 400}, acks(res.Outbound))
}

func TestNoAcknowledgementWithoutWindow(t *testing.T) {
	server, _, err := NewServerSession(DefaultServerSessionConfig())
	require.NoError(t, err)

	res, err := server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeAbortMessage, Body: make([]byte, 10000)})
	require.NoError(t, err)
	assert.Empty(t, acks(res.Outbound))
}

func TestPingAnswered(t *testing.T) {
	client, _, err := NewClientSession(DefaultClientSessionConfig())
	require.NoError(t, err)

	res, err := client.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeUserCtrl, Body: rtmp.CreatePingRequest(777)})
	require.NoError(t, err)
	require.Len(t, res.Outbound, 1)
	uc, err := rtmp.ParseUserControl(res.Outbound[0].Body)
	require.NoError(t, err)
	assert.Equal(t, rtmp.UserControl{Event: rtmp.ControlPingResponse, Timestamp: 777}, uc)
}

func TestSetPeerBandwidthAnsweredOnChange(t *testing.T) {
	client, _, err := NewClientSession(DefaultClientSessionConfig())
	require.NoError(t, err)

	spb := &rtmp.Message{Type: rtmp.MessageTypeSetPeerBandwidth, Body: rtmp.CreateSetPeerBandwidth(1000000, rtmp.LimitHard)}
	res, err := client.HandleMessage(spb)
	require.NoError(t, err)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, byte(rtmp.MessageTypeWinAckSize), res.Outbound[0].Type)

	res, err = client.HandleMessage(spb)
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
}

func TestSetChunkSizeRaisesEvent(t *testing.T) {
	server, _, err := NewServerSession(DefaultServerSessionConfig())
	require.NoError(t, err)

	res, err := server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeSetChunkSize, Body: rtmp.CreateSetChunkSize(60000)})
	require.NoError(t, err)
	assert.Equal(t, []Event{PeerChunkSizeChanged{Size: 60000}}, res.Events)
	assert.Equal(t, uint32(60000), server.PeerChunkSize())

	res, err = server.HandleMessage(&rtmp.Message{Type: rtmp.MessageTypeSetChunkSize, Body: []byte{0, 0, 0, 0}})
	require.NoError(t, err)
	perr := findEvent[ProtocolError](t, res.Events)
	assert.Equal(t, MalformedMessage, perr.Err.Kind)
	assert.Equal(t, uint32(60000), server.PeerChunkSize())
}

func TestUnsupportedMessageTypeReportedOnce(t *testing.T) {
	server, _, err := NewServerSession(DefaultServerSessionConfig())
	require.NoError(t, err)

	msg := &rtmp.Message{Type: rtmp.MessageTypeSharedObjectAMF0, Body: []byte{1, 2, 3}}
	res, err := server.HandleMessage(msg)
	require.NoError(t, err)
	perr := findEvent[ProtocolError](t, res.Events)
	assert.Equal(t, UnsupportedFeature, perr.Err.Kind)

	res, err = server.HandleMessage(msg)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultServerSessionConfig()
	cfg.ChunkSize = 0
	_, _, err := NewServerSession(cfg)
	assert.True(t, IsKind(err, ConfigurationError))

	cfg = DefaultServerSessionConfig()
	cfg.PeerBandwidth = &PeerBandwidth{Size: 1, Limit: LimitType(9)}
	_, _, err = NewServerSession(cfg)
	assert.True(t, IsKind(err, ConfigurationError))

	ccfg := DefaultClientSessionConfig()
	ccfg.WindowAckSize = 0
	_, _, err = NewClientSession(ccfg)
	assert.True(t, IsKind(err, ConfigurationError))
}

func TestServerInitialMessages(t *testing.T) {
	cfg := DefaultServerSessionConfig()
	_, out, err := NewServerSession(cfg)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, byte(rtmp.MessageTypeWinAckSize), out[0].Type)
	assert.Equal(t, byte(rtmp.MessageTypeSetPeerBandwidth), out[1].Type)
	assert.Equal(t, byte(rtmp.MessageTypeSetChunkSize), out[2].Type)

	cfg.PeerBandwidth = nil
	cfg.ChunkSize = rtmp.DefaultChunkSize
	_, out, err = NewServerSession(cfg)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
