package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/protocol/amf0"
)

func decode(t *testing.T, values ...amf0.Value) (Command, error) {
	t.Helper()
	body, err := amf0.EncodeValues(values...)
	require.NoError(t, err)
	return DecodeCommand(body)
}

func TestDecodeCommand(t *testing.T) {
	start, duration, reset, id := float64(-2), float64(-1), true, float64(4)

	tests := []struct {
		name   string
		values []amf0.Value
		want   Command
	}{
		{
			name:   "connect",
			values: []amf0.Value{"connect", float64(1), amf0.Object{"app": "live"}},
			want:   ConnectCommand{TransactionID: 1, Properties: amf0.Object{"app": "live"}, Arguments: amf0.Array{}},
		},
		{
			name:   "create stream",
			values: []amf0.Value{"createStream", float64(2), nil},
			want:   CreateStreamCommand{TransactionID: 2},
		},
		{
			name:   "publish",
			values: []amf0.Value{"publish", float64(0), nil, "key", "record"},
			want:   PublishCommand{StreamName: "key", PublishType: "record"},
		},
		{
			name:   "publish without command object",
			values: []amf0.Value{"publish", float64(0), "key", "live"},
			want:   PublishCommand{StreamName: "key", PublishType: "live"},
		},
		{
			name:   "play",
			values: []amf0.Value{"play", float64(5), nil, "key", start, duration, reset},
			want:   PlayCommand{TransactionID: 5, StreamName: "key", Start: &start, Duration: &duration, Reset: &reset},
		},
		{
			name:   "delete stream",
			values: []amf0.Value{"deleteStream", float64(6), nil, id},
			want:   DeleteStreamCommand{TransactionID: 6, StreamID: &id},
		},
		{
			name:   "fc unpublish",
			values: []amf0.Value{"FCUnpublish", float64(7), nil, "key"},
			want:   FCUnpublishCommand{TransactionID: 7, StreamName: "key"},
		},
		{
			name:   "error response",
			values: []amf0.Value{"_error", float64(1), nil, amf0.Object{"code": "x"}},
			want:   ResultCommand{IsError: true, TransactionID: 1, Arguments: amf0.Array{amf0.Object{"code": "x"}}},
		},
		{
			name:   "unsupported",
			values: []amf0.Value{"pause", float64(0), nil, true},
			want:   UnsupportedCommand{CommandName: "pause"},
		},
		{
			name:   "unknown",
			values: []amf0.Value{"myCall", float64(9), "arg"},
			want:   UnknownCommand{CommandName: "myCall", TransactionID: 9, Arguments: amf0.Array{"arg"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := decode(t, tt.values...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestDecodeOnStatusWithoutTransaction(t *testing.T) {
	cmd, err := decode(t, "onStatus", amf0.Object{"code": StatusPlayStart})
	require.NoError(t, err)
	status, ok := cmd.(OnStatusCommand)
	require.True(t, ok)
	assert.Equal(t, StatusPlayStart, status.Info["code"])
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := decode(t, "publish", float64(0), nil)
	assert.True(t, IsKind(err, ProtocolViolation))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = decode(t, "play", float64(0), nil, "")
	assert.True(t, IsKind(err, ProtocolViolation))

	_, err = decode(t, "createStream")
	assert.True(t, IsKind(err, ProtocolViolation))

	_, err = decode(t, "onStatus", float64(0), nil)
	assert.True(t, IsKind(err, ProtocolViolation))

	_, err = decode(t, float64(1), "connect")
	assert.True(t, IsKind(err, MalformedMessage))

	_, err = DecodeCommand([]byte{amf0.TypeString, 0x00, 0x05, 'a'})
	assert.True(t, IsKind(err, MalformedMessage))
}

func TestParsePublishRequestType(t *testing.T) {
	for in, want := range map[string]PublishRequestType{
		"":       PublishLive,
		"live":   PublishLive,
		"record": PublishRecord,
		"append": PublishAppend,
	} {
		got, err := ParsePublishRequestType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePublishRequestType("appendWithGap")
	assert.Error(t, err)
}
