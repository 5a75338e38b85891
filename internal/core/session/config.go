package session

import (
	"go.uber.org/zap"

	"rtmpsess/internal/core/protocol/rtmp"
)

// LimitType is the Set Peer Bandwidth limit type.
type LimitType byte

const (
	LimitHard    LimitType = rtmp.LimitHard
	LimitSoft    LimitType = rtmp.LimitSoft
	LimitDynamic LimitType = rtmp.LimitDynamic
)

func (l LimitType) String() string {
	switch l {
	case LimitHard:
		return "hard"
	case LimitSoft:
		return "soft"
	case LimitDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// PeerBandwidth is the bandwidth a server advertises to its client.
type PeerBandwidth struct {
	Size  uint32
	Limit LimitType
}

// ServerSessionConfig configures a ServerSession. It is copied at construction.
type ServerSessionConfig struct {
	// ChunkSize is announced to the client when it differs from 128.
	ChunkSize uint32
	// WindowAckSize is announced to the client at construction.
	WindowAckSize uint32
	// PeerBandwidth is advertised at construction when set.
	PeerBandwidth *PeerBandwidth
	FMSVersion    string
	Capabilities  float64
	Logger        *zap.Logger
}

// DefaultServerSessionConfig returns the values common servers announce.
func DefaultServerSessionConfig() ServerSessionConfig {
	return ServerSessionConfig{
		ChunkSize:     4096,
		WindowAckSize: 5000000,
		PeerBandwidth: &PeerBandwidth{Size: 5000000, Limit: LimitDynamic},
		FMSVersion:    "FMS/3,0,1,123",
		Capabilities:  31,
	}
}

// ClientSessionConfig configures a ClientSession. It is copied at construction.
type ClientSessionConfig struct {
	// ChunkSize is announced to the server when it differs from 128.
	ChunkSize uint32
	// WindowAckSize is announced when the server sets a different peer bandwidth.
	WindowAckSize uint32
	FlashVersion  string
	// TcURL is sent in connect. Left out of the command object when empty.
	TcURL string
	// PlayBufferLength is sent as a Set Buffer Length hint after play, in
	// milliseconds. Nil sends nothing.
	PlayBufferLength *uint32
	Logger           *zap.Logger
}

// DefaultClientSessionConfig returns a config matching typical encoders.
func DefaultClientSessionConfig() ClientSessionConfig {
	buffer := uint32(3000)
	return ClientSessionConfig{
		ChunkSize:        4096,
		WindowAckSize:    2500000,
		FlashVersion:     "LNX 9,0,124,2",
		PlayBufferLength: &buffer,
	}
}

func validateChunkSize(op string, size uint32) error {
	if size < 1 || size > rtmp.MaxChunkSize {
		return configErrorf(op, "chunk size %d out of range", size)
	}
	return nil
}

func (c ServerSessionConfig) validate() error {
	if err := validateChunkSize("new server session", c.ChunkSize); err != nil {
		return err
	}
	if c.WindowAckSize == 0 {
		return configErrorf("new server session", "window ack size must be positive")
	}
	if c.PeerBandwidth != nil {
		if c.PeerBandwidth.Size == 0 {
			return configErrorf("new server session", "peer bandwidth must be positive")
		}
		if c.PeerBandwidth.Limit > LimitDynamic {
			return configErrorf("new server session", "peer bandwidth limit type %d", c.PeerBandwidth.Limit)
		}
	}
	return nil
}

func (c ClientSessionConfig) validate() error {
	if err := validateChunkSize("new client session", c.ChunkSize); err != nil {
		return err
	}
	if c.WindowAckSize == 0 {
		return configErrorf("new client session", "window ack size must be positive")
	}
	return nil
}
