// Package rtmp holds the wire-level pieces of RTMP that sit below the session
// layer: message type ids, control message bodies, the chunk stream codec and
// the handshake.

package rtmp

// RTMP version constant
const RTMPVersion = 3

// Handshake sizes
const (
	HandshakeC0C1Size  = 1537 // C0 (1 byte) + C1 (1536 bytes)
	HandshakeS0S1Size  = 1537 // S0 (1 byte) + S1 (1536 bytes)
	HandshakePacketLen = 1536
)

// Chunk sizes
const (
	DefaultChunkSize = 128
	MaxChunkSize     = 16777215 // 2^24 - 1
)

// DefaultMaxMessageSize caps a reassembled message. The wire allows 16 MiB.
const DefaultMaxMessageSize = 8 * 1024 * 1024

// Message type IDs
const (
	MessageTypeSetChunkSize     = 1
	MessageTypeAbortMessage     = 2
	MessageTypeAck              = 3
	MessageTypeUserCtrl         = 4
	MessageTypeWinAckSize       = 5
	MessageTypeSetPeerBandwidth = 6
	MessageTypeAudio            = 8
	MessageTypeVideo            = 9
	MessageTypeDataAMF3         = 15
	MessageTypeSharedObjectAMF3 = 16
	MessageTypeCommandAMF3      = 17
	MessageTypeDataAMF0         = 18
	MessageTypeSharedObjectAMF0 = 19
	MessageTypeCommandAMF0      = 20
	MessageTypeAggregate        = 22
)

// Chunk basic header format types
const (
	ChunkFmt0 = 0 // 11-byte header
	ChunkFmt1 = 1 // 7-byte header
	ChunkFmt2 = 2 // 3-byte header
	ChunkFmt3 = 3 // 0-byte header
)

// Chunk stream IDs used for outgoing messages.
const (
	ChunkStreamControl = 2
	ChunkStreamCommand = 3
	ChunkStreamData    = 5
	ChunkStreamAudio   = 6
	ChunkStreamVideo   = 7
)

// Control message types
const (
	ControlStreamBegin      = 0
	ControlStreamEOF        = 1
	ControlStreamDry        = 2
	ControlSetBufferLength  = 3
	ControlStreamIsRecorded = 4
	ControlPingRequest      = 6
	ControlPingResponse     = 7
)

// Set Peer Bandwidth limit types
const (
	LimitHard    = 0
	LimitSoft    = 1
	LimitDynamic = 2
)

// MessageTypeName returns a short name for logging.
func MessageTypeName(t byte) string {
	switch t {
	case MessageTypeSetChunkSize:
		return "set_chunk_size"
	case MessageTypeAbortMessage:
		return "abort"
	case MessageTypeAck:
		return "ack"
	case MessageTypeUserCtrl:
		return "user_control"
	case MessageTypeWinAckSize:
		return "window_ack_size"
	case MessageTypeSetPeerBandwidth:
		return "set_peer_bandwidth"
	case MessageTypeAudio:
		return "audio"
	case MessageTypeVideo:
		return "video"
	case MessageTypeDataAMF3:
		return "amf3_data"
	case MessageTypeSharedObjectAMF3:
		return "amf3_shared_object"
	case MessageTypeCommandAMF3:
		return "amf3_command"
	case MessageTypeDataAMF0:
		return "amf0_data"
	case MessageTypeSharedObjectAMF0:
		return "amf0_shared_object"
	case MessageTypeCommandAMF0:
		return "amf0_command"
	case MessageTypeAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}
