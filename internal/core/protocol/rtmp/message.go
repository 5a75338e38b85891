package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var ErrShortBody = errors.New("message body too short")

// Message is one reassembled RTMP message, independent of how it was chunked.
type Message struct {
	Type      byte
	Timestamp uint32
	StreamID  uint32
	Body      []byte
}

// ChunkStreamFor picks the outgoing chunk stream for a message.
func ChunkStreamFor(msg *Message) uint32 {
	switch msg.Type {
	case MessageTypeSetChunkSize, MessageTypeAbortMessage, MessageTypeAck,
		MessageTypeUserCtrl, MessageTypeWinAckSize, MessageTypeSetPeerBandwidth:
		return ChunkStreamControl
	case MessageTypeAudio:
		return ChunkStreamAudio
	case MessageTypeVideo:
		return ChunkStreamVideo
	case MessageTypeDataAMF0, MessageTypeDataAMF3:
		return ChunkStreamData
	default:
		if msg.StreamID != 0 {
			return ChunkStreamData
		}
		return ChunkStreamCommand
	}
}

// ParseSetChunkSize parses a Set Chunk Size message. The high bit is reserved
// and must be zero.
func ParseSetChunkSize(body []byte) (uint32, error) {
	size, err := ParseUint32(body)
	if err != nil {
		return 0, err
	}
	size &= 0x7FFFFFFF
	if size == 0 {
		return 0, errors.New("chunk size must be positive")
	}
	if size > MaxChunkSize {
		return 0, errors.Wrapf(ErrChunkTooLarge, "size %d", size)
	}
	return size, nil
}

// ParseUint32 parses the single 32-bit field carried by Abort, Acknowledgement
// and Window Acknowledgement Size messages.
func ParseUint32(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, errors.Wrapf(ErrShortBody, "need 4 bytes, have %d", len(body))
	}
	return binary.BigEndian.Uint32(body[0:4]), nil
}

// ParseSetPeerBandwidth parses a Set Peer Bandwidth message body.
func ParseSetPeerBandwidth(body []byte) (uint32, byte, error) {
	if len(body) < 5 {
		return 0, 0, errors.Wrapf(ErrShortBody, "need 5 bytes, have %d", len(body))
	}
	return binary.BigEndian.Uint32(body[0:4]), body[4], nil
}

// UserControl is a decoded User Control message.
type UserControl struct {
	Event        uint16
	StreamID     uint32 // stream events and set buffer length
	BufferLength uint32 // milliseconds, set buffer length only
	Timestamp    uint32 // ping request and response only
}

// ParseUserControl parses a User Control message body.
func ParseUserControl(body []byte) (UserControl, error) {
	if len(body) < 6 {
		return UserControl{}, errors.Wrapf(ErrShortBody, "need 6 bytes, have %d", len(body))
	}
	uc := UserControl{Event: binary.BigEndian.Uint16(body[0:2])}
	value := binary.BigEndian.Uint32(body[2:6])
	switch uc.Event {
	case ControlPingRequest, ControlPingResponse:
		uc.Timestamp = value
	case ControlSetBufferLength:
		if len(body) < 10 {
			return UserControl{}, errors.Wrapf(ErrShortBody, "set buffer length needs 10 bytes, have %d", len(body))
		}
		uc.StreamID = value
		uc.BufferLength = binary.BigEndian.Uint32(body[6:10])
	default:
		uc.StreamID = value
	}
	return uc, nil
}

// CreateSetChunkSize creates a Set Chunk Size message body.
func CreateSetChunkSize(size uint32) []byte {
	return createUint32(size & 0x7FFFFFFF)
}

// CreateAck creates an Acknowledgement message body.
func CreateAck(sequence uint32) []byte {
	return createUint32(sequence)
}

// CreateWindowAckSize creates a Window Acknowledgement Size message body.
func CreateWindowAckSize(size uint32) []byte {
	return createUint32(size)
}

// CreateSetPeerBandwidth creates a Set Peer Bandwidth message body.
func CreateSetPeerBandwidth(size uint32, limitType byte) []byte {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body[0:4], size)
	body[4] = limitType
	return body
}

// CreateStreamBegin creates a Stream Begin control message.
func CreateStreamBegin(streamID uint32) []byte {
	return createUserControl(ControlStreamBegin, streamID)
}

// CreateStreamEOF creates a Stream EOF control message.
func CreateStreamEOF(streamID uint32) []byte {
	return createUserControl(ControlStreamEOF, streamID)
}

// CreateStreamIsRecorded creates a Stream Is Recorded control message.
func CreateStreamIsRecorded(streamID uint32) []byte {
	return createUserControl(ControlStreamIsRecorded, streamID)
}

// CreateSetBufferLength creates a Set Buffer Length control message.
func CreateSetBufferLength(streamID, bufferMillis uint32) []byte {
	body := make([]byte, 10)
	binary.BigEndian.PutUint16(body[0:2], ControlSetBufferLength)
	binary.BigEndian.PutUint32(body[2:6], streamID)
	binary.BigEndian.PutUint32(body[6:10], bufferMillis)
	return body
}

// CreatePingRequest creates a Ping Request control message.
func CreatePingRequest(timestamp uint32) []byte {
	return createUserControl(ControlPingRequest, timestamp)
}

// CreatePingResponse creates a Ping Response control message.
func CreatePingResponse(timestamp uint32) []byte {
	return createUserControl(ControlPingResponse, timestamp)
}

func createUint32(v uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, v)
	return body
}

func createUserControl(event uint16, value uint32) []byte {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body[0:2], event)
	binary.BigEndian.PutUint32(body[2:6], value)
	return body
}
