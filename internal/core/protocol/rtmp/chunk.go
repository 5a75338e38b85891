package rtmp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrInvalidChunkHeader = errors.New("invalid chunk header")
	ErrChunkTooLarge      = errors.New("chunk size too large")
	ErrMessageTooLarge    = errors.New("message too large")
)

const extendedTimestampMarker = 0xFFFFFF

// chunkStream holds the header state of one inbound chunk stream.
type chunkStream struct {
	messageType    byte
	messageLength  uint32
	streamID       uint32
	timestamp      uint32
	timestampDelta uint32
	extended       bool
	buffer         []byte
}

// ChunkReader reassembles RTMP messages from a chunked byte stream.
// It is not safe for concurrent use.
type ChunkReader struct {
	r              io.Reader
	streams        map[uint32]*chunkStream
	chunkSize      uint32
	maxMessageSize uint32
	header         [11]byte
}

// NewChunkReader creates a reader using the default 128-byte chunk size.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{
		r:              r,
		streams:        make(map[uint32]*chunkStream),
		chunkSize:      DefaultChunkSize,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// SetChunkSize sets the size the peer uses for its outgoing chunks.
func (cr *ChunkReader) SetChunkSize(size uint32) {
	cr.chunkSize = size
}

// ChunkSize returns the inbound chunk size in effect.
func (cr *ChunkReader) ChunkSize() uint32 {
	return cr.chunkSize
}

// SetMaxMessageSize bounds the length of a reassembled message.
func (cr *ChunkReader) SetMaxMessageSize(size uint32) {
	cr.maxMessageSize = size
}

// Abort discards a partially received message on the given chunk stream.
func (cr *ChunkReader) Abort(csID uint32) {
	if cs, ok := cr.streams[csID]; ok {
		cs.buffer = cs.buffer[:0]
	}
}

// ReadMessage reads chunks until one message is complete and returns it.
func (cr *ChunkReader) ReadMessage() (*Message, error) {
	for {
		msg, err := cr.readChunk()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (cr *ChunkReader) readChunk() (*Message, error) {
	var basic [1]byte
	if _, err := io.ReadFull(cr.r, basic[:]); err != nil {
		return nil, err
	}

	format := (basic[0] >> 6) & 0x03
	csID := uint32(basic[0] & 0x3F)

	switch csID {
	case 0:
		var ext [1]byte
		if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
			return nil, err
		}
		csID = uint32(ext[0]) + 64
	case 1:
		var ext [2]byte
		if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
			return nil, err
		}
		csID = uint32(ext[1])*256 + uint32(ext[0]) + 64
	}

	cs, exists := cr.streams[csID]
	if !exists {
		if format != ChunkFmt0 {
			return nil, errors.Wrapf(ErrInvalidChunkHeader, "chunk stream %d starts with fmt %d", csID, format)
		}
		cs = &chunkStream{}
		cr.streams[csID] = cs
	}

	if err := cr.readMessageHeader(cs, format); err != nil {
		return nil, errors.Wrapf(err, "chunk stream %d", csID)
	}

	if cs.messageLength > cr.maxMessageSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes on chunk stream %d", cs.messageLength, csID)
	}

	remaining := cs.messageLength - uint32(len(cs.buffer))
	payloadSize := cr.chunkSize
	if payloadSize > remaining {
		payloadSize = remaining
	}

	start := len(cs.buffer)
	if cap(cs.buffer) < int(cs.messageLength) {
		grown := make([]byte, start, cs.messageLength)
		copy(grown, cs.buffer)
		cs.buffer = grown
	}
	cs.buffer = cs.buffer[:start+int(payloadSize)]
	if _, err := io.ReadFull(cr.r, cs.buffer[start:]); err != nil {
		return nil, err
	}

	if uint32(len(cs.buffer)) < cs.messageLength {
		return nil, nil
	}

	body := make([]byte, len(cs.buffer))
	copy(body, cs.buffer)
	cs.buffer = cs.buffer[:0]

	return &Message{
		Type:      cs.messageType,
		Timestamp: cs.timestamp,
		StreamID:  cs.streamID,
		Body:      body,
	}, nil
}

// readMessageHeader applies a chunk message header to the chunk stream state.
// Timestamps only advance when a chunk starts a new message.
func (cr *ChunkReader) readMessageHeader(cs *chunkStream, format byte) error {
	newMessage := len(cs.buffer) == 0
	if !newMessage && format != ChunkFmt3 {
		return errors.Wrapf(ErrInvalidChunkHeader, "fmt %d inside a partial message", format)
	}

	h := cr.header[:]
	switch format {
	case ChunkFmt0:
		if _, err := io.ReadFull(cr.r, h[:11]); err != nil {
			return err
		}
		ts := uint24(h[0:3])
		cs.messageLength = uint24(h[3:6])
		cs.messageType = h[6]
		// Stream ID is little-endian in RTMP
		cs.streamID = binary.LittleEndian.Uint32(h[7:11])
		cs.extended = ts == extendedTimestampMarker
		if cs.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			ts = ext
		}
		cs.timestamp = ts
		cs.timestampDelta = ts

	case ChunkFmt1:
		if _, err := io.ReadFull(cr.r, h[:7]); err != nil {
			return err
		}
		delta := uint24(h[0:3])
		cs.messageLength = uint24(h[3:6])
		cs.messageType = h[6]
		if err := cr.applyDelta(cs, delta); err != nil {
			return err
		}

	case ChunkFmt2:
		if _, err := io.ReadFull(cr.r, h[:3]); err != nil {
			return err
		}
		if err := cr.applyDelta(cs, uint24(h[0:3])); err != nil {
			return err
		}

	case ChunkFmt3:
		if cs.extended {
			ext, err := cr.readExtendedTimestamp()
			if err != nil {
				return err
			}
			if newMessage {
				cs.timestampDelta = ext
			}
		}
		if newMessage {
			cs.timestamp += cs.timestampDelta
		}
	}
	return nil
}

func (cr *ChunkReader) applyDelta(cs *chunkStream, delta uint32) error {
	cs.extended = delta == extendedTimestampMarker
	if cs.extended {
		ext, err := cr.readExtendedTimestamp()
		if err != nil {
			return err
		}
		delta = ext
	}
	cs.timestampDelta = delta
	cs.timestamp += delta
	return nil
}

func (cr *ChunkReader) readExtendedTimestamp() (uint32, error) {
	var ext [4]byte
	if _, err := io.ReadFull(cr.r, ext[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(ext[:]), nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ChunkWriter splits messages into chunks. Every message is written with a
// fmt 0 header followed by fmt 3 continuation chunks.
// It is not safe for concurrent use.
type ChunkWriter struct {
	w         io.Writer
	chunkSize uint32
	buf       []byte
}

// NewChunkWriter creates a writer using the default 128-byte chunk size.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w, chunkSize: DefaultChunkSize}
}

// SetChunkSize sets the outgoing chunk size.
func (cw *ChunkWriter) SetChunkSize(size uint32) {
	cw.chunkSize = size
}

// ChunkSize returns the outgoing chunk size in effect.
func (cw *ChunkWriter) ChunkSize() uint32 {
	return cw.chunkSize
}

// WriteMessages writes each message on its default chunk stream and flushes
// once at the end. A Set Chunk Size message changes the chunk size for every
// message written after it.
func (cw *ChunkWriter) WriteMessages(msgs []*Message) error {
	for _, msg := range msgs {
		if err := cw.writeMessage(ChunkStreamFor(msg), msg); err != nil {
			return err
		}
		if msg.Type == MessageTypeSetChunkSize {
			size, err := ParseSetChunkSize(msg.Body)
			if err != nil {
				return err
			}
			cw.chunkSize = size
		}
	}
	return cw.flush()
}

// WriteMessage writes one message on the given chunk stream.
func (cw *ChunkWriter) WriteMessage(csID uint32, msg *Message) error {
	if err := cw.writeMessage(csID, msg); err != nil {
		return err
	}
	return cw.flush()
}

func (cw *ChunkWriter) writeMessage(csID uint32, msg *Message) error {
	if csID < 2 || csID > 65599 {
		return errors.Wrapf(ErrInvalidChunkHeader, "chunk stream id %d", csID)
	}
	bodyLen := uint32(len(msg.Body))
	if bodyLen > MaxChunkSize {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes", bodyLen)
	}

	extended := msg.Timestamp >= extendedTimestampMarker
	offset := uint32(0)
	for first := true; first || offset < bodyLen; first = false {
		cw.buf = cw.buf[:0]

		format := byte(ChunkFmt3)
		if first {
			format = ChunkFmt0
		}
		cw.buf = appendBasicHeader(cw.buf, format, csID)

		if first {
			ts := msg.Timestamp
			if extended {
				ts = extendedTimestampMarker
			}
			cw.buf = append(cw.buf,
				byte(ts>>16), byte(ts>>8), byte(ts),
				byte(bodyLen>>16), byte(bodyLen>>8), byte(bodyLen),
				msg.Type)
			cw.buf = binary.LittleEndian.AppendUint32(cw.buf, msg.StreamID)
		}
		if extended {
			cw.buf = binary.BigEndian.AppendUint32(cw.buf, msg.Timestamp)
		}

		chunkLen := cw.chunkSize
		if offset+chunkLen > bodyLen {
			chunkLen = bodyLen - offset
		}
		cw.buf = append(cw.buf, msg.Body[offset:offset+chunkLen]...)
		offset += chunkLen

		if _, err := cw.w.Write(cw.buf); err != nil {
			return errors.Wrap(err, "write chunk")
		}
	}
	return nil
}

func appendBasicHeader(b []byte, format byte, csID uint32) []byte {
	switch {
	case csID < 64:
		return append(b, format<<6|byte(csID))
	case csID < 320:
		return append(b, format<<6, byte(csID-64))
	default:
		id := csID - 64
		return append(b, format<<6|1, byte(id), byte(id>>8))
	}
}

// flush flushes w when it supports it (e.g. bufio.Writer).
func (cw *ChunkWriter) flush() error {
	if flusher, ok := cw.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
