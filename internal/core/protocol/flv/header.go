package flv

import "encoding/binary"

// Header is the FLV file header.
type Header struct {
	HasAudio bool
	HasVideo bool
}

// NewHeader creates a header with the given audio and video flags.
func NewHeader(hasAudio, hasVideo bool) *Header {
	return &Header{HasAudio: hasAudio, HasVideo: hasVideo}
}

// AppendTo appends the header and the zero PreviousTagSize0 field to dst.
func (h *Header) AppendTo(dst []byte) []byte {
	var flags byte
	if h.HasAudio {
		flags |= 0x04
	}
	if h.HasVideo {
		flags |= 0x01
	}
	dst = append(dst, FLVSignature...)
	dst = append(dst, FLVVersion, flags)
	dst = binary.BigEndian.AppendUint32(dst, FLVHeaderSize)
	return binary.BigEndian.AppendUint32(dst, 0)
}

// Bytes returns everything a stream starts with.
func (h *Header) Bytes() []byte {
	return h.AppendTo(make([]byte, 0, FLVHeaderSize+4))
}
