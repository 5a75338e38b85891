package flv

import "encoding/binary"

// Tag is one FLV audio, video or script tag.
type Tag struct {
	Type      byte
	Timestamp uint32
	Data      []byte
}

// NewTag creates a tag. Data is not copied.
func NewTag(tagType byte, timestamp uint32, data []byte) *Tag {
	return &Tag{Type: tagType, Timestamp: timestamp, Data: data}
}

// Size is the encoded length including the trailing PreviousTagSize.
func (t *Tag) Size() int {
	return tagHeaderSize + len(t.Data) + 4
}

// AppendTo appends the tag and its PreviousTagSize field to dst.
// The timestamp is stored as its lower 24 bits followed by the extension
// byte; the stream id is always zero.
func (t *Tag) AppendTo(dst []byte) []byte {
	n := uint32(len(t.Data))
	dst = append(dst,
		t.Type,
		byte(n>>16), byte(n>>8), byte(n),
		byte(t.Timestamp>>16), byte(t.Timestamp>>8), byte(t.Timestamp), byte(t.Timestamp>>24),
		0, 0, 0,
	)
	dst = append(dst, t.Data...)
	return binary.BigEndian.AppendUint32(dst, tagHeaderSize+n)
}

// Bytes encodes the tag into a new slice.
func (t *Tag) Bytes() []byte {
	return t.AppendTo(make([]byte, 0, t.Size()))
}
