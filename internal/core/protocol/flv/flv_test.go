package flv

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/session"
)

func TestHeaderBytes(t *testing.T) {
	got := NewHeader(true, true).Bytes()
	assert.Equal(t, []byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, 9, 0, 0, 0, 0}, got)

	audioOnly := NewHeader(true, false).Bytes()
	assert.Equal(t, byte(0x04), audioOnly[4])
}

func TestTagBytes(t *testing.T) {
	tag := NewTag(TagTypeVideo, 0x01020304, []byte{0x17, 0x01, 0xAA})
	got := tag.Bytes()
	require.Len(t, got, 11+3+4)

	assert.Equal(t, byte(TagTypeVideo), got[0])
	assert.Equal(t, []byte{0, 0, 3}, got[1:4])
	// Lower 24 bits then the extension byte.
	assert.Equal(t, []byte{0x02, 0x03, 0x04, 0x01}, got[4:8])
	assert.Equal(t, []byte{0, 0, 0}, got[8:11])
	assert.Equal(t, []byte{0x17, 0x01, 0xAA}, got[11:14])
	assert.Equal(t, uint32(14), binary.BigEndian.Uint32(got[14:]))
}

func TestTagAppendToKeepsPrefix(t *testing.T) {
	tag := NewTag(TagTypeAudio, 40, []byte{0xAF, 0x01})
	got := tag.AppendTo([]byte{0xEE})
	require.Len(t, got, 1+tag.Size())
	assert.Equal(t, byte(0xEE), got[0])
	assert.Equal(t, tag.Bytes(), got[1:])
}

func TestMetadataTag(t *testing.T) {
	width := uint32(1280)
	encoder := "obs"
	tag, err := MetadataTag(session.StreamMetadata{VideoWidth: &width, Encoder: &encoder})
	require.NoError(t, err)
	assert.Equal(t, byte(TagTypeScript), tag.Type)
	assert.Equal(t, uint32(0), tag.Timestamp)

	r := bytes.NewReader(tag.Data)
	name, err := amf0.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, "onMetaData", name)
	props, err := amf0.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, amf0.ECMAArray{"width": float64(1280), "encoder": "obs"}, props)
}

func TestMuxerRebasesTimestamps(t *testing.T) {
	var m Muxer
	height := uint32(720)

	md, err := m.Mux(bus.MetadataFrame(session.StreamMetadata{VideoHeight: &height}))
	require.NoError(t, err)
	assert.Equal(t, byte(TagTypeScript), md.Type)

	first, err := m.Mux(bus.VideoFrame(session.VideoDataReceived{Timestamp: 5000, Data: []byte{0x17}}))
	require.NoError(t, err)
	assert.Equal(t, byte(TagTypeVideo), first.Type)
	assert.Equal(t, uint32(0), first.Timestamp)

	next, err := m.Mux(bus.AudioFrame(session.AudioDataReceived{Timestamp: 5040, Data: []byte{0xAF}}))
	require.NoError(t, err)
	assert.Equal(t, byte(TagTypeAudio), next.Type)
	assert.Equal(t, uint32(40), next.Timestamp)
	assert.Equal(t, []byte{0xAF}, next.Data)

	// Frames older than the base are clamped rather than wrapped.
	late, err := m.Mux(bus.AudioFrame(session.AudioDataReceived{Timestamp: 4990}))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), late.Timestamp)
}

func TestMuxerRejectsEmptyMetadata(t *testing.T) {
	var m Muxer
	_, err := m.Mux(&bus.Frame{Kind: bus.FrameMetadata})
	assert.Error(t, err)
}
