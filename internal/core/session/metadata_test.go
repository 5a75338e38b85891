package session

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/protocol/amf0"
)

func TestApplyMetadataAllFields(t *testing.T) {
	md, mismatched := ApplyMetadata(amf0.Object{
		"width":           float64(1280),
		"height":          float64(720),
		"videocodecid":    "avc1",
		"framerate":       float64(29.97),
		"videodatarate":   float64(2500),
		"audiocodecid":    "mp4a",
		"audiodatarate":   float64(128),
		"audiosamplerate": float64(44100),
		"audiochannels":   float64(2),
		"stereo":          true,
		"encoder":         "obs-output module",
		"duration":        float64(0),
	})
	assert.Empty(t, mismatched)

	require.NotNil(t, md.VideoWidth)
	assert.Equal(t, uint32(1280), *md.VideoWidth)
	assert.Equal(t, uint32(720), *md.VideoHeight)
	assert.Equal(t, "avc1", *md.VideoCodec)
	assert.InDelta(t, 29.97, float64(*md.VideoFrameRate), 0.001)
	assert.Equal(t, uint32(2500), *md.VideoBitrateKbps)
	assert.Equal(t, "mp4a", *md.AudioCodec)
	assert.Equal(t, uint32(128), *md.AudioBitrateKbps)
	assert.Equal(t, uint32(44100), *md.AudioSampleRate)
	assert.Equal(t, uint32(2), *md.AudioChannels)
	assert.True(t, *md.AudioIsStereo)
	assert.Equal(t, "obs-output module", *md.Encoder)
}

func TestApplyMetadataMismatchedTypes(t *testing.T) {
	md, mismatched := ApplyMetadata(amf0.Object{
		"width":         "1280",
		"height":        float64(-1),
		"stereo":        float64(1),
		"encoder":       float64(3),
		"audiochannels": int32(1),
	})
	sort.Strings(mismatched)
	assert.Equal(t, []string{"encoder", "height", "stereo", "width"}, mismatched)
	assert.Nil(t, md.VideoWidth)
	assert.Nil(t, md.VideoHeight)
	assert.Nil(t, md.AudioIsStereo)
	assert.Nil(t, md.Encoder)
	require.NotNil(t, md.AudioChannels)
	assert.Equal(t, uint32(1), *md.AudioChannels)
}

func TestApplyMetadataNumericCodecIDsSkipped(t *testing.T) {
	md, mismatched := ApplyMetadata(amf0.Object{
		"videocodecid": float64(7),
		"audiocodecid": float64(10),
		"encoder":      float64(3),
	})
	sort.Strings(mismatched)
	assert.Equal(t, []string{"audiocodecid", "encoder", "videocodecid"}, mismatched)
	assert.Nil(t, md.VideoCodec)
	assert.Nil(t, md.AudioCodec)
	assert.Nil(t, md.Encoder)
}

func TestMetadataPropertiesRoundTrip(t *testing.T) {
	width, stereo, codec := uint32(640), false, "avc1"
	md := StreamMetadata{VideoWidth: &width, AudioIsStereo: &stereo, VideoCodec: &codec}

	props := md.Properties()
	assert.Equal(t, amf0.ECMAArray{"width": float64(640), "stereo": false, "videocodecid": "avc1"}, props)

	back, mismatched := ApplyMetadata(amf0.Object(props))
	assert.Empty(t, mismatched)
	assert.Equal(t, md, back)
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	width := uint32(640)
	md := StreamMetadata{VideoWidth: &width}
	clone := md.Clone()
	*md.VideoWidth = 1

	require.NotNil(t, clone.VideoWidth)
	assert.Equal(t, uint32(640), *clone.VideoWidth)
	assert.Nil(t, clone.Encoder)
}
