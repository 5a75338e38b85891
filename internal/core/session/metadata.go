package session

import (
	"math"

	"rtmpsess/internal/core/protocol/amf0"
)

// StreamMetadata holds the stream properties a publisher advertises.
// A nil field was not advertised.
type StreamMetadata struct {
	VideoWidth       *uint32
	VideoHeight      *uint32
	VideoCodec       *string
	VideoFrameRate   *float32
	VideoBitrateKbps *uint32
	AudioCodec       *string
	AudioBitrateKbps *uint32
	AudioSampleRate  *uint32
	AudioChannels    *uint32
	AudioIsStereo    *bool
	Encoder          *string
}

// ApplyMetadata builds StreamMetadata from an onMetaData property mapping.
// Unknown keys are ignored. Known keys whose value has the wrong type are
// skipped and returned so the caller can report them.
func ApplyMetadata(props amf0.Object) (StreamMetadata, []string) {
	var md StreamMetadata
	var mismatched []string

	for key, value := range props {
		ok := true
		switch key {
		case "width":
			md.VideoWidth, ok = uint32Field(value)
		case "height":
			md.VideoHeight, ok = uint32Field(value)
		case "videocodecid":
			md.VideoCodec, ok = stringField(value)
		case "videodatarate":
			md.VideoBitrateKbps, ok = uint32Field(value)
		case "framerate":
			md.VideoFrameRate, ok = float32Field(value)
		case "audiocodecid":
			md.AudioCodec, ok = stringField(value)
		case "audiodatarate":
			md.AudioBitrateKbps, ok = uint32Field(value)
		case "audiosamplerate":
			md.AudioSampleRate, ok = uint32Field(value)
		case "audiochannels":
			md.AudioChannels, ok = uint32Field(value)
		case "stereo":
			md.AudioIsStereo, ok = boolField(value)
		case "encoder":
			md.Encoder, ok = stringField(value)
		}
		if !ok {
			mismatched = append(mismatched, key)
		}
	}
	return md, mismatched
}

func uint32Field(v amf0.Value) (*uint32, bool) {
	n, ok := amf0.AsNumber(v)
	if !ok || n < 0 || n > math.MaxUint32 || math.IsNaN(n) {
		return nil, false
	}
	u := uint32(n)
	return &u, true
}

func float32Field(v amf0.Value) (*float32, bool) {
	n, ok := amf0.AsNumber(v)
	if !ok {
		return nil, false
	}
	f := float32(n)
	return &f, true
}

func stringField(v amf0.Value) (*string, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

func boolField(v amf0.Value) (*bool, bool) {
	b, ok := v.(bool)
	if !ok {
		return nil, false
	}
	return &b, true
}

// Properties returns the onMetaData mapping for the set fields.
func (m StreamMetadata) Properties() amf0.ECMAArray {
	props := amf0.ECMAArray{}
	putUint := func(key string, v *uint32) {
		if v != nil {
			props[key] = float64(*v)
		}
	}
	putString := func(key string, v *string) {
		if v != nil {
			props[key] = *v
		}
	}
	putUint("width", m.VideoWidth)
	putUint("height", m.VideoHeight)
	putString("videocodecid", m.VideoCodec)
	putUint("videodatarate", m.VideoBitrateKbps)
	if m.VideoFrameRate != nil {
		props["framerate"] = float64(*m.VideoFrameRate)
	}
	putString("audiocodecid", m.AudioCodec)
	putUint("audiodatarate", m.AudioBitrateKbps)
	putUint("audiosamplerate", m.AudioSampleRate)
	putUint("audiochannels", m.AudioChannels)
	if m.AudioIsStereo != nil {
		props["stereo"] = *m.AudioIsStereo
	}
	putString("encoder", m.Encoder)
	return props
}

// Clone returns a deep copy that shares no pointers with m.
func (m StreamMetadata) Clone() StreamMetadata {
	return StreamMetadata{
		VideoWidth:       clonePtr(m.VideoWidth),
		VideoHeight:      clonePtr(m.VideoHeight),
		VideoCodec:       clonePtr(m.VideoCodec),
		VideoFrameRate:   clonePtr(m.VideoFrameRate),
		VideoBitrateKbps: clonePtr(m.VideoBitrateKbps),
		AudioCodec:       clonePtr(m.AudioCodec),
		AudioBitrateKbps: clonePtr(m.AudioBitrateKbps),
		AudioSampleRate:  clonePtr(m.AudioSampleRate),
		AudioChannels:    clonePtr(m.AudioChannels),
		AudioIsStereo:    clonePtr(m.AudioIsStereo),
		Encoder:          clonePtr(m.Encoder),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
