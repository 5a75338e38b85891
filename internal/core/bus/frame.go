package bus

import "rtmpsess/internal/core/session"

// FrameKind is the kind of payload a Frame carries.
type FrameKind uint8

const (
	FrameAudio FrameKind = iota
	FrameVideo
	FrameMetadata
)

func (k FrameKind) String() string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameVideo:
		return "video"
	case FrameMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Frame is a unit of media flowing from a publisher to its subscribers.
// Payload is shared by every subscriber and must not be modified.
type Frame struct {
	Kind      FrameKind
	Timestamp uint32
	Payload   []byte
	// Metadata is set for FrameMetadata only.
	Metadata *session.StreamMetadata
}

// AudioFrame wraps an audio event from a publishing session.
func AudioFrame(ev session.AudioDataReceived) *Frame {
	return &Frame{Kind: FrameAudio, Timestamp: ev.Timestamp, Payload: ev.Data}
}

// VideoFrame wraps a video event from a publishing session.
func VideoFrame(ev session.VideoDataReceived) *Frame {
	return &Frame{Kind: FrameVideo, Timestamp: ev.Timestamp, Payload: ev.Data}
}

// MetadataFrame wraps a metadata change from a publishing session.
func MetadataFrame(md session.StreamMetadata) *Frame {
	clone := md.Clone()
	return &Frame{Kind: FrameMetadata, Metadata: &clone}
}
