package flv

import (
	"github.com/pkg/errors"

	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/session"
)

// MetadataTag builds the onMetaData script tag for md.
func MetadataTag(md session.StreamMetadata) (*Tag, error) {
	data, err := amf0.EncodeValues(onMetaData, md.Properties())
	if err != nil {
		return nil, errors.Wrap(err, "encode onMetaData")
	}
	return NewTag(TagTypeScript, 0, data), nil
}

// Muxer turns bus frames into FLV tags for one viewer. Media timestamps are
// rebased so the viewer's stream starts at zero. Payloads are used as is.
type Muxer struct {
	offset  uint32
	baseSet bool
}

// Mux converts f to a tag. Metadata tags always carry timestamp zero.
func (m *Muxer) Mux(f *bus.Frame) (*Tag, error) {
	switch f.Kind {
	case bus.FrameMetadata:
		if f.Metadata == nil {
			return nil, errors.New("metadata frame without metadata")
		}
		return MetadataTag(*f.Metadata)
	case bus.FrameAudio:
		return NewTag(TagTypeAudio, m.rebase(f.Timestamp), f.Payload), nil
	case bus.FrameVideo:
		return NewTag(TagTypeVideo, m.rebase(f.Timestamp), f.Payload), nil
	default:
		return nil, errors.Errorf("unsupported frame kind %s", f.Kind)
	}
}

func (m *Muxer) rebase(ts uint32) uint32 {
	if !m.baseSet {
		m.offset = ts
		m.baseSet = true
	}
	if ts < m.offset {
		return 0
	}
	return ts - m.offset
}
