package session

import (
	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/protocol/rtmp"
)

// Results is what handling one inbound message produces: messages to send,
// in order, and events for the embedder, in order.
type Results struct {
	Outbound []*rtmp.Message
	Events   []Event
}

func (r *Results) send(msgs ...*rtmp.Message) {
	r.Outbound = append(r.Outbound, msgs...)
}

func (r *Results) raise(events ...Event) {
	r.Events = append(r.Events, events...)
}

// Event is raised by a session for the embedder. The concrete types are
// listed below; a type switch selects the ones of interest.
type Event interface {
	event()
}

// Events raised by both roles.
type (
	// StreamCreated reports a new stream. On the client TransactionID matches
	// the CreateStream request.
	StreamCreated struct {
		TransactionID float64
		StreamID      uint32
	}

	// AudioDataReceived carries a raw audio payload. Data aliases the
	// inbound message body.
	AudioDataReceived struct {
		StreamID  uint32
		Timestamp uint32
		Data      []byte
	}

	// VideoDataReceived carries a raw video payload. Data aliases the
	// inbound message body.
	VideoDataReceived struct {
		StreamID  uint32
		Timestamp uint32
		Data      []byte
	}

	// PeerChunkSizeChanged must be applied to the embedder's chunk reader.
	PeerChunkSizeChanged struct {
		Size uint32
	}

	// ProtocolError reports an inbound message that was rejected or ignored.
	ProtocolError struct {
		Err *Error
	}
)

// Client events.
type (
	// ConnectionRequestAccepted carries the server properties and info
	// objects from the connect _result.
	ConnectionRequestAccepted struct {
		TransactionID  float64
		Properties     amf0.Object
		Info           amf0.Object
		ObjectEncoding float64
	}

	// ConnectionRequestRejected is a connect _error. The session does not retry.
	ConnectionRequestRejected struct {
		TransactionID float64
		Description   string
		Info          amf0.Object
	}

	// PublishRequestAccepted follows NetStream.Publish.Start.
	PublishRequestAccepted struct {
		TransactionID float64
		StreamID      uint32
	}

	// PlaybackRequestAccepted follows NetStream.Play.Start.
	PlaybackRequestAccepted struct {
		TransactionID float64
		StreamID      uint32
	}

	// RequestRejected reports a failed createStream, publish or play.
	RequestRejected struct {
		TransactionID float64
		Kind          RequestKind
		StreamID      uint32
		Code          string
		Description   string
	}

	// StreamMetadataReceived is onMetaData on a playing stream.
	StreamMetadataReceived struct {
		StreamID uint32
		Metadata StreamMetadata
	}

	// StatusReceived is an onStatus that completes no pending request.
	StatusReceived struct {
		StreamID    uint32
		Level       string
		Code        string
		Description string
	}
)

// Server events.
type (
	// ClientConnectionRequested waits for AcceptRequest or RejectRequest.
	ClientConnectionRequested struct {
		RequestID  uint32
		App        string
		Properties amf0.Object
	}

	// PublishStreamRequested waits for AcceptRequest or RejectRequest.
	PublishStreamRequested struct {
		RequestID  uint32
		App        string
		StreamName string
		StreamID   uint32
		Mode       PublishRequestType
	}

	// PlayStreamRequested waits for AcceptRequest or RejectRequest.
	PlayStreamRequested struct {
		RequestID  uint32
		App        string
		StreamName string
		StreamID   uint32
		Start      *float64
		Duration   *float64
		Reset      bool
	}

	// PublishStreamFinished is raised once per accepted publish.
	PublishStreamFinished struct {
		App        string
		StreamName string
		StreamID   uint32
	}

	// PlayStreamFinished is raised once per accepted play.
	PlayStreamFinished struct {
		App        string
		StreamName string
		StreamID   uint32
	}

	// StreamMetadataChanged replaces the metadata attached to a publishing stream.
	StreamMetadataChanged struct {
		App        string
		StreamName string
		StreamID   uint32
		Metadata   StreamMetadata
	}
)

func (StreamCreated) event()             {}
func (AudioDataReceived) event()         {}
func (VideoDataReceived) event()         {}
func (PeerChunkSizeChanged) event()      {}
func (ProtocolError) event()             {}
func (ConnectionRequestAccepted) event() {}
func (ConnectionRequestRejected) event() {}
func (PublishRequestAccepted) event()    {}
func (PlaybackRequestAccepted) event()   {}
func (RequestRejected) event()           {}
func (StreamMetadataReceived) event()    {}
func (StatusReceived) event()            {}
func (ClientConnectionRequested) event() {}
func (PublishStreamRequested) event()    {}
func (PlayStreamRequested) event()       {}
func (PublishStreamFinished) event()     {}
func (PlayStreamFinished) event()        {}
func (StreamMetadataChanged) event()     {}

// EventName returns a short name for logging and metrics labels.
func EventName(e Event) string {
	switch e.(type) {
	case StreamCreated:
		return "stream_created"
	case AudioDataReceived:
		return "audio_data_received"
	case VideoDataReceived:
		return "video_data_received"
	case PeerChunkSizeChanged:
		return "peer_chunk_size_changed"
	case ProtocolError:
		return "protocol_error"
	case ConnectionRequestAccepted:
		return "connection_request_accepted"
	case ConnectionRequestRejected:
		return "connection_request_rejected"
	case PublishRequestAccepted:
		return "publish_request_accepted"
	case PlaybackRequestAccepted:
		return "playback_request_accepted"
	case RequestRejected:
		return "request_rejected"
	case StreamMetadataReceived:
		return "stream_metadata_received"
	case StatusReceived:
		return "status_received"
	case ClientConnectionRequested:
		return "client_connection_requested"
	case PublishStreamRequested:
		return "publish_stream_requested"
	case PlayStreamRequested:
		return "play_stream_requested"
	case PublishStreamFinished:
		return "publish_stream_finished"
	case PlayStreamFinished:
		return "play_stream_finished"
	case StreamMetadataChanged:
		return "stream_metadata_changed"
	default:
		return "unknown"
	}
}
