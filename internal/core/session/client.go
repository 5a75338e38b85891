package session

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/protocol/rtmp"
)

// ClientState is the coarse lifecycle phase of a client session.
type ClientState int

const (
	ClientStateUninitialized ClientState = iota
	ClientStateConnected
	ClientStateStreamCreated
	ClientStatePublishing
	ClientStatePlaying
)

func (s ClientState) String() string {
	switch s {
	case ClientStateUninitialized:
		return "uninitialized"
	case ClientStateConnected:
		return "connected"
	case ClientStateStreamCreated:
		return "stream_created"
	case ClientStatePublishing:
		return "publishing"
	case ClientStatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// RequestKind identifies what a transaction or pending decision is about.
type RequestKind int

const (
	RequestConnect RequestKind = iota + 1
	RequestCreateStream
	RequestPublish
	RequestPlay
)

func (k RequestKind) String() string {
	switch k {
	case RequestConnect:
		return "connect"
	case RequestCreateStream:
		return "createStream"
	case RequestPublish:
		return "publish"
	case RequestPlay:
		return "play"
	default:
		return "unknown"
	}
}

// Request is the handle of a client request. The matching event carries the
// same TransactionID.
type Request struct {
	TransactionID float64
	Kind          RequestKind
	StreamID      uint32
}

type connState int

const (
	connIdle connState = iota
	connRequested
	connConnected
	connClosed
)

type clientStreamState int

const (
	clientStreamIdle clientStreamState = iota
	clientStreamPublishRequested
	clientStreamPublishing
	clientStreamPlayRequested
	clientStreamPlaying
)

type clientStream struct {
	id    uint32
	state clientStreamState
	name  string
}

// ClientSession drives the client side of an RTMP connection:
// connect, createStream, then publish or play.
type ClientSession struct {
	cfg  ClientSessionConfig
	core core

	conn    connState
	app     string
	lastTxn float64
	pending map[float64]Request
	streams map[uint32]*clientStream
}

// NewClientSession creates a client session. The returned messages must be
// sent before anything else.
func NewClientSession(cfg ClientSessionConfig) (*ClientSession, []*rtmp.Message, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	s := &ClientSession{
		cfg:     cfg,
		core:    newCore(cfg.Logger, "client"),
		pending: make(map[float64]Request),
		streams: make(map[uint32]*clientStream),
	}
	var out []*rtmp.Message
	if cfg.ChunkSize != rtmp.DefaultChunkSize {
		out = append(out, s.core.announceChunkSize(cfg.ChunkSize))
	}
	return s, out, nil
}

// State returns the coarse lifecycle phase.
func (s *ClientSession) State() ClientState {
	if s.conn != connConnected {
		return ClientStateUninitialized
	}
	state := ClientStateConnected
	for _, st := range s.streams {
		switch st.state {
		case clientStreamPublishing:
			return ClientStatePublishing
		case clientStreamPlaying:
			state = ClientStatePlaying
		default:
			if state == ClientStateConnected {
				state = ClientStateStreamCreated
			}
		}
	}
	return state
}

// OutgoingChunkSize is the chunk size this session announced.
func (s *ClientSession) OutgoingChunkSize() uint32 {
	return s.core.outChunkSize
}

// PeerChunkSize is the chunk size the server announced.
func (s *ClientSession) PeerChunkSize() uint32 {
	return s.core.peerChunkSize
}

// nextTransaction returns an id no pending request uses.
func (s *ClientSession) nextTransaction() float64 {
	for {
		s.lastTxn++
		if _, busy := s.pending[s.lastTxn]; !busy {
			return s.lastTxn
		}
	}
}

// Connect requests a connection to app. Only valid before any connection
// was requested.
func (s *ClientSession) Connect(app string) (Request, []*rtmp.Message, error) {
	const op = "connect"
	if s.conn != connIdle {
		return Request{}, nil, configErrorf(op, "connection already requested")
	}
	if app == "" {
		return Request{}, nil, configErrorf(op, "app name is empty")
	}

	props := amf0.Object{
		"app":            app,
		"flashVer":       s.cfg.FlashVersion,
		"fpad":           false,
		"capabilities":   float64(15),
		"audioCodecs":    float64(3191),
		"videoCodecs":    float64(252),
		"videoFunction":  float64(1),
		"objectEncoding": float64(0),
	}
	if s.cfg.TcURL != "" {
		props["tcUrl"] = s.cfg.TcURL
	}

	txn := s.nextTransaction()
	msg, err := commandMessage(0, "connect", txn, props)
	if err != nil {
		return Request{}, nil, err
	}

	req := Request{TransactionID: txn, Kind: RequestConnect}
	s.pending[txn] = req
	s.conn = connRequested
	s.app = app
	s.core.logger.Debug("connect requested", zap.String("app", app), zap.Float64("transaction_id", txn))
	return req, []*rtmp.Message{msg}, nil
}

// CreateStream requests a new stream. StreamCreated carries its ID.
func (s *ClientSession) CreateStream() (Request, []*rtmp.Message, error) {
	if s.conn != connConnected {
		return Request{}, nil, configErrorf("create stream", "not connected")
	}
	txn := s.nextTransaction()
	msg, err := commandMessage(0, "createStream", txn, nil)
	if err != nil {
		return Request{}, nil, err
	}
	req := Request{TransactionID: txn, Kind: RequestCreateStream}
	s.pending[txn] = req
	return req, []*rtmp.Message{msg}, nil
}

// idleStream returns a created stream that has no publish or play yet.
func (s *ClientSession) idleStream(op string, streamID uint32) (*clientStream, error) {
	if s.conn != connConnected {
		return nil, configErrorf(op, "not connected")
	}
	st, ok := s.streams[streamID]
	if !ok {
		return nil, newError(ConfigurationError, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID))
	}
	if st.state != clientStreamIdle {
		return nil, configErrorf(op, "stream %d is busy", streamID)
	}
	return st, nil
}

// Publish asks to publish name on a created stream.
func (s *ClientSession) Publish(streamID uint32, name string, mode PublishRequestType) (Request, []*rtmp.Message, error) {
	const op = "publish"
	st, err := s.idleStream(op, streamID)
	if err != nil {
		return Request{}, nil, err
	}
	if name == "" {
		return Request{}, nil, configErrorf(op, "stream name is empty")
	}
	if mode < PublishLive || mode > PublishAppend {
		return Request{}, nil, configErrorf(op, "publish type %d", mode)
	}

	txn := s.nextTransaction()
	msg, err := commandMessage(streamID, "publish", txn, nil, name, mode.String())
	if err != nil {
		return Request{}, nil, err
	}
	req := Request{TransactionID: txn, Kind: RequestPublish, StreamID: streamID}
	s.pending[txn] = req
	st.state = clientStreamPublishRequested
	st.name = name
	return req, []*rtmp.Message{msg}, nil
}

// Play asks to play name on a created stream. A buffer length hint follows
// the play command when one is configured.
func (s *ClientSession) Play(streamID uint32, name string) (Request, []*rtmp.Message, error) {
	const op = "play"
	st, err := s.idleStream(op, streamID)
	if err != nil {
		return Request{}, nil, err
	}
	if name == "" {
		return Request{}, nil, configErrorf(op, "stream name is empty")
	}

	txn := s.nextTransaction()
	msg, err := commandMessage(streamID, "play", txn, nil, name, float64(-2))
	if err != nil {
		return Request{}, nil, err
	}
	out := []*rtmp.Message{msg}
	if s.cfg.PlayBufferLength != nil {
		out = append(out, controlMessage(rtmp.MessageTypeUserCtrl,
			rtmp.CreateSetBufferLength(streamID, *s.cfg.PlayBufferLength)))
	}

	req := Request{TransactionID: txn, Kind: RequestPlay, StreamID: streamID}
	s.pending[txn] = req
	st.state = clientStreamPlayRequested
	st.name = name
	return req, out, nil
}

// publishingStream checks that streamID is an accepted publish.
func (s *ClientSession) publishingStream(op string, streamID uint32) error {
	st, ok := s.streams[streamID]
	if !ok {
		return newError(ConfigurationError, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID))
	}
	if st.state != clientStreamPublishing {
		return configErrorf(op, "stream %d is not publishing", streamID)
	}
	return nil
}

// PublishAudioData wraps an audio payload for an accepted publish stream.
func (s *ClientSession) PublishAudioData(streamID, timestamp uint32, data []byte) (*rtmp.Message, error) {
	if err := s.publishingStream("publish audio", streamID); err != nil {
		return nil, err
	}
	return mediaMessage(rtmp.MessageTypeAudio, streamID, timestamp, data), nil
}

// PublishVideoData wraps a video payload for an accepted publish stream.
func (s *ClientSession) PublishVideoData(streamID, timestamp uint32, data []byte) (*rtmp.Message, error) {
	if err := s.publishingStream("publish video", streamID); err != nil {
		return nil, err
	}
	return mediaMessage(rtmp.MessageTypeVideo, streamID, timestamp, data), nil
}

// PublishMetadata sends metadata as @setDataFrame onMetaData.
func (s *ClientSession) PublishMetadata(streamID uint32, md StreamMetadata) (*rtmp.Message, error) {
	if err := s.publishingStream("publish metadata", streamID); err != nil {
		return nil, err
	}
	return dataMessage(streamID, 0, "@setDataFrame", "onMetaData", md.Properties())
}

// DeleteStream releases a stream. Pending publish or play requests on it
// are dropped.
func (s *ClientSession) DeleteStream(streamID uint32) ([]*rtmp.Message, error) {
	const op = "delete stream"
	if s.conn != connConnected {
		return nil, configErrorf(op, "not connected")
	}
	if _, ok := s.streams[streamID]; !ok {
		return nil, newError(ConfigurationError, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID))
	}
	msg, err := commandMessage(0, "deleteStream", float64(0), nil, float64(streamID))
	if err != nil {
		return nil, err
	}
	s.dropStream(streamID)
	return []*rtmp.Message{msg}, nil
}

// dropStream forgets a stream and its pending publish or play.
func (s *ClientSession) dropStream(streamID uint32) {
	delete(s.streams, streamID)
	for txn, req := range s.pending {
		if req.StreamID == streamID && (req.Kind == RequestPublish || req.Kind == RequestPlay) {
			delete(s.pending, txn)
		}
	}
}

// AbandonRequest forgets a pending request. A late response is ignored.
func (s *ClientSession) AbandonRequest(transactionID float64) error {
	req, ok := s.pending[transactionID]
	if !ok {
		return newError(ConfigurationError, "abandon request",
			errors.Wrapf(ErrUnknownRequest, "transaction %v", transactionID))
	}
	delete(s.pending, transactionID)
	switch req.Kind {
	case RequestConnect:
		s.conn = connIdle
	case RequestPublish, RequestPlay:
		if st, ok := s.streams[req.StreamID]; ok {
			st.state = clientStreamIdle
		}
	}
	return nil
}

// Close deletes every stream and ends the session. Further calls fail with
// ConfigurationError.
func (s *ClientSession) Close() []*rtmp.Message {
	if s.conn == connClosed {
		return nil
	}
	var out []*rtmp.Message
	if s.conn == connConnected {
		ids := make([]uint32, 0, len(s.streams))
		for id := range s.streams {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if msg, err := commandMessage(0, "deleteStream", float64(0), nil, float64(id)); err == nil {
				out = append(out, msg)
			}
		}
	}
	s.conn = connClosed
	s.pending = make(map[float64]Request)
	s.streams = make(map[uint32]*clientStream)
	return out
}

// HandleMessage processes one inbound message. The error is non-nil only
// for a closed session.
func (s *ClientSession) HandleMessage(msg *rtmp.Message) (Results, error) {
	var res Results
	if s.conn == connClosed {
		return res, configErrorf("handle message", "session closed")
	}

	if !s.core.handleControl(msg, &res) {
		switch msg.Type {
		case rtmp.MessageTypeUserCtrl:
			if uc, ok := s.core.handleUserControl(msg, &res); ok {
				s.core.logger.Debug("user control",
					zap.Uint16("event", uc.Event), zap.Uint32("stream_id", uc.StreamID))
			}
		case rtmp.MessageTypeCommandAMF0, rtmp.MessageTypeCommandAMF3:
			s.handleCommand(msg, &res)
		case rtmp.MessageTypeDataAMF0, rtmp.MessageTypeDataAMF3:
			s.handleData(msg, &res)
		case rtmp.MessageTypeAudio, rtmp.MessageTypeVideo:
			s.handleMedia(msg, &res)
		default:
			s.core.handleUnsupportedType(msg, &res)
		}
	}

	s.core.countInbound(len(msg.Body), &res)
	return res, nil
}

// handleCommand dispatches responses and onStatus. Anything else is
// reported as unsupported.
func (s *ClientSession) handleCommand(msg *rtmp.Message, res *Results) {
	cmd, err := DecodeCommand(amf0Body(msg))
	if err != nil {
		s.core.report(res, asError(err))
		return
	}

	switch c := cmd.(type) {
	case ResultCommand:
		s.handleResult(c, res)
	case OnStatusCommand:
		s.handleStatus(msg.StreamID, c, res)
	case UnsupportedCommand, UnknownCommand:
		s.core.reportUnsupported(res, cmd.Name())
	default:
		s.core.report(res, newError(ProtocolViolation, cmd.Name(), errors.New("request sent by server")))
	}
}

// handleResult correlates _result and _error with the pending request.
func (s *ClientSession) handleResult(cmd ResultCommand, res *Results) {
	req, ok := s.pending[cmd.TransactionID]
	if !ok {
		s.core.logger.Debug("response to unknown transaction",
			zap.String("command", cmd.Name()), zap.Float64("transaction_id", cmd.TransactionID))
		return
	}
	delete(s.pending, cmd.TransactionID)

	var info amf0.Object
	for _, arg := range cmd.Arguments {
		if obj, ok := amf0.AsObject(arg); ok {
			info = obj
			break
		}
	}
	level, code, description := statusInfo(info)

	switch req.Kind {
	case RequestConnect:
		if cmd.IsError || level == levelError {
			s.conn = connIdle
			res.raise(ConnectionRequestRejected{
				TransactionID: req.TransactionID,
				Description:   description,
				Info:          info,
			})
			return
		}
		s.conn = connConnected
		props, _ := amf0.AsObject(cmd.CommandObject)
		encoding, _ := info.Number("objectEncoding")
		res.raise(ConnectionRequestAccepted{
			TransactionID:  req.TransactionID,
			Properties:     props,
			Info:           info,
			ObjectEncoding: encoding,
		})

	case RequestCreateStream:
		if cmd.IsError {
			res.raise(RequestRejected{TransactionID: req.TransactionID, Kind: req.Kind, Code: code, Description: description})
			return
		}
		id, err := createdStreamID(cmd.Arguments)
		if err == nil {
			if _, exists := s.streams[id]; exists {
				err = errors.Errorf("stream %d already exists", id)
			}
		}
		if err != nil {
			s.core.report(res, newError(ProtocolViolation, "createStream", err))
			res.raise(RequestRejected{TransactionID: req.TransactionID, Kind: req.Kind, Description: err.Error()})
			return
		}
		s.streams[id] = &clientStream{id: id}
		res.raise(StreamCreated{TransactionID: req.TransactionID, StreamID: id})

	case RequestPublish, RequestPlay:
		st, ok := s.streams[req.StreamID]
		if !ok {
			return
		}
		if cmd.IsError {
			st.state = clientStreamIdle
			res.raise(RequestRejected{
				TransactionID: req.TransactionID,
				Kind:          req.Kind,
				StreamID:      req.StreamID,
				Code:          code,
				Description:   description,
			})
			return
		}
		s.acceptStream(st, req, res)
	}
}

// createdStreamID finds the stream ID in a createStream response.
func createdStreamID(args amf0.Array) (uint32, error) {
	for _, arg := range args {
		n, ok := amf0.AsNumber(arg)
		if !ok {
			continue
		}
		if n < 1 || n > math.MaxUint32 || n != math.Trunc(n) {
			return 0, errors.Errorf("invalid stream id %v", n)
		}
		return uint32(n), nil
	}
	return 0, errors.Wrap(ErrMissingField, "stream id")
}

// acceptStream moves st into the role req asked for.
func (s *ClientSession) acceptStream(st *clientStream, req Request, res *Results) {
	if req.Kind == RequestPublish {
		st.state = clientStreamPublishing
		res.raise(PublishRequestAccepted{TransactionID: req.TransactionID, StreamID: st.id})
		return
	}
	st.state = clientStreamPlaying
	res.raise(PlaybackRequestAccepted{TransactionID: req.TransactionID, StreamID: st.id})
}

// pendingStreamRequest finds the publish or play request waiting on a stream.
func (s *ClientSession) pendingStreamRequest(streamID uint32) (Request, bool) {
	for _, req := range s.pending {
		if req.StreamID == streamID && (req.Kind == RequestPublish || req.Kind == RequestPlay) {
			return req, true
		}
	}
	return Request{}, false
}

// handleStatus completes a pending publish or play, or reports the status.
func (s *ClientSession) handleStatus(streamID uint32, cmd OnStatusCommand, res *Results) {
	level, code, description := statusInfo(cmd.Info)

	if req, ok := s.pendingStreamRequest(streamID); ok {
		st := s.streams[streamID]
		switch {
		case req.Kind == RequestPublish && code == StatusPublishStart,
			req.Kind == RequestPlay && code == StatusPlayStart:
			delete(s.pending, req.TransactionID)
			s.acceptStream(st, req, res)
			return
		case level == levelError:
			delete(s.pending, req.TransactionID)
			st.state = clientStreamIdle
			res.raise(RequestRejected{
				TransactionID: req.TransactionID,
				Kind:          req.Kind,
				StreamID:      streamID,
				Code:          code,
				Description:   description,
			})
			return
		}
	}

	res.raise(StatusReceived{StreamID: streamID, Level: level, Code: code, Description: description})
}

// playingStream checks that streamID is an accepted play.
func (s *ClientSession) playingStream(op string, streamID uint32) *Error {
	st, ok := s.streams[streamID]
	if !ok {
		return newError(ProtocolViolation, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID))
	}
	if st.state != clientStreamPlaying {
		return newError(ProtocolViolation, op, errors.Errorf("stream %d is not playing", streamID))
	}
	return nil
}

// handleData raises onMetaData received on a playing stream.
func (s *ClientSession) handleData(msg *rtmp.Message, res *Results) {
	frame, err := decodeDataFrame(amf0Body(msg))
	if err != nil {
		s.core.report(res, asError(err))
		return
	}
	if frame.name != "onMetaData" {
		s.core.logger.Debug("data message ignored", zap.String("name", frame.name))
		return
	}
	if perr := s.playingStream("onMetaData", msg.StreamID); perr != nil {
		s.core.report(res, perr)
		return
	}
	if frame.properties == nil {
		s.core.report(res, newError(MalformedMessage, "onMetaData", errors.Wrap(ErrMissingField, "properties")))
		return
	}
	md, mismatched := ApplyMetadata(frame.properties)
	if len(mismatched) > 0 {
		s.core.logger.Warn("metadata fields with unexpected types", zap.Strings("keys", mismatched))
	}
	res.raise(StreamMetadataReceived{StreamID: msg.StreamID, Metadata: md})
}

// handleMedia raises audio and video received on a playing stream.
func (s *ClientSession) handleMedia(msg *rtmp.Message, res *Results) {
	op := rtmp.MessageTypeName(msg.Type)
	if perr := s.playingStream(op, msg.StreamID); perr != nil {
		s.core.report(res, perr)
		return
	}
	if msg.Type == rtmp.MessageTypeAudio {
		res.raise(AudioDataReceived{StreamID: msg.StreamID, Timestamp: msg.Timestamp, Data: msg.Body})
		return
	}
	res.raise(VideoDataReceived{StreamID: msg.StreamID, Timestamp: msg.Timestamp, Data: msg.Body})
}
