package session

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/protocol/rtmp"
)

// StreamRole is what a server-side stream is used for.
type StreamRole int

const (
	StreamIdle StreamRole = iota
	StreamPublishing
	StreamPlaying
)

func (r StreamRole) String() string {
	switch r {
	case StreamIdle:
		return "idle"
	case StreamPublishing:
		return "publishing"
	case StreamPlaying:
		return "playing"
	default:
		return "unknown"
	}
}

const statusCallFailed = "NetConnection.Call.Failed"

type serverStream struct {
	id            uint32
	role          StreamRole
	accepted      bool
	finished      bool
	name          string
	mode          PublishRequestType
	metadata      *StreamMetadata
	transactionID float64
	bufferLength  *uint32
}

// StreamInfo is a snapshot of a server-side stream.
type StreamInfo struct {
	ID           uint32
	Role         StreamRole
	Accepted     bool
	Name         string
	Mode         PublishRequestType
	Metadata     *StreamMetadata
	BufferLength *uint32
	// TransactionID is the createStream transaction that created the stream.
	TransactionID float64
}

type serverRequest struct {
	kind          RequestKind
	transactionID float64
	streamID      uint32
}

// ServerSession handles the server side of one RTMP connection. Connect,
// publish and play requests are raised as events and decided by the
// embedder through AcceptRequest and RejectRequest.
type ServerSession struct {
	cfg  ServerSessionConfig
	core core

	conn           connState
	app            string
	objectEncoding float64

	nextStreamID uint32
	exhausted    bool
	streams      map[uint32]*serverStream

	lastRequestID uint32
	requests      map[uint32]serverRequest

	failed error
}

// NewServerSession creates a server session. The returned messages announce
// the window acknowledgement size, peer bandwidth and chunk size and must be
// sent first.
func NewServerSession(cfg ServerSessionConfig) (*ServerSession, []*rtmp.Message, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	if cfg.FMSVersion == "" {
		cfg.FMSVersion = "FMS/3,0,1,123"
	}
	s := &ServerSession{
		cfg:          cfg,
		core:         newCore(cfg.Logger, "server"),
		nextStreamID: 1,
		streams:      make(map[uint32]*serverStream),
		requests:     make(map[uint32]serverRequest),
	}

	out := []*rtmp.Message{s.core.announceWindowAckSize(cfg.WindowAckSize)}
	if bw := cfg.PeerBandwidth; bw != nil {
		out = append(out, controlMessage(rtmp.MessageTypeSetPeerBandwidth,
			rtmp.CreateSetPeerBandwidth(bw.Size, byte(bw.Limit))))
	}
	if cfg.ChunkSize != rtmp.DefaultChunkSize {
		out = append(out, s.core.announceChunkSize(cfg.ChunkSize))
	}
	return s, out, nil
}

// App returns the application name of the accepted connection.
func (s *ServerSession) App() string {
	return s.app
}

// OutgoingChunkSize is the chunk size this session announced.
func (s *ServerSession) OutgoingChunkSize() uint32 {
	return s.core.outChunkSize
}

// PeerChunkSize is the chunk size the client announced.
func (s *ServerSession) PeerChunkSize() uint32 {
	return s.core.peerChunkSize
}

// Stream returns a snapshot of a stream record.
func (s *ServerSession) Stream(streamID uint32) (StreamInfo, bool) {
	st, ok := s.streams[streamID]
	if !ok {
		return StreamInfo{}, false
	}
	info := StreamInfo{
		ID:           st.id,
		Role:         st.role,
		Accepted:     st.accepted && !st.finished,
		Name:         st.name,
		Mode:         st.mode,
		BufferLength: clonePtr(st.bufferLength),

		TransactionID: st.transactionID,
	}
	if st.metadata != nil {
		md := st.metadata.Clone()
		info.Metadata = &md
	}
	return info, true
}

// newRequest records a decision the embedder owes and returns its id.
func (s *ServerSession) newRequest(kind RequestKind, txn float64, streamID uint32) uint32 {
	for {
		s.lastRequestID++
		if s.lastRequestID == 0 {
			continue
		}
		if _, busy := s.requests[s.lastRequestID]; !busy {
			break
		}
	}
	s.requests[s.lastRequestID] = serverRequest{kind: kind, transactionID: txn, streamID: streamID}
	return s.lastRequestID
}

// AcceptRequest accepts a pending connect, publish or play request and
// returns the response messages.
func (s *ServerSession) AcceptRequest(requestID uint32) ([]*rtmp.Message, error) {
	const op = "accept request"
	req, err := s.request(op, requestID)
	if err != nil {
		return nil, err
	}

	var out []*rtmp.Message
	switch req.kind {
	case RequestConnect:
		msg, err := commandMessage(0, "_result", req.transactionID,
			amf0.Object{
				"fmsVer":       s.cfg.FMSVersion,
				"capabilities": s.cfg.Capabilities,
				"mode":         float64(1),
			},
			amf0.Object{
				"level":          levelStatus,
				"code":           StatusConnectSuccess,
				"description":    "Connection succeeded.",
				"objectEncoding": s.objectEncoding,
			})
		if err != nil {
			return nil, err
		}
		s.conn = connConnected
		out = append(out, msg)
		s.core.logger.Debug("connection accepted", zap.String("app", s.app))

	case RequestPublish:
		st := s.streams[req.streamID]
		status, err := statusMessage(st.id, levelStatus, StatusPublishStart, st.name+" is now published.")
		if err != nil {
			return nil, err
		}
		st.accepted = true
		out = append(out, controlMessage(rtmp.MessageTypeUserCtrl, rtmp.CreateStreamBegin(st.id)), status)

	case RequestPlay:
		st := s.streams[req.streamID]
		reset, err := statusMessage(st.id, levelStatus, StatusPlayReset, "Playing and resetting "+st.name+".")
		if err != nil {
			return nil, err
		}
		start, err := statusMessage(st.id, levelStatus, StatusPlayStart, "Started playing "+st.name+".")
		if err != nil {
			return nil, err
		}
		access, err := dataMessage(st.id, 0, "|RtmpSampleAccess", false, false)
		if err != nil {
			return nil, err
		}
		st.accepted = true
		out = append(out, controlMessage(rtmp.MessageTypeUserCtrl, rtmp.CreateStreamBegin(st.id)), reset, start, access)
	}

	delete(s.requests, requestID)
	return out, nil
}

// RejectRequest rejects a pending request. A rejected publish or play keeps
// its role; the client has to delete the stream to reuse it.
func (s *ServerSession) RejectRequest(requestID uint32, description string) ([]*rtmp.Message, error) {
	const op = "reject request"
	req, err := s.request(op, requestID)
	if err != nil {
		return nil, err
	}

	var msg *rtmp.Message
	switch req.kind {
	case RequestConnect:
		msg, err = commandMessage(0, "_error", req.transactionID, nil, amf0.Object{
			"level":       levelError,
			"code":        StatusConnectRejected,
			"description": description,
		})
		if err == nil {
			s.conn = connIdle
			s.app = ""
		}
	case RequestPublish:
		msg, err = statusMessage(req.streamID, levelError, StatusPublishDenied, description)
	case RequestPlay:
		msg, err = statusMessage(req.streamID, levelError, StatusPlayFailed, description)
	}
	if err != nil {
		return nil, err
	}

	delete(s.requests, requestID)
	return []*rtmp.Message{msg}, nil
}

// request looks up a pending decision without removing it.
func (s *ServerSession) request(op string, requestID uint32) (serverRequest, error) {
	if s.conn == connClosed {
		return serverRequest{}, configErrorf(op, "session closed")
	}
	req, ok := s.requests[requestID]
	if !ok {
		return serverRequest{}, newError(ConfigurationError, op, errors.Wrapf(ErrUnknownRequest, "request %d", requestID))
	}
	return req, nil
}

// playingStream checks that streamID is an accepted, unfinished play.
func (s *ServerSession) playingStream(op string, streamID uint32) error {
	st, ok := s.streams[streamID]
	if !ok {
		return newError(ConfigurationError, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID))
	}
	if st.role != StreamPlaying || !st.accepted || st.finished {
		return configErrorf(op, "stream %d is not playing", streamID)
	}
	return nil
}

// SendMetadata sends onMetaData to an accepted play stream.
func (s *ServerSession) SendMetadata(streamID uint32, md StreamMetadata) (*rtmp.Message, error) {
	if err := s.playingStream("send metadata", streamID); err != nil {
		return nil, err
	}
	return dataMessage(streamID, 0, "onMetaData", md.Properties())
}

// SendAudioData wraps an audio payload for an accepted play stream.
func (s *ServerSession) SendAudioData(streamID, timestamp uint32, data []byte) (*rtmp.Message, error) {
	if err := s.playingStream("send audio", streamID); err != nil {
		return nil, err
	}
	return mediaMessage(rtmp.MessageTypeAudio, streamID, timestamp, data), nil
}

// SendVideoData wraps a video payload for an accepted play stream.
func (s *ServerSession) SendVideoData(streamID, timestamp uint32, data []byte) (*rtmp.Message, error) {
	if err := s.playingStream("send video", streamID); err != nil {
		return nil, err
	}
	return mediaMessage(rtmp.MessageTypeVideo, streamID, timestamp, data), nil
}

// EndPlayback tells a player that its source went away. The stream stays
// open for the client to delete.
func (s *ServerSession) EndPlayback(streamID uint32) ([]*rtmp.Message, error) {
	if err := s.playingStream("end playback", streamID); err != nil {
		return nil, err
	}
	status, err := statusMessage(streamID, levelStatus, StatusPlayStop, "Stopped playing.")
	if err != nil {
		return nil, err
	}
	s.streams[streamID].finished = true
	return []*rtmp.Message{controlMessage(rtmp.MessageTypeUserCtrl, rtmp.CreateStreamEOF(streamID)), status}, nil
}

// Close ends the session and returns the finish events of streams that were
// still publishing or playing.
func (s *ServerSession) Close() []Event {
	if s.conn == connClosed {
		return nil
	}
	ids := make([]uint32, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var events []Event
	for _, id := range ids {
		if ev := s.finishEvent(s.streams[id]); ev != nil {
			events = append(events, ev)
		}
	}
	s.conn = connClosed
	s.streams = make(map[uint32]*serverStream)
	s.requests = make(map[uint32]serverRequest)
	return events
}

// finishEvent returns the finish event for an accepted stream, or nil if
// there is none to raise.
func (s *ServerSession) finishEvent(st *serverStream) Event {
	if !st.accepted || st.finished {
		return nil
	}
	switch st.role {
	case StreamPublishing:
		return PublishStreamFinished{App: s.app, StreamName: st.name, StreamID: st.id}
	case StreamPlaying:
		return PlayStreamFinished{App: s.app, StreamName: st.name, StreamID: st.id}
	}
	return nil
}

// HandleMessage processes one inbound message. The error is non-nil only
// when the session failed fatally or was closed.
func (s *ServerSession) HandleMessage(msg *rtmp.Message) (Results, error) {
	var res Results
	if s.failed != nil {
		return res, s.failed
	}
	if s.conn == connClosed {
		return res, configErrorf("handle message", "session closed")
	}

	if !s.core.handleControl(msg, &res) {
		switch msg.Type {
		case rtmp.MessageTypeUserCtrl:
			if uc, ok := s.core.handleUserControl(msg, &res); ok {
				s.handleUserControl(uc)
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
	return res, s.failed
}

// handleUserControl records SetBufferLength on its stream and logs other events.
func (s *ServerSession) handleUserControl(uc rtmp.UserControl) {
	if uc.Event != rtmp.ControlSetBufferLength {
		s.core.logger.Debug("user control", zap.Uint16("event", uc.Event), zap.Uint32("stream_id", uc.StreamID))
		return
	}
	if st, ok := s.streams[uc.StreamID]; ok {
		length := uc.BufferLength
		st.bufferLength = &length
	}
}

// violation reports a rejected request and answers its transaction.
func (s *ServerSession) violation(res *Results, txn float64, code string, err *Error) {
	s.core.report(res, err)
	msg, encErr := commandMessage(0, "_error", txn, nil, amf0.Object{
		"level":       levelError,
		"code":        code,
		"description": err.Error(),
	})
	if encErr == nil {
		res.send(msg)
	}
}

// handleCommand dispatches an inbound command by name.
func (s *ServerSession) handleCommand(msg *rtmp.Message, res *Results) {
	cmd, err := DecodeCommand(amf0Body(msg))
	if err != nil {
		s.core.report(res, asError(err))
		return
	}
	s.core.logger.Debug("command", zap.String("name", cmd.Name()), zap.Uint32("stream_id", msg.StreamID))

	switch c := cmd.(type) {
	case ConnectCommand:
		s.handleConnect(c, res)
	case CreateStreamCommand:
		s.handleCreateStream(c, res)
	case PublishCommand:
		s.handlePublish(msg.StreamID, c, res)
	case PlayCommand:
		s.handlePlay(msg.StreamID, c, res)
	case DeleteStreamCommand:
		if c.StreamID == nil || *c.StreamID < 0 || *c.StreamID > math.MaxUint32 {
			s.core.report(res, newError(ProtocolViolation, c.Name(), errors.Wrap(ErrMissingField, "stream id")))
			return
		}
		s.deleteStream(c.Name(), uint32(*c.StreamID), res)
	case CloseStreamCommand:
		s.deleteStream(c.Name(), msg.StreamID, res)
	case ReleaseStreamCommand, FCPublishCommand:
		s.acknowledgeCommand(cmd, res)
	case FCUnpublishCommand:
		s.handleFCUnpublish(c, res)
	case ResultCommand, OnStatusCommand:
		s.core.logger.Debug("unexpected response from client", zap.String("name", cmd.Name()))
	default:
		s.core.reportUnsupported(res, cmd.Name())
	}
}

// handleConnect validates connect and asks the embedder to decide.
func (s *ServerSession) handleConnect(cmd ConnectCommand, res *Results) {
	if s.conn != connIdle {
		s.violation(res, cmd.TransactionID, statusCallFailed,
			newError(ProtocolViolation, "connect", errors.Wrap(ErrInvalidState, "connection already requested")))
		return
	}
	app, ok := cmd.Properties.String("app")
	if !ok {
		s.violation(res, cmd.TransactionID, StatusConnectRejected,
			newError(ProtocolViolation, "connect", errors.Wrap(ErrMissingField, "app")))
		return
	}
	s.app = app
	s.objectEncoding, _ = cmd.Properties.Number("objectEncoding")
	s.conn = connRequested

	props := make(amf0.Object, len(cmd.Properties))
	for k, v := range cmd.Properties {
		props[k] = v
	}
	rid := s.newRequest(RequestConnect, cmd.TransactionID, 0)
	res.raise(ClientConnectionRequested{RequestID: rid, App: app, Properties: props})
}

// requireConnected reports a violation when cmd arrives before an accepted connect.
func (s *ServerSession) requireConnected(res *Results, cmd Command) bool {
	if s.conn == connConnected {
		return true
	}
	s.violation(res, cmd.Transaction(), statusCallFailed,
		newError(ProtocolViolation, cmd.Name(), errors.Wrap(ErrInvalidState, "not connected")))
	return false
}

// handleCreateStream allocates the next stream id and answers with _result.
func (s *ServerSession) handleCreateStream(cmd CreateStreamCommand, res *Results) {
	if !s.requireConnected(res, cmd) {
		return
	}
	if s.exhausted {
		s.failed = newError(Fatal, "createStream", ErrStreamIDsExhausted)
		s.core.logger.Error("session failed", zap.Error(s.failed))
		return
	}
	id := s.nextStreamID
	if id == math.MaxUint32 {
		s.exhausted = true
	} else {
		s.nextStreamID++
	}

	msg, err := commandMessage(0, "_result", cmd.TransactionID, nil, float64(id))
	if err != nil {
		s.failed = err
		return
	}
	s.streams[id] = &serverStream{id: id, transactionID: cmd.TransactionID}
	res.send(msg)
	res.raise(StreamCreated{TransactionID: cmd.TransactionID, StreamID: id})
}

// idleStream returns the stream a publish or play targets, or reports why
// it cannot be used.
func (s *ServerSession) idleStream(res *Results, cmd Command, streamID uint32) *serverStream {
	if !s.requireConnected(res, cmd) {
		return nil
	}
	st, ok := s.streams[streamID]
	if !ok {
		s.violation(res, cmd.Transaction(), statusCallFailed,
			newError(ProtocolViolation, cmd.Name(), errors.Wrapf(ErrUnknownStream, "stream %d", streamID)))
		return nil
	}
	if st.role != StreamIdle {
		s.violation(res, cmd.Transaction(), statusCallFailed,
			newError(ProtocolViolation, cmd.Name(), errors.Errorf("stream %d is already %s", streamID, st.role)))
		return nil
	}
	return st
}

// handlePublish sets the publishing role and asks the embedder to decide.
func (s *ServerSession) handlePublish(streamID uint32, cmd PublishCommand, res *Results) {
	st := s.idleStream(res, cmd, streamID)
	if st == nil {
		return
	}
	mode, err := ParsePublishRequestType(cmd.PublishType)
	if err != nil {
		s.violation(res, cmd.TransactionID, StatusPublishDenied, newError(ProtocolViolation, cmd.Name(), err))
		return
	}
	st.role = StreamPublishing
	st.name = cmd.StreamName
	st.mode = mode

	rid := s.newRequest(RequestPublish, cmd.TransactionID, streamID)
	res.raise(PublishStreamRequested{
		RequestID:  rid,
		App:        s.app,
		StreamName: cmd.StreamName,
		StreamID:   streamID,
		Mode:       mode,
	})
}

// handlePlay sets the playing role and asks the embedder to decide.
func (s *ServerSession) handlePlay(streamID uint32, cmd PlayCommand, res *Results) {
	st := s.idleStream(res, cmd, streamID)
	if st == nil {
		return
	}
	st.role = StreamPlaying
	st.name = cmd.StreamName

	rid := s.newRequest(RequestPlay, cmd.TransactionID, streamID)
	res.raise(PlayStreamRequested{
		RequestID:  rid,
		App:        s.app,
		StreamName: cmd.StreamName,
		StreamID:   streamID,
		Start:      cmd.Start,
		Duration:   cmd.Duration,
		Reset:      cmd.Reset != nil && *cmd.Reset,
	})
}

// deleteStream removes the stream, raising its finish event if one is due.
func (s *ServerSession) deleteStream(op string, streamID uint32, res *Results) {
	st, ok := s.streams[streamID]
	if !ok {
		s.core.report(res, newError(ProtocolViolation, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID)))
		return
	}
	delete(s.streams, streamID)
	for rid, req := range s.requests {
		if req.streamID == streamID && req.kind != RequestConnect {
			delete(s.requests, rid)
		}
	}
	if ev := s.finishEvent(st); ev != nil {
		res.raise(ev)
	}
}

// acknowledgeCommand answers the publish preamble with an empty _result.
func (s *ServerSession) acknowledgeCommand(cmd Command, res *Results) {
	if !s.requireConnected(res, cmd) {
		return
	}
	msg, err := commandMessage(0, "_result", cmd.Transaction(), nil)
	if err != nil {
		return
	}
	res.send(msg)
}

// handleFCUnpublish finishes the publishing stream with the given name.
func (s *ServerSession) handleFCUnpublish(cmd FCUnpublishCommand, res *Results) {
	for _, st := range s.streams {
		if st.role == StreamPublishing && st.name == cmd.StreamName {
			ev := s.finishEvent(st)
			if ev == nil {
				return
			}
			st.finished = true
			res.raise(ev)
			status, err := statusMessage(st.id, levelStatus, StatusUnpublishSuccess, st.name+" is now unpublished.")
			if err != nil {
				s.core.report(res, asError(err))
				return
			}
			res.send(status)
			return
		}
	}
	s.core.logger.Debug("FCUnpublish for unknown stream", zap.String("stream_name", cmd.StreamName))
}

// publishingStream returns the accepted publish stream a data or media
// message arrived on, or reports why it cannot be used.
func (s *ServerSession) publishingStream(res *Results, op string, streamID uint32) *serverStream {
	st, ok := s.streams[streamID]
	if !ok {
		s.core.report(res, newError(ProtocolViolation, op, errors.Wrapf(ErrUnknownStream, "stream %d", streamID)))
		return nil
	}
	if st.role != StreamPublishing || !st.accepted || st.finished {
		s.core.report(res, newError(ProtocolViolation, op, errors.Errorf("stream %d is not publishing", streamID)))
		return nil
	}
	return st
}

// handleData attaches @setDataFrame or onMetaData to a publishing stream.
func (s *ServerSession) handleData(msg *rtmp.Message, res *Results) {
	frame, err := decodeDataFrame(amf0Body(msg))
	if err != nil {
		s.core.report(res, asError(err))
		return
	}

	switch frame.name {
	case "onMetaData":
		st := s.publishingStream(res, frame.name, msg.StreamID)
		if st == nil {
			return
		}
		if frame.properties == nil {
			s.core.report(res, newError(MalformedMessage, frame.name, errors.Wrap(ErrMissingField, "properties")))
			return
		}
		md, mismatched := ApplyMetadata(frame.properties)
		if len(mismatched) > 0 {
			s.core.logger.Warn("metadata fields with unexpected types",
				zap.Uint32("stream_id", st.id), zap.Strings("keys", mismatched))
		}
		st.metadata = &md
		res.raise(StreamMetadataChanged{
			App:        s.app,
			StreamName: st.name,
			StreamID:   st.id,
			Metadata:   md.Clone(),
		})
	case "@clearDataFrame":
		if st := s.publishingStream(res, frame.name, msg.StreamID); st != nil {
			st.metadata = nil
		}
	default:
		s.core.logger.Debug("data message ignored", zap.String("name", frame.name))
	}
}

// handleMedia forwards audio and video from a publishing stream.
func (s *ServerSession) handleMedia(msg *rtmp.Message, res *Results) {
	st := s.publishingStream(res, rtmp.MessageTypeName(msg.Type), msg.StreamID)
	if st == nil {
		return
	}
	if msg.Type == rtmp.MessageTypeAudio {
		res.raise(AudioDataReceived{StreamID: st.id, Timestamp: msg.Timestamp, Data: msg.Body})
		return
	}
	res.raise(VideoDataReceived{StreamID: st.id, Timestamp: msg.Timestamp, Data: msg.Body})
}
