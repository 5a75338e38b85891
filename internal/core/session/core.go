// Package session implements the RTMP client and server session state
// machines. Sessions perform no I/O: the embedder feeds reassembled
// messages to HandleMessage and transmits the messages sessions return.
// A session must not be used from more than one goroutine at a time.
package session

import (
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtmpsess/internal/core/protocol/rtmp"
)

// core holds the accounting shared by both roles.
type core struct {
	logger *zap.Logger

	outChunkSize  uint32
	peerChunkSize uint32

	// windowAckSize is the last window we announced. peerWindowAckSize is
	// the window the peer announced and governs our acknowledgements.
	windowAckSize     uint32
	peerWindowAckSize uint32
	bytesReceived     uint32
	sinceAck          uint32

	peerBandwidth *PeerBandwidth

	reported map[string]bool
}

// newCore starts at the default chunk size in both directions.
func newCore(logger *zap.Logger, role string) core {
	if logger == nil {
		logger = zap.NewNop()
	}
	return core{
		logger:        logger.With(zap.String("role", role)),
		outChunkSize:  rtmp.DefaultChunkSize,
		peerChunkSize: rtmp.DefaultChunkSize,
		reported:      make(map[string]bool),
	}
}

// announceChunkSize switches the outgoing chunk size. The returned message
// must be sent before any message that relies on the new size.
func (c *core) announceChunkSize(size uint32) *rtmp.Message {
	c.outChunkSize = size
	return controlMessage(rtmp.MessageTypeSetChunkSize, rtmp.CreateSetChunkSize(size))
}

// announceWindowAckSize builds the Window Acknowledgement Size message.
func (c *core) announceWindowAckSize(size uint32) *rtmp.Message {
	c.windowAckSize = size
	return controlMessage(rtmp.MessageTypeWinAckSize, rtmp.CreateWindowAckSize(size))
}

// countInbound adds n payload bytes and emits one acknowledgement for every
// window boundary crossed. Each acknowledgement carries the byte count at its
// boundary.
func (c *core) countInbound(n int, res *Results) {
	c.bytesReceived += uint32(n)
	c.sinceAck += uint32(n)
	if c.peerWindowAckSize == 0 {
		return
	}
	for c.sinceAck >= c.peerWindowAckSize {
		c.sinceAck -= c.peerWindowAckSize
		res.send(controlMessage(rtmp.MessageTypeAck, rtmp.CreateAck(c.bytesReceived-c.sinceAck)))
	}
}

// handleControl applies protocol control messages. It reports false for
// message types the roles handle themselves.
func (c *core) handleControl(msg *rtmp.Message, res *Results) bool {
	switch msg.Type {
	case rtmp.MessageTypeSetChunkSize:
		size, err := rtmp.ParseSetChunkSize(msg.Body)
		if err != nil {
			c.report(res, newError(MalformedMessage, "set chunk size", err))
			return true
		}
		c.peerChunkSize = size
		c.logger.Debug("peer chunk size changed", zap.Uint32("size", size))
		res.raise(PeerChunkSizeChanged{Size: size})

	case rtmp.MessageTypeAbortMessage:
		csID, err := rtmp.ParseUint32(msg.Body)
		if err != nil {
			c.report(res, newError(MalformedMessage, "abort", err))
			return true
		}
		c.logger.Debug("peer aborted message", zap.Uint32("chunk_stream_id", csID))

	case rtmp.MessageTypeAck:
		seq, err := rtmp.ParseUint32(msg.Body)
		if err != nil {
			c.report(res, newError(MalformedMessage, "acknowledgement", err))
			return true
		}
		c.logger.Debug("peer acknowledged", zap.Uint32("sequence", seq))

	case rtmp.MessageTypeWinAckSize:
		size, err := rtmp.ParseUint32(msg.Body)
		if err != nil {
			c.report(res, newError(MalformedMessage, "window ack size", err))
			return true
		}
		if size == 0 {
			c.report(res, newError(ProtocolViolation, "window ack size", errors.New("window must be positive")))
			return true
		}
		c.peerWindowAckSize = size

	case rtmp.MessageTypeSetPeerBandwidth:
		size, limit, err := rtmp.ParseSetPeerBandwidth(msg.Body)
		if err != nil {
			c.report(res, newError(MalformedMessage, "set peer bandwidth", err))
			return true
		}
		if LimitType(limit) > LimitDynamic {
			c.report(res, newError(ProtocolViolation, "set peer bandwidth", errors.Errorf("limit type %d", limit)))
			return true
		}
		c.peerBandwidth = &PeerBandwidth{Size: size, Limit: LimitType(limit)}
		if size != c.windowAckSize {
			res.send(c.announceWindowAckSize(size))
		}

	default:
		return false
	}
	return true
}

// handleUserControl answers pings. Other events are returned to the role.
func (c *core) handleUserControl(msg *rtmp.Message, res *Results) (rtmp.UserControl, bool) {
	uc, err := rtmp.ParseUserControl(msg.Body)
	if err != nil {
		c.report(res, newError(MalformedMessage, "user control", err))
		return uc, false
	}
	switch uc.Event {
	case rtmp.ControlPingRequest:
		res.send(controlMessage(rtmp.MessageTypeUserCtrl, rtmp.CreatePingResponse(uc.Timestamp)))
		return uc, false
	case rtmp.ControlPingResponse:
		return uc, false
	}
	return uc, true
}

// report raises a ProtocolError event for err.
func (c *core) report(res *Results, err *Error) {
	c.logger.Warn("protocol error", zap.Stringer("kind", err.Kind), zap.Error(err))
	res.raise(ProtocolError{Err: err})
}

// reportUnsupported reports an unsupported feature once per name.
func (c *core) reportUnsupported(res *Results, name string) {
	if c.reported[name] {
		return
	}
	c.reported[name] = true
	c.report(res, newError(UnsupportedFeature, name, errors.New("not supported")))
}

// handleUnsupportedType covers message types neither role implements.
func (c *core) handleUnsupportedType(msg *rtmp.Message, res *Results) {
	name := rtmp.MessageTypeName(msg.Type)
	if name == "unknown" {
		name = "message type " + strconv.Itoa(int(msg.Type))
	}
	c.reportUnsupported(res, name)
}
