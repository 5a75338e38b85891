package rtmp

import (
	"go.uber.org/zap"

	"rtmpsess/internal/core/bus"
	rtmpprotocol "rtmpsess/internal/core/protocol/rtmp"
	"rtmpsess/internal/core/session"
)

// player forwards frames from a bus subscriber to one play stream.
type player struct {
	streamID uint32
	stream   *bus.Stream
	sub      *bus.Subscriber
	stop     chan struct{}
	logger   *zap.Logger
}

func (c *connection) decidePlay(e session.PlayStreamRequested) ([]*rtmpprotocol.Message, *player) {
	key := bus.NewStreamKey(e.App, e.StreamName)
	logger := c.logger.With(zap.Stringer("stream", key), zap.Uint32("stream_id", e.StreamID))

	stream := c.srv.registry.Publishing(key)
	if stream == nil {
		logger.Info("play rejected, stream not found")
		out, err := c.session.RejectRequest(e.RequestID, key.String()+" is not published.")
		if err != nil {
			logger.Error("reject play", zap.Error(err))
		}
		return out, nil
	}

	out, err := c.session.AcceptRequest(e.RequestID)
	if err != nil {
		logger.Error("accept play", zap.Error(err))
		return nil, nil
	}

	sub, md := stream.AttachSubscriber(c.srv.opts.SubscriberQueue, bus.BackpressureDropOldest)
	if md != nil {
		if msg, err := c.session.SendMetadata(e.StreamID, *md); err == nil {
			out = append(out, msg)
		}
	}
	p := &player{
		streamID: e.StreamID,
		stream:   stream,
		sub:      sub,
		stop:     make(chan struct{}),
		logger:   logger,
	}
	c.players[e.StreamID] = p
	c.srv.metrics.StreamStarted("playing")
	logger.Info("play started")
	return out, p
}

// stopPlayer detaches a player. It runs with mu held.
func (c *connection) stopPlayer(streamID uint32) {
	p, ok := c.players[streamID]
	if !ok {
		return
	}
	c.removePlayer(p)
	close(p.stop)
}

func (c *connection) removePlayer(p *player) {
	delete(c.players, p.streamID)
	p.stream.DetachSubscriber(p.sub.ID())
	c.srv.registry.RemoveIfEmpty(p.stream.Key())
	c.srv.metrics.StreamEnded("playing")
	if dropped := p.sub.Dropped(); dropped > 0 {
		c.srv.metrics.FramesDropped(dropped)
		p.logger.Warn("player fell behind", zap.Uint64("dropped_frames", dropped))
	}
	p.logger.Info("play finished")
}

func (c *connection) runPlayer(p *player) {
	for {
		select {
		case <-p.stop:
			return
		case <-p.sub.Ready():
			if !c.forward(p) {
				return
			}
		case <-p.sub.Ended():
			c.forward(p)
			c.endPlayback(p)
			return
		}
	}
}

// forward sends every queued frame. It returns false once the player can no
// longer send.
func (c *connection) forward(p *player) bool {
	for {
		f, ok := p.sub.Next()
		if !ok {
			return true
		}

		c.mu.Lock()
		if c.players[p.streamID] != p {
			c.mu.Unlock()
			return false
		}
		var msg *rtmpprotocol.Message
		var err error
		switch f.Kind {
		case bus.FrameAudio:
			msg, err = c.session.SendAudioData(p.streamID, f.Timestamp, f.Payload)
		case bus.FrameVideo:
			msg, err = c.session.SendVideoData(p.streamID, f.Timestamp, f.Payload)
		case bus.FrameMetadata:
			msg, err = c.session.SendMetadata(p.streamID, *f.Metadata)
		}
		c.mu.Unlock()
		if err != nil {
			p.logger.Debug("forward frame", zap.Error(err))
			return false
		}

		if err := c.write([]*rtmpprotocol.Message{msg}); err != nil {
			p.logger.Debug("write frame", zap.Error(err))
			_ = c.raw.Close()
			return false
		}
	}
}

// endPlayback tells the client its source went away.
func (c *connection) endPlayback(p *player) {
	c.mu.Lock()
	if c.players[p.streamID] != p {
		c.mu.Unlock()
		return
	}
	c.removePlayer(p)
	out, err := c.session.EndPlayback(p.streamID)
	c.mu.Unlock()
	if err != nil {
		p.logger.Debug("end playback", zap.Error(err))
		return
	}
	if err := c.write(out); err != nil {
		p.logger.Debug("write end of playback", zap.Error(err))
	}
}
