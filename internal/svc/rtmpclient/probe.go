package rtmpclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/core/session"
)

// PlayResult summarizes what a play probe received.
type PlayResult struct {
	StreamID    uint32
	Metadata    *session.StreamMetadata
	AudioFrames int
	VideoFrames int
	// FirstFrame is the time from dial to the first media frame.
	FirstFrame time.Duration
	// Stopped is set when the server ended playback before enough frames
	// arrived.
	Stopped bool
}

// Play connects to target, plays its stream and returns once minFrames media
// frames were received, playback stopped, or ctx ended.
func Play(ctx context.Context, target Target, cfg session.ClientSessionConfig, minFrames int, logger *zap.Logger) (PlayResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("addr", target.Addr), zap.String("app", target.App), zap.String("stream", target.Stream))
	start := time.Now()

	var result PlayResult
	c, err := Dial(ctx, target, cfg, logger)
	if err != nil {
		return result, err
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return result, err
	}
	if result.StreamID, err = c.CreateStream(ctx); err != nil {
		return result, err
	}

	if err := c.Play(ctx, result.StreamID, target.Stream); err != nil {
		return result, err
	}
	logger.Debug("playback accepted")

	err = c.Until(ctx, func(ev session.Event) (bool, error) {
		switch e := ev.(type) {
		case session.StreamMetadataReceived:
			md := e.Metadata
			result.Metadata = &md
		case session.AudioDataReceived:
			result.AudioFrames++
		case session.VideoDataReceived:
			result.VideoFrames++
		case session.StatusReceived:
			if e.Code == session.StatusPlayStop {
				result.Stopped = true
				return true, nil
			}
		}
		frames := result.AudioFrames + result.VideoFrames
		if frames == 1 && result.FirstFrame == 0 {
			result.FirstFrame = time.Since(start)
		}
		return frames >= minFrames, nil
	})
	if err != nil {
		return result, err
	}
	logger.Info("play probe finished",
		zap.Int("audio_frames", result.AudioFrames),
		zap.Int("video_frames", result.VideoFrames),
		zap.Duration("first_frame", result.FirstFrame))
	return result, nil
}

// Media is one frame to publish.
type Media struct {
	Video     bool
	Timestamp uint32
	Data      []byte
}

// Publish connects to target and publishes metadata live, then every frame
// received from frames until it is closed. The stream is deleted afterwards.
func Publish(ctx context.Context, target Target, cfg session.ClientSessionConfig, md session.StreamMetadata, frames <-chan Media, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("addr", target.Addr), zap.String("app", target.App), zap.String("stream", target.Stream))

	c, err := Dial(ctx, target, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	streamID, err := c.CreateStream(ctx)
	if err != nil {
		return err
	}

	if err := c.Publish(ctx, streamID, target.Stream); err != nil {
		return err
	}
	if err := c.SendMetadata(streamID, md); err != nil {
		return err
	}

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				logger.Info("publish probe finished", zap.Int("frames", sent))
				return nil
			}
			if err := c.SendMedia(streamID, f.Video, f.Timestamp, f.Data); err != nil {
				return err
			}
			sent++
		}
	}
}
