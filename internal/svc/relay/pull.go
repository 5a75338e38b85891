package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/session"
	"rtmpsess/internal/svc/rtmpclient"
)

var errAlreadyPublished = errors.New("local stream already has a publisher")

// PullTask plays a remote stream and publishes it locally.
type PullTask struct {
	*BaseTask
}

func newPullTask(d deps, cfg config.RelayConfig) *PullTask {
	return &PullTask{BaseTask: newBaseTask(d, cfg)}
}

// Start runs the pull relay.
func (t *PullTask) Start(ctx context.Context) error {
	return t.run(ctx, t.pullOnce)
}

// pullOnce runs one remote connection. It returns nil when the remote ends
// playback.
func (t *PullTask) pullOnce(ctx context.Context) error {
	key := t.key()
	if t.registry.Publishing(key) != nil {
		return errAlreadyPublished
	}

	target, err := rtmpclient.ParseURL(t.remoteURL)
	if err != nil {
		return err
	}
	c, err := rtmpclient.Dial(ctx, target, t.client, t.logger)
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
	if err := c.Play(ctx, streamID, target.Stream); err != nil {
		return err
	}

	stream, _ := t.registry.GetOrCreate(key)
	owner := t.owner()
	if !stream.AttachPublisher(owner) {
		t.registry.RemoveIfEmpty(key)
		return errAlreadyPublished
	}
	t.collector.StreamStarted("publishing")
	defer func() {
		stream.DetachPublisher(owner)
		t.registry.RemoveIfEmpty(key)
		t.collector.StreamEnded("publishing")
	}()
	t.logger.Info("pull relay publishing", zap.Uint32("remote_stream_id", streamID))

	frames := 0
	err = c.Until(ctx, func(ev session.Event) (bool, error) {
		switch e := ev.(type) {
		case session.StreamMetadataReceived:
			stream.Publish(bus.MetadataFrame(e.Metadata))
		case session.AudioDataReceived:
			stream.Publish(bus.AudioFrame(e))
			frames++
		case session.VideoDataReceived:
			stream.Publish(bus.VideoFrame(e))
			frames++
		case session.StatusReceived:
			if e.Code == session.StatusPlayStop {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("pull after %d frames: %w", frames, err)
	}
	return nil
}
