package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/svc/rtmpclient"
)

// publisherPoll is how often a push relay checks for a local publisher.
const publisherPoll = 250 * time.Millisecond

// PushTask subscribes to a local stream and publishes it to a remote server.
type PushTask struct {
	*BaseTask
}

func newPushTask(d deps, cfg config.RelayConfig) *PushTask {
	return &PushTask{BaseTask: newBaseTask(d, cfg)}
}

// Start runs the push relay.
func (t *PushTask) Start(ctx context.Context) error {
	return t.run(ctx, t.pushOnce)
}

// waitForPublisher blocks until the local stream is being published.
func (t *PushTask) waitForPublisher(ctx context.Context) (*bus.Stream, error) {
	ticker := time.NewTicker(publisherPoll)
	defer ticker.Stop()
	for {
		if stream := t.registry.Publishing(t.key()); stream != nil {
			return stream, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pushOnce forwards one local publishing session. It returns nil when the
// local publisher goes away.
func (t *PushTask) pushOnce(ctx context.Context) error {
	stream, err := t.waitForPublisher(ctx)
	if err != nil {
		return err
	}
	sub, md := stream.AttachSubscriber(t.queue, bus.BackpressureDropOldest)
	t.collector.StreamStarted("playing")
	defer func() {
		stream.DetachSubscriber(sub.ID())
		t.registry.RemoveIfEmpty(t.key())
		t.collector.StreamEnded("playing")
		if dropped := sub.Dropped(); dropped > 0 {
			t.collector.FramesDropped(dropped)
			t.logger.Warn("push relay dropped frames", zap.Uint64("dropped", dropped))
		}
	}()

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
	if err := c.Publish(ctx, streamID, target.Stream); err != nil {
		return err
	}
	if md != nil {
		if err := c.SendMetadata(streamID, *md); err != nil {
			return err
		}
	}
	t.logger.Info("push relay publishing", zap.Uint32("remote_stream_id", streamID))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Ready():
			if err := t.forward(c, streamID, sub); err != nil {
				return err
			}
		case <-sub.Ended():
			// Frames published before the end are still queued.
			return t.forward(c, streamID, sub)
		}
	}
}

func (t *PushTask) forward(c *rtmpclient.Client, streamID uint32, sub *bus.Subscriber) error {
	for {
		f, ok := sub.Next()
		if !ok {
			return nil
		}
		var err error
		switch f.Kind {
		case bus.FrameMetadata:
			err = c.SendMetadata(streamID, *f.Metadata)
		case bus.FrameVideo:
			err = c.SendMedia(streamID, true, f.Timestamp, f.Payload)
		default:
			err = c.SendMedia(streamID, false, f.Timestamp, f.Payload)
		}
		if err != nil {
			return err
		}
	}
}
