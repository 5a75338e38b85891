package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/session"
	"rtmpsess/internal/metrics"
)

// Task represents a relay task (pull or push).
// Tasks run in their own goroutines and manage connection lifecycle.
type Task interface {
	// Start runs the relay until ctx is cancelled, Stop is called, or a
	// connection fails without reconnect.
	Start(ctx context.Context) error

	// Stop stops the relay task. It is safe to call more than once.
	Stop() error

	// IsRunning returns true if the task is currently running.
	IsRunning() bool
}

// defaultRetryDelay applies when the configuration leaves retry_delay unset.
const defaultRetryDelay = 5 * time.Second

// deps are shared by every task of a manager.
type deps struct {
	registry  *bus.Registry
	client    session.ClientSessionConfig
	queue     uint32
	collector *metrics.Collector
	logger    *zap.Logger
}

// BaseTask holds what pull and push relays share: the stream binding, the
// reconnect policy and the stop signal.
type BaseTask struct {
	deps
	mode       string
	app        string
	name       string
	remoteURL  string
	reconnect  bool
	retryDelay time.Duration

	running  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
}

func newBaseTask(d deps, cfg config.RelayConfig) *BaseTask {
	t := &BaseTask{
		deps:       d,
		mode:       cfg.Mode,
		app:        cfg.App,
		name:       cfg.Name,
		remoteURL:  cfg.RemoteURL,
		reconnect:  cfg.Reconnect,
		retryDelay: cfg.RetryDelay.Std(),
		stopChan:   make(chan struct{}),
	}
	if t.retryDelay <= 0 {
		t.retryDelay = defaultRetryDelay
	}
	t.logger = d.logger.With(
		zap.String("relay", cfg.Mode),
		zap.String("stream", t.key().String()),
		zap.String("remote_url", cfg.RemoteURL))
	return t
}

// App returns the application name.
func (t *BaseTask) App() string {
	return t.app
}

// Name returns the stream name.
func (t *BaseTask) Name() string {
	return t.name
}

// RemoteURL returns the remote RTMP URL.
func (t *BaseTask) RemoteURL() string {
	return t.remoteURL
}

// IsRunning returns true if the task is running.
func (t *BaseTask) IsRunning() bool {
	return t.running.Load()
}

// Stop signals the task to stop.
func (t *BaseTask) Stop() error {
	t.stopOnce.Do(func() { close(t.stopChan) })
	return nil
}

func (t *BaseTask) key() bus.StreamKey {
	return bus.NewStreamKey(t.app, t.name)
}

// owner identifies the relay as a local publisher.
func (t *BaseTask) owner() string {
	return "relay:" + t.remoteURL
}

// run calls once until the task is stopped. Failed or finished connections
// are retried after retryDelay when reconnect is set.
func (t *BaseTask) run(parent context.Context, once func(context.Context) error) error {
	t.running.Store(true)
	defer t.running.Store(false)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-t.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-t.stopChan:
			return nil
		default:
		}
		err := once(ctx)
		if ctx.Err() != nil {
			// Stop is a clean exit, a cancelled parent is reported.
			return parent.Err()
		}
		t.collector.RelayRun(t.mode, err)
		if err != nil {
			t.logger.Warn("relay connection failed", zap.Error(err))
		} else {
			t.logger.Info("relay connection finished")
		}
		if !t.reconnect {
			return err
		}

		timer := time.NewTimer(t.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return parent.Err()
		}
	}
}
