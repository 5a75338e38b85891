// Package relay pulls remote RTMP streams into the local bus and pushes
// local streams to remote servers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/session"
	"rtmpsess/internal/metrics"
)

// ErrTaskNotFound is returned by Restart for an unknown relay.
var ErrTaskNotFound = errors.New("relay task not found")

// TaskInfo describes one configured relay.
type TaskInfo struct {
	App       string
	Name      string
	Mode      string
	RemoteURL string
	Running   bool
}

type entry struct {
	cfg  config.RelayConfig
	task Task
	done chan struct{}
}

// Manager manages relay tasks lifecycle.
type Manager struct {
	deps    deps
	entries []*entry
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// NewManager creates a new relay manager. Relays use client for their
// sessions and queue as the push subscriber capacity.
func NewManager(registry *bus.Registry, client session.ClientSessionConfig, queue uint32, collector *metrics.Collector, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps: deps{
			registry:  registry,
			client:    client,
			queue:     queue,
			collector: collector,
			logger:    logger,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// StartTasks validates every relay and then starts them all. Nothing is
// started when one definition is invalid.
func (m *Manager) StartTasks(relays []config.RelayConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range relays {
		if err := relays[i].Validate(); err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
	}
	for _, relayCfg := range relays {
		e := &entry{cfg: relayCfg}
		m.entries = append(m.entries, e)
		m.launch(e)
	}
	return nil
}

// launch creates a fresh task for e and runs it. Callers hold mu.
func (m *Manager) launch(e *entry) {
	if e.cfg.Mode == "pull" {
		e.task = newPullTask(m.deps, e.cfg)
	} else {
		e.task = newPushTask(m.deps, e.cfg)
	}
	e.done = make(chan struct{})

	m.wg.Add(1)
	go func(t Task, done chan struct{}) {
		defer m.wg.Done()
		defer close(done)
		if err := t.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.deps.logger.Error("relay stopped", zap.Error(err))
		}
	}(e.task, e.done)
}

// Restart stops the relay for app/name and starts it again with the same
// configuration. A relay that gave up after a failure is started again too.
func (m *Manager) Restart(app, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return fmt.Errorf("relay manager stopped")
	}
	for _, e := range m.entries {
		if e.cfg.App != app || e.cfg.Name != name {
			continue
		}
		_ = e.task.Stop()
		<-e.done
		m.launch(e)
		m.deps.logger.Info("relay restarted",
			zap.String("stream", bus.NewStreamKey(app, name).String()),
			zap.String("relay", e.cfg.Mode))
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrTaskNotFound, app, name)
}

// Stop stops all relay tasks and waits for them to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	for _, e := range m.entries {
		_ = e.task.Stop()
	}
	m.wg.Wait()
	return nil
}

// TaskCount returns the number of configured relay tasks.
func (m *Manager) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Running returns the number of tasks currently running.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.task.IsRunning() {
			n++
		}
	}
	return n
}

// Tasks describes every configured relay in configuration order.
func (m *Manager) Tasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]TaskInfo, 0, len(m.entries))
	for _, e := range m.entries {
		infos = append(infos, TaskInfo{
			App:       e.cfg.App,
			Name:      e.cfg.Name,
			Mode:      e.cfg.Mode,
			RemoteURL: e.cfg.RemoteURL,
			Running:   e.task.IsRunning(),
		})
	}
	return infos
}
