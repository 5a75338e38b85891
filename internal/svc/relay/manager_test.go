package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/bus"
	"rtmpsess/internal/core/session"
	"rtmpsess/internal/metrics"
)

func newTestManager(t *testing.T, registry *bus.Registry) *Manager {
	t.Helper()
	m := NewManager(registry, session.DefaultClientSessionConfig(), 64, metrics.New(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestManagerStartTasks(t *testing.T) {
	manager := newTestManager(t, bus.NewRegistry())

	relays := []config.RelayConfig{
		{
			App:        "live",
			Name:       "test",
			Mode:       "pull",
			RemoteURL:  "rtmp://127.0.0.1:1/live/test",
			Reconnect:  true,
			RetryDelay: config.Duration(20 * time.Millisecond),
		},
		{
			App:        "live",
			Name:       "out",
			Mode:       "push",
			RemoteURL:  "rtmp://127.0.0.1:1/live/out",
			Reconnect:  true,
			RetryDelay: config.Duration(20 * time.Millisecond),
		},
	}
	require.NoError(t, manager.StartTasks(relays))
	assert.Equal(t, 2, manager.TaskCount())
	assert.Eventually(t, func() bool { return manager.Running() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, manager.Stop())
	assert.Equal(t, 0, manager.Running())
}

func TestManagerInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		relay config.RelayConfig
	}{
		{"missing app", config.RelayConfig{Name: "test", Mode: "pull", RemoteURL: "rtmp://localhost/live/test"}},
		{"invalid mode", config.RelayConfig{App: "live", Name: "test", Mode: "invalid", RemoteURL: "rtmp://localhost/live/test"}},
		{"missing remote url", config.RelayConfig{App: "live", Name: "test", Mode: "pull"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t, bus.NewRegistry())
			assert.Error(t, manager.StartTasks([]config.RelayConfig{tt.relay}))
			assert.Equal(t, 0, manager.TaskCount())
		})
	}
}

func TestManagerStop(t *testing.T) {
	manager := newTestManager(t, bus.NewRegistry())

	// The push relay waits for a local publisher that never appears.
	require.NoError(t, manager.StartTasks([]config.RelayConfig{{
		App:       "live",
		Name:      "idle",
		Mode:      "push",
		RemoteURL: "rtmp://127.0.0.1:1/live/idle",
	}}))
	require.Eventually(t, func() bool { return manager.Running() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = manager.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager stop timed out")
	}
}

func TestPullWithoutReconnectStops(t *testing.T) {
	manager := newTestManager(t, bus.NewRegistry())
	require.NoError(t, manager.StartTasks([]config.RelayConfig{{
		App:       "live",
		Name:      "test",
		Mode:      "pull",
		RemoteURL: "rtmp://127.0.0.1:1/live/test",
	}}))
	assert.Eventually(t, func() bool { return manager.Running() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTaskStopIsIdempotent(t *testing.T) {
	task := newPullTask(deps{
		registry:  bus.NewRegistry(),
		collector: metrics.New(),
		logger:    zaptest.NewLogger(t),
	}, config.RelayConfig{App: "live", Name: "x", Mode: "pull", RemoteURL: "rtmp://h/live/x"})

	require.NoError(t, task.Stop())
	require.NoError(t, task.Stop())

	// A stopped task returns right away without dialing.
	assert.NoError(t, task.Start(context.Background()))
	assert.False(t, task.IsRunning())
	assert.Equal(t, "rtmp://h/live/x", task.RemoteURL())
}

func TestManagerRestart(t *testing.T) {
	manager := newTestManager(t, bus.NewRegistry())
	require.NoError(t, manager.StartTasks([]config.RelayConfig{{
		App:       "live",
		Name:      "test",
		Mode:      "pull",
		RemoteURL: "rtmp://127.0.0.1:1/live/test",
	}}))

	// Without reconnect the relay gives up after the refused dial.
	require.Eventually(t, func() bool { return manager.Running() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, manager.Restart("live", "test"))
	assert.Equal(t, 1, manager.TaskCount())
	assert.ErrorIs(t, manager.Restart("live", "other"), ErrTaskNotFound)

	require.NoError(t, manager.Stop())
	assert.Error(t, manager.Restart("live", "test"))
}

func TestManagerTasks(t *testing.T) {
	manager := newTestManager(t, bus.NewRegistry())
	require.NoError(t, manager.StartTasks([]config.RelayConfig{
		{App: "live", Name: "a", Mode: "push", RemoteURL: "rtmp://127.0.0.1:1/live/a"},
		{App: "live", Name: "b", Mode: "pull", RemoteURL: "rtmp://127.0.0.1:1/live/b", Reconnect: true,
			RetryDelay: config.Duration(time.Second)},
	}))

	require.Eventually(t, func() bool { return manager.Running() == 2 }, 2*time.Second, 10*time.Millisecond)
	tasks := manager.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, TaskInfo{App: "live", Name: "a", Mode: "push", RemoteURL: "rtmp://127.0.0.1:1/live/a", Running: true}, tasks[0])
	assert.Equal(t, "pull", tasks[1].Mode)
	assert.True(t, tasks[1].Running)
}
