package itest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rtmpsess/internal/config"
	"rtmpsess/internal/server"
	"rtmpsess/internal/svc/api"
	"rtmpsess/internal/svc/rtmpclient"
)

// Instance is one server running in process on free ports.
type Instance struct {
	HTTPPort int
	RTMPPort int

	srv      *server.Server
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

// findFreePort asks the kernel for an unused TCP port.
func findFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// StartServer runs a server with the default configuration, adjusted by
// mutate, and waits until its health endpoint answers.
func StartServer(t *testing.T, mutate func(*config.Config)) *Instance {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HealthPort = findFreePort(t)
	cfg.Server.RTMPPort = findFreePort(t)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		HTTPPort: cfg.Server.HealthPort,
		RTMPPort: cfg.Server.RTMPPort,
		srv:      server.New(cfg, zaptest.NewLogger(t)),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { inst.done <- inst.srv.Start(ctx) }()
	t.Cleanup(func() { require.NoError(t, inst.Stop()) })

	require.NoError(t, WaitForHealth(inst.HTTPPort, 5*time.Second))
	return inst
}

// Stop shuts the server down. Later calls return nil.
func (i *Instance) Stop() error {
	var err error
	i.stopOnce.Do(func() {
		i.cancel()
		if startErr := <-i.done; startErr != nil {
			err = startErr
			return
		}
		err = i.srv.ShutdownWithTimeout()
	})
	return err
}

// WaitForHealth waits for the health endpoint to become available.
func WaitForHealth(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("health endpoint not available after %v", timeout)
}

// RTMPURL returns the rtmp:// URL of app/stream on this instance.
func (i *Instance) RTMPURL(app, stream string) string {
	return fmt.Sprintf("rtmp://127.0.0.1:%d/%s/%s", i.RTMPPort, app, stream)
}

// HTTPURL returns the URL of path on the HTTP side server.
func (i *Instance) HTTPURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", i.HTTPPort, path)
}

// Target parses RTMPURL for the client helpers.
func (i *Instance) Target(t *testing.T, app, stream string) rtmpclient.Target {
	t.Helper()
	target, err := rtmpclient.ParseURL(i.RTMPURL(app, stream))
	require.NoError(t, err)
	return target
}

// Streams fetches /api/streams.
func (i *Instance) Streams(t *testing.T) []api.StreamInfo {
	t.Helper()
	var out api.StreamsResponse
	getJSON(t, i.HTTPURL("/api/streams"), &out)
	return out.Streams
}

// Stream returns the API view of app/name, nil when it is not listed.
func (i *Instance) Stream(t *testing.T, app, name string) *api.StreamInfo {
	t.Helper()
	for _, s := range i.Streams(t) {
		if s.App == app && s.Name == name {
			return &s
		}
	}
	return nil
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
