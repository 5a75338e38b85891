package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.HandshakeFailed()
	c.SessionEvent("publish_stream_requested")
	c.SessionEvent("publish_stream_requested")
	c.ProtocolError("protocol_violation")
	c.StreamStarted("publishing")
	c.BytesReceived(1500)

	body := scrape(t, c)
	assert.Contains(t, body, "rtmpsess_connections_active 1")
	assert.Contains(t, body, "rtmpsess_connections_total 2")
	assert.Contains(t, body, "rtmpsess_handshake_failures_total 1")
	assert.Contains(t, body, `rtmpsess_session_events_total{event="publish_stream_requested"} 2`)
	assert.Contains(t, body, `rtmpsess_protocol_errors_total{kind="protocol_violation"} 1`)
	assert.Contains(t, body, `rtmpsess_streams_active{role="publishing"} 1`)
	assert.Contains(t, body, "rtmpsess_message_bytes_received_total 1500")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ConnectionOpened()
	assert.Contains(t, scrape(t, b), "rtmpsess_connections_total 0")
}

func TestRelayRuns(t *testing.T) {
	c := New()
	c.RelayRun("pull", nil)
	c.RelayRun("pull", errors.New("refused"))
	c.RelayRun("pull", errors.New("refused"))

	body := scrape(t, c)
	assert.Contains(t, body, `rtmpsess_relay_runs_total{mode="pull",result="ok"} 1`)
	assert.Contains(t, body, `rtmpsess_relay_runs_total{mode="pull",result="error"} 2`)
}
