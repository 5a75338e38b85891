package itest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtmpsess/internal/core/protocol/flv"
	"rtmpsess/internal/core/session"
	"rtmpsess/internal/svc/rtmpclient"
)

// TestPublishAndPlayEverywhere publishes over RTMP and watches the same
// stream over RTMP, HTTP-FLV and WebSocket-FLV at once.
func TestPublishAndPlayEverywhere(t *testing.T) {
	inst := StartServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	width := uint32(1280)
	frames := make(chan rtmpclient.Media)
	published := make(chan error, 1)
	go func() {
		published <- rtmpclient.Publish(ctx, inst.Target(t, "live", "cam"), session.DefaultClientSessionConfig(),
			session.StreamMetadata{VideoWidth: &width}, frames, nil)
	}()
	require.Eventually(t, func() bool {
		s := inst.Stream(t, "live", "cam")
		return s != nil && s.HasPublisher && s.Metadata != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, float64(1280), inst.Stream(t, "live", "cam").Metadata["width"])

	// HTTP-FLV viewer.
	resp, err := http.Get(inst.HTTPURL("/live/cam.flv"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	header := make([]byte, 13)
	_, err = io.ReadFull(resp.Body, header)
	require.NoError(t, err)
	assert.Equal(t, flv.NewHeader(true, true).Bytes(), header)
	assert.Equal(t, byte(flv.TagTypeScript), readTagType(t, resp.Body))

	// WebSocket-FLV viewer.
	wsURL := "ws" + strings.TrimPrefix(inst.HTTPURL("/ws/live/cam"), "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, header, msg)
	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(flv.TagTypeScript), msg[0])

	// RTMP viewer.
	played := make(chan rtmpclient.PlayResult, 1)
	playErr := make(chan error, 1)
	go func() {
		res, err := rtmpclient.Play(ctx, inst.Target(t, "live", "cam"), session.DefaultClientSessionConfig(), 2, nil)
		played <- res
		playErr <- err
	}()

	require.Eventually(t, func() bool {
		s := inst.Stream(t, "live", "cam")
		return s != nil && s.SubscriberCount == 3
	}, 5*time.Second, 20*time.Millisecond)

	frames <- rtmpclient.Media{Video: true, Timestamp: 0, Data: []byte{0x17, 0x01}}
	frames <- rtmpclient.Media{Timestamp: 20, Data: []byte{0xAF, 0x01}}

	res := <-played
	require.NoError(t, <-playErr)
	assert.Equal(t, 1, res.VideoFrames)
	assert.Equal(t, 1, res.AudioFrames)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, uint32(1280), *res.Metadata.VideoWidth)

	assert.Equal(t, byte(flv.TagTypeVideo), readTagType(t, resp.Body))
	assert.Equal(t, byte(flv.TagTypeAudio), readTagType(t, resp.Body))

	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(flv.TagTypeVideo), msg[0])
	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(flv.TagTypeAudio), msg[0])

	close(frames)
	require.NoError(t, <-published)
	assert.Eventually(t, func() bool { return len(inst.Streams(t)) == 0 }, 5*time.Second, 20*time.Millisecond)
}

// readTagType reads one FLV tag with its trailing size and returns its type.
func readTagType(t *testing.T, r io.Reader) byte {
	t.Helper()
	header := make([]byte, 11)
	_, err := io.ReadFull(r, header)
	require.NoError(t, err)
	size := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	_, err = io.CopyN(io.Discard, r, int64(size+4))
	require.NoError(t, err)
	return header[0]
}
