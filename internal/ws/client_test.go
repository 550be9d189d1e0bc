package ws

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatTimings(t *testing.T) {
	ping, pong := heartbeatTimings(25 * time.Second)
	assert.Equal(t, 25*time.Second, ping)
	assert.Greater(t, pong, ping)

	ping, pong = heartbeatTimings(0)
	assert.Equal(t, defaultPingPeriod, ping)
	assert.Greater(t, pong, ping)
}

// Close must be safe to call while WritePump holds the write side of the
// connection: gorilla panics on concurrent data writes, and evictions land
// from the sweeper goroutine.
func TestClose_DuringActiveWrites(t *testing.T) {
	clients := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		pingPeriod, pongWait := heartbeatTimings(0)
		c := &Client{
			conn:       conn,
			send:       make(chan []byte, 256),
			pingPeriod: pingPeriod,
			pongWait:   pongWait,
			logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		}
		clients <- c
		c.WritePump()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer peer.Close()

	c := <-clients

	// The peer never reads, so once the socket buffers fill the pump blocks
	// mid-write and Close lands on a busy connection.
	payload := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 256; i++ {
		if c.Send(payload) != nil {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)

	c.Close("idle timeout")

	assert.ErrorIs(t, c.Send(payload), errConnClosed)
}
