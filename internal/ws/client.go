package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go-relay/internal/session"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Ping cadence used when no heartbeat interval is configured
	defaultPingPeriod = 54 * time.Second

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB
)

// heartbeatTimings derives the ping cadence and the pong deadline from the
// configured heartbeat interval. The pong deadline trails the cadence so one
// delayed pong does not drop the connection.
func heartbeatTimings(interval time.Duration) (pingPeriod, pongWait time.Duration) {
	if interval <= 0 {
		interval = defaultPingPeriod
	}
	return interval, interval * 10 / 9
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Validate origin in production
		return true
	},
}

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

// Client is one websocket connection. It implements session.Sender so the
// router can write to it through the session registry.
type Client struct {
	deps Deps
	conn *websocket.Conn
	send chan []byte
	sess *session.Session

	pingPeriod time.Duration
	pongWait   time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

var _ session.Sender = (*Client)(nil)

// Send queues a payload for the write pump. A full buffer or a closed
// connection is reported as a failed write rather than blocking delivery to
// other sessions.
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close force-disconnects the client. Used for idle sweeps and evictions.
// WritePump owns the data side of the connection, so the close frame goes
// out as a control frame, which gorilla allows from any goroutine.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeWait))
		c.conn.Close()
	})
}

// ReadPump pumps inbound events from the socket into the dispatch table.
func (c *Client) ReadPump() {
	defer func() {
		// Mark closed before deregistering so an in-flight fan-out that
		// already resolved this session fails fast instead of queueing.
		c.closed.Store(true)
		c.deps.Sessions.Remove(c.sess.ID)
		c.deps.Stats.ConnectionClosed()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected close", slog.Any("error", err))
			}
			break
		}

		c.dispatch(message)
	}
}

// WritePump pumps queued payloads to the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Error("failed to get writer", slog.Any("error", err))
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				c.logger.Error("failed to close writer", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("failed to send ping", slog.Any("error", err))
				return
			}
		}
	}
}
