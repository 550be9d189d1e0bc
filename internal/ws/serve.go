package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"go-relay/internal/relay"
	"go-relay/internal/room"
	"go-relay/internal/router"
	"go-relay/internal/session"
	"go-relay/internal/stats"
)

// Deps are the collaborators a connection needs.
type Deps struct {
	Sessions *session.Registry
	Rooms    *room.Registry
	Router   *router.Router
	Stats    *stats.Collector
	Logger   *slog.Logger

	// HeartbeatInterval is the server ping cadence. Zero means the default.
	HeartbeatInterval time.Duration
}

// ServeWS upgrades an HTTP request to a websocket connection and registers a
// session for it.
func ServeWS(deps Deps, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	deps.Logger.Debug("new websocket connection request", slog.String("from", remoteAddr))

	// Extract the credential from query param or header.
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	if token == "" {
		deps.Logger.Warn("no token provided", slog.String("from", remoteAddr))
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		deps.Logger.Error("failed to upgrade connection", slog.String("from", remoteAddr), slog.Any("error", err))
		return
	}

	pingPeriod, pongWait := heartbeatTimings(deps.HeartbeatInterval)
	client := &Client{
		deps:       deps,
		conn:       conn,
		send:       make(chan []byte, 256),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		logger:     deps.Logger.With(slog.String("remoteAddr", remoteAddr)),
	}

	sess, err := deps.Sessions.Register(token, client, map[string]string{
		"remoteAddr": remoteAddr,
		"userAgent":  r.UserAgent(),
	})
	if err != nil {
		deps.Logger.Warn("credential rejected", slog.String("from", remoteAddr), slog.Any("error", err))
		if payload, encErr := relay.EncodeFrame(relay.FrameError, map[string]any{
			"code":    relay.CodeUnauthenticated,
			"message": "invalid token",
		}); encErr == nil {
			conn.WriteMessage(websocket.TextMessage, payload)
		}
		conn.Close()
		return
	}

	client.sess = sess
	client.logger = client.logger.With(
		slog.String("sessionID", sess.ID),
		slog.String("userID", sess.UserID),
	)
	deps.Stats.ConnectionOpened()

	client.logger.Info("session established")
	go client.WritePump()
	go client.ReadPump()
}
