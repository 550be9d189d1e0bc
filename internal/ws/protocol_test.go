package ws

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-relay/internal/auth"
	"go-relay/internal/relay"
	"go-relay/internal/room"
	"go-relay/internal/router"
	"go-relay/internal/session"
	"go-relay/internal/stats"
)

type stubAuth struct{}

func (stubAuth) Verify(token string) (auth.Identity, error) {
	return auth.Identity{UserID: token, DisplayName: token, Elevated: token == "admin"}, nil
}

type fixture struct {
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions := session.NewRegistry(stubAuth{}, 5*time.Minute, logger)
	rooms := room.NewRegistry(64, nil, logger)
	collector := stats.NewCollector(rooms.Count)
	rt := router.New(sessions, rooms, nil, nil, nil, collector,
		router.Config{MaxPayloadBytes: 1024, InstanceID: "test"}, logger)

	sessions.SetPresenceHandler(rt.PresenceChanged)
	rooms.SetEvictHandler(rt.EvictRoom)

	return &fixture{deps: Deps{
		Sessions: sessions,
		Rooms:    rooms,
		Router:   rt,
		Stats:    collector,
		Logger:   logger,
	}}
}

func (f *fixture) connect(t *testing.T, userID string) *Client {
	t.Helper()
	c := &Client{
		deps:   f.deps,
		send:   make(chan []byte, 64),
		logger: f.deps.Logger,
	}
	sess, err := f.deps.Sessions.Register(userID, c, nil)
	require.NoError(t, err)
	c.sess = sess
	return c
}

// frames drains the client's send buffer into decoded frames.
func (c *Client) frames(t *testing.T) []relay.Frame {
	t.Helper()
	var out []relay.Frame
	for {
		select {
		case payload := <-c.send:
			var fr relay.Frame
			require.NoError(t, json.Unmarshal(payload, &fr))
			out = append(out, fr)
		default:
			return out
		}
	}
}

func frameTypes(frames []relay.Frame) []string {
	var types []string
	for _, fr := range frames {
		types = append(types, fr.Type)
	}
	return types
}

func event(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	require.NoError(t, err)
	return raw
}

func TestDispatch_UnknownEventType(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "u1")
	c.frames(t) // drain presence-update from registration

	c.dispatch(event(t, "self-destruct", nil))

	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameError, frames[0].Type)
}

func TestDispatch_MalformedJSONIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "u1")
	c.frames(t)

	c.dispatch([]byte("{oops"))
	assert.Empty(t, c.frames(t))
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("general", "General", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	watcher := f.connect(t, "watcher")
	_, err = f.deps.Rooms.Join("general", "watcher", room.JoinOptions{})
	require.NoError(t, err)
	watcher.frames(t)

	c := f.connect(t, "u1")
	c.frames(t)

	c.dispatch(event(t, "join-room", map[string]any{"roomId": "general"}))

	frames := c.frames(t)
	assert.Contains(t, frameTypes(frames), relay.FrameRoomJoined)

	// Existing members see the arrival.
	assert.Contains(t, frameTypes(watcher.frames(t)), relay.FrameUserJoined)

	members, err := f.deps.Rooms.Members("general")
	require.NoError(t, err)
	assert.Contains(t, members, "u1")
}

func TestJoinRoom_PrivateWrongPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("vault", "Vault", room.VisibilityPrivate, room.CreateOptions{Password: "s3cret"}, "owner")
	require.NoError(t, err)

	c := f.connect(t, "u1")
	c.frames(t)

	c.dispatch(event(t, "join-room", map[string]any{"roomId": "vault", "password": "nope"}))

	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameError, frames[0].Type)

	data, err := json.Marshal(frames[0].Data)
	require.NoError(t, err)
	var ed errorData
	require.NoError(t, json.Unmarshal(data, &ed))
	assert.Equal(t, relay.CodeForbidden, ed.Code)
}

func TestLeaveRoom_AnnouncesDeparture(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("general", "General", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	stayer := f.connect(t, "stayer")
	leaver := f.connect(t, "leaver")
	for _, u := range []string{"stayer", "leaver"} {
		_, err := f.deps.Rooms.Join("general", u, room.JoinOptions{})
		require.NoError(t, err)
	}
	stayer.frames(t)
	leaver.frames(t)

	leaver.dispatch(event(t, "leave-room", map[string]any{"roomId": "general"}))

	assert.Contains(t, frameTypes(stayer.frames(t)), relay.FrameUserLeft)
	members, err := f.deps.Rooms.Members("general")
	require.NoError(t, err)
	assert.NotContains(t, members, "leaver")
}

func TestSendMessage_RoomDelivery(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("general", "General", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	sender := f.connect(t, "u1")
	receiver := f.connect(t, "u2")
	for _, u := range []string{"u1", "u2"} {
		_, err := f.deps.Rooms.Join("general", u, room.JoinOptions{})
		require.NoError(t, err)
	}
	sender.frames(t)
	receiver.frames(t)

	sender.dispatch(event(t, "send-message", map[string]any{
		"target":  "general",
		"kind":    "text",
		"payload": "hi",
	}))

	assert.Contains(t, frameTypes(sender.frames(t)), relay.FrameMessageDelivered)

	frames := receiver.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameMessage, frames[0].Type)

	assert.EqualValues(t, 1, f.deps.Stats.Snapshot().TotalMessagesRouted)
}

func TestSendMessage_ForbiddenReportsError(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("general", "General", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	c := f.connect(t, "outsider")
	c.frames(t)

	c.dispatch(event(t, "send-message", map[string]any{
		"target":  "general",
		"payload": "let me in",
	}))

	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameError, frames[0].Type)
}

func TestUpdateStatus_BroadcastsPresence(t *testing.T) {
	f := newFixture(t)
	observer := f.connect(t, "observer")
	c := f.connect(t, "u1")
	observer.frames(t)
	c.frames(t)

	c.dispatch(event(t, "update-status", map[string]any{"status": "away"}))

	assert.Contains(t, frameTypes(observer.frames(t)), relay.FramePresenceUpdate)
	assert.Equal(t, relay.StatusAway, f.deps.Sessions.Presence("u1"))
}

func TestUpdateStatus_InvalidIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "u1")
	c.frames(t)

	c.dispatch(event(t, "update-status", map[string]any{"status": "lurking"}))
	assert.Empty(t, c.frames(t))
	assert.Equal(t, relay.StatusOnline, f.deps.Sessions.Presence("u1"))
}

func TestTyping_RoomTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("general", "General", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	typer := f.connect(t, "u1")
	watcher := f.connect(t, "u2")
	for _, u := range []string{"u1", "u2"} {
		_, err := f.deps.Rooms.Join("general", u, room.JoinOptions{})
		require.NoError(t, err)
	}
	typer.frames(t)
	watcher.frames(t)

	typer.dispatch(event(t, "typing", map[string]any{"roomId": "general", "isTyping": true}))

	frames := watcher.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameMessage, frames[0].Type)

	data, err := json.Marshal(frames[0].Data)
	require.NoError(t, err)
	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, relay.KindTyping, env.Kind)
}

func TestTyping_NoTargetIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "u1")
	c.frames(t)

	c.dispatch(event(t, "typing", map[string]any{"isTyping": true}))
	assert.Empty(t, c.frames(t))
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "u1")
	c.frames(t)

	before := c.sess.LastSeenAt()
	time.Sleep(5 * time.Millisecond)
	c.dispatch(event(t, "heartbeat", map[string]any{}))

	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameHeartbeatAck, frames[0].Type)
	assert.True(t, c.sess.LastSeenAt().After(before))
}

func TestRoomDeletion_EvictsMembers(t *testing.T) {
	f := newFixture(t)
	_, err := f.deps.Rooms.Create("doomed", "Doomed", room.VisibilityPublic, room.CreateOptions{}, "owner")
	require.NoError(t, err)

	c := f.connect(t, "u1")
	_, err = f.deps.Rooms.Join("doomed", "u1", room.JoinOptions{})
	require.NoError(t, err)
	c.frames(t)

	require.NoError(t, f.deps.Rooms.Delete("doomed", "owner", false))

	// The member saw room-deleted before the entry vanished.
	assert.Contains(t, frameTypes(c.frames(t)), relay.FrameRoomDeleted)
	c.dispatch(event(t, "join-room", map[string]any{"roomId": "doomed"}))
	frames := c.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, relay.FrameError, frames[0].Type)
}
