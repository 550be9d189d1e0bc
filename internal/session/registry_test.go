package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-relay/internal/auth"
	"go-relay/internal/relay"
)

type stubAuth struct{}

func (stubAuth) Verify(token string) (auth.Identity, error) {
	if token == "bad" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: token, DisplayName: "User " + token}, nil
}

type fakeSender struct {
	sent   [][]byte
	closed []string
}

func (f *fakeSender) Send(p []byte) error {
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) Close(reason string) {
	f.closed = append(f.closed, reason)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *Registry {
	return NewRegistry(stubAuth{}, 5*time.Minute, testLogger())
}

func TestRegister_InvalidCredential(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("bad", &fakeSender{}, nil)
	assert.Equal(t, relay.CodeUnauthenticated, relay.CodeOf(err))
	assert.Zero(t, r.Count())
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Register("u1", &fakeSender{}, map[string]string{"client": "web"})
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, relay.StatusOnline, s.Status())

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Remove(s.ID)
	_, ok = r.Get(s.ID)
	assert.False(t, ok)

	// Removing again is a no-op.
	r.Remove(s.ID)
}

func TestTouch_MissingSessionIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Touch("no-such-session")
}

func TestSetStatus_NotFound(t *testing.T) {
	r := newTestRegistry()
	err := r.SetStatus("gone", relay.StatusAway)
	assert.Equal(t, relay.CodeNotFound, relay.CodeOf(err))
}

func TestPresenceCollapse(t *testing.T) {
	r := newTestRegistry()

	s1, err := r.Register("u1", &fakeSender{}, nil)
	require.NoError(t, err)
	s2, err := r.Register("u1", &fakeSender{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.SetStatus(s2.ID, relay.StatusAway))
	assert.Equal(t, relay.StatusOnline, r.Presence("u1"))

	// Closing the online session leaves away.
	r.Remove(s1.ID)
	assert.Equal(t, relay.StatusAway, r.Presence("u1"))

	// Closing both yields offline.
	r.Remove(s2.ID)
	assert.Equal(t, relay.StatusOffline, r.Presence("u1"))
}

func TestPresenceNotifications(t *testing.T) {
	r := newTestRegistry()

	type transition struct {
		userID string
		status relay.Status
	}
	var seen []transition
	r.SetPresenceHandler(func(userID string, status relay.Status) {
		seen = append(seen, transition{userID, status})
	})

	s1, err := r.Register("u1", &fakeSender{}, nil)
	require.NoError(t, err)
	s2, err := r.Register("u1", &fakeSender{}, nil)
	require.NoError(t, err)

	// Only the first session of a user announces presence.
	require.Len(t, seen, 1)
	assert.Equal(t, transition{"u1", relay.StatusOnline}, seen[0])

	require.NoError(t, r.SetStatus(s1.ID, relay.StatusBusy))
	// Collapsed presence is still online because s2 is online.
	assert.Equal(t, transition{"u1", relay.StatusOnline}, seen[len(seen)-1])

	r.Remove(s2.ID)
	r.Remove(s1.ID)
	assert.Equal(t, transition{"u1", relay.StatusOffline}, seen[len(seen)-1])
}

func TestSessionsForUser(t *testing.T) {
	r := newTestRegistry()

	s1, _ := r.Register("u1", &fakeSender{}, nil)
	s2, _ := r.Register("u1", &fakeSender{}, nil)
	r.Register("u2", &fakeSender{}, nil)

	sessions := r.SessionsForUser("u1")
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, ids)

	assert.Empty(t, r.SessionsForUser("nobody"))
}

func TestSweepOnce_EvictsIdleSessions(t *testing.T) {
	r := NewRegistry(stubAuth{}, time.Minute, testLogger())

	out := &fakeSender{}
	s, err := r.Register("u1", out, nil)
	require.NoError(t, err)

	// Fresh session survives the sweep.
	r.sweepOnce(time.Now())
	_, ok := r.Get(s.ID)
	assert.True(t, ok)

	// An hour later it is stale.
	r.sweepOnce(time.Now().Add(time.Hour))
	_, ok = r.Get(s.ID)
	assert.False(t, ok)
	require.Len(t, out.closed, 1)
	assert.Equal(t, "idle timeout", out.closed[0])
}
