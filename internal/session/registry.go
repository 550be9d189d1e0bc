package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-relay/internal/auth"
	"go-relay/internal/relay"
)

// PresenceFunc receives aggregate presence transitions for a user.
type PresenceFunc func(userID string, status relay.Status)

// Registry owns all live sessions for this instance. The registry map is
// guarded by its own lock; per-session state is guarded per session, so
// operations on unrelated sessions run fully in parallel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session

	authn       auth.Authenticator
	idleTimeout time.Duration
	logger      *slog.Logger

	onPresence PresenceFunc
}

func NewRegistry(authn auth.Authenticator, idleTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		byUser:      make(map[string]map[string]*Session),
		authn:       authn,
		idleTimeout: idleTimeout,
		logger:      logger.With(slog.String("component", "session_registry")),
	}
}

// SetPresenceHandler wires the callback invoked on aggregate presence
// transitions. Must be called before sessions register.
func (r *Registry) SetPresenceHandler(fn PresenceFunc) {
	r.onPresence = fn
}

// Register validates the presented credential, creates a session bound to
// the given transport, and returns it.
func (r *Registry) Register(token string, out Sender, metadata map[string]string) (*Session, error) {
	identity, err := r.authn.Verify(token)
	if err != nil {
		return nil, relay.E(relay.CodeUnauthenticated, "credential rejected: %v", err)
	}

	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Elevated:    identity.Elevated,
		ConnectedAt: now,
		Metadata:    metadata,
		status:      relay.StatusOnline,
		lastSeenAt:  now,
		out:         out,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	userSessions := r.byUser[s.UserID]
	if userSessions == nil {
		userSessions = make(map[string]*Session)
		r.byUser[s.UserID] = userSessions
	}
	first := len(userSessions) == 0
	userSessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("session registered",
		slog.String("sessionID", s.ID),
		slog.String("userID", s.UserID),
	)

	if first {
		r.notifyPresence(s.UserID)
	}
	return s, nil
}

// Touch updates lastSeenAt. No-op if the session no longer exists.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
}

// SetStatus updates a session's status and triggers a presence notification.
func (r *Registry) SetStatus(sessionID string, status relay.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return relay.E(relay.CodeNotFound, "session %s not found", sessionID)
	}

	s.setStatus(status)
	r.notifyPresence(s.UserID)
	return nil
}

// Remove deletes the session. If it was the user's last session, an offline
// presence transition is emitted.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)

	last := false
	if userSessions, ok := r.byUser[s.UserID]; ok {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(r.byUser, s.UserID)
			last = true
		}
	}
	r.mu.Unlock()

	r.logger.Debug("session removed",
		slog.String("sessionID", sessionID),
		slog.String("userID", s.UserID),
		slog.Bool("lastForUser", last),
	)

	if last && r.onPresence != nil {
		r.onPresence(s.UserID, relay.StatusOffline)
	}
}

// Get returns the session by ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// SessionsForUser returns all live sessions for a user, for fan-out to a
// single identity's multiple devices.
func (r *Registry) SessionsForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userSessions, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(userSessions))
	for _, s := range userSessions {
		out = append(out, s)
	}
	return out
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Presence collapses the user's session statuses to the most active one.
func (r *Registry) Presence(userID string) relay.Status {
	r.mu.RLock()
	userSessions := r.byUser[userID]
	statuses := make([]relay.Status, 0, len(userSessions))
	for _, s := range userSessions {
		statuses = append(statuses, s.Status())
	}
	r.mu.RUnlock()

	return relay.CollapsePresence(statuses)
}

func (r *Registry) notifyPresence(userID string) {
	if r.onPresence == nil {
		return
	}
	r.onPresence(userID, r.Presence(userID))
}

// RunSweeper forcibly disconnects sessions idle past the configured
// threshold, checking on the given interval.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(time.Now())
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	cutoff := now.Add(-r.idleTimeout)

	var stale []*Session
	r.mu.RLock()
	for _, s := range r.sessions {
		if s.LastSeenAt().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		r.logger.Info("disconnecting idle session",
			slog.String("sessionID", s.ID),
			slog.String("userID", s.UserID),
		)
		s.Evict("idle timeout")
		r.Remove(s.ID)
	}
}
