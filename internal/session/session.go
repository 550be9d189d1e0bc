// Package session tracks one live connection per authenticated
// identity-socket pair and derives per-user presence from the union of a
// user's sessions.
package session

import (
	"sync"
	"time"

	"go-relay/internal/relay"
)

// Sender is the transport-facing write side of a session. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(payload []byte) error
	Close(reason string)
}

// Session is one live authenticated connection. A session exists from
// successful authentication until disconnect. All mutation goes through its
// mutex so no two operations on the same session interleave.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	Elevated    bool
	ConnectedAt time.Time
	Metadata    map[string]string

	mu         sync.Mutex
	status     relay.Status
	lastSeenAt time.Time
	out        Sender
}

func (s *Session) Status() relay.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) LastSeenAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenAt
}

func (s *Session) setStatus(status relay.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.lastSeenAt = time.Now()
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeenAt = time.Now()
}

// Send writes a payload to the session's transport.
func (s *Session) Send(payload []byte) error {
	return s.out.Send(payload)
}

// Evict force-closes the session's transport with a reason.
func (s *Session) Evict(reason string) {
	s.out.Close(reason)
}
