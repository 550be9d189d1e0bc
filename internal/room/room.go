// Package room tracks named group memberships and room metadata. Membership
// is per userId rather than per session: a user can be in a room from any
// number of devices.
package room

import (
	"strings"
	"sync"
	"time"

	"go-relay/internal/storage"
)

// Visibility controls who may join a room.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityDirect  Visibility = "direct"
)

// directPrefix marks room IDs that are direct-message pairs and may be
// created implicitly on first join.
const directPrefix = "direct:"

// DirectRoomID derives the canonical room ID for a direct-message pair. The
// pair is ordered so both participants derive the same ID.
func DirectRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directPrefix + a + ":" + b
}

// IsDirectRoomID reports whether the room ID names a direct-message pair.
func IsDirectRoomID(roomID string) bool {
	return strings.HasPrefix(roomID, directPrefix)
}

// Room is a named group. All fields behind mu are guarded by the room's own
// lock so concurrent joins and leaves on the same room never race while
// different rooms never block each other.
type Room struct {
	ID          string
	DisplayName string
	Visibility  Visibility
	CreatedBy   string
	CreatedAt   time.Time

	mu            sync.Mutex
	capacityLimit int
	password      string
	members       map[string]struct{}
	updatedAt     time.Time
	active        bool
}

// Info is an immutable snapshot of a room's metadata and membership, for
// client responses.
type Info struct {
	ID          string     `json:"roomId"`
	DisplayName string     `json:"displayName"`
	Visibility  Visibility `json:"visibility"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Active      bool       `json:"isActive"`
	Members     []string   `json:"members"`
}

func (rm *Room) snapshot() Info {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	members := make([]string, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	return Info{
		ID:          rm.ID,
		DisplayName: rm.DisplayName,
		Visibility:  rm.Visibility,
		CreatedBy:   rm.CreatedBy,
		CreatedAt:   rm.CreatedAt,
		UpdatedAt:   rm.updatedAt,
		Active:      rm.active,
		Members:     members,
	}
}

func (rm *Room) record() storage.RoomRecord {
	return storage.RoomRecord{
		ID:          rm.ID,
		DisplayName: rm.DisplayName,
		Visibility:  string(rm.Visibility),
		CreatedBy:   rm.CreatedBy,
		CreatedAt:   rm.CreatedAt,
		UpdatedAt:   rm.updatedAt,
		Active:      rm.active,
	}
}
