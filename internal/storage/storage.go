// Package storage defines the persistence contract the core calls into. The
// core does not own schema or query logic; adapters are called asynchronously
// and their failures are logged, never surfaced to senders.
package storage

import (
	"context"
	"time"

	"go-relay/internal/relay"
)

// RoomRecord is the persisted shape of a room.
type RoomRecord struct {
	ID          string
	DisplayName string
	Visibility  string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Active      bool
}

// Adapter is the write surface the core needs.
type Adapter interface {
	SaveMessage(ctx context.Context, env *relay.Envelope) error
	UpsertRoom(ctx context.Context, room RoomRecord) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// Noop discards all writes. Used when no Postgres URL is configured and in
// tests.
type Noop struct{}

var _ Adapter = Noop{}

func (Noop) SaveMessage(context.Context, *relay.Envelope) error { return nil }
func (Noop) UpsertRoom(context.Context, RoomRecord) error       { return nil }
func (Noop) DeleteRoom(context.Context, string) error           { return nil }
