package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-relay/internal/relay"
	"go-relay/internal/storage"
)

// EvictFunc receives the members of a room that is being deleted, before the
// room entry is removed from the registry.
type EvictFunc func(roomID string, members []string)

// CreateOptions carries optional room settings.
type CreateOptions struct {
	Capacity int
	Password string
}

// JoinOptions carries the caller's join parameters.
type JoinOptions struct {
	Password string
	// Elevated callers bypass the private-room password check.
	Elevated bool
}

// Registry owns all rooms known to this instance. The registry map and each
// room have separate locks; joins and leaves on different rooms never block
// each other.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	defaultCapacity int
	store           storage.Adapter
	logger          *slog.Logger

	onEvict EvictFunc
}

func NewRegistry(defaultCapacity int, store storage.Adapter, logger *slog.Logger) *Registry {
	if store == nil {
		store = storage.Noop{}
	}
	return &Registry{
		rooms:           make(map[string]*Room),
		defaultCapacity: defaultCapacity,
		store:           store,
		logger:          logger.With(slog.String("component", "room_registry")),
	}
}

// SetEvictHandler wires the callback used to notify live sessions before a
// room is deleted. Must be set before rooms are deleted.
func (r *Registry) SetEvictHandler(fn EvictFunc) {
	r.onEvict = fn
}

// Create registers a new room. Fails if the ID is taken.
func (r *Registry) Create(roomID, displayName string, vis Visibility, opts CreateOptions, createdBy string) (Info, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = r.defaultCapacity
	}

	now := time.Now()
	rm := &Room{
		ID:            roomID,
		DisplayName:   displayName,
		Visibility:    vis,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		capacityLimit: capacity,
		password:      opts.Password,
		members:       make(map[string]struct{}),
		updatedAt:     now,
		active:        true,
	}

	r.mu.Lock()
	if _, exists := r.rooms[roomID]; exists {
		r.mu.Unlock()
		return Info{}, relay.E(relay.CodeForbidden, "room %s already exists", roomID)
	}
	r.rooms[roomID] = rm
	r.mu.Unlock()

	r.logger.Info("room created",
		slog.String("roomID", roomID),
		slog.String("createdBy", createdBy),
		slog.String("visibility", string(vis)),
	)
	r.persistUpsert(rm)
	return rm.snapshot(), nil
}

// Join adds a membership. Direct-message rooms are created implicitly on
// first join; all other rooms must exist. Joining twice has no additional
// effect.
func (r *Registry) Join(roomID, userID string, opts JoinOptions) (Info, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()

	if !ok {
		if !IsDirectRoomID(roomID) {
			return Info{}, relay.E(relay.CodeNotFound, "room %s not found", roomID)
		}
		return r.joinDirect(roomID, userID)
	}

	rm.mu.Lock()
	if !rm.active {
		rm.mu.Unlock()
		return Info{}, relay.E(relay.CodeNotFound, "room %s is archived", roomID)
	}
	if _, member := rm.members[userID]; member {
		rm.mu.Unlock()
		return rm.snapshot(), nil
	}
	if rm.Visibility == VisibilityPrivate && !opts.Elevated && opts.Password != rm.password {
		rm.mu.Unlock()
		return Info{}, relay.E(relay.CodeForbidden, "room %s requires an invitation", roomID)
	}
	if rm.capacityLimit > 0 && len(rm.members) >= rm.capacityLimit {
		rm.mu.Unlock()
		return Info{}, relay.E(relay.CodeRoomFull, "room %s is at capacity", roomID)
	}
	rm.members[userID] = struct{}{}
	rm.updatedAt = time.Now()
	rm.mu.Unlock()

	r.logger.Debug("user joined room", slog.String("roomID", roomID), slog.String("userID", userID))
	r.persistUpsert(rm)
	return rm.snapshot(), nil
}

// joinDirect creates the direct room if a concurrent join has not already,
// then retries the join through the normal path.
func (r *Registry) joinDirect(roomID, userID string) (Info, error) {
	now := time.Now()
	rm := &Room{
		ID:          roomID,
		DisplayName: roomID,
		Visibility:  VisibilityDirect,
		CreatedBy:   userID,
		CreatedAt:   now,
		// A direct pair never holds more than two members.
		capacityLimit: 2,
		members:       map[string]struct{}{userID: {}},
		updatedAt:     now,
		active:        true,
	}

	r.mu.Lock()
	if _, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		// Lost the create race. The normal path applies the active and
		// capacity checks the winner's room now enforces.
		return r.Join(roomID, userID, JoinOptions{})
	}
	r.rooms[roomID] = rm
	r.mu.Unlock()

	r.logger.Debug("direct room created", slog.String("roomID", roomID), slog.String("userID", userID))
	r.persistUpsert(rm)
	return rm.snapshot(), nil
}

// Leave removes a membership. Removing an absent member is a no-op.
func (r *Registry) Leave(roomID, userID string) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	_, member := rm.members[userID]
	if member {
		delete(rm.members, userID)
		rm.updatedAt = time.Now()
	}
	rm.mu.Unlock()

	if member {
		r.logger.Debug("user left room", slog.String("roomID", roomID), slog.String("userID", userID))
		r.persistUpsert(rm)
	}
}

// Members returns a point-in-time snapshot of a room's member user IDs.
func (r *Registry) Members(roomID string) ([]string, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, relay.E(relay.CodeNotFound, "room %s not found", roomID)
	}
	return rm.snapshot().Members, nil
}

// IsMember reports whether the user currently belongs to the room.
func (r *Registry) IsMember(roomID, userID string) (bool, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false, relay.E(relay.CodeNotFound, "room %s not found", roomID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, member := rm.members[userID]
	return member, nil
}

// Get returns a snapshot of the room.
func (r *Registry) Get(roomID string) (Info, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return Info{}, relay.E(relay.CodeNotFound, "room %s not found", roomID)
	}
	return rm.snapshot(), nil
}

// Count returns the number of active rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Archive deactivates a room without deleting it, preserving history. Only
// the creator or an elevated caller may archive.
func (r *Registry) Archive(roomID, callerID string, elevated bool) error {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return relay.E(relay.CodeNotFound, "room %s not found", roomID)
	}
	if rm.CreatedBy != callerID && !elevated {
		return relay.E(relay.CodeForbidden, "only the room owner may archive %s", roomID)
	}

	rm.mu.Lock()
	rm.active = false
	rm.updatedAt = time.Now()
	rm.mu.Unlock()

	r.logger.Info("room archived", slog.String("roomID", roomID), slog.String("by", callerID))
	r.persistUpsert(rm)
	return nil
}

// Delete evicts all live members with a synthetic room-deleted event and then
// removes the room entry, guaranteeing no client is left silently subscribed
// to a group that no longer exists. Stored history is not touched.
func (r *Registry) Delete(roomID, callerID string, elevated bool) error {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return relay.E(relay.CodeNotFound, "room %s not found", roomID)
	}
	if rm.CreatedBy != callerID && !elevated {
		return relay.E(relay.CodeForbidden, "only the room owner may delete %s", roomID)
	}

	// Deactivate first so concurrent joins fail while eviction runs.
	rm.mu.Lock()
	rm.active = false
	members := make([]string, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	rm.mu.Unlock()

	if r.onEvict != nil {
		r.onEvict(roomID, members)
	}

	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	r.logger.Info("room deleted",
		slog.String("roomID", roomID),
		slog.String("by", callerID),
		slog.Int("evicted", len(members)),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.DeleteRoom(ctx, roomID); err != nil {
			r.logger.Error("failed to delete room from storage",
				slog.String("roomID", roomID), slog.Any("error", err))
		}
	}()
	return nil
}

// Drop removes a room entry without owner gating and returns its members.
// Used when another instance in the cluster deleted the room; storage cleanup
// already happened on the deleting instance.
func (r *Registry) Drop(roomID string) []string {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	members := make([]string, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	rm.mu.Unlock()

	r.logger.Debug("room dropped", slog.String("roomID", roomID), slog.Int("members", len(members)))
	return members
}

// persistUpsert writes the room to storage without blocking the caller.
func (r *Registry) persistUpsert(rm *Room) {
	rm.mu.Lock()
	rec := rm.record()
	rm.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.UpsertRoom(ctx, rec); err != nil {
			r.logger.Error("failed to upsert room in storage",
				slog.String("roomID", rec.ID), slog.Any("error", err))
		}
	}()
}
