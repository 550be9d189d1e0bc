// Package router validates envelopes and forwards them to their targets:
// local sessions synchronously, the cross-instance fan-out bridge and the
// event log asynchronously. The synchronous path returns once local delivery
// is attempted.
package router

import (
	"context"
	"log/slog"
	"time"

	"go-relay/internal/relay"
	"go-relay/internal/room"
	"go-relay/internal/session"
	"go-relay/internal/stats"
	"go-relay/internal/storage"
)

// Publisher is the cross-instance fan-out side.
type Publisher interface {
	Publish(ctx context.Context, topic string, event relay.Event) error
}

// Emitter is the durable event-log side.
type Emitter interface {
	Emit(ctx context.Context, topic string, event relay.Event) error
}

// Fan-out topics.
const (
	TopicEnvelope = "envelope"
	TopicPresence = "presence"
	TopicRoom     = "room"
)

const asyncTimeout = 10 * time.Second

// DeliveryReceipt reports local delivery in aggregate: a failure writing to
// one socket never blocks the others.
type DeliveryReceipt struct {
	EnvelopeID string `json:"id"`
	Attempted  int    `json:"attempted"`
	Delivered  int    `json:"delivered"`
}

type Router struct {
	sessions *session.Registry
	rooms    *room.Registry
	fanout   Publisher
	bus      Emitter
	store    storage.Adapter
	stats    *stats.Collector
	logger   *slog.Logger

	maxPayload int
	instanceID string
}

type Config struct {
	MaxPayloadBytes int
	InstanceID      string
}

func New(sessions *session.Registry, rooms *room.Registry, fanout Publisher, bus Emitter, store storage.Adapter, collector *stats.Collector, cfg Config, logger *slog.Logger) *Router {
	if store == nil {
		store = storage.Noop{}
	}
	return &Router{
		sessions:   sessions,
		rooms:      rooms,
		fanout:     fanout,
		bus:        bus,
		store:      store,
		stats:      collector,
		logger:     logger.With(slog.String("component", "message_router")),
		maxPayload: cfg.MaxPayloadBytes,
		instanceID: cfg.InstanceID,
	}
}

// Route validates and delivers an envelope. Validation errors are returned
// synchronously; the cross-instance publish, event-log emit and storage write
// run concurrently after the local attempt and are never waited on.
func (r *Router) Route(ctx context.Context, env *relay.Envelope) (DeliveryReceipt, error) {
	if len(r.sessions.SessionsForUser(env.SenderUserID)) == 0 {
		return DeliveryReceipt{}, relay.E(relay.CodeUnauthenticated, "sender %s has no live session", env.SenderUserID)
	}

	if env.DeliveryMode == relay.DeliverRoom {
		member, err := r.rooms.IsMember(env.Target, env.SenderUserID)
		if err != nil {
			return DeliveryReceipt{}, err
		}
		if !member {
			return DeliveryReceipt{}, relay.E(relay.CodeForbidden, "sender %s is not a member of room %s", env.SenderUserID, env.Target)
		}
	}

	if r.maxPayload > 0 && len(env.Payload) > r.maxPayload {
		return DeliveryReceipt{}, relay.E(relay.CodePayloadTooLarge, "payload is %d bytes, limit %d", len(env.Payload), r.maxPayload)
	}

	receipt := r.deliverLocal(env)
	r.stats.MessageRouted()

	go r.publishEnvelope(env)
	if !env.Kind.Transient() {
		go r.emitMessageSent(env)
		go r.persistMessage(env)
	}

	return receipt, nil
}

// deliverLocal writes the envelope to every local session subscribed to the
// target. Best-effort per socket; failures are counted, not propagated.
func (r *Router) deliverLocal(env *relay.Envelope) DeliveryReceipt {
	targets := r.resolveLocal(env)

	payload, err := relay.EncodeFrame(relay.FrameMessage, env)
	if err != nil {
		r.logger.Error("failed to encode message frame",
			slog.String("envelopeID", env.ID), slog.Any("error", err))
		return DeliveryReceipt{EnvelopeID: env.ID, Attempted: len(targets)}
	}

	receipt := DeliveryReceipt{EnvelopeID: env.ID, Attempted: len(targets)}
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			r.logger.Debug("socket write failed, skipping session",
				slog.String("sessionID", s.ID),
				slog.String("envelopeID", env.ID),
				slog.Any("error", err),
			)
			continue
		}
		receipt.Delivered++
	}

	r.logger.Debug("local delivery complete",
		slog.String("envelopeID", env.ID),
		slog.String("mode", string(env.DeliveryMode)),
		slog.Int("delivered", receipt.Delivered),
		slog.Int("attempted", receipt.Attempted),
	)
	return receipt
}

// resolveLocal maps an envelope's target to the local sessions it should
// reach. Broadcast excludes all of the sender's own sessions.
func (r *Router) resolveLocal(env *relay.Envelope) []*session.Session {
	switch env.DeliveryMode {
	case relay.DeliverRoom:
		members, err := r.rooms.Members(env.Target)
		if err != nil {
			return nil
		}
		var targets []*session.Session
		for _, userID := range members {
			targets = append(targets, r.sessions.SessionsForUser(userID)...)
		}
		return targets
	case relay.DeliverDirect:
		return r.sessions.SessionsForUser(env.Target)
	case relay.DeliverBroadcast:
		var targets []*session.Session
		for _, s := range r.sessions.All() {
			if s.UserID == env.SenderUserID {
				continue
			}
			targets = append(targets, s)
		}
		return targets
	default:
		return nil
	}
}

// HandleClusterEvent re-injects an event received from another instance into
// the local delivery path. Nothing here re-publishes: the origin filter in
// the bridge plus local-only delivery prevent loops.
func (r *Router) HandleClusterEvent(event relay.Event) {
	switch event.Type {
	case relay.EventEnvelope:
		if event.Envelope == nil {
			return
		}
		r.deliverLocal(event.Envelope)
	case relay.EventPresenceChanged:
		r.deliverToAll(relay.FramePresenceUpdate, presenceUpdate{UserID: event.UserID, Status: event.Status})
	case relay.EventRoomDeleted:
		members := r.rooms.Drop(event.RoomID)
		r.deliverToUsers(members, relay.FrameRoomDeleted, roomRef{RoomID: event.RoomID})
	case relay.EventUserJoined:
		r.deliverToRoom(event.RoomID, relay.FrameUserJoined, membership{RoomID: event.RoomID, UserID: event.UserID})
	case relay.EventUserLeft:
		r.deliverToRoom(event.RoomID, relay.FrameUserLeft, membership{RoomID: event.RoomID, UserID: event.UserID})
	default:
		r.logger.Warn("unknown cluster event", slog.String("type", string(event.Type)))
	}
}

// HandleLogEvent re-injects an event consumed from the durable log as a
// synthetic envelope through the local delivery path.
func (r *Router) HandleLogEvent(topic string, event relay.Event) {
	switch topic {
	case relay.TopicUserNotification:
		env := event.Envelope
		if env == nil || event.UserID == "" {
			return
		}
		synthetic := relay.NewEnvelope(env.SenderUserID, event.UserID, relay.KindSystem, env.Payload, relay.DeliverDirect)
		r.deliverLocal(synthetic)
	case relay.TopicSystemBroadcast:
		if event.Envelope == nil {
			return
		}
		synthetic := relay.NewEnvelope("", relay.TargetBroadcast, relay.KindSystem, event.Envelope.Payload, relay.DeliverBroadcast)
		r.deliverLocal(synthetic)
	default:
		r.logger.Warn("unknown log topic", slog.String("topic", topic))
	}
}

// PresenceChanged announces a user's aggregate presence transition to local
// sessions, other instances and the event log. Wired as the session
// registry's presence handler.
func (r *Router) PresenceChanged(userID string, status relay.Status) {
	r.deliverToAll(relay.FramePresenceUpdate, presenceUpdate{UserID: userID, Status: status})

	event := relay.Event{Type: relay.EventPresenceChanged, UserID: userID, Status: status}
	go r.publish(TopicPresence, event)
	go r.emit(relay.TopicPresenceChanged, event)
}

// EvictRoom delivers room-deleted to every member's local sessions and
// relays the deletion to the rest of the cluster. Wired as the room
// registry's evict handler, which runs before the room entry is removed.
func (r *Router) EvictRoom(roomID string, members []string) {
	r.deliverToUsers(members, relay.FrameRoomDeleted, roomRef{RoomID: roomID})
	go r.publish(TopicRoom, relay.Event{Type: relay.EventRoomDeleted, RoomID: roomID})
}

// AnnounceMembership tells a room's local sessions and the rest of the
// cluster that a user joined or left.
func (r *Router) AnnounceMembership(roomID, userID string, joined bool) {
	frameType := relay.FrameUserJoined
	eventType := relay.EventUserJoined
	if !joined {
		frameType = relay.FrameUserLeft
		eventType = relay.EventUserLeft
	}
	r.deliverToRoom(roomID, frameType, membership{RoomID: roomID, UserID: userID})
	go r.publish(TopicRoom, relay.Event{Type: eventType, RoomID: roomID, UserID: userID})
}

type presenceUpdate struct {
	UserID string       `json:"userId"`
	Status relay.Status `json:"status"`
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

type membership struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (r *Router) deliverToAll(frameType string, data any) {
	payload, err := relay.EncodeFrame(frameType, data)
	if err != nil {
		r.logger.Error("failed to encode frame", slog.String("type", frameType), slog.Any("error", err))
		return
	}
	for _, s := range r.sessions.All() {
		if err := s.Send(payload); err != nil {
			r.logger.Debug("socket write failed", slog.String("sessionID", s.ID), slog.Any("error", err))
		}
	}
}

func (r *Router) deliverToUsers(userIDs []string, frameType string, data any) {
	payload, err := relay.EncodeFrame(frameType, data)
	if err != nil {
		r.logger.Error("failed to encode frame", slog.String("type", frameType), slog.Any("error", err))
		return
	}
	for _, userID := range userIDs {
		for _, s := range r.sessions.SessionsForUser(userID) {
			if err := s.Send(payload); err != nil {
				r.logger.Debug("socket write failed", slog.String("sessionID", s.ID), slog.Any("error", err))
			}
		}
	}
}

func (r *Router) deliverToRoom(roomID, frameType string, data any) {
	members, err := r.rooms.Members(roomID)
	if err != nil {
		return
	}
	r.deliverToUsers(members, frameType, data)
}

func (r *Router) publishEnvelope(env *relay.Envelope) {
	r.publish(TopicEnvelope, relay.Event{Type: relay.EventEnvelope, Envelope: env})
}

func (r *Router) emitMessageSent(env *relay.Envelope) {
	r.emit(relay.TopicMessageSent, relay.Event{
		Origin:   r.instanceID,
		Type:     relay.EventEnvelope,
		Envelope: env,
	})
}

func (r *Router) publish(topic string, event relay.Event) {
	if r.fanout == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()
	// Bounded retry and the drop-with-warning live inside the bridge.
	_ = r.fanout.Publish(ctx, topic, event)
}

func (r *Router) emit(topic string, event relay.Event) {
	if r.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()
	_ = r.bus.Emit(ctx, topic, event)
}

func (r *Router) persistMessage(env *relay.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
	defer cancel()
	if err := r.store.SaveMessage(ctx, env); err != nil {
		r.logger.Error("failed to persist message",
			slog.String("envelopeID", env.ID), slog.Any("error", err))
	}
}
