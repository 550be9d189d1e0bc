package relay

import "time"

// EventType names a cluster or event-log event.
type EventType string

const (
	// Cross-instance fan-out events.
	EventEnvelope        EventType = "envelope"
	EventPresenceChanged EventType = "presence:changed"
	EventRoomDeleted     EventType = "room:deleted"
	EventUserJoined      EventType = "user:joined"
	EventUserLeft        EventType = "user:left"

	// Event-log topics. Outbound are the curated subset the router emits;
	// inbound are consumed and re-injected as synthetic envelopes.
	TopicMessageSent      = "message-sent"
	TopicPresenceChanged  = "presence-changed"
	TopicUserNotification = "user-notification"
	TopicSystemBroadcast  = "system-broadcast"
)

// Event is the wire unit shared by the fan-out bridge and the event-log
// bridge. Origin carries the publishing instance's ID so inbound events that
// looped back through the broker can be dropped.
type Event struct {
	Origin    string    `json:"origin"`
	Type      EventType `json:"type"`
	Envelope  *Envelope `json:"envelope,omitempty"`
	RoomID    string    `json:"roomId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
