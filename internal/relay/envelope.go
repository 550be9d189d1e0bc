// Package relay defines the wire types shared by every component: message
// envelopes, cross-instance events, presence statuses and the error taxonomy.
package relay

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind classifies an envelope's payload.
type Kind string

const (
	KindText     Kind = "text"
	KindSystem   Kind = "system"
	KindTyping   Kind = "typing"
	KindPresence Kind = "presence"
	KindCustom   Kind = "custom"
)

// Valid reports whether k is a known envelope kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindSystem, KindTyping, KindPresence, KindCustom:
		return true
	}
	return false
}

// Transient reports whether envelopes of this kind skip the storage callback.
func (k Kind) Transient() bool {
	return k == KindTyping || k == KindPresence
}

// DeliveryMode selects how an envelope's target is resolved.
type DeliveryMode string

const (
	DeliverRoom      DeliveryMode = "room"
	DeliverDirect    DeliveryMode = "direct"
	DeliverBroadcast DeliveryMode = "broadcast"
)

// TargetBroadcast is the target value for broadcast envelopes.
const TargetBroadcast = "broadcast"

// Envelope is the unit of transit. ID is assigned once at send time and never
// mutated; Payload is opaque to the router.
type Envelope struct {
	ID           string          `json:"id"`
	SenderUserID string          `json:"senderUserId"`
	Target       string          `json:"target"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	SentAt       time.Time       `json:"sentAt"`
	DeliveryMode DeliveryMode    `json:"deliveryMode"`
}

// NewEnvelope assembles an envelope with a fresh ID and send timestamp.
func NewEnvelope(sender, target string, kind Kind, payload json.RawMessage, mode DeliveryMode) *Envelope {
	return &Envelope{
		ID:           uuid.NewString(),
		SenderUserID: sender,
		Target:       target,
		Kind:         kind,
		Payload:      payload,
		SentAt:       time.Now().UTC(),
		DeliveryMode: mode,
	}
}
