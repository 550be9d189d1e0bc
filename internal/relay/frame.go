package relay

import "github.com/goccy/go-json"

// Frame is the outbound unit written to client sockets.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbound frame types.
const (
	FrameMessage          = "message"
	FrameRoomJoined       = "room-joined"
	FrameMessageDelivered = "message-delivered"
	FrameHeartbeatAck     = "heartbeat-ack"
	FrameUserJoined       = "user-joined"
	FrameUserLeft         = "user-left"
	FramePresenceUpdate   = "presence-update"
	FrameRoomDeleted      = "room-deleted"
	FrameError            = "error"
)

// EncodeFrame marshals an outbound frame.
func EncodeFrame(frameType string, data any) ([]byte, error) {
	return json.Marshal(Frame{Type: frameType, Data: data})
}
