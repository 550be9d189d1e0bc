package ws

import (
	"context"
	"errors"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"go-relay/internal/relay"
	"go-relay/internal/room"
)

// EventKind is an inbound client event type. The dispatch table below is the
// single place raw event strings are interpreted; handlers never see them.
type EventKind string

const (
	EventJoinRoom     EventKind = "join-room"
	EventLeaveRoom    EventKind = "leave-room"
	EventSendMessage  EventKind = "send-message"
	EventUpdateStatus EventKind = "update-status"
	EventTyping       EventKind = "typing"
	EventHeartbeat    EventKind = "heartbeat"
)

type handlerFunc func(c *Client, data json.RawMessage)

var handlers = map[EventKind]handlerFunc{
	EventJoinRoom:     (*Client).handleJoinRoom,
	EventLeaveRoom:    (*Client).handleLeaveRoom,
	EventSendMessage:  (*Client).handleSendMessage,
	EventUpdateStatus: (*Client).handleUpdateStatus,
	EventTyping:       (*Client).handleTyping,
	EventHeartbeat:    (*Client).handleHeartbeat,
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) dispatch(raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed client event", slog.Any("error", err))
		return
	}

	handler, ok := handlers[EventKind(msg.Type)]
	if !ok {
		c.logger.Warn("unknown event type", slog.String("type", msg.Type))
		c.sendError(relay.E(relay.CodeNotFound, "unknown event type %q", msg.Type))
		return
	}

	c.deps.Sessions.Touch(c.sess.ID)
	handler(c, msg.Data)
}

// sendFrame encodes and queues an outbound frame, logging on failure.
func (c *Client) sendFrame(frameType string, data any) {
	payload, err := relay.EncodeFrame(frameType, data)
	if err != nil {
		c.logger.Error("failed to encode frame", slog.String("type", frameType), slog.Any("error", err))
		return
	}
	if err := c.Send(payload); err != nil {
		c.logger.Warn("failed to queue frame", slog.String("type", frameType), slog.Any("error", err))
	}
}

type errorData struct {
	Code    relay.Code `json:"code"`
	Message string     `json:"message"`
}

func (c *Client) sendError(err error) {
	code := relay.CodeOf(err)
	if code == "" {
		code = relay.CodeUpstreamUnavailable
	}
	msg := err.Error()
	var coded *relay.Error
	if errors.As(err, &coded) {
		msg = coded.Message
	}
	c.sendFrame(relay.FrameError, errorData{Code: code, Message: msg})
}

type joinRoomData struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

func (c *Client) handleJoinRoom(data json.RawMessage) {
	var req joinRoomData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		c.logger.Warn("malformed join-room", slog.Any("error", err))
		return
	}

	info, err := c.deps.Rooms.Join(req.RoomID, c.sess.UserID, room.JoinOptions{
		Password: req.Password,
		Elevated: c.sess.Elevated,
	})
	if err != nil {
		c.sendError(err)
		return
	}

	c.sendFrame(relay.FrameRoomJoined, map[string]any{
		"room":    info,
		"members": info.Members,
	})
	c.deps.Router.AnnounceMembership(req.RoomID, c.sess.UserID, true)
}

type leaveRoomData struct {
	RoomID string `json:"roomId"`
}

func (c *Client) handleLeaveRoom(data json.RawMessage) {
	var req leaveRoomData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return
	}

	c.deps.Rooms.Leave(req.RoomID, c.sess.UserID)
	c.deps.Router.AnnounceMembership(req.RoomID, c.sess.UserID, false)
}

type sendMessageData struct {
	Target  string          `json:"target"`
	Kind    relay.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Client) handleSendMessage(data json.RawMessage) {
	var req sendMessageData
	if err := json.Unmarshal(data, &req); err != nil || req.Target == "" {
		c.logger.Warn("malformed send-message", slog.Any("error", err))
		return
	}
	if req.Kind == "" {
		req.Kind = relay.KindText
	}
	if !req.Kind.Valid() {
		c.logger.Warn("unknown message kind", slog.String("kind", string(req.Kind)))
		return
	}

	env := relay.NewEnvelope(c.sess.UserID, req.Target, req.Kind, req.Payload, c.resolveMode(req.Target))
	receipt, err := c.deps.Router.Route(context.Background(), env)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendFrame(relay.FrameMessageDelivered, receipt)
}

// resolveMode picks the delivery mode for a target: the broadcast sentinel,
// a known room, or a user ID.
func (c *Client) resolveMode(target string) relay.DeliveryMode {
	if target == relay.TargetBroadcast {
		return relay.DeliverBroadcast
	}
	if _, err := c.deps.Rooms.Get(target); err == nil {
		return relay.DeliverRoom
	}
	return relay.DeliverDirect
}

type updateStatusData struct {
	Status relay.Status `json:"status"`
}

func (c *Client) handleUpdateStatus(data json.RawMessage) {
	var req updateStatusData
	if err := json.Unmarshal(data, &req); err != nil || !req.Status.Valid() {
		c.logger.Warn("malformed update-status")
		return
	}

	if err := c.deps.Sessions.SetStatus(c.sess.ID, req.Status); err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleTyping(data json.RawMessage) {
	// The payload is opaque to the router; only the target fields are
	// probed here.
	roomID := gjson.GetBytes(data, "roomId").String()
	targetUserID := gjson.GetBytes(data, "targetUserId").String()

	var env *relay.Envelope
	switch {
	case roomID != "":
		env = relay.NewEnvelope(c.sess.UserID, roomID, relay.KindTyping, data, relay.DeliverRoom)
	case targetUserID != "":
		env = relay.NewEnvelope(c.sess.UserID, targetUserID, relay.KindTyping, data, relay.DeliverDirect)
	default:
		return
	}

	// Fire-and-forget: typing indicators carry no response and report no
	// errors.
	if _, err := c.deps.Router.Route(context.Background(), env); err != nil {
		c.logger.Debug("typing event not routed", slog.Any("error", err))
	}
}

func (c *Client) handleHeartbeat(json.RawMessage) {
	c.deps.Sessions.Touch(c.sess.ID)
	c.sendFrame(relay.FrameHeartbeatAck, nil)
}
