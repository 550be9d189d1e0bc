// Package bridge propagates room and presence events to every other instance
// in the cluster over Redis pub/sub. Delivery is low-latency and best-effort;
// durable consumers belong on the event-log side, not here.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"go-relay/internal/relay"
)

const (
	topicPrefix = "relay:"

	publishTimeout = 2 * time.Second
	maxAttempts    = 3
	baseBackoff    = 100 * time.Millisecond
)

// Handler receives events published by other instances.
type Handler func(event relay.Event)

// Bridge wraps the shared pub/sub primitive. Every published event carries
// this instance's ID; inbound events whose origin is self are dropped so a
// broker loop can never re-deliver our own traffic.
type Bridge struct {
	rdb        *redis.Client
	instanceID string
	logger     *slog.Logger

	handler Handler

	// publishFn is swapped in tests to observe retry behavior.
	publishFn func(ctx context.Context, channel string, payload []byte) error
}

func New(redisURL, instanceID string, logger *slog.Logger) (*Bridge, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := &Bridge{
		rdb:        rdb,
		instanceID: instanceID,
		logger:     logger.With(slog.String("component", "fanout_bridge")),
	}
	b.publishFn = func(ctx context.Context, channel string, payload []byte) error {
		return b.rdb.Publish(ctx, channel, payload).Err()
	}
	b.logger.Info("connected to redis", slog.String("instanceID", instanceID))
	return b, nil
}

// OnReceive registers the inbound callback. Must be set before Run.
func (b *Bridge) OnReceive(handler Handler) {
	b.handler = handler
}

// Publish sends an event to all other instances. Failures are retried with
// bounded exponential backoff and then dropped with a warning; local delivery
// has already succeeded and is never rolled back.
func (b *Bridge) Publish(ctx context.Context, topic string, event relay.Event) error {
	event.Origin = b.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := topicPrefix + topic
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		lastErr = b.publishFn(pubCtx, channel, payload)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	b.logger.Warn("dropping event after failed publish attempts",
		slog.String("topic", topic),
		slog.String("type", string(event.Type)),
		slog.Int("attempts", maxAttempts),
		slog.Any("error", lastErr),
	)
	return relay.E(relay.CodeUpstreamUnavailable, "publish to %s failed: %v", topic, lastErr)
}

// Run subscribes to all cluster topics and dispatches inbound events until
// ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, topicPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to confirm subscription: %w", err)
	}
	b.logger.Info("subscribed to cluster events", slog.String("pattern", topicPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch([]byte(msg.Payload))
		}
	}
}

// dispatch decodes an inbound payload and hands it to the handler unless the
// event originated here.
func (b *Bridge) dispatch(payload []byte) {
	var event relay.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Error("failed to unmarshal inbound event", slog.Any("error", err))
		return
	}

	if event.Origin == b.instanceID {
		b.logger.Debug("dropping self-originated event", slog.String("type", string(event.Type)))
		return
	}
	if b.handler != nil {
		b.handler(event)
	}
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}
