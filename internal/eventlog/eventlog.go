// Package eventlog is a narrow adapter over the durable event log. The
// router emits a curated subset of events here for downstream asynchronous
// consumers; durability is a secondary guarantee and never a precondition for
// real-time delivery.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go-relay/internal/relay"
)

const (
	// StreamName is the JetStream stream holding relay events.
	StreamName = "RELAY_EVENTS"
	// SubjectPrefix scopes all relay subjects. Topics map to
	// relay.events.<topic>.
	SubjectPrefix = "relay.events."
	// ConsumerName is the durable consumer group for the subscription side.
	ConsumerName = "relay-core"

	emitTimeout = 3 * time.Second
	maxAttempts = 3
	baseBackoff = 200 * time.Millisecond
)

// Handler receives inbound events consumed from the log.
type Handler func(topic string, event relay.Event)

// Bus is the event-log bridge.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger

	// emitFn is swapped in tests to observe retry behavior.
	emitFn func(ctx context.Context, subject string, payload []byte) error
}

func Connect(ctx context.Context, natsURL string, logger *slog.Logger) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Relay core event log",
		Subjects:    []string{SubjectPrefix + ">"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	b := &Bus{
		nc:     nc,
		js:     js,
		stream: stream,
		logger: logger.With(slog.String("component", "event_bus")),
	}
	b.emitFn = func(ctx context.Context, subject string, payload []byte) error {
		_, err := b.js.Publish(ctx, subject, payload)
		return err
	}
	b.logger.Info("connected to NATS", slog.String("stream", StreamName))
	return b, nil
}

// Emit appends an event to the log. Failures are retried with bounded
// backoff, then dropped with a warning; the caller never blocks delivery on
// this.
func (b *Bus) Emit(ctx context.Context, topic string, event relay.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := SubjectPrefix + topic
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
		lastErr = b.emitFn(emitCtx, subject, payload)
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

	b.logger.Warn("dropping event after failed emit attempts",
		slog.String("topic", topic),
		slog.Int("attempts", maxAttempts),
		slog.Any("error", lastErr),
	)
	return relay.E(relay.CodeUpstreamUnavailable, "emit to %s failed: %v", topic, lastErr)
}

// Subscribe consumes the given topics under the durable consumer group and
// hands each event to the handler. Messages are acked after the handler
// returns; undecodable messages are terminated rather than redelivered.
func (b *Bus) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	subjects := make([]string, len(topics))
	for i, topic := range topics {
		subjects[i] = SubjectPrefix + topic
	}

	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:           ConsumerName,
		Durable:        ConsumerName,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxDeliver:     5,
		FilterSubjects: subjects,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}

	go func() {
		defer iter.Stop()
		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := iter.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("failed to fetch message", slog.Any("error", err))
				continue
			}

			var event relay.Event
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				b.logger.Error("failed to unmarshal inbound event", slog.Any("error", err))
				if err := msg.Term(); err != nil {
					b.logger.Error("failed to terminate message", slog.Any("error", err))
				}
				continue
			}

			handler(strings.TrimPrefix(msg.Subject(), SubjectPrefix), event)
			if err := msg.Ack(); err != nil {
				b.logger.Error("failed to ack message", slog.Any("error", err))
			}
		}
	}()

	b.logger.Info("subscribed to event log", slog.Any("topics", topics))
	return nil
}

func (b *Bus) Close() {
	b.nc.Close()
}
