package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-relay/internal/relay"
)

// Postgres persists messages and rooms through a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Adapter = (*Postgres)(nil)

func NewPostgres(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{
		pool:   pool,
		logger: logger.With(slog.String("component", "storage_postgres")),
	}, nil
}

func (p *Postgres) SaveMessage(ctx context.Context, env *relay.Envelope) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_user_id, target, kind, payload, sent_at, delivery_mode)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		env.ID, env.SenderUserID, env.Target, string(env.Kind), []byte(env.Payload), env.SentAt, string(env.DeliveryMode),
	)
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", env.ID, err)
	}
	return nil
}

func (p *Postgres) UpsertRoom(ctx context.Context, room RoomRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO rooms (id, display_name, visibility, created_by, created_at, updated_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = $2, visibility = $3, updated_at = $6, active = $7`,
		room.ID, room.DisplayName, room.Visibility, room.CreatedBy, room.CreatedAt, room.UpdatedAt, room.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom removes the room row. Message history is intentionally left in
// place.
func (p *Postgres) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
