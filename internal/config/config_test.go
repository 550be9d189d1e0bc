package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(testLogger(), "does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "nats://localhost:4222", cfg.Nats.URL)
	assert.Empty(t, cfg.Postgres.URL)
	assert.Equal(t, 25*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Relay.IdleTimeout)
	assert.Equal(t, 64*1024, cfg.Relay.MaxPayloadBytes)
	assert.Equal(t, 256, cfg.Relay.DefaultRoomCapacity)
	assert.NotEmpty(t, cfg.Relay.InstanceID, "instance ID should be generated when unset")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_SERVER_ADDRESS", ":9999")
	t.Setenv("RELAY_RELAY_INSTANCEID", "instance-a")

	cfg, err := Load(testLogger(), "does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "instance-a", cfg.Relay.InstanceID)
}

func TestLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	cfg.LogLevel = "unknown"
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
