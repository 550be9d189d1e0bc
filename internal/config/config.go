package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Relay    RelayConfig    `mapstructure:"relay"`
	LogLevel string         `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type NatsConfig struct {
	URL string `mapstructure:"url"`
}

type PostgresConfig struct {
	// URL is optional; when empty the server runs without persistence.
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type RelayConfig struct {
	// InstanceID identifies this process in the cluster. Defaults to a
	// random ID per boot.
	InstanceID          string        `mapstructure:"instanceId"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeatInterval"`
	IdleTimeout         time.Duration `mapstructure:"idleTimeout"`
	MaxPayloadBytes     int           `mapstructure:"maxPayloadBytes"`
	DefaultRoomCapacity int           `mapstructure:"defaultRoomCapacity"`
}

// Load reads configuration from an optional yaml file and environment
// variables prefixed with RELAY_.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("postgres.url", "")
	v.SetDefault("auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("relay.instanceId", "")
	v.SetDefault("relay.heartbeatInterval", "25s")
	v.SetDefault("relay.idleTimeout", "5m")
	v.SetDefault("relay.maxPayloadBytes", 64*1024)
	v.SetDefault("relay.defaultRoomCapacity", 256)
	v.SetDefault("logLevel", "info")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		logger.Warn("config file not found, using defaults and env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Relay.InstanceID == "" {
		cfg.Relay.InstanceID = uuid.NewString()
	}

	return &cfg, nil
}

// Level parses the configured log level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
