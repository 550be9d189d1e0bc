package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"go-relay/internal/auth"
	"go-relay/internal/bridge"
	"go-relay/internal/config"
	"go-relay/internal/eventlog"
	"go-relay/internal/relay"
	"go-relay/internal/room"
	"go-relay/internal/router"
	"go-relay/internal/session"
	"go-relay/internal/stats"
	"go-relay/internal/storage"
	"go-relay/internal/ws"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(logger, "relay")
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Storage is optional: without a Postgres URL the core runs with
	// persistence disabled.
	var store storage.Adapter = storage.Noop{}
	if cfg.Postgres.URL != "" {
		pg, err := storage.NewPostgres(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		logger.Info("postgres storage enabled")
	}

	authn := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	sessions := session.NewRegistry(authn, cfg.Relay.IdleTimeout, logger)
	rooms := room.NewRegistry(cfg.Relay.DefaultRoomCapacity, store, logger)
	collector := stats.NewCollector(rooms.Count)

	fanout, err := bridge.New(cfg.Redis.URL, cfg.Relay.InstanceID, logger)
	if err != nil {
		return err
	}
	defer fanout.Close()

	bus, err := eventlog.Connect(ctx, cfg.Nats.URL, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	rt := router.New(sessions, rooms, fanout, bus, store, collector, router.Config{
		MaxPayloadBytes: cfg.Relay.MaxPayloadBytes,
		InstanceID:      cfg.Relay.InstanceID,
	}, logger)

	sessions.SetPresenceHandler(rt.PresenceChanged)
	rooms.SetEvictHandler(rt.EvictRoom)
	fanout.OnReceive(rt.HandleClusterEvent)

	if err := bus.Subscribe(ctx, []string{relay.TopicUserNotification, relay.TopicSystemBroadcast}, rt.HandleLogEvent); err != nil {
		return err
	}

	go func() {
		if err := fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fan-out bridge stopped", slog.Any("error", err))
		}
	}()
	go collector.Run(ctx, time.Second)
	go sessions.RunSweeper(ctx, time.Minute)

	deps := ws.Deps{
		Sessions:          sessions,
		Rooms:             rooms,
		Router:            rt,
		Stats:             collector,
		Logger:            logger,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/statsz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(collector.Snapshot()); err != nil {
			logger.Error("failed to encode stats", slog.Any("error", err))
		}
	})

	srv := &http.Server{Addr: cfg.Server.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", slog.Any("error", err))
		}
		// Close all live connections so their pumps drain.
		for _, s := range sessions.All() {
			s.Evict("server shutting down")
		}
	}()

	logger.Info("relay server starting",
		slog.String("addr", cfg.Server.Address),
		slog.String("instanceID", cfg.Relay.InstanceID),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server shut down gracefully")
	return nil
}
