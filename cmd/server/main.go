package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexkv/facebook-clone/internal/api"
	"github.com/apexkv/facebook-clone/internal/api/middleware"
	"github.com/apexkv/facebook-clone/internal/auth"
	"github.com/apexkv/facebook-clone/internal/broker"
	"github.com/apexkv/facebook-clone/internal/chat"
	"github.com/apexkv/facebook-clone/internal/config"
	"github.com/apexkv/facebook-clone/internal/gateway"
	"github.com/apexkv/facebook-clone/internal/handlers"
	"github.com/apexkv/facebook-clone/internal/hub"
	"github.com/apexkv/facebook-clone/internal/presence"
	"github.com/apexkv/facebook-clone/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Pick the data store: PostgreSQL when configured, SQLite as the
	// development fallback, in-memory when neither is set.
	var dataStore store.DataStore
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("running database migrations...")
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		dataStore = pg
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sq
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	default:
		if !cfg.IsDevelopment() {
			logger.Fatal().Msg("no database configured")
		}
		dataStore = store.NewMemoryStore()
		logger.Warn().Msg("no database configured, using in-memory store")
	}
	defer dataStore.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Wire the chat engine
	registry := hub.NewRegistry(logger)
	tracker := presence.NewTracker(dataStore, redisStore, registry, logger, cfg.PresenceTimeout)
	rooms := chat.NewRooms(dataStore, logger)
	ledger := chat.NewLedger(dataStore, logger)
	validator := auth.NewJWTValidator(cfg.JWTSecret)
	gw := gateway.New(registry, tracker, rooms, ledger, dataStore, validator, cfg.SendQueueSize, logger)

	// User sync from the rest of the platform
	var consumer *broker.Consumer
	if cfg.NATSURL != "" {
		var err error
		consumer, err = broker.Connect(cfg.NATSURL, dataStore, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		if err := consumer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe failed")
		}
		defer consumer.Close()
		logger.Info().Msg("connected to NATS")
	}

	// Create router
	h := handlers.NewHandler(dataStore, redisStore, consumer, rooms, ledger, gw)
	authmw := middleware.NewAuthMiddleware(validator, dataStore)
	limiter := middleware.NewRateLimiter(redisStore, cfg.RequestRateLimit, cfg.RequestRateWindow, logger)
	router := api.NewRouter(logger, h, authmw, limiter, gw)

	// Create server. Write timeout stays unset so long-lived WebSocket
	// connections are not cut; per-write deadlines cover the sockets.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown does not touch hijacked connections; close the live
	// sessions so their read loops unwind and presence goes offline.
	registry.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
