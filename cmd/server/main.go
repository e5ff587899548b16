package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/handlers"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/messaging"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

func main() {
	cfg := config.Load()

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

	// Primary store: PostgreSQL when configured, SQLite otherwise.
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		data = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			logger.Fatal().Err(err).Msg("cannot create sqlite directory")
		}
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		data = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer data.Close()

	// Change feed and nonces: Redis when configured so several instances
	// share them, in-process otherwise.
	var (
		feed        realtime.Feed
		nonces      middleware.NonceStore
		redisClient *redis.Client
		redisPing   handlers.Pinger
	)
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rs.Close()
		logger.Info().Msg("connected to Redis")

		feed = realtime.NewRedisFeed(rs.Client(), cfg.FeedBuffer, logger)
		nonces = rs
		redisClient = rs.Client()
		redisPing = rs
	} else {
		logger.Warn().Msg("REDIS_URL not set: change feed and nonces are in-process, rate limiting disabled")
		feed = realtime.NewMemoryFeed(cfg.FeedBuffer, logger)
		nonces = store.NewMemoryNonceStore()
	}
	defer feed.Close()

	svc := messaging.NewService(store.NewFeedStore(data, feed, logger), feed, logger)

	router := api.NewRouter(logger, cfg, api.Deps{
		Service: svc,
		Nonces:  nonces,
		Redis:   redisClient,
		Ping:    redisPing,
	})

	// No WriteTimeout; streams set their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Kayan Connect server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
