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

	"cardbounty/internal/api"
	"cardbounty/internal/auth"
	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/config"
	"cardbounty/internal/db"
	"cardbounty/internal/events"
	"cardbounty/internal/memstore"
	"cardbounty/internal/metrics"
	"cardbounty/internal/notify"
	"cardbounty/internal/postgres"
	"cardbounty/internal/stats"
)

// backend is everything the services need from storage.
type backend interface {
	bounty.Store
	collection.Repository
	stats.Repository
	api.ProfileStore
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var store backend
	if cfg.Memory {
		mem := memstore.New()
		mem.SeedCards(demoCatalog()...)
		store = mem
		logger.Warn("running on in-memory storage, data is lost on exit")
	} else {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}

	var cache stats.LeaderboardCache
	if cfg.RedisURL != "" {
		rc, err := stats.NewRedisCache(ctx, cfg.RedisURL, cfg.LeaderboardTTL, logger)
		if err != nil {
			logger.Warn("leaderboard cache disabled", "err", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	m := metrics.New()
	agg := stats.NewAggregator(store, cache, logger)
	sinks := events.Multi{agg, m}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID != "" {
		d, err := notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID, logger)
		if err != nil {
			logger.Warn("discord notifications disabled", "err", err)
		} else {
			announcer := notify.NewAsync(d, 64, 5*time.Second, logger)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = announcer.Close(closeCtx)
			}()
			sinks = append(sinks, announcer)
		}
	}

	coll := collection.NewService(store, sinks, logger)
	bounties := bounty.NewService(store, coll, coll, logger,
		bounty.WithSink(sinks),
		bounty.WithRetry(cfg.AcceptMaxAttempts, cfg.AcceptRetryDelay),
		bounty.WithRetryHook(m.TxRetry),
	)

	server := api.New(cfg, logger, api.Deps{
		Auth:       auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey),
		Bounties:   bounties,
		Collection: coll,
		Stats:      agg,
		Profiles:   store,
		Metrics:    m,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bounty api listening", "addr", cfg.Addr, "memory", cfg.Memory)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
