package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/config"
	"cardbounty/internal/db"
	"cardbounty/internal/events"
	"cardbounty/internal/metrics"
	"cardbounty/internal/notify"
	"cardbounty/internal/postgres"
	"cardbounty/internal/stats"
)

type worker struct {
	cfg      config.WorkerConfig
	log      *slog.Logger
	bounties *bounty.Service
	stats    *stats.Aggregator
	metrics  *metrics.Metrics
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
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
	store := postgres.New(pool)

	var cache stats.LeaderboardCache
	if cfg.RedisURL != "" {
		rc, err := stats.NewRedisCache(ctx, cfg.RedisURL, time.Minute, logger)
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
	coll := collection.NewService(store, nil, logger)
	w := &worker{
		cfg:      cfg,
		log:      logger,
		bounties: bounty.NewService(store, coll, coll, logger, bounty.WithSink(sinks), bounty.WithRetryHook(m.TxRetry)),
		stats:    agg,
		metrics:  m,
	}

	if cfg.RunOnce {
		okExpire := w.expire(ctx)
		okRebuild := w.rebuild(ctx)
		if !okExpire || !okRebuild {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) bool
	}{
		{"expire_bounties", cfg.ExpireEvery, w.expire},
		{"rebuild_stats", cfg.StatsRebuildEvery, w.rebuild},
	}
	for _, j := range jobs {
		run := j.run
		_, err := sched.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(func() { run(ctx) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			logger.Error("schedule job failed", "job", j.name, "err", err)
			os.Exit(1)
		}
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	sched.Start()
	logger.Info("worker started",
		"expire_every", cfg.ExpireEvery.String(),
		"bounty_ttl", cfg.BountyTTL.String(),
		"stats_rebuild_every", cfg.StatsRebuildEvery.String(),
	)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", "err", err)
	}
	logger.Info("worker shutdown")
}

func (w *worker) expire(ctx context.Context) bool {
	start := time.Now()
	n, err := w.bounties.ExpireStale(ctx, w.cfg.BountyTTL)
	w.metrics.JobRun("expire_bounties", err == nil, time.Since(start))
	if err != nil {
		w.log.Error("expire bounties failed", "expired", n, "err", err)
		return false
	}
	w.log.Info("expire bounties complete", "expired", n)
	return true
}

func (w *worker) rebuild(ctx context.Context) bool {
	start := time.Now()
	n, err := w.stats.RebuildAll(ctx)
	w.metrics.JobRun("rebuild_stats", err == nil, time.Since(start))
	if err != nil {
		w.log.Error("rebuild stats failed", "users", n, "err", err)
		return false
	}
	w.log.Info("rebuild stats complete", "users", n)
	return true
}
