package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// LeaderboardCache holds recently computed leaderboard pages. Entries may be
// stale for up to the cache TTL.
type LeaderboardCache interface {
	Get(ctx context.Context, key string) ([]LeaderboardEntry, bool)
	Set(ctx context.Context, key string, rows []LeaderboardEntry)
}

type noCache struct{}

func (noCache) Get(context.Context, string) ([]LeaderboardEntry, bool) { return nil, false }
func (noCache) Set(context.Context, string, []LeaderboardEntry)         {}

func cacheKey(q LeaderboardQuery) string {
	return "cardbounty:leaderboard:" + strconv.Itoa(q.Limit) + ":" + q.Pack
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db).
func NewRedisCache(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{rdb: rdb, ttl: ttl, log: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]LeaderboardEntry, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("leaderboard cache read failed", "key", key, "err", err)
		return nil, false
	}
	var rows []LeaderboardEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		c.log.Warn("leaderboard cache entry unreadable", "key", key, "err", err)
		return nil, false
	}
	return rows, true
}

func (c *RedisCache) Set(ctx context.Context, key string, rows []LeaderboardEntry) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("leaderboard cache write failed", "key", key, "err", err)
	}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
