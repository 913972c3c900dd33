package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	DBMaxConns      int
	Memory          bool
	SupabaseURL     string
	SupabaseAnonKey string
	RequestTimeout  time.Duration

	RedisURL       string
	LeaderboardTTL time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	AcceptMaxAttempts int
	AcceptRetryDelay  time.Duration

	DiscordBotToken  string
	DiscordChannelID string
}

type WorkerConfig struct {
	DatabaseURL       string
	DBMaxConns        int
	RedisURL          string
	ExpireEvery       time.Duration
	BountyTTL         time.Duration
	StatsRebuildEvery time.Duration
	RunOnce           bool
	MetricsAddr       string
	DiscordBotToken   string
	DiscordChannelID  string
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file into the process environment when one
// exists. Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BOUNTY_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:               addr,
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         envIntDefault("BOUNTY_DB_MAX_CONNS", 20),
		Memory:             envBoolDefault("BOUNTY_MEMORY", false),
		SupabaseURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:    strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		RequestTimeout:     envDurationDefault("BOUNTY_REQUEST_TIMEOUT", 20*time.Second),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		LeaderboardTTL:     envDurationDefault("BOUNTY_LEADERBOARD_TTL", 30*time.Second),
		RateLimitPerSecond: envFloatDefault("BOUNTY_RATE_LIMIT_RPS", 5),
		RateLimitBurst:     envIntDefault("BOUNTY_RATE_LIMIT_BURST", 20),
		AcceptMaxAttempts:  envIntDefault("BOUNTY_ACCEPT_MAX_ATTEMPTS", 5),
		AcceptRetryDelay:   envDurationDefault("BOUNTY_ACCEPT_RETRY_DELAY", 50*time.Millisecond),
		DiscordBotToken:    strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID:   strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
	}
	if cfg.DatabaseURL == "" && !cfg.Memory {
		return cfg, fmt.Errorf("DATABASE_URL is required (or set BOUNTY_MEMORY=true)")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.RateLimitPerSecond <= 0 {
		return cfg, fmt.Errorf("BOUNTY_RATE_LIMIT_RPS must be > 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:        envIntDefault("BOUNTY_DB_MAX_CONNS", 5),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		ExpireEvery:       envDurationDefault("BOUNTY_EXPIRE_EVERY", 10*time.Minute),
		BountyTTL:         envDurationDefault("BOUNTY_TTL", 30*24*time.Hour),
		StatsRebuildEvery: envDurationDefault("STATS_REBUILD_EVERY", time.Hour),
		RunOnce:           envBoolDefault("BOUNTY_WORKER_RUN_ONCE", false),
		MetricsAddr:       strings.TrimSpace(os.Getenv("BOUNTY_WORKER_METRICS_ADDR")),
		DiscordBotToken:   strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID:  strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ExpireEvery <= 0 || cfg.StatsRebuildEvery <= 0 {
		return cfg, fmt.Errorf("job intervals must be > 0")
	}
	if cfg.BountyTTL <= 0 {
		return cfg, fmt.Errorf("BOUNTY_TTL must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BB_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
