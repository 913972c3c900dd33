// Package stats maintains the per-user rollup derived from inventory and the
// bounty ledger, and ranks users by collection progress.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"cardbounty/internal/bounty"
	"cardbounty/internal/events"
)

type UserStats struct {
	UserID            string    `json:"user_id"`
	TotalCards        int       `json:"total_cards"`
	UniqueCards       int       `json:"unique_cards"`
	CompletedSets     int       `json:"completed_sets"`
	BountiesCompleted int       `json:"bounties_completed"`
	BountiesPosted    int       `json:"bounties_posted"`
	TradesCompleted   int       `json:"trades_completed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Facts are the raw counts a rollup is built from.
type Facts struct {
	TotalCards        int
	UniqueCards       int
	CompletedSets     int
	BountiesCompleted int
	BountiesPosted    int
	TradesCompleted   int
}

// Standing is one user's position before ranking.
type Standing struct {
	UserID      string
	UniqueCards int
	TotalCards  int
}

// Repository reads ledger and inventory facts and stores rollups. It is used
// at read-committed isolation, outside any ledger transaction.
type Repository interface {
	UserFacts(ctx context.Context, userID string) (Facts, error)
	UpsertStats(ctx context.Context, st UserStats) error
	// GetStats returns bounty.ErrNotFound when no rollup was stored yet.
	GetStats(ctx context.Context, userID string) (UserStats, error)
	UserIDs(ctx context.Context) ([]string, error)
	CatalogCount(ctx context.Context, pack string) (int, error)
	// Standings returns stored rollups when pack is empty, and counts over
	// the pack's cards in inventory otherwise.
	Standings(ctx context.Context, pack string) ([]Standing, error)
}

type Summary struct {
	UserStats
	CatalogSize       int     `json:"catalog_size"`
	CompletionPercent float64 `json:"completion_percent"`
	Rank              int     `json:"rank"`
}

type Aggregator struct {
	repo  Repository
	cache LeaderboardCache
	log   *slog.Logger
	now   func() time.Time
}

func NewAggregator(repo Repository, cache LeaderboardCache, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = noCache{}
	}
	return &Aggregator{repo: repo, cache: cache, log: logger, now: time.Now}
}

// Recompute rebuilds and stores one user's rollup. Running it twice with no
// mutation in between stores the same counts.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserStats{}, fmt.Errorf("%w: user id is required", bounty.ErrInvalidInput)
	}
	f, err := a.repo.UserFacts(ctx, userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("load facts for %s: %w", userID, err)
	}
	st := UserStats{
		UserID:            userID,
		TotalCards:        f.TotalCards,
		UniqueCards:       f.UniqueCards,
		CompletedSets:     f.CompletedSets,
		BountiesCompleted: f.BountiesCompleted,
		BountiesPosted:    f.BountiesPosted,
		TradesCompleted:   f.TradesCompleted,
		UpdatedAt:         a.now().UTC(),
	}
	if err := a.repo.UpsertStats(ctx, st); err != nil {
		return UserStats{}, fmt.Errorf("store stats for %s: %w", userID, err)
	}
	return st, nil
}

// Handle recomputes every user named by a committed mutation.
func (a *Aggregator) Handle(ctx context.Context, ev events.Event) error {
	var errs []error
	seen := make(map[string]struct{}, len(ev.Users))
	for _, u := range ev.Users {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		if _, err := a.Recompute(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RebuildAll recomputes every known user and returns how many succeeded.
func (a *Aggregator) RebuildAll(ctx context.Context) (int, error) {
	ids, err := a.repo.UserIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.Recompute(ctx, id); err != nil {
			a.log.Warn("stats rebuild failed", "user_id", id, "err", err)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Summary returns the stored rollup, computing it first if the user has none,
// along with completion over the whole catalog and global rank.
func (a *Aggregator) Summary(ctx context.Context, userID string) (Summary, error) {
	st, err := a.repo.GetStats(ctx, userID)
	if errors.Is(err, bounty.ErrNotFound) {
		st, err = a.Recompute(ctx, userID)
	}
	if err != nil {
		return Summary{}, err
	}
	size, err := a.repo.CatalogCount(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	standings, err := a.repo.Standings(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		UserStats:         st,
		CatalogSize:       size,
		CompletionPercent: completion(st.UniqueCards, size),
		Rank:              rankOf(st.UniqueCards, standings),
	}, nil
}

// completion is unique/size as a percentage rounded to two decimals.
func completion(unique, size int) float64 {
	if size <= 0 {
		return 0
	}
	return math.Round(float64(unique)/float64(size)*10000) / 100
}

func rankOf(unique int, standings []Standing) int {
	rank := 1
	for _, s := range standings {
		if s.UniqueCards > unique {
			rank++
		}
	}
	return rank
}
