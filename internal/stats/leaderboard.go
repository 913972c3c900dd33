package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 500
)

type LeaderboardQuery struct {
	Pack  string
	Limit int
}

type LeaderboardEntry struct {
	Rank              int     `json:"rank"`
	UserID            string  `json:"user_id"`
	UniqueCards       int     `json:"unique_cards"`
	TotalCards        int     `json:"total_cards"`
	CompletionPercent float64 `json:"completion_percent"`
}

// Leaderboard ranks users by distinct cards owned, then total cards. Users
// with the same distinct count share a rank. With a pack set, counts cover
// only that pack's cards.
func (a *Aggregator) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	q.Pack = strings.TrimSpace(q.Pack)
	if q.Limit <= 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}

	key := cacheKey(q)
	if rows, ok := a.cache.Get(ctx, key); ok {
		return rows, nil
	}

	size, err := a.repo.CatalogCount(ctx, q.Pack)
	if err != nil {
		return nil, fmt.Errorf("catalog count: %w", err)
	}
	standings, err := a.repo.Standings(ctx, q.Pack)
	if err != nil {
		return nil, fmt.Errorf("standings: %w", err)
	}
	rows := rank(standings, size, q.Limit)
	a.cache.Set(ctx, key, rows)
	return rows, nil
}

func rank(standings []Standing, catalogSize, limit int) []LeaderboardEntry {
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.UniqueCards != b.UniqueCards {
			return a.UniqueCards > b.UniqueCards
		}
		if a.TotalCards != b.TotalCards {
			return a.TotalCards > b.TotalCards
		}
		return a.UserID < b.UserID
	})

	out := make([]LeaderboardEntry, 0, min(limit, len(sorted)))
	rank := 0
	for i, s := range sorted {
		if i >= limit {
			break
		}
		// Sorted by unique desc, so the first row of a run of equal counts
		// has exactly i users strictly ahead of it.
		if i == 0 || s.UniqueCards != sorted[i-1].UniqueCards {
			rank = i + 1
		}
		out = append(out, LeaderboardEntry{
			Rank:              rank,
			UserID:            s.UserID,
			UniqueCards:       s.UniqueCards,
			TotalCards:        s.TotalCards,
			CompletionPercent: completion(s.UniqueCards, catalogSize),
		})
	}
	return out
}
