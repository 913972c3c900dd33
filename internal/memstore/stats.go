package memstore

import (
	"context"
	"sort"

	"cardbounty/internal/bounty"
	"cardbounty/internal/stats"
)

func (s *Store) UserFacts(_ context.Context, userID string) (stats.Facts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f stats.Facts
	ownedPerPack := map[string]int{}
	for cardID, h := range s.holdings[userID] {
		if h.quantity <= 0 {
			continue
		}
		f.TotalCards += h.quantity
		f.UniqueCards++
		ownedPerPack[s.cards[cardID].Pack]++
	}
	sizes := s.packSizesLocked()
	for pack, owned := range ownedPerPack {
		if n := sizes[pack]; n > 0 && owned >= n {
			f.CompletedSets++
		}
	}

	for _, b := range s.ledger.bounties {
		if b.RequesterID != userID {
			continue
		}
		f.BountiesPosted++
		if b.Status == bounty.BountyCompleted {
			f.BountiesCompleted++
		}
	}
	for _, o := range s.ledger.offers {
		if o.Status != bounty.OfferAccepted || o.SettledAt == nil {
			continue
		}
		if o.OffererID == userID || s.ledger.bounties[o.BountyID].RequesterID == userID {
			f.TradesCompleted++
		}
	}
	return f, nil
}

func (s *Store) UpsertStats(_ context.Context, st stats.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[st.UserID] = st
	return nil
}

func (s *Store) GetStats(_ context.Context, userID string) (stats.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[userID]
	if !ok {
		return stats.UserStats{}, bounty.ErrNotFound
	}
	return st, nil
}

// UserIDs lists everyone who holds cards, has a rollup or has touched the
// ledger.
func (s *Store) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for u := range s.holdings {
		seen[u] = struct{}{}
	}
	for u := range s.stats {
		seen[u] = struct{}{}
	}
	for _, b := range s.ledger.bounties {
		seen[b.RequesterID] = struct{}{}
	}
	for _, o := range s.ledger.offers {
		seen[o.OffererID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CatalogCount(_ context.Context, pack string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pack == "" {
		return len(s.cards), nil
	}
	return s.packSizesLocked()[pack], nil
}

func (s *Store) Standings(_ context.Context, pack string) ([]stats.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []stats.Standing{}
	if pack == "" {
		for _, st := range s.stats {
			out = append(out, stats.Standing{UserID: st.UserID, UniqueCards: st.UniqueCards, TotalCards: st.TotalCards})
		}
		return out, nil
	}
	for userID, cards := range s.holdings {
		var st stats.Standing
		for cardID, h := range cards {
			if h.quantity <= 0 || s.cards[cardID].Pack != pack {
				continue
			}
			st.UniqueCards++
			st.TotalCards += h.quantity
		}
		if st.UniqueCards > 0 {
			st.UserID = userID
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) packSizesLocked() map[string]int {
	sizes := map[string]int{}
	for _, c := range s.cards {
		sizes[c.Pack]++
	}
	return sizes
}
