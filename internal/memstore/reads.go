package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"cardbounty/internal/bounty"
)

func (s *Store) ListBounties(_ context.Context, f bounty.ListFilter) ([]bounty.BountyView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []bounty.BountyView
	for _, b := range s.ledger.bounties {
		if b.Status != f.Status {
			continue
		}
		v := s.viewLocked(b)
		if f.CardName != "" && !strings.Contains(strings.ToLower(v.CardName), strings.ToLower(f.CardName)) {
			continue
		}
		if f.Pack != "" && !strings.EqualFold(v.Pack, f.Pack) {
			continue
		}
		all = append(all, v)
	}
	sortNewestFirst(all)

	total := len(all)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)
	return all[start:end], total, nil
}

func (s *Store) GetBountyView(_ context.Context, id int64) (bounty.BountyView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ledger.bounties[id]
	if !ok {
		return bounty.BountyView{}, bounty.ErrNotFound
	}
	return s.viewLocked(b), nil
}

func (s *Store) ListOffers(_ context.Context, bountyID int64) ([]bounty.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return offersOf(s.ledger, bountyID), nil
}

func (s *Store) BountiesByRequester(_ context.Context, userID string) ([]bounty.BountyView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []bounty.BountyView{}
	for _, b := range s.ledger.bounties {
		if b.RequesterID == userID {
			out = append(out, s.viewLocked(b))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) OffersByOfferer(_ context.Context, userID string) ([]bounty.OfferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []bounty.OfferView{}
	for _, o := range s.ledger.offers {
		if o.OffererID != userID {
			continue
		}
		b := s.ledger.bounties[o.BountyID]
		out = append(out, bounty.OfferView{
			Offer:        o,
			RequesterID:  b.RequesterID,
			BountyCardID: b.CardID,
			BountyStatus: b.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) PendingTrades(_ context.Context, userID string) ([]bounty.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []bounty.Trade{}
	for _, o := range s.ledger.offers {
		if o.Status != bounty.OfferAccepted || o.SettledAt != nil {
			continue
		}
		b := s.ledger.bounties[o.BountyID]
		if b.RequesterID != userID && o.OffererID != userID {
			continue
		}
		t := bounty.Trade{
			OfferID:         o.ID,
			BountyID:        b.ID,
			RequesterID:     b.RequesterID,
			OffererID:       o.OffererID,
			RequestedCardID: b.CardID,
			OfferedCardID:   o.CardID,
			OfferedItem:     b.OfferedItem,
			OffererContact:  o.ContactCode,
		}
		if o.AcceptedAt != nil {
			t.AcceptedAt = *o.AcceptedAt
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferID < out[j].OfferID })
	return out, nil
}

func (s *Store) StaleBounties(_ context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for _, b := range s.ledger.bounties {
		if b.Status == bounty.BountyActive && b.CreatedAt.Before(createdBefore) {
			ids = append(ids, b.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) viewLocked(b bounty.Bounty) bounty.BountyView {
	v := bounty.BountyView{Bounty: b}
	if c, ok := s.cards[b.CardID]; ok {
		v.CardName = c.Name
		v.Pack = c.Pack
		v.ImageURL = c.ImageURL
	}
	for _, o := range s.ledger.offers {
		if o.BountyID == b.ID {
			v.OfferCount++
		}
	}
	return v
}

func offersOf(l *ledger, bountyID int64) []bounty.Offer {
	out := []bounty.Offer{}
	for _, o := range l.offers {
		if o.BountyID == bountyID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortNewestFirst(vs []bounty.BountyView) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.After(vs[j].CreatedAt)
		}
		return vs[i].ID > vs[j].ID
	})
}
