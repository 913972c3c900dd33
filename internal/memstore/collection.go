package memstore

import (
	"context"
	"sort"
	"strings"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
)

// SeedCards adds cards to the catalog, replacing any with the same id.
func (s *Store) SeedCards(cards ...collection.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cards {
		s.cards[c.ID] = c
	}
}

func (s *Store) Card(_ context.Context, cardID string) (collection.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return collection.Card{}, bounty.ErrNotFound
	}
	return c, nil
}

func (s *Store) Packs(_ context.Context) ([]collection.Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := map[string]*collection.Pack{}
	for _, c := range s.cards {
		p, ok := byName[c.Pack]
		if !ok {
			p = &collection.Pack{Name: c.Pack, Expansion: c.Expansion}
			byName[c.Pack] = p
		}
		p.CardCount++
	}
	out := make([]collection.Pack, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Entries(_ context.Context, userID string, f collection.Filter) ([]collection.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []collection.Entry{}
	for cardID, h := range s.holdings[userID] {
		c := s.cards[cardID]
		if f.Pack != "" && !strings.EqualFold(c.Pack, f.Pack) {
			continue
		}
		if f.Rarity != "" && !strings.EqualFold(c.Rarity, f.Rarity) {
			continue
		}
		out = append(out, entryOf(c, h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Entry(_ context.Context, userID, cardID string) (collection.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[userID][cardID]
	if !ok {
		return collection.Entry{}, bounty.ErrNotFound
	}
	return entryOf(s.cards[cardID], h), nil
}

func (s *Store) PutEntry(_ context.Context, userID, cardID string, quantity int, forTrade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return bounty.ErrNotFound
	}
	m, ok := s.holdings[userID]
	if !ok {
		m = make(map[string]holding)
		s.holdings[userID] = m
	}
	m[cardID] = holding{quantity: quantity, forTrade: forTrade, updatedAt: s.now().UTC()}
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, userID, cardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holdings[userID][cardID]; !ok {
		return false, nil
	}
	delete(s.holdings[userID], cardID)
	return true, nil
}

func entryOf(c collection.Card, h holding) collection.Entry {
	return collection.Entry{Card: c, Quantity: h.quantity, ForTrade: h.forTrade, UpdatedAt: h.updatedAt}
}

// EnsureProfile is a no-op: every user id seen in the ledger or inventory is
// already known.
func (s *Store) EnsureProfile(context.Context, string, string) error {
	return nil
}
