// Package memstore is an in-process backend with the same semantics as the
// postgres store. Transactions run one at a time against a private copy of
// the ledger that replaces the committed one only when the transaction
// succeeds.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/stats"
)

var (
	_ bounty.Store          = (*Store)(nil)
	_ collection.Repository = (*Store)(nil)
	_ stats.Repository      = (*Store)(nil)
)

type idemKey struct {
	userID string
	key    string
}

type ledger struct {
	bounties   map[int64]bounty.Bounty
	offers     map[int64]bounty.Offer
	idem       map[idemKey]string
	nextBounty int64
	nextOffer  int64
}

func (l *ledger) clone() *ledger {
	c := &ledger{
		bounties:   make(map[int64]bounty.Bounty, len(l.bounties)),
		offers:     make(map[int64]bounty.Offer, len(l.offers)),
		idem:       make(map[idemKey]string, len(l.idem)),
		nextBounty: l.nextBounty,
		nextOffer:  l.nextOffer,
	}
	for k, v := range l.bounties {
		c.bounties[k] = v
	}
	for k, v := range l.offers {
		c.offers[k] = v
	}
	for k, v := range l.idem {
		c.idem[k] = v
	}
	return c
}

type holding struct {
	quantity  int
	forTrade  bool
	updatedAt time.Time
}

type Store struct {
	// txMu serializes transactions; mu guards the fields below.
	txMu sync.Mutex
	mu   sync.RWMutex

	ledger   *ledger
	cards    map[string]collection.Card
	holdings map[string]map[string]holding
	stats    map[string]stats.UserStats
	now      func() time.Time
}

func New() *Store {
	return &Store{
		ledger: &ledger{
			bounties: make(map[int64]bounty.Bounty),
			offers:   make(map[int64]bounty.Offer),
			idem:     make(map[idemKey]string),
		},
		cards:    make(map[string]collection.Card),
		holdings: make(map[string]map[string]holding),
		stats:    make(map[string]stats.UserStats),
		now:      time.Now,
	}
}

// InTx ignores the isolation level: transactions never overlap, which is at
// least as strong as serializable.
func (s *Store) InTx(ctx context.Context, _ bounty.Isolation, fn func(tx bounty.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snap := s.ledger.clone()
	s.mu.RUnlock()

	if err := fn(&tx{l: snap}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.ledger = snap
	s.mu.Unlock()
	return nil
}

type tx struct {
	l *ledger
}

func (t *tx) ClaimIdempotency(_ context.Context, userID, key, action string) error {
	k := idemKey{userID: userID, key: key}
	if _, ok := t.l.idem[k]; ok {
		return bounty.ErrDuplicateIdempotency
	}
	t.l.idem[k] = action
	return nil
}

func (t *tx) Bounty(_ context.Context, id int64, _ bool) (bounty.Bounty, error) {
	b, ok := t.l.bounties[id]
	if !ok {
		return bounty.Bounty{}, bounty.ErrNotFound
	}
	return b, nil
}

func (t *tx) HasActiveBounty(_ context.Context, requesterID, cardID string) (bool, error) {
	return t.activeBounty(requesterID, cardID, 0), nil
}

func (t *tx) activeBounty(requesterID, cardID string, except int64) bool {
	for _, b := range t.l.bounties {
		if b.ID != except && b.RequesterID == requesterID && b.CardID == cardID && b.Status == bounty.BountyActive {
			return true
		}
	}
	return false
}

func (t *tx) InsertBounty(_ context.Context, b bounty.Bounty) (int64, error) {
	if b.Status == bounty.BountyActive && t.activeBounty(b.RequesterID, b.CardID, 0) {
		return 0, fmt.Errorf("%w: active bounty for (%s, %s)", bounty.ErrConflict, b.RequesterID, b.CardID)
	}
	t.l.nextBounty++
	b.ID = t.l.nextBounty
	t.l.bounties[b.ID] = b
	return b.ID, nil
}

func (t *tx) SwapBountyStatus(_ context.Context, id int64, from, to bounty.BountyStatus, completedAt *time.Time) (bool, error) {
	b, ok := t.l.bounties[id]
	if !ok || b.Status != from {
		return false, nil
	}
	if to == bounty.BountyActive && t.activeBounty(b.RequesterID, b.CardID, id) {
		return false, fmt.Errorf("%w: active bounty for (%s, %s)", bounty.ErrConflict, b.RequesterID, b.CardID)
	}
	b.Status = to
	b.CompletedAt = copyTime(completedAt)
	t.l.bounties[id] = b
	return true, nil
}

func (t *tx) DeleteBounty(_ context.Context, id int64) error {
	for _, o := range t.l.offers {
		if o.BountyID == id {
			return fmt.Errorf("bounty %d still has offers", id)
		}
	}
	delete(t.l.bounties, id)
	return nil
}

func (t *tx) Offer(_ context.Context, id int64) (bounty.Offer, error) {
	o, ok := t.l.offers[id]
	if !ok {
		return bounty.Offer{}, bounty.ErrNotFound
	}
	return o, nil
}

func (t *tx) OffersForBounty(_ context.Context, bountyID int64) ([]bounty.Offer, error) {
	return offersOf(t.l, bountyID), nil
}

func (t *tx) HasPendingOffer(_ context.Context, bountyID int64, offererID string) (bool, error) {
	for _, o := range t.l.offers {
		if o.BountyID == bountyID && o.OffererID == offererID && o.Status == bounty.OfferPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertOffer(ctx context.Context, o bounty.Offer) (int64, error) {
	if _, ok := t.l.bounties[o.BountyID]; !ok {
		return 0, fmt.Errorf("offer references missing bounty %d", o.BountyID)
	}
	if o.Status == bounty.OfferPending {
		if dup, _ := t.HasPendingOffer(ctx, o.BountyID, o.OffererID); dup {
			return 0, fmt.Errorf("%w: pending offer for (%d, %s)", bounty.ErrConflict, o.BountyID, o.OffererID)
		}
	}
	t.l.nextOffer++
	o.ID = t.l.nextOffer
	t.l.offers[o.ID] = o
	return o.ID, nil
}

func (t *tx) SwapOfferStatus(_ context.Context, id int64, from, to bounty.OfferStatus, acceptedAt *time.Time) (bool, error) {
	o, ok := t.l.offers[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if acceptedAt != nil {
		o.AcceptedAt = copyTime(acceptedAt)
	}
	t.l.offers[id] = o
	return true, nil
}

func (t *tx) RetirePendingOffers(_ context.Context, bountyID, except int64, to bounty.OfferStatus) (int64, error) {
	var n int64
	for id, o := range t.l.offers {
		if o.BountyID != bountyID || id == except || o.Status != bounty.OfferPending {
			continue
		}
		o.Status = to
		t.l.offers[id] = o
		n++
	}
	return n, nil
}

func (t *tx) MarkSettled(_ context.Context, offerID int64, at time.Time) (bool, error) {
	o, ok := t.l.offers[offerID]
	if !ok || o.Status != bounty.OfferAccepted || o.SettledAt != nil {
		return false, nil
	}
	o.SettledAt = &at
	t.l.offers[offerID] = o
	return true, nil
}

func (t *tx) DeleteOffers(_ context.Context, bountyID int64) (int64, error) {
	var n int64
	for id, o := range t.l.offers {
		if o.BountyID == bountyID {
			delete(t.l.offers, id)
			n++
		}
	}
	return n, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
