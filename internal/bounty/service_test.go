package bounty_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/events"
	"cardbounty/internal/memstore"
)

type harness struct {
	store *memstore.Store
	coll  *collection.Service
	svc   *bounty.Service
	seen  []events.Event
	mu    sync.Mutex
}

func newHarness(t *testing.T, opts ...bounty.Option) *harness {
	t.Helper()
	h := &harness{store: memstore.New()}
	h.store.SeedCards(
		collection.Card{ID: "a1-010", Name: "Bulbasaur", Pack: "Mewtwo", Expansion: "Genetic Apex"},
		collection.Card{ID: "a1-012", Name: "Ivysaur", Pack: "Mewtwo", Expansion: "Genetic Apex"},
		collection.Card{ID: "a1-055", Name: "Ninetales", Pack: "Charizard", Expansion: "Genetic Apex"},
		collection.Card{ID: "a1-096", Name: "Pikachu", Pack: "Pikachu", Expansion: "Genetic Apex"},
	)
	h.coll = collection.NewService(h.store, nil, nil)
	record := events.SinkFunc(func(_ context.Context, ev events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.seen = append(h.seen, ev)
		return nil
	})
	opts = append([]bounty.Option{bounty.WithSink(record), bounty.WithRetry(5, time.Millisecond)}, opts...)
	h.svc = bounty.NewService(h.store, h.coll, h.coll, nil, opts...)
	return h
}

func (h *harness) give(t *testing.T, user, card string, qty int) {
	t.Helper()
	_, err := h.coll.AddCard(context.Background(), user, card, qty, true)
	require.NoError(t, err)
}

func (h *harness) post(t *testing.T, user, card string) int64 {
	t.Helper()
	id, err := h.svc.CreateBounty(context.Background(), bounty.CreateBountyInput{
		RequesterID: user,
		CardID:      card,
		Description: "need for set",
	})
	require.NoError(t, err)
	return id
}

func (h *harness) offer(t *testing.T, user string, bountyID int64, card string) int64 {
	t.Helper()
	h.give(t, user, card, 1)
	id, err := h.svc.CreateOffer(context.Background(), bounty.CreateOfferInput{
		OffererID:   user,
		BountyID:    bountyID,
		CardID:      card,
		ContactCode: "FC-" + user,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) detail(t *testing.T, bountyID int64) (bounty.Bounty, map[int64]bounty.Offer) {
	t.Helper()
	d, err := h.svc.BountyDetail(context.Background(), bountyID)
	require.NoError(t, err)
	offers := make(map[int64]bounty.Offer, len(d.Offers))
	for _, o := range d.Offers {
		offers[o.ID] = o
	}
	return d.Bounty, offers
}

func (h *harness) kinds() []events.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Kind, 0, len(h.seen))
	for _, ev := range h.seen {
		out = append(out, ev.Kind)
	}
	return out
}

func TestAcceptOfferResolvesBountyToOneOffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	fromCarol := h.offer(t, "carol", bountyID, "a1-012")

	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyCompleted, b.Status)
	assert.NotNil(t, b.CompletedAt)
	assert.Equal(t, bounty.OfferAccepted, offers[fromBob].Status)
	assert.NotNil(t, offers[fromBob].AcceptedAt)
	assert.Equal(t, bounty.OfferRejected, offers[fromCarol].Status)

	err := h.svc.AcceptOffer(ctx, "alice", fromCarol)
	require.ErrorIs(t, err, bounty.ErrInvalidState)

	assert.Contains(t, h.kinds(), events.OfferAccepted)
}

func TestAcceptOfferLeavesNonPendingSiblingsAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	fromCarol := h.offer(t, "carol", bountyID, "a1-012")
	require.NoError(t, h.svc.WithdrawOffer(ctx, "carol", fromCarol))

	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))

	_, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.OfferCancelled, offers[fromCarol].Status)
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = h.offer(t, u, bountyID, "a1-010")
	}

	var (
		wg       sync.WaitGroup
		won      atomic.Int32
		conflict atomic.Int32
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := h.svc.AcceptOffer(ctx, "alice", id)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, bounty.ErrInvalidState):
				conflict.Add(1)
			default:
				t.Errorf("accept offer %d: unexpected error %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(len(ids)-1), conflict.Load())

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyCompleted, b.Status)
	accepted := 0
	for _, o := range offers {
		switch o.Status {
		case bounty.OfferAccepted:
			accepted++
		case bounty.OfferRejected:
		default:
			t.Errorf("offer %d left in status %s", o.ID, o.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestAcceptOfferChecksOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")

	require.ErrorIs(t, h.svc.AcceptOffer(ctx, "mallory", fromBob), bounty.ErrForbidden)
	require.ErrorIs(t, h.svc.AcceptOffer(ctx, "alice", 9999), bounty.ErrNotFound)
}

func TestCreateOfferRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bountyID := h.post(t, "alice", "a1-055")

	t.Run("self offer", func(t *testing.T) {
		h.give(t, "alice", "a1-010", 1)
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "alice", BountyID: bountyID, CardID: "a1-010"})
		require.ErrorIs(t, err, bounty.ErrForbidden)
	})

	t.Run("card not held", func(t *testing.T) {
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "dave", BountyID: bountyID, CardID: "a1-012"})
		require.ErrorIs(t, err, bounty.ErrPreconditionFailed)
	})

	t.Run("unknown card", func(t *testing.T) {
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "dave", BountyID: bountyID, CardID: "zz-999"})
		require.ErrorIs(t, err, bounty.ErrNotFound)
	})

	t.Run("missing bounty", func(t *testing.T) {
		h.give(t, "dave", "a1-012", 1)
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "dave", BountyID: 4242, CardID: "a1-012"})
		require.ErrorIs(t, err, bounty.ErrNotFound)
	})

	t.Run("second pending offer", func(t *testing.T) {
		first := h.offer(t, "erin", bountyID, "a1-010")
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "erin", BountyID: bountyID, CardID: "a1-010"})
		require.ErrorIs(t, err, bounty.ErrConflict)

		require.NoError(t, h.svc.WithdrawOffer(ctx, "erin", first))
		_, err = h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "erin", BountyID: bountyID, CardID: "a1-010"})
		require.NoError(t, err)
	})

	t.Run("message too long", func(t *testing.T) {
		long := make([]byte, bounty.MaxMessageLen+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "dave", BountyID: bountyID, CardID: "a1-012", Message: string(long)})
		require.ErrorIs(t, err, bounty.ErrInvalidInput)
	})

	t.Run("bounty not active", func(t *testing.T) {
		other := h.post(t, "alice", "a1-096")
		require.NoError(t, h.svc.CancelBounty(ctx, "alice", other))
		_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "dave", BountyID: other, CardID: "a1-012"})
		require.ErrorIs(t, err, bounty.ErrInvalidState)
	})
}

func TestSelfOfferIsAlwaysForbidden(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))
	h.give(t, "alice", "a1-012", 1)

	cancelled := h.post(t, "alice", "a1-096")
	require.NoError(t, h.svc.CancelBounty(ctx, "alice", cancelled))

	cases := []struct {
		name     string
		bountyID int64
		cardID   string
	}{
		{"completed bounty", bountyID, "a1-012"},
		{"cancelled bounty", cancelled, "a1-012"},
		{"unknown card", bountyID, "zz-999"},
		{"card not held", cancelled, "a1-010"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateOffer(ctx, bounty.CreateOfferInput{OffererID: "alice", BountyID: tc.bountyID, CardID: tc.cardID})
			require.ErrorIs(t, err, bounty.ErrForbidden)
		})
	}
}

func TestRejectAndWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	fromCarol := h.offer(t, "carol", bountyID, "a1-012")

	require.ErrorIs(t, h.svc.RejectOffer(ctx, "bob", fromBob), bounty.ErrForbidden)
	require.NoError(t, h.svc.RejectOffer(ctx, "alice", fromBob))
	require.ErrorIs(t, h.svc.RejectOffer(ctx, "alice", fromBob), bounty.ErrInvalidState)

	require.ErrorIs(t, h.svc.WithdrawOffer(ctx, "bob", fromCarol), bounty.ErrForbidden)
	require.NoError(t, h.svc.WithdrawOffer(ctx, "carol", fromCarol))
	require.ErrorIs(t, h.svc.WithdrawOffer(ctx, "carol", fromCarol), bounty.ErrInvalidState)

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyActive, b.Status)
	assert.Equal(t, bounty.OfferRejected, offers[fromBob].Status)
	assert.Equal(t, bounty.OfferCancelled, offers[fromCarol].Status)
}

func TestCreateBountyKeepsOneActivePerCard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const n = 10
	var (
		wg       sync.WaitGroup
		created  atomic.Int32
		conflict atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateBounty(ctx, bounty.CreateBountyInput{RequesterID: "alice", CardID: "a1-055"})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, bounty.ErrConflict):
				conflict.Add(1)
			default:
				t.Errorf("create bounty: unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(n-1), conflict.Load())

	mine, err := h.svc.MyBounties(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCreateBountyValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	negative := int64(-1)

	tests := []struct {
		name string
		in   bounty.CreateBountyInput
		want error
	}{
		{"unknown card", bounty.CreateBountyInput{RequesterID: "alice", CardID: "zz-001"}, bounty.ErrNotFound},
		{"missing card", bounty.CreateBountyInput{RequesterID: "alice"}, bounty.ErrInvalidInput},
		{"missing user", bounty.CreateBountyInput{CardID: "a1-055"}, bounty.ErrInvalidInput},
		{"negative amount", bounty.CreateBountyInput{RequesterID: "alice", CardID: "a1-055", OfferedAmountCents: &negative}, bounty.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateBounty(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateBountyIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	in := bounty.CreateBountyInput{RequesterID: "alice", CardID: "a1-055", IdempotencyKey: "k-1"}
	_, err := h.svc.CreateBounty(ctx, in)
	require.NoError(t, err)

	in.CardID = "a1-096"
	_, err = h.svc.CreateBounty(ctx, in)
	require.ErrorIs(t, err, bounty.ErrConflict)
	require.ErrorIs(t, err, bounty.ErrDuplicateIdempotency)

	in.IdempotencyKey = "k-2"
	_, err = h.svc.CreateBounty(ctx, in)
	require.NoError(t, err)
}

func TestSettlementReversalReopensBounty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))

	trades, err := h.svc.PendingTrades(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "FC-bob", trades[0].OffererContact)

	require.NoError(t, h.svc.CancelSettlement(ctx, "bob", fromBob))

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyActive, b.Status)
	assert.Nil(t, b.CompletedAt)
	assert.Equal(t, bounty.OfferCancelled, offers[fromBob].Status)
	assert.Equal(t, bounty.SettlementCancelled, offers[fromBob].Settlement())

	h.offer(t, "dave", bountyID, "a1-012")

	trades, err = h.svc.PendingTrades(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestCompleteSettlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	fromCarol := h.offer(t, "carol", bountyID, "a1-012")

	require.ErrorIs(t, h.svc.CompleteSettlement(ctx, "alice", fromBob), bounty.ErrNotFound)
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))

	require.ErrorIs(t, h.svc.CompleteSettlement(ctx, "carol", fromBob), bounty.ErrForbidden)
	require.ErrorIs(t, h.svc.CompleteSettlement(ctx, "alice", fromCarol), bounty.ErrNotFound)
	require.ErrorIs(t, h.svc.CompleteSettlement(ctx, "mallory", fromCarol), bounty.ErrNotFound)

	require.NoError(t, h.svc.CompleteSettlement(ctx, "alice", fromBob))
	_, offers := h.detail(t, bountyID)
	first := offers[fromBob].SettledAt
	require.NotNil(t, first)

	require.NoError(t, h.svc.CompleteSettlement(ctx, "bob", fromBob))
	b, offers := h.detail(t, bountyID)
	assert.Equal(t, *first, *offers[fromBob].SettledAt)
	assert.Equal(t, bounty.SettlementComplete, offers[fromBob].Settlement())
	assert.Equal(t, bounty.BountyCompleted, b.Status)

	require.ErrorIs(t, h.svc.CancelSettlement(ctx, "alice", fromBob), bounty.ErrInvalidState)
}

func TestCancelSettlementRefusesSecondActiveBounty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))
	h.post(t, "alice", "a1-055")

	require.ErrorIs(t, h.svc.CancelSettlement(ctx, "alice", fromBob), bounty.ErrConflict)
}

func TestCancelBounty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")

	require.ErrorIs(t, h.svc.CancelBounty(ctx, "bob", bountyID), bounty.ErrNotFound)
	require.NoError(t, h.svc.CancelBounty(ctx, "alice", bountyID))
	require.ErrorIs(t, h.svc.CancelBounty(ctx, "alice", bountyID), bounty.ErrInvalidState)

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyCancelled, b.Status)
	assert.Equal(t, bounty.OfferCancelled, offers[fromBob].Status)

	// The requester may post for the same card again.
	h.post(t, "alice", "a1-055")
}

func TestDeleteBounty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	open := h.post(t, "alice", "a1-055")
	h.offer(t, "bob", open, "a1-010")

	require.ErrorIs(t, h.svc.DeleteBounty(ctx, "bob", open), bounty.ErrForbidden)
	require.ErrorIs(t, h.svc.DeleteBounty(ctx, "alice", 777), bounty.ErrNotFound)
	require.NoError(t, h.svc.DeleteBounty(ctx, "alice", open))

	_, err := h.svc.BountyDetail(ctx, open)
	require.ErrorIs(t, err, bounty.ErrNotFound)

	traded := h.post(t, "alice", "a1-096")
	fromCarol := h.offer(t, "carol", traded, "a1-012")
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromCarol))
	require.ErrorIs(t, h.svc.DeleteBounty(ctx, "alice", traded), bounty.ErrInvalidState)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newHarness(t, bounty.WithClock(clock))

	old := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", old, "a1-010")

	now = now.Add(48 * time.Hour)
	fresh := h.post(t, "alice", "a1-096")

	n, err := h.svc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, offers := h.detail(t, old)
	assert.Equal(t, bounty.BountyExpired, b.Status)
	assert.Equal(t, bounty.OfferCancelled, offers[fromBob].Status)

	b, _ = h.detail(t, fresh)
	assert.Equal(t, bounty.BountyActive, b.Status)

	n, err = h.svc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.svc.ExpireStale(ctx, 0)
	require.ErrorIs(t, err, bounty.ErrInvalidInput)
}

func TestListBounties(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, u := range []string{"u1", "u2", "u3"} {
		h.post(t, u, "a1-055")
		h.post(t, u, "a1-010")
	}
	cancelled := h.post(t, "u4", "a1-096")
	require.NoError(t, h.svc.CancelBounty(ctx, "u4", cancelled))

	page, err := h.svc.ListBounties(ctx, bounty.ListFilter{PageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Bounties, 4)

	page, err = h.svc.ListBounties(ctx, bounty.ListFilter{PageSize: 4, Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Bounties, 2)

	page, err = h.svc.ListBounties(ctx, bounty.ListFilter{Pack: "mewtwo"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, bounty.DefaultPageSize, page.PageSize)

	page, err = h.svc.ListBounties(ctx, bounty.ListFilter{CardName: "nine"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	page, err = h.svc.ListBounties(ctx, bounty.ListFilter{Status: bounty.BountyCancelled})
	require.NoError(t, err)
	require.Len(t, page.Bounties, 1)
	assert.Equal(t, "Pikachu", page.Bounties[0].CardName)

	_, err = h.svc.ListBounties(ctx, bounty.ListFilter{Status: "bogus"})
	require.ErrorIs(t, err, bounty.ErrInvalidInput)
}

func TestMyOffersCarrySettlementState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromBob))

	mine, err := h.svc.MyOffers(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", mine[0].RequesterID)
	assert.Equal(t, bounty.BountyCompleted, mine[0].BountyStatus)
	assert.Equal(t, bounty.SettlementPending, mine[0].SettlementState)
}

// lateCommitStore lets a competing transaction commit and then reports the
// first attempt as a serialization failure, as Postgres does for the loser.
type lateCommitStore struct {
	*memstore.Store
	once   sync.Once
	before func()
}

func (s *lateCommitStore) InTx(ctx context.Context, iso bounty.Isolation, fn func(bounty.Tx) error) error {
	conflict := false
	s.once.Do(func() {
		s.before()
		conflict = true
	})
	if conflict {
		return bounty.ErrTxConflict
	}
	return s.Store.InTx(ctx, iso, fn)
}

func TestAcceptOfferLoserRereadsAfterConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bountyID := h.post(t, "alice", "a1-055")
	fromBob := h.offer(t, "bob", bountyID, "a1-010")
	fromCarol := h.offer(t, "carol", bountyID, "a1-012")

	store := &lateCommitStore{Store: h.store, before: func() {
		require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromCarol))
	}}
	retries := 0
	loser := bounty.NewService(store, h.coll, h.coll, nil,
		bounty.WithRetry(5, 0),
		bounty.WithRetryHook(func(string) { retries++ }),
	)

	err := loser.AcceptOffer(ctx, "alice", fromBob)
	require.ErrorIs(t, err, bounty.ErrInvalidState)
	assert.False(t, errors.Is(err, bounty.ErrTxConflict), "loser should see the committed state, got %v", err)
	assert.Equal(t, 1, retries)

	b, offers := h.detail(t, bountyID)
	assert.Equal(t, bounty.BountyCompleted, b.Status)
	assert.Equal(t, bounty.OfferAccepted, offers[fromCarol].Status)
	assert.Equal(t, bounty.OfferRejected, offers[fromBob].Status)
}

// staleTx reports every bounty as active and every offer as pending, so the
// status swaps are the only thing standing between a stale read and a write.
type staleTx struct {
	bounty.Tx
}

func (t staleTx) Bounty(ctx context.Context, id int64, lock bool) (bounty.Bounty, error) {
	b, err := t.Tx.Bounty(ctx, id, lock)
	b.Status = bounty.BountyActive
	return b, err
}

func (t staleTx) Offer(ctx context.Context, id int64) (bounty.Offer, error) {
	o, err := t.Tx.Offer(ctx, id)
	o.Status = bounty.OfferPending
	return o, err
}

type staleReadStore struct {
	*memstore.Store
}

func (s staleReadStore) InTx(ctx context.Context, iso bounty.Isolation, fn func(bounty.Tx) error) error {
	return s.Store.InTx(ctx, iso, func(tx bounty.Tx) error {
		return fn(staleTx{tx})
	})
}

func TestAcceptOfferStatusSwapsCatchStaleReads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stale := bounty.NewService(staleReadStore{h.store}, h.coll, h.coll, nil)

	t.Run("bounty already completed", func(t *testing.T) {
		bountyID := h.post(t, "alice", "a1-055")
		fromBob := h.offer(t, "bob", bountyID, "a1-010")
		fromCarol := h.offer(t, "carol", bountyID, "a1-012")
		require.NoError(t, h.svc.AcceptOffer(ctx, "alice", fromCarol))

		err := stale.AcceptOffer(ctx, "alice", fromBob)
		require.ErrorIs(t, err, bounty.ErrInvalidState)
		_, offers := h.detail(t, bountyID)
		assert.Equal(t, bounty.OfferRejected, offers[fromBob].Status)
	})

	t.Run("offer already withdrawn", func(t *testing.T) {
		bountyID := h.post(t, "dave", "a1-096")
		fromErin := h.offer(t, "erin", bountyID, "a1-010")
		require.NoError(t, h.svc.WithdrawOffer(ctx, "erin", fromErin))

		err := stale.AcceptOffer(ctx, "dave", fromErin)
		require.ErrorIs(t, err, bounty.ErrInvalidState)

		b, offers := h.detail(t, bountyID)
		assert.Equal(t, bounty.BountyActive, b.Status, "bounty swap must roll back with the failed offer swap")
		assert.Nil(t, b.CompletedAt)
		assert.Equal(t, bounty.OfferCancelled, offers[fromErin].Status)
	})
}

type conflictingStore struct {
	*memstore.Store
}

func (conflictingStore) InTx(context.Context, bounty.Isolation, func(bounty.Tx) error) error {
	return bounty.ErrTxConflict
}

func TestAcceptOfferGivesUpAfterRetries(t *testing.T) {
	mem := memstore.New()
	mem.SeedCards(collection.Card{ID: "a1-055", Name: "Ninetales", Pack: "Charizard"})
	coll := collection.NewService(mem, nil, nil)

	retries := 0
	svc := bounty.NewService(conflictingStore{mem}, coll, coll, nil,
		bounty.WithRetry(3, 0),
		bounty.WithRetryHook(func(op string) {
			assert.Equal(t, "accept_offer", op)
			retries++
		}),
	)

	err := svc.AcceptOffer(context.Background(), "alice", 1)
	require.ErrorIs(t, err, bounty.ErrInvalidState)
	require.ErrorIs(t, err, bounty.ErrTxConflict)
	assert.Equal(t, 2, retries)
}

func TestSinkFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	failing := events.SinkFunc(func(context.Context, events.Event) error {
		return errors.New("stats unavailable")
	})
	h := newHarness(t, bounty.WithSink(failing))

	id, err := h.svc.CreateBounty(ctx, bounty.CreateBountyInput{RequesterID: "alice", CardID: "a1-055"})
	require.NoError(t, err)
	assert.NotZero(t, id)
}
