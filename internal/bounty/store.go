package bounty

import (
	"context"
	"time"
)

type Isolation int

const (
	ReadCommitted Isolation = iota
	Serializable
)

// Store is the ledger of bounties and offers.
//
// InTx runs fn inside one transaction. Writes made through tx become visible
// only if fn returns nil and the commit succeeds; otherwise nothing is
// applied. A store reports a lost race with another transaction as
// ErrTxConflict.
type Store interface {
	InTx(ctx context.Context, iso Isolation, fn func(tx Tx) error) error
	Reader
}

// Reader serves listings outside a transaction.
type Reader interface {
	ListBounties(ctx context.Context, f ListFilter) ([]BountyView, int, error)
	GetBountyView(ctx context.Context, id int64) (BountyView, error)
	ListOffers(ctx context.Context, bountyID int64) ([]Offer, error)
	BountiesByRequester(ctx context.Context, userID string) ([]BountyView, error)
	OffersByOfferer(ctx context.Context, userID string) ([]OfferView, error)
	PendingTrades(ctx context.Context, userID string) ([]Trade, error)
	StaleBounties(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

// Tx is the write surface of one ledger transaction. Lookups return
// ErrNotFound when the row is absent.
type Tx interface {
	ClaimIdempotency(ctx context.Context, userID, key, action string) error

	// Bounty reads a bounty row; lock holds it until the transaction ends.
	Bounty(ctx context.Context, id int64, lock bool) (Bounty, error)
	HasActiveBounty(ctx context.Context, requesterID, cardID string) (bool, error)
	InsertBounty(ctx context.Context, b Bounty) (int64, error)
	// SwapBountyStatus sets status to `to` and completed_at to completedAt
	// only while the row is still in `from`. It reports whether it swapped.
	SwapBountyStatus(ctx context.Context, id int64, from, to BountyStatus, completedAt *time.Time) (bool, error)
	DeleteBounty(ctx context.Context, id int64) error

	Offer(ctx context.Context, id int64) (Offer, error)
	OffersForBounty(ctx context.Context, bountyID int64) ([]Offer, error)
	HasPendingOffer(ctx context.Context, bountyID int64, offererID string) (bool, error)
	InsertOffer(ctx context.Context, o Offer) (int64, error)
	// SwapOfferStatus is the offer counterpart of SwapBountyStatus. A nil
	// acceptedAt leaves accepted_at unchanged.
	SwapOfferStatus(ctx context.Context, id int64, from, to OfferStatus, acceptedAt *time.Time) (bool, error)
	// RetirePendingOffers moves every pending offer of the bounty other than
	// except to status `to` and returns how many moved.
	RetirePendingOffers(ctx context.Context, bountyID, except int64, to OfferStatus) (int64, error)
	// MarkSettled stamps settled_at on an accepted, unsettled offer.
	MarkSettled(ctx context.Context, offerID int64, at time.Time) (bool, error)
	DeleteOffers(ctx context.Context, bountyID int64) (int64, error)
}

type Catalog interface {
	CardExists(ctx context.Context, cardID string) (bool, error)
}

type Inventory interface {
	// HasCard returns how many copies of the card the user holds.
	HasCard(ctx context.Context, userID, cardID string) (int, error)
}
