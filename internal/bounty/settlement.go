package bounty

import (
	"context"
	"fmt"

	"cardbounty/internal/events"
)

// CompleteSettlement records that the traded cards changed hands. Calling it
// again keeps the first settlement time.
func (s *Service) CompleteSettlement(ctx context.Context, userID string, offerID int64) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	var (
		o       Offer
		b       Bounty
		already bool
	)
	err = s.inTx(ctx, "complete_settlement", Serializable, func(tx Tx) error {
		var err error
		o, b, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if o.Status != OfferAccepted {
			return fmt.Errorf("%w: offer %d has no accepted trade", ErrNotFound, o.ID)
		}
		if err := requireParty(userID, o, b); err != nil {
			return err
		}
		if o.SettledAt != nil {
			already = true
			return nil
		}
		already = false
		ok, err := tx.MarkSettled(ctx, o.ID, s.timestamp())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: offer %d changed concurrently", ErrInvalidState, o.ID)
		}
		return nil
	})
	if err != nil || already {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.SettlementCompleted,
		Users:    []string{b.RequesterID, o.OffererID},
		BountyID: b.ID,
		OfferID:  o.ID,
		CardID:   b.CardID,
	})
	return nil
}

// CancelSettlement backs out of an accepted trade that has not been handed
// off. The offer becomes cancelled and the bounty is open again.
func (s *Service) CancelSettlement(ctx context.Context, userID string, offerID int64) error {
	userID, err := requireUser(userID)
	if err != nil {
		return err
	}
	var (
		o Offer
		b Bounty
	)
	err = s.inTx(ctx, "cancel_settlement", Serializable, func(tx Tx) error {
		var err error
		o, b, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if err := requireParty(userID, o, b); err != nil {
			return err
		}
		if o.Status != OfferAccepted {
			return fmt.Errorf("%w: offer %d is %s, want %s", ErrInvalidState, o.ID, o.Status, OfferAccepted)
		}
		if o.SettledAt != nil {
			return fmt.Errorf("%w: trade for offer %d was already completed", ErrInvalidState, o.ID)
		}
		if b.Status != BountyCompleted {
			return fmt.Errorf("%w: bounty %d is %s, want %s", ErrInvalidState, b.ID, b.Status, BountyCompleted)
		}
		// Reopening must not give the requester a second active bounty for
		// the same card.
		exists, err := tx.HasActiveBounty(ctx, b.RequesterID, b.CardID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: requester already has an active bounty for card %s", ErrConflict, b.CardID)
		}

		ok, err := tx.SwapOfferStatus(ctx, o.ID, OfferAccepted, OfferCancelled, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: offer %d is no longer %s", ErrInvalidState, o.ID, OfferAccepted)
		}
		ok, err = tx.SwapBountyStatus(ctx, b.ID, BountyCompleted, BountyActive, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: bounty %d is no longer %s", ErrInvalidState, b.ID, BountyCompleted)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.SettlementCancelled,
		Users:    []string{b.RequesterID, o.OffererID},
		BountyID: b.ID,
		OfferID:  o.ID,
		CardID:   b.CardID,
	})
	return nil
}

// PendingTrades lists accepted, unsettled offers where the user is either
// side of the trade.
func (s *Service) PendingTrades(ctx context.Context, userID string) ([]Trade, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return s.store.PendingTrades(ctx, userID)
}

func requireParty(userID string, o Offer, b Bounty) error {
	if userID != b.RequesterID && userID != o.OffererID {
		return fmt.Errorf("%w: not a party to offer %d", ErrForbidden, o.ID)
	}
	return nil
}
