package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cardbounty/internal/events"
)

func (s *Service) CreateOffer(ctx context.Context, in CreateOfferInput) (int64, error) {
	var err error
	if in.OffererID, err = requireUser(in.OffererID); err != nil {
		return 0, err
	}
	in.CardID = strings.TrimSpace(in.CardID)
	in.Message = strings.TrimSpace(in.Message)
	in.ContactCode = strings.TrimSpace(in.ContactCode)
	if in.CardID == "" {
		return 0, fmt.Errorf("%w: offered card id is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(in.Message); n > MaxMessageLen {
		return 0, fmt.Errorf("%w: message is %d characters, max %d", ErrInvalidInput, n, MaxMessageLen)
	}
	if n := utf8.RuneCountInString(in.ContactCode); n > MaxContactCodeLen {
		return 0, fmt.Errorf("%w: contact code is %d characters, max %d", ErrInvalidInput, n, MaxContactCodeLen)
	}

	var (
		id int64
		b  Bounty
	)
	err = s.inTx(ctx, "create_offer", Serializable, func(tx Tx) error {
		if err := claimIdempotency(ctx, tx, in.OffererID, in.IdempotencyKey, "create_offer"); err != nil {
			return err
		}
		var err error
		// Locked so a concurrent accept cannot complete the bounty underneath
		// a fresh pending offer.
		b, err = tx.Bounty(ctx, in.BountyID, true)
		if err != nil {
			return wrapMissing(err, "bounty", in.BountyID)
		}
		// Self-offers are refused whatever the bounty state or offered card.
		if b.RequesterID == in.OffererID {
			return fmt.Errorf("%w: cannot offer on your own bounty %d", ErrForbidden, b.ID)
		}
		if b.Status != BountyActive {
			return fmt.Errorf("%w: bounty %d is %s, want %s", ErrInvalidState, b.ID, b.Status, BountyActive)
		}
		known, err := s.catalog.CardExists(ctx, in.CardID)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: card %s", ErrNotFound, in.CardID)
		}
		qty, err := s.inv.HasCard(ctx, in.OffererID, in.CardID)
		if err != nil {
			return err
		}
		if qty <= 0 {
			return fmt.Errorf("%w: you do not hold card %s", ErrPreconditionFailed, in.CardID)
		}
		pending, err := tx.HasPendingOffer(ctx, b.ID, in.OffererID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("%w: you already have a pending offer on bounty %d", ErrConflict, b.ID)
		}
		id, err = tx.InsertOffer(ctx, Offer{
			BountyID:    b.ID,
			OffererID:   in.OffererID,
			CardID:      in.CardID,
			Message:     in.Message,
			ContactCode: in.ContactCode,
			Status:      OfferPending,
			CreatedAt:   s.timestamp(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.emit(ctx, events.Event{
		Kind:     events.OfferCreated,
		BountyID: b.ID,
		OfferID:  id,
		CardID:   in.CardID,
	})
	return id, nil
}

// AcceptOffer resolves a bounty to exactly one offer. Every other pending
// offer on the bounty is rejected in the same transaction; offers that are
// no longer pending keep their status.
func (s *Service) AcceptOffer(ctx context.Context, requesterID string, offerID int64) error {
	requesterID, err := requireUser(requesterID)
	if err != nil {
		return err
	}
	var (
		o Offer
		b Bounty
	)
	err = s.inTx(ctx, "accept_offer", Serializable, func(tx Tx) error {
		var err error
		o, b, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if b.RequesterID != requesterID {
			return fmt.Errorf("%w: bounty %d belongs to another user", ErrForbidden, b.ID)
		}
		if o.Status != OfferPending {
			return fmt.Errorf("%w: offer %d is %s, want %s", ErrInvalidState, o.ID, o.Status, OfferPending)
		}
		if b.Status != BountyActive {
			return fmt.Errorf("%w: bounty %d is %s, want %s", ErrInvalidState, b.ID, b.Status, BountyActive)
		}

		now := s.timestamp()
		ok, err := tx.SwapBountyStatus(ctx, b.ID, BountyActive, BountyCompleted, &now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: bounty %d is no longer %s", ErrInvalidState, b.ID, BountyActive)
		}
		ok, err = tx.SwapOfferStatus(ctx, o.ID, OfferPending, OfferAccepted, &now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: offer %d is no longer %s", ErrInvalidState, o.ID, OfferPending)
		}
		rejected, err := tx.RetirePendingOffers(ctx, b.ID, o.ID, OfferRejected)
		if err != nil {
			return err
		}
		s.log.Debug("offer accepted", "bounty_id", b.ID, "offer_id", o.ID, "rejected", rejected)
		return nil
	})
	if errors.Is(err, ErrTxConflict) {
		return fmt.Errorf("%w: offer %d: %w", ErrInvalidState, offerID, err)
	}
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.OfferAccepted,
		Users:    []string{b.RequesterID, o.OffererID},
		BountyID: b.ID,
		OfferID:  o.ID,
		CardID:   b.CardID,
	})
	return nil
}

// RejectOffer turns down one pending offer. The bounty and the other offers
// are left alone.
func (s *Service) RejectOffer(ctx context.Context, requesterID string, offerID int64) error {
	requesterID, err := requireUser(requesterID)
	if err != nil {
		return err
	}
	var o Offer
	err = s.inTx(ctx, "reject_offer", Serializable, func(tx Tx) error {
		var (
			b   Bounty
			err error
		)
		o, b, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if b.RequesterID != requesterID {
			return fmt.Errorf("%w: bounty %d belongs to another user", ErrForbidden, b.ID)
		}
		return swapPendingOffer(ctx, tx, o, OfferRejected)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.OfferRejected,
		BountyID: o.BountyID,
		OfferID:  o.ID,
		CardID:   o.CardID,
	})
	return nil
}

// WithdrawOffer lets an offerer take back their own pending offer.
func (s *Service) WithdrawOffer(ctx context.Context, offererID string, offerID int64) error {
	offererID, err := requireUser(offererID)
	if err != nil {
		return err
	}
	var o Offer
	err = s.inTx(ctx, "withdraw_offer", Serializable, func(tx Tx) error {
		var err error
		o, _, err = lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if o.OffererID != offererID {
			return fmt.Errorf("%w: offer %d belongs to another user", ErrForbidden, o.ID)
		}
		return swapPendingOffer(ctx, tx, o, OfferCancelled)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.OfferWithdrawn,
		BountyID: o.BountyID,
		OfferID:  o.ID,
		CardID:   o.CardID,
	})
	return nil
}

// lockOffer locks the parent bounty and returns the offer as seen under that
// lock. Bounty before offers, always.
func lockOffer(ctx context.Context, tx Tx, offerID int64) (Offer, Bounty, error) {
	o, err := tx.Offer(ctx, offerID)
	if err != nil {
		return Offer{}, Bounty{}, wrapMissing(err, "offer", offerID)
	}
	b, err := tx.Bounty(ctx, o.BountyID, true)
	if err != nil {
		return Offer{}, Bounty{}, wrapMissing(err, "bounty", o.BountyID)
	}
	o, err = tx.Offer(ctx, offerID)
	if err != nil {
		return Offer{}, Bounty{}, wrapMissing(err, "offer", offerID)
	}
	return o, b, nil
}

func swapPendingOffer(ctx context.Context, tx Tx, o Offer, to OfferStatus) error {
	if o.Status != OfferPending {
		return fmt.Errorf("%w: offer %d is %s, want %s", ErrInvalidState, o.ID, o.Status, OfferPending)
	}
	ok, err := tx.SwapOfferStatus(ctx, o.ID, OfferPending, to, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: offer %d is no longer %s", ErrInvalidState, o.ID, OfferPending)
	}
	return nil
}
