package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"cardbounty/internal/events"
)

// expireBatch caps how many bounties one ExpireStale call retires.
const expireBatch = 500

func (s *Service) CreateBounty(ctx context.Context, in CreateBountyInput) (int64, error) {
	var err error
	if in.RequesterID, err = requireUser(in.RequesterID); err != nil {
		return 0, err
	}
	in.CardID = strings.TrimSpace(in.CardID)
	in.Description = strings.TrimSpace(in.Description)
	in.OfferedItem = strings.TrimSpace(in.OfferedItem)
	if in.CardID == "" {
		return 0, fmt.Errorf("%w: card id is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(in.Description); n > MaxDescriptionLen {
		return 0, fmt.Errorf("%w: description is %d characters, max %d", ErrInvalidInput, n, MaxDescriptionLen)
	}
	if n := utf8.RuneCountInString(in.OfferedItem); n > MaxOfferedItemLen {
		return 0, fmt.Errorf("%w: offered item is %d characters, max %d", ErrInvalidInput, n, MaxOfferedItemLen)
	}
	if in.OfferedAmountCents != nil && *in.OfferedAmountCents < 0 {
		return 0, fmt.Errorf("%w: offered amount must be >= 0", ErrInvalidInput)
	}

	ok, err := s.catalog.CardExists(ctx, in.CardID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: card %s", ErrNotFound, in.CardID)
	}

	var id int64
	err = s.inTx(ctx, "create_bounty", Serializable, func(tx Tx) error {
		if err := claimIdempotency(ctx, tx, in.RequesterID, in.IdempotencyKey, "create_bounty"); err != nil {
			return err
		}
		exists, err := tx.HasActiveBounty(ctx, in.RequesterID, in.CardID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: active bounty for card %s already exists", ErrConflict, in.CardID)
		}
		id, err = tx.InsertBounty(ctx, Bounty{
			RequesterID:        in.RequesterID,
			CardID:             in.CardID,
			Description:        in.Description,
			OfferedAmountCents: in.OfferedAmountCents,
			OfferedItem:        in.OfferedItem,
			Status:             BountyActive,
			CreatedAt:          s.timestamp(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	s.emit(ctx, events.Event{
		Kind:     events.BountyCreated,
		Users:    []string{in.RequesterID},
		BountyID: id,
		CardID:   in.CardID,
	})
	return id, nil
}

// CancelBounty retires an active bounty and every pending offer on it.
func (s *Service) CancelBounty(ctx context.Context, requesterID string, bountyID int64) error {
	requesterID, err := requireUser(requesterID)
	if err != nil {
		return err
	}
	var b Bounty
	err = s.inTx(ctx, "cancel_bounty", Serializable, func(tx Tx) error {
		var err error
		b, err = tx.Bounty(ctx, bountyID, true)
		if err != nil {
			return wrapMissing(err, "bounty", bountyID)
		}
		if b.RequesterID != requesterID {
			return fmt.Errorf("%w: bounty %d", ErrNotFound, bountyID)
		}
		return retireBounty(ctx, tx, b, BountyCancelled)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.BountyCancelled,
		Users:    []string{b.RequesterID},
		BountyID: b.ID,
		CardID:   b.CardID,
	})
	return nil
}

// DeleteBounty removes a bounty and its offers. A bounty with an accepted
// offer is kept so the trade stays on record.
func (s *Service) DeleteBounty(ctx context.Context, requesterID string, bountyID int64) error {
	requesterID, err := requireUser(requesterID)
	if err != nil {
		return err
	}
	var b Bounty
	err = s.inTx(ctx, "delete_bounty", Serializable, func(tx Tx) error {
		var err error
		b, err = tx.Bounty(ctx, bountyID, true)
		if err != nil {
			return wrapMissing(err, "bounty", bountyID)
		}
		if b.RequesterID != requesterID {
			return fmt.Errorf("%w: bounty %d belongs to another user", ErrForbidden, bountyID)
		}
		offers, err := tx.OffersForBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.Status == OfferAccepted {
				return fmt.Errorf("%w: bounty %d has accepted offer %d", ErrInvalidState, bountyID, o.ID)
			}
		}
		if _, err := tx.DeleteOffers(ctx, bountyID); err != nil {
			return err
		}
		return tx.DeleteBounty(ctx, bountyID)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.Event{
		Kind:     events.BountyDeleted,
		Users:    []string{b.RequesterID},
		BountyID: b.ID,
		CardID:   b.CardID,
	})
	return nil
}

// ExpireStale moves active bounties created more than olderThan ago to
// expired, one transaction per bounty. It returns how many moved.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: expiry age must be > 0", ErrInvalidInput)
	}
	cutoff := s.timestamp().Add(-olderThan)
	ids, err := s.store.StaleBounties(ctx, cutoff, expireBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		var b Bounty
		moved := false
		err := s.inTx(ctx, "expire_bounty", Serializable, func(tx Tx) error {
			var err error
			moved = false
			b, err = tx.Bounty(ctx, id, true)
			if err != nil {
				return err
			}
			if b.Status != BountyActive || !b.CreatedAt.Before(cutoff) {
				return nil
			}
			moved = true
			return retireBounty(ctx, tx, b, BountyExpired)
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return expired, err
			}
			s.log.Warn("expire bounty failed", "bounty_id", id, "err", err)
			errs = append(errs, err)
			continue
		}
		if !moved {
			continue
		}
		expired++
		s.emit(ctx, events.Event{
			Kind:     events.BountyExpired,
			Users:    []string{b.RequesterID},
			BountyID: b.ID,
			CardID:   b.CardID,
		})
	}
	return expired, errors.Join(errs...)
}

// retireBounty moves an active bounty to a terminal status and cancels its
// pending offers.
func retireBounty(ctx context.Context, tx Tx, b Bounty, to BountyStatus) error {
	if b.Status != BountyActive {
		return fmt.Errorf("%w: bounty %d is %s, want %s", ErrInvalidState, b.ID, b.Status, BountyActive)
	}
	ok, err := tx.SwapBountyStatus(ctx, b.ID, BountyActive, to, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: bounty %d changed concurrently", ErrInvalidState, b.ID)
	}
	_, err = tx.RetirePendingOffers(ctx, b.ID, 0, OfferCancelled)
	return err
}

func wrapMissing(err error, entity string, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
	}
	return err
}
