package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cardbounty/internal/bounty"
)

const bountyColumns = `b.id, b.requester_id, b.card_id, b.description, b.offered_amount_cents,
	b.offered_item, b.status, b.created_at, b.completed_at`

const offerColumns = `o.id, o.bounty_id, o.offerer_id, o.card_id, o.message, o.contact_code,
	o.status, o.created_at, o.accepted_at, o.settled_at`

func scanBounty(row scanner, extra ...any) (bounty.Bounty, error) {
	var (
		b      bounty.Bounty
		status string
	)
	dest := append([]any{
		&b.ID, &b.RequesterID, &b.CardID, &b.Description, &b.OfferedAmountCents,
		&b.OfferedItem, &status, &b.CreatedAt, &b.CompletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bounty.Bounty{}, bounty.ErrNotFound
		}
		return bounty.Bounty{}, err
	}
	b.Status = bounty.BountyStatus(status)
	return b, nil
}

func scanOffer(row scanner, extra ...any) (bounty.Offer, error) {
	var (
		o      bounty.Offer
		status string
	)
	dest := append([]any{
		&o.ID, &o.BountyID, &o.OffererID, &o.CardID, &o.Message, &o.ContactCode,
		&status, &o.CreatedAt, &o.AcceptedAt, &o.SettledAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bounty.Offer{}, bounty.ErrNotFound
		}
		return bounty.Offer{}, err
	}
	o.Status = bounty.OfferStatus(status)
	return o, nil
}

func listOffers(ctx context.Context, q querier, bountyID int64) ([]bounty.Offer, error) {
	rows, err := q.Query(ctx, `
		SELECT `+offerColumns+`
		FROM bounty_offers o
		WHERE o.bounty_id = $1
		ORDER BY o.id
	`, bountyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []bounty.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type ledgerTx struct {
	q querier
}

func (t *ledgerTx) ClaimIdempotency(ctx context.Context, userID, key, action string) error {
	cmd, err := t.q.Exec(ctx, `
		INSERT INTO idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return bounty.ErrDuplicateIdempotency
	}
	return nil
}

func (t *ledgerTx) Bounty(ctx context.Context, id int64, lock bool) (bounty.Bounty, error) {
	sql := `SELECT ` + bountyColumns + ` FROM bounty_requests b WHERE b.id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	return scanBounty(t.q.QueryRow(ctx, sql, id))
}

func (t *ledgerTx) HasActiveBounty(ctx context.Context, requesterID, cardID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bounty_requests
			WHERE requester_id = $1 AND card_id = $2 AND status = 'active'
		)
	`, requesterID, cardID).Scan(&exists)
	return exists, err
}

func (t *ledgerTx) InsertBounty(ctx context.Context, b bounty.Bounty) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
		INSERT INTO bounty_requests (requester_id, card_id, description, offered_amount_cents, offered_item, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, b.RequesterID, b.CardID, b.Description, b.OfferedAmountCents, b.OfferedItem, string(b.Status), b.CreatedAt).Scan(&id)
	return id, err
}

func (t *ledgerTx) SwapBountyStatus(ctx context.Context, id int64, from, to bounty.BountyStatus, completedAt *time.Time) (bool, error) {
	cmd, err := t.q.Exec(ctx, `
		UPDATE bounty_requests
		SET status = $3, completed_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), completedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *ledgerTx) DeleteBounty(ctx context.Context, id int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM bounty_requests WHERE id = $1`, id)
	return err
}

func (t *ledgerTx) Offer(ctx context.Context, id int64) (bounty.Offer, error) {
	return scanOffer(t.q.QueryRow(ctx, `SELECT `+offerColumns+` FROM bounty_offers o WHERE o.id = $1`, id))
}

func (t *ledgerTx) OffersForBounty(ctx context.Context, bountyID int64) ([]bounty.Offer, error) {
	return listOffers(ctx, t.q, bountyID)
}

func (t *ledgerTx) HasPendingOffer(ctx context.Context, bountyID int64, offererID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bounty_offers
			WHERE bounty_id = $1 AND offerer_id = $2 AND status = 'pending'
		)
	`, bountyID, offererID).Scan(&exists)
	return exists, err
}

func (t *ledgerTx) InsertOffer(ctx context.Context, o bounty.Offer) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
		INSERT INTO bounty_offers (bounty_id, offerer_id, card_id, message, contact_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, o.BountyID, o.OffererID, o.CardID, o.Message, o.ContactCode, string(o.Status), o.CreatedAt).Scan(&id)
	return id, err
}

func (t *ledgerTx) SwapOfferStatus(ctx context.Context, id int64, from, to bounty.OfferStatus, acceptedAt *time.Time) (bool, error) {
	cmd, err := t.q.Exec(ctx, `
		UPDATE bounty_offers
		SET status = $3, accepted_at = COALESCE($4::timestamptz, accepted_at)
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), acceptedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *ledgerTx) RetirePendingOffers(ctx context.Context, bountyID, except int64, to bounty.OfferStatus) (int64, error) {
	cmd, err := t.q.Exec(ctx, `
		UPDATE bounty_offers
		SET status = $3
		WHERE bounty_id = $1 AND id <> $2 AND status = 'pending'
	`, bountyID, except, string(to))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (t *ledgerTx) MarkSettled(ctx context.Context, offerID int64, at time.Time) (bool, error) {
	cmd, err := t.q.Exec(ctx, `
		UPDATE bounty_offers
		SET settled_at = $2
		WHERE id = $1 AND status = 'accepted' AND settled_at IS NULL
	`, offerID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *ledgerTx) DeleteOffers(ctx context.Context, bountyID int64) (int64, error) {
	cmd, err := t.q.Exec(ctx, `DELETE FROM bounty_offers WHERE bounty_id = $1`, bountyID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
