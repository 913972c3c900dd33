package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"cardbounty/internal/bounty"
)

const viewSelect = `
	SELECT ` + bountyColumns + `, c.name, c.pack, c.image_url,
		(SELECT count(*) FROM bounty_offers o WHERE o.bounty_id = b.id)
	FROM bounty_requests b
	JOIN cards c ON c.id = b.card_id`

const listWhere = `
	WHERE b.status = $1
	  AND ($2::text = '' OR c.name ILIKE '%' || $2 || '%')
	  AND ($3::text = '' OR lower(c.pack) = lower($3))`

func scanView(row scanner) (bounty.BountyView, error) {
	var v bounty.BountyView
	b, err := scanBounty(row, &v.CardName, &v.Pack, &v.ImageURL, &v.OfferCount)
	if err != nil {
		return bounty.BountyView{}, err
	}
	v.Bounty = b
	return v, nil
}

func collectViews(rows pgx.Rows) ([]bounty.BountyView, error) {
	defer rows.Close()
	out := []bounty.BountyView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListBounties(ctx context.Context, f bounty.ListFilter) ([]bounty.BountyView, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bounty_requests b
		JOIN cards c ON c.id = b.card_id`+listWhere,
		string(f.Status), f.CardName, f.Pack,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, viewSelect+listWhere+`
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT $4 OFFSET $5
	`, string(f.Status), f.CardName, f.Pack, f.PageSize, f.Offset())
	if err != nil {
		return nil, 0, err
	}
	views, err := collectViews(rows)
	return views, total, err
}

func (s *Store) GetBountyView(ctx context.Context, id int64) (bounty.BountyView, error) {
	return scanView(s.pool.QueryRow(ctx, viewSelect+` WHERE b.id = $1`, id))
}

func (s *Store) ListOffers(ctx context.Context, bountyID int64) ([]bounty.Offer, error) {
	return listOffers(ctx, s.pool, bountyID)
}

func (s *Store) BountiesByRequester(ctx context.Context, userID string) ([]bounty.BountyView, error) {
	rows, err := s.pool.Query(ctx, viewSelect+`
		WHERE b.requester_id = $1
		ORDER BY b.created_at DESC, b.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectViews(rows)
}

func (s *Store) OffersByOfferer(ctx context.Context, userID string) ([]bounty.OfferView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+offerColumns+`, b.requester_id, b.card_id, b.status
		FROM bounty_offers o
		JOIN bounty_requests b ON b.id = o.bounty_id
		WHERE o.offerer_id = $1
		ORDER BY o.created_at DESC, o.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []bounty.OfferView{}
	for rows.Next() {
		var (
			v            bounty.OfferView
			bountyStatus string
		)
		o, err := scanOffer(rows, &v.RequesterID, &v.BountyCardID, &bountyStatus)
		if err != nil {
			return nil, err
		}
		v.Offer = o
		v.BountyStatus = bounty.BountyStatus(bountyStatus)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) PendingTrades(ctx context.Context, userID string) ([]bounty.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, b.id, b.requester_id, o.offerer_id, b.card_id, o.card_id,
			b.offered_item, o.contact_code, o.accepted_at
		FROM bounty_offers o
		JOIN bounty_requests b ON b.id = o.bounty_id
		WHERE o.status = 'accepted'
		  AND o.settled_at IS NULL
		  AND (b.requester_id = $1 OR o.offerer_id = $1)
		ORDER BY o.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []bounty.Trade{}
	for rows.Next() {
		var (
			t          bounty.Trade
			acceptedAt *time.Time
		)
		if err := rows.Scan(&t.OfferID, &t.BountyID, &t.RequesterID, &t.OffererID, &t.RequestedCardID,
			&t.OfferedCardID, &t.OfferedItem, &t.OffererContact, &acceptedAt); err != nil {
			return nil, err
		}
		if acceptedAt != nil {
			t.AcceptedAt = *acceptedAt
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) StaleBounties(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id
		FROM bounty_requests
		WHERE status = 'active' AND created_at < $1
		ORDER BY id
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
