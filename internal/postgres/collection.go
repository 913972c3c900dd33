package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
)

func (s *Store) Card(ctx context.Context, cardID string) (collection.Card, error) {
	var c collection.Card
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, pack, expansion, rarity, image_url
		FROM cards
		WHERE id = $1
	`, cardID).Scan(&c.ID, &c.Name, &c.Pack, &c.Expansion, &c.Rarity, &c.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return collection.Card{}, bounty.ErrNotFound
	}
	return c, err
}

func (s *Store) Packs(ctx context.Context) ([]collection.Pack, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pack, min(expansion), count(*)
		FROM cards
		GROUP BY pack
		ORDER BY pack
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []collection.Pack{}
	for rows.Next() {
		var p collection.Pack
		if err := rows.Scan(&p.Name, &p.Expansion, &p.CardCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const entrySelect = `
	SELECT c.id, c.name, c.pack, c.expansion, c.rarity, c.image_url,
		uc.quantity, uc.for_trade, uc.updated_at
	FROM user_cards uc
	JOIN cards c ON c.id = uc.card_id`

func scanEntry(row scanner) (collection.Entry, error) {
	var e collection.Entry
	err := row.Scan(&e.ID, &e.Name, &e.Pack, &e.Expansion, &e.Rarity, &e.ImageURL,
		&e.Quantity, &e.ForTrade, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return collection.Entry{}, bounty.ErrNotFound
	}
	return e, err
}

func (s *Store) Entries(ctx context.Context, userID string, f collection.Filter) ([]collection.Entry, error) {
	rows, err := s.pool.Query(ctx, entrySelect+`
		WHERE uc.user_id = $1
		  AND ($2::text = '' OR lower(c.pack) = lower($2))
		  AND ($3::text = '' OR lower(c.rarity) = lower($3))
		ORDER BY c.id
	`, userID, f.Pack, f.Rarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []collection.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Entry(ctx context.Context, userID, cardID string) (collection.Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx, entrySelect+`
		WHERE uc.user_id = $1 AND uc.card_id = $2
	`, userID, cardID))
}

func (s *Store) PutEntry(ctx context.Context, userID, cardID string, quantity int, forTrade bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_cards (user_id, card_id, quantity, for_trade, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, card_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, for_trade = EXCLUDED.for_trade, updated_at = now()
	`, userID, cardID, quantity, forTrade)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: card %s", bounty.ErrNotFound, cardID)
	}
	return err
}

func (s *Store) DeleteEntry(ctx context.Context, userID, cardID string) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM user_cards WHERE user_id = $1 AND card_id = $2`, userID, cardID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
