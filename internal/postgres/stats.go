package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"cardbounty/internal/bounty"
	"cardbounty/internal/stats"
)

func (s *Store) UserFacts(ctx context.Context, userID string) (stats.Facts, error) {
	var f stats.Facts
	err := s.pool.QueryRow(ctx, `
		WITH owned AS (
			SELECT uc.card_id, uc.quantity, c.pack
			FROM user_cards uc
			JOIN cards c ON c.id = uc.card_id
			WHERE uc.user_id = $1 AND uc.quantity > 0
		),
		owned_per_pack AS (
			SELECT pack, count(*) AS n FROM owned GROUP BY pack
		),
		pack_sizes AS (
			SELECT pack, count(*) AS n FROM cards GROUP BY pack
		)
		SELECT
			COALESCE((SELECT sum(quantity) FROM owned), 0),
			(SELECT count(*) FROM owned),
			(SELECT count(*) FROM owned_per_pack op JOIN pack_sizes ps ON ps.pack = op.pack WHERE op.n >= ps.n),
			(SELECT count(*) FROM bounty_requests WHERE requester_id = $1 AND status = 'completed'),
			(SELECT count(*) FROM bounty_requests WHERE requester_id = $1),
			(SELECT count(*)
			 FROM bounty_offers o
			 JOIN bounty_requests b ON b.id = o.bounty_id
			 WHERE o.status = 'accepted' AND o.settled_at IS NOT NULL
			   AND (o.offerer_id = $1 OR b.requester_id = $1))
	`, userID).Scan(&f.TotalCards, &f.UniqueCards, &f.CompletedSets,
		&f.BountiesCompleted, &f.BountiesPosted, &f.TradesCompleted)
	return f, err
}

func (s *Store) UpsertStats(ctx context.Context, st stats.UserStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, total_cards, unique_cards, completed_sets,
			bounties_completed, bounties_posted, trades_completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			total_cards = EXCLUDED.total_cards,
			unique_cards = EXCLUDED.unique_cards,
			completed_sets = EXCLUDED.completed_sets,
			bounties_completed = EXCLUDED.bounties_completed,
			bounties_posted = EXCLUDED.bounties_posted,
			trades_completed = EXCLUDED.trades_completed,
			updated_at = EXCLUDED.updated_at
	`, st.UserID, st.TotalCards, st.UniqueCards, st.CompletedSets,
		st.BountiesCompleted, st.BountiesPosted, st.TradesCompleted, st.UpdatedAt)
	return err
}

func (s *Store) GetStats(ctx context.Context, userID string) (stats.UserStats, error) {
	st := stats.UserStats{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT total_cards, unique_cards, completed_sets, bounties_completed,
			bounties_posted, trades_completed, updated_at
		FROM user_stats
		WHERE user_id = $1
	`, userID).Scan(&st.TotalCards, &st.UniqueCards, &st.CompletedSets, &st.BountiesCompleted,
		&st.BountiesPosted, &st.TradesCompleted, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats.UserStats{}, bounty.ErrNotFound
	}
	return st, err
}

func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM profiles
		UNION SELECT user_id FROM user_cards
		UNION SELECT user_id FROM user_stats
		UNION SELECT requester_id FROM bounty_requests
		UNION SELECT offerer_id FROM bounty_offers
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) CatalogCount(ctx context.Context, pack string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM cards WHERE $1::text = '' OR pack = $1
	`, pack).Scan(&n)
	return n, err
}

func (s *Store) Standings(ctx context.Context, pack string) ([]stats.Standing, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if pack == "" {
		rows, err = s.pool.Query(ctx, `SELECT user_id, unique_cards, total_cards FROM user_stats`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT uc.user_id, count(*), COALESCE(sum(uc.quantity), 0)
			FROM user_cards uc
			JOIN cards c ON c.id = uc.card_id
			WHERE c.pack = $1 AND uc.quantity > 0
			GROUP BY uc.user_id
		`, pack)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (stats.Standing, error) {
		var st stats.Standing
		err := row.Scan(&st.UserID, &st.UniqueCards, &st.TotalCards)
		return st, err
	})
}
