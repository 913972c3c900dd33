// Package postgres implements the ledger, inventory and stats repositories on
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/stats"
)

var (
	_ bounty.Store          = (*Store)(nil)
	_ collection.Repository = (*Store)(nil)
	_ stats.Repository      = (*Store)(nil)
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, iso bounty.Isolation, fn func(tx bounty.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if iso == bounty.Serializable {
		opts.IsoLevel = pgx.Serializable
	}
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{q: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// EnsureProfile records a user the first time they sign in.
func (s *Store) EnsureProfile(ctx context.Context, userID, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email
	`, userID, email)
	return err
}

// mapError turns SQLSTATEs the services care about into domain errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", bounty.ErrTxConflict, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", bounty.ErrConflict, pgErr.ConstraintName)
	default:
		return err
	}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}
