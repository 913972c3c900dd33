package bounty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cardbounty/internal/events"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 50 * time.Millisecond
	maxRetryDelay      = 800 * time.Millisecond
)

type Service struct {
	store   Store
	catalog Catalog
	inv     Inventory
	sink    events.Sink
	log     *slog.Logger
	now     func() time.Time

	maxAttempts int
	retryDelay  time.Duration
	onRetry     func(op string)
}

type Option func(*Service)

// WithSink sets where committed mutations are announced.
func WithSink(sink events.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetry bounds how often a transaction that lost a race is replayed.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithRetryHook is called once per replayed transaction.
func WithRetryHook(fn func(op string)) Option {
	return func(s *Service) {
		s.onRetry = fn
	}
}

func NewService(store Store, catalog Catalog, inv Inventory, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		catalog:     catalog,
		inv:         inv,
		sink:        events.Nop,
		log:         logger,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn and replays it while the store reports ErrTxConflict.
func (s *Service) inTx(ctx context.Context, op string, iso Isolation, fn func(Tx) error) error {
	retryDelay := s.retryDelay
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.store.InTx(ctx, iso, fn)
		if err == nil || !errors.Is(err, ErrTxConflict) {
			return err
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		if s.onRetry != nil {
			s.onRetry(op)
		}
		s.log.Debug("retrying transaction", "op", op, "attempt", attempt+1, "err", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, s.maxAttempts, err)
}

// emit hands a committed mutation to the sink. The mutation already stands,
// so sink failures are only logged.
func (s *Service) emit(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.sink.Handle(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("event sink failed", "kind", ev.Kind, "bounty_id", ev.BountyID, "offer_id", ev.OfferID, "err", err)
	}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return userID, nil
}

func claimIdempotency(ctx context.Context, tx Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := tx.ClaimIdempotency(ctx, userID, key, action); err != nil {
		if errors.Is(err, ErrDuplicateIdempotency) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}
	return nil
}
