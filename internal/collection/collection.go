// Package collection keeps each user's card inventory and exposes the card
// catalog to the bounty board.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cardbounty/internal/bounty"
	"cardbounty/internal/events"
)

type Card struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Pack      string `json:"pack"`
	Expansion string `json:"expansion,omitempty"`
	Rarity    string `json:"rarity,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

type Pack struct {
	Name      string `json:"name"`
	Expansion string `json:"expansion,omitempty"`
	CardCount int    `json:"card_count"`
}

type Entry struct {
	Card
	Quantity  int       `json:"quantity"`
	ForTrade  bool      `json:"for_trade"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Filter struct {
	Pack   string
	Rarity string
}

// Repository stores catalog cards and one inventory row per (user, card).
// Lookups return bounty.ErrNotFound when nothing matches.
type Repository interface {
	Card(ctx context.Context, cardID string) (Card, error)
	Packs(ctx context.Context) ([]Pack, error)
	Entries(ctx context.Context, userID string, f Filter) ([]Entry, error)
	Entry(ctx context.Context, userID, cardID string) (Entry, error)
	PutEntry(ctx context.Context, userID, cardID string, quantity int, forTrade bool) error
	DeleteEntry(ctx context.Context, userID, cardID string) (bool, error)
}

type Service struct {
	repo Repository
	sink events.Sink
	log  *slog.Logger
}

func NewService(repo Repository, sink events.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Nop
	}
	return &Service{repo: repo, sink: sink, log: logger}
}

// CardExists reports whether the catalog knows the card.
func (s *Service) CardExists(ctx context.Context, cardID string) (bool, error) {
	_, err := s.repo.Card(ctx, strings.TrimSpace(cardID))
	if errors.Is(err, bounty.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasCard returns how many copies of the card the user holds.
func (s *Service) HasCard(ctx context.Context, userID, cardID string) (int, error) {
	e, err := s.repo.Entry(ctx, userID, strings.TrimSpace(cardID))
	if errors.Is(err, bounty.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.Quantity, nil
}

func (s *Service) Packs(ctx context.Context) ([]Pack, error) {
	return s.repo.Packs(ctx)
}

func (s *Service) List(ctx context.Context, userID string, f Filter) ([]Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", bounty.ErrInvalidInput)
	}
	f.Pack = strings.TrimSpace(f.Pack)
	f.Rarity = strings.TrimSpace(f.Rarity)
	entries, err := s.repo.Entries(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// AddCard adds quantity copies to the user's row for the card, creating it
// if needed.
func (s *Service) AddCard(ctx context.Context, userID, cardID string, quantity int, forTrade bool) (Entry, error) {
	cardID = strings.TrimSpace(cardID)
	if quantity < 1 {
		return Entry{}, fmt.Errorf("%w: quantity must be >= 1", bounty.ErrInvalidInput)
	}
	if err := s.requireCard(ctx, userID, cardID); err != nil {
		return Entry{}, err
	}
	cur, err := s.repo.Entry(ctx, userID, cardID)
	switch {
	case errors.Is(err, bounty.ErrNotFound):
	case err != nil:
		return Entry{}, err
	default:
		quantity += cur.Quantity
	}
	if err := s.repo.PutEntry(ctx, userID, cardID, quantity, forTrade); err != nil {
		return Entry{}, err
	}
	return s.changed(ctx, userID, cardID)
}

// SetQuantity overwrites the quantity held. Zero or less removes the row.
func (s *Service) SetQuantity(ctx context.Context, userID, cardID string, quantity int) (Entry, error) {
	cardID = strings.TrimSpace(cardID)
	if quantity <= 0 {
		return Entry{}, s.RemoveCard(ctx, userID, cardID)
	}
	if err := s.requireCard(ctx, userID, cardID); err != nil {
		return Entry{}, err
	}
	forTrade := false
	cur, err := s.repo.Entry(ctx, userID, cardID)
	switch {
	case errors.Is(err, bounty.ErrNotFound):
	case err != nil:
		return Entry{}, err
	default:
		forTrade = cur.ForTrade
	}
	if err := s.repo.PutEntry(ctx, userID, cardID, quantity, forTrade); err != nil {
		return Entry{}, err
	}
	return s.changed(ctx, userID, cardID)
}

func (s *Service) RemoveCard(ctx context.Context, userID, cardID string) error {
	cardID = strings.TrimSpace(cardID)
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", bounty.ErrInvalidInput)
	}
	ok, err := s.repo.DeleteEntry(ctx, userID, cardID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: card %s is not in your collection", bounty.ErrNotFound, cardID)
	}
	s.emit(ctx, userID, cardID)
	return nil
}

// ToggleTrade flips the for-trade flag and returns the updated row.
func (s *Service) ToggleTrade(ctx context.Context, userID, cardID string) (Entry, error) {
	cardID = strings.TrimSpace(cardID)
	cur, err := s.repo.Entry(ctx, userID, cardID)
	if errors.Is(err, bounty.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: card %s is not in your collection", bounty.ErrNotFound, cardID)
	}
	if err != nil {
		return Entry{}, err
	}
	if err := s.repo.PutEntry(ctx, userID, cardID, cur.Quantity, !cur.ForTrade); err != nil {
		return Entry{}, err
	}
	return s.repo.Entry(ctx, userID, cardID)
}

func (s *Service) requireCard(ctx context.Context, userID, cardID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", bounty.ErrInvalidInput)
	}
	if cardID == "" {
		return fmt.Errorf("%w: card id is required", bounty.ErrInvalidInput)
	}
	if _, err := s.repo.Card(ctx, cardID); err != nil {
		if errors.Is(err, bounty.ErrNotFound) {
			return fmt.Errorf("%w: card %s", bounty.ErrNotFound, cardID)
		}
		return err
	}
	return nil
}

func (s *Service) changed(ctx context.Context, userID, cardID string) (Entry, error) {
	s.emit(ctx, userID, cardID)
	return s.repo.Entry(ctx, userID, cardID)
}

func (s *Service) emit(ctx context.Context, userID, cardID string) {
	ev := events.Event{
		Kind:   events.CollectionChanged,
		Users:  []string{userID},
		CardID: cardID,
		At:     time.Now().UTC(),
	}
	if err := s.sink.Handle(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("event sink failed", "kind", ev.Kind, "user_id", userID, "err", err)
	}
}
