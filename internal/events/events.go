package events

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	BountyCreated       Kind = "bounty.created"
	BountyCancelled     Kind = "bounty.cancelled"
	BountyDeleted       Kind = "bounty.deleted"
	BountyExpired       Kind = "bounty.expired"
	OfferCreated        Kind = "offer.created"
	OfferAccepted       Kind = "offer.accepted"
	OfferRejected       Kind = "offer.rejected"
	OfferWithdrawn      Kind = "offer.withdrawn"
	SettlementCompleted Kind = "settlement.completed"
	SettlementCancelled Kind = "settlement.cancelled"
	CollectionChanged   Kind = "collection.changed"
)

// Event describes a committed mutation. Users lists every user whose derived
// totals may have moved.
type Event struct {
	Kind     Kind
	Users    []string
	BountyID int64
	OfferID  int64
	CardID   string
	At       time.Time
}

type Sink interface {
	Handle(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Handle(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopSink struct{}

func (nopSink) Handle(context.Context, Event) error { return nil }

// Nop discards events.
var Nop Sink = nopSink{}
