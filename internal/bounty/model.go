package bounty

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxDescriptionLen = 500
	MaxOfferedItemLen = 200
	MaxMessageLen     = 500
	MaxContactCodeLen = 64

	DefaultPageSize = 20
	MaxPageSize     = 100
)

type BountyStatus string

const (
	BountyActive    BountyStatus = "active"
	BountyCompleted BountyStatus = "completed"
	BountyCancelled BountyStatus = "cancelled"
	BountyExpired   BountyStatus = "expired"
)

func ParseBountyStatus(s string) (BountyStatus, error) {
	st := BountyStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case BountyActive, BountyCompleted, BountyCancelled, BountyExpired:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown bounty status %q", ErrInvalidInput, s)
	}
}

// Terminal reports whether no forward transition leaves this status.
// Completed is not terminal: a cancelled settlement reopens it.
func (s BountyStatus) Terminal() bool {
	switch s {
	case BountyActive, BountyCompleted:
		return false
	case BountyCancelled, BountyExpired:
		return true
	default:
		panic(fmt.Sprintf("bounty: unhandled status %q", string(s)))
	}
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

func ParseOfferStatus(s string) (OfferStatus, error) {
	st := OfferStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case OfferPending, OfferAccepted, OfferRejected, OfferCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown offer status %q", ErrInvalidInput, s)
	}
}

type SettlementState string

const (
	SettlementNone      SettlementState = "none"
	SettlementPending   SettlementState = "pending"
	SettlementComplete  SettlementState = "complete"
	SettlementCancelled SettlementState = "cancelled"
)

type Bounty struct {
	ID                 int64        `json:"id"`
	RequesterID        string       `json:"requester_id"`
	CardID             string       `json:"card_id"`
	Description        string       `json:"description"`
	OfferedAmountCents *int64       `json:"offered_amount_cents,omitempty"`
	OfferedItem        string       `json:"offered_item,omitempty"`
	Status             BountyStatus `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

type Offer struct {
	ID          int64       `json:"id"`
	BountyID    int64       `json:"bounty_id"`
	OffererID   string      `json:"offerer_id"`
	CardID      string      `json:"card_id"`
	Message     string      `json:"message,omitempty"`
	ContactCode string      `json:"contact_code,omitempty"`
	Status      OfferStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	SettledAt   *time.Time  `json:"settled_at,omitempty"`
}

// Settlement derives the hand-off state of an offer.
func (o Offer) Settlement() SettlementState {
	switch o.Status {
	case OfferAccepted:
		if o.SettledAt != nil {
			return SettlementComplete
		}
		return SettlementPending
	case OfferCancelled:
		if o.AcceptedAt != nil {
			return SettlementCancelled
		}
		return SettlementNone
	case OfferPending, OfferRejected:
		return SettlementNone
	default:
		panic(fmt.Sprintf("bounty: unhandled offer status %q", string(o.Status)))
	}
}

type CreateBountyInput struct {
	RequesterID        string
	CardID             string
	Description        string
	OfferedAmountCents *int64
	OfferedItem        string
	IdempotencyKey     string
}

type CreateOfferInput struct {
	OffererID      string
	BountyID       int64
	CardID         string
	Message        string
	ContactCode    string
	IdempotencyKey string
}

type ListFilter struct {
	CardName string
	Pack     string
	Status   BountyStatus
	Page     int
	PageSize int
}

func (f ListFilter) normalized() ListFilter {
	if f.Status == "" {
		f.Status = BountyActive
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	f.CardName = strings.TrimSpace(f.CardName)
	f.Pack = strings.TrimSpace(f.Pack)
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

type BountyView struct {
	Bounty
	CardName   string `json:"card_name"`
	Pack       string `json:"pack"`
	ImageURL   string `json:"image_url,omitempty"`
	OfferCount int    `json:"offer_count"`
}

type BountyPage struct {
	Bounties   []BountyView `json:"bounties"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

type BountyDetail struct {
	BountyView
	Offers []Offer `json:"offers"`
}

type OfferView struct {
	Offer
	RequesterID     string          `json:"requester_id"`
	BountyCardID    string          `json:"bounty_card_id"`
	BountyStatus    BountyStatus    `json:"bounty_status"`
	SettlementState SettlementState `json:"settlement_state"`
}

// Trade is an accepted offer awaiting hand-off.
type Trade struct {
	OfferID         int64     `json:"offer_id"`
	BountyID        int64     `json:"bounty_id"`
	RequesterID     string    `json:"requester_id"`
	OffererID       string    `json:"offerer_id"`
	RequestedCardID string    `json:"requested_card_id"`
	OfferedCardID   string    `json:"offered_card_id"`
	OfferedItem     string    `json:"offered_item,omitempty"`
	OffererContact  string    `json:"offerer_contact,omitempty"`
	AcceptedAt      time.Time `json:"accepted_at"`
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
