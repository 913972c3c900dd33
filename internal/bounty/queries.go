package bounty

import (
	"context"
	"fmt"
)

func (s *Service) ListBounties(ctx context.Context, f ListFilter) (BountyPage, error) {
	f = f.normalized()
	if _, err := ParseBountyStatus(string(f.Status)); err != nil {
		return BountyPage{}, err
	}
	rows, total, err := s.store.ListBounties(ctx, f)
	if err != nil {
		return BountyPage{}, err
	}
	if rows == nil {
		rows = []BountyView{}
	}
	return BountyPage{
		Bounties:   rows,
		TotalCount: total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: totalPages(total, f.PageSize),
	}, nil
}

func (s *Service) BountyDetail(ctx context.Context, bountyID int64) (BountyDetail, error) {
	v, err := s.store.GetBountyView(ctx, bountyID)
	if err != nil {
		return BountyDetail{}, wrapMissing(err, "bounty", bountyID)
	}
	offers, err := s.store.ListOffers(ctx, bountyID)
	if err != nil {
		return BountyDetail{}, err
	}
	if offers == nil {
		offers = []Offer{}
	}
	return BountyDetail{BountyView: v, Offers: offers}, nil
}

func (s *Service) MyBounties(ctx context.Context, userID string) ([]BountyView, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return s.store.BountiesByRequester(ctx, userID)
}

func (s *Service) MyOffers(ctx context.Context, userID string) ([]OfferView, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	views, err := s.store.OffersByOfferer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	for i := range views {
		views[i].SettlementState = views[i].Offer.Settlement()
	}
	return views, nil
}
