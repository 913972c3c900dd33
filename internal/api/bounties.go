package api

import (
	"context"
	"net/http"
	"strings"

	"cardbounty/internal/bounty"
)

func (s *Server) handleListBounties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bounty.ListFilter{
		CardName: strings.TrimSpace(q.Get("card_name")),
		Pack:     strings.TrimSpace(q.Get("pack")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := bounty.ParseBountyStatus(raw)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		f.Status = st
	}
	page, ok := queryInt(r, "page")
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be a number")
		return
	}
	size, ok := queryInt(r, "page_size")
	if !ok {
		writeError(w, http.StatusBadRequest, "page_size must be a number")
		return
	}
	f.Page, f.PageSize = page, size

	out, err := s.bounties.ListBounties(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBountyDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	out, err := s.bounties.BountyDetail(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		CardID             string `json:"card_id"`
		Description        string `json:"description"`
		OfferedAmountCents *int64 `json:"offered_amount_cents"`
		OfferedItem        string `json:"offered_item"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.bounties.CreateBounty(r.Context(), bounty.CreateBountyInput{
		RequesterID:        user.UserID,
		CardID:             in.CardID,
		Description:        in.Description,
		OfferedAmountCents: in.OfferedAmountCents,
		OfferedItem:        in.OfferedItem,
		IdempotencyKey:     idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleMyBounties(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.bounties.MyBounties(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bounties": out})
}

func (s *Server) handleCancelBounty(w http.ResponseWriter, r *http.Request) {
	s.bountyAction(w, r, s.bounties.CancelBounty, "cancelled")
}

func (s *Server) handleDeleteBounty(w http.ResponseWriter, r *http.Request) {
	s.bountyAction(w, r, s.bounties.DeleteBounty, "deleted")
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	bountyID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	var in struct {
		CardID      string `json:"card_id"`
		Message     string `json:"message"`
		ContactCode string `json:"contact_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.bounties.CreateOffer(r.Context(), bounty.CreateOfferInput{
		OffererID:      user.UserID,
		BountyID:       bountyID,
		CardID:         in.CardID,
		Message:        in.Message,
		ContactCode:    in.ContactCode,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleMyOffers(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.bounties.MyOffers(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": out})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	s.offerAction(w, r, s.bounties.AcceptOffer, "accepted")
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	s.offerAction(w, r, s.bounties.RejectOffer, "rejected")
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	s.offerAction(w, r, s.bounties.WithdrawOffer, "withdrawn")
}

func (s *Server) handlePendingTrades(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.bounties.PendingTrades(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleCompleteTrade(w http.ResponseWriter, r *http.Request) {
	s.offerAction(w, r, s.bounties.CompleteSettlement, "completed")
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	s.offerAction(w, r, s.bounties.CancelSettlement, "cancelled")
}

type idAction func(ctx context.Context, userID string, id int64) error

func (s *Server) bountyAction(w http.ResponseWriter, r *http.Request, fn idAction, status string) {
	s.runAction(w, r, fn, "invalid bounty id", status)
}

func (s *Server) offerAction(w http.ResponseWriter, r *http.Request, fn idAction, status string) {
	s.runAction(w, r, fn, "invalid offer id", status)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, fn idAction, badID, status string) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, badID)
		return
	}
	if err := fn(r.Context(), user.UserID, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}
