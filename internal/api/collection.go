package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cardbounty/internal/collection"
	"cardbounty/internal/stats"
)

func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.collection.Packs(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packs": packs})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	pack := strings.TrimSpace(r.URL.Query().Get("pack"))
	rows, err := s.stats.Leaderboard(r.Context(), stats.LeaderboardQuery{Pack: pack, Limit: limit})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pack": pack, "entries": rows})
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.stats.Summary(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCollection(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	q := r.URL.Query()
	entries, err := s.collection.List(r.Context(), user.UserID, collection.Filter{
		Pack:   strings.TrimSpace(q.Get("pack")),
		Rarity: strings.TrimSpace(q.Get("rarity")),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": entries})
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		CardID   string `json:"card_id"`
		Quantity int    `json:"quantity"`
		ForTrade bool   `json:"for_trade"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	entry, err := s.collection.AddCard(r.Context(), user.UserID, in.CardID, in.Quantity, in.ForTrade)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cardID := chi.URLParam(r, "card_id")
	entry, err := s.collection.SetQuantity(r.Context(), user.UserID, cardID, in.Quantity)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if in.Quantity <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"card_id": cardID, "removed": true})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRemoveCard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	cardID := chi.URLParam(r, "card_id")
	if err := s.collection.RemoveCard(r.Context(), user.UserID, cardID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_id": cardID, "removed": true})
}

func (s *Server) handleToggleTrade(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	entry, err := s.collection.ToggleTrade(r.Context(), user.UserID, chi.URLParam(r, "card_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
