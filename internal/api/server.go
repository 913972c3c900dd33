package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cardbounty/internal/auth"
	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/config"
	"cardbounty/internal/metrics"
	"cardbounty/internal/stats"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// ProfileStore records users as they sign in.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID, email string) error
}

type Deps struct {
	Auth       auth.Authenticator
	Bounties   *bounty.Service
	Collection *collection.Service
	Stats      *stats.Aggregator
	Profiles   ProfileStore
	Metrics    *metrics.Metrics
}

type Server struct {
	cfg        config.APIConfig
	log        *slog.Logger
	auth       auth.Authenticator
	bounties   *bounty.Service
	collection *collection.Service
	stats      *stats.Aggregator
	profiles   ProfileStore
	metrics    *metrics.Metrics
	limiter    *rateLimiter
	mux        *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg.RequestTimeout = timeout
	s := &Server{
		cfg:        cfg,
		log:        logger,
		auth:       deps.Auth,
		bounties:   deps.Bounties,
		collection: deps.Collection,
		stats:      deps.Stats,
		profiles:   deps.Profiles,
		metrics:    deps.Metrics,
		limiter:    newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		mux:        chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Get("/bounties", s.handleListBounties)
		r.Get("/bounties/{id}", s.handleBountyDetail)
		r.Get("/cards/packs", s.handlePacks)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimit)

			r.Post("/bounties", s.handleCreateBounty)
			r.Post("/bounties/{id}/cancel", s.handleCancelBounty)
			r.Delete("/bounties/{id}", s.handleDeleteBounty)
			r.Post("/bounties/{id}/offers", s.handleCreateOffer)

			r.Post("/offers/{id}/accept", s.handleAcceptOffer)
			r.Post("/offers/{id}/reject", s.handleRejectOffer)
			r.Post("/offers/{id}/withdraw", s.handleWithdrawOffer)

			r.Get("/trades", s.handlePendingTrades)
			r.Post("/trades/{id}/complete", s.handleCompleteTrade)
			r.Post("/trades/{id}/cancel", s.handleCancelTrade)

			r.Get("/me/bounties", s.handleMyBounties)
			r.Get("/me/offers", s.handleMyOffers)
			r.Get("/me/stats", s.handleMyStats)
			r.Get("/me/collection", s.handleListCollection)
			r.Post("/me/collection", s.handleAddCard)
			r.Put("/me/collection/{card_id}", s.handleSetQuantity)
			r.Delete("/me/collection/{card_id}", s.handleRemoveCard)
			r.Post("/me/collection/{card_id}/trade", s.handleToggleTrade)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if s.profiles != nil && session.User.ID != "" {
		if err := s.profiles.EnsureProfile(r.Context(), session.User.ID, session.User.Email); err != nil {
			s.log.Error("ensure profile", "user_id", session.User.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "could not record profile")
			return
		}
	}
	writeJSON(w, http.StatusOK, session)
}
