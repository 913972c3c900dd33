package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardbounty/internal/auth"
	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/config"
	"cardbounty/internal/events"
	"cardbounty/internal/memstore"
	"cardbounty/internal/metrics"
	"cardbounty/internal/stats"
)

// fakeAuth treats the bearer token as the user id.
type fakeAuth struct{}

func (fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.User, error) {
	if token == "bad" {
		return auth.User{}, auth.ErrInvalidToken
	}
	return auth.User{ID: token, Email: token + "@example.com"}, nil
}

func (fakeAuth) Login(_ context.Context, email, password string) (auth.Session, error) {
	if password != "pw" {
		return auth.Session{}, errors.New("invalid login credentials")
	}
	return auth.Session{AccessToken: "tok", User: auth.User{ID: "u-" + email, Email: email}}, nil
}

type testServer struct {
	srv   *Server
	store *memstore.Store
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()
	store := memstore.New()
	store.SeedCards(
		collection.Card{ID: "a1-010", Name: "Bulbasaur", Pack: "Mewtwo", Expansion: "Genetic Apex"},
		collection.Card{ID: "a1-012", Name: "Ivysaur", Pack: "Mewtwo", Expansion: "Genetic Apex"},
		collection.Card{ID: "a1-055", Name: "Ninetales", Pack: "Charizard", Expansion: "Genetic Apex"},
	)
	agg := stats.NewAggregator(store, nil, nil)
	m := metrics.New()
	sink := events.Multi{agg, m}
	coll := collection.NewService(store, sink, nil)
	svc := bounty.NewService(store, coll, coll, nil,
		bounty.WithSink(sink),
		bounty.WithRetry(3, time.Millisecond),
		bounty.WithRetryHook(m.TxRetry),
	)
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = 1000
		cfg.RateLimitBurst = 1000
	}
	srv := New(cfg, nil, Deps{
		Auth:       fakeAuth{},
		Bounties:   svc,
		Collection: coll,
		Stats:      agg,
		Profiles:   store,
		Metrics:    m,
	})
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) createBounty(t *testing.T, user, card string) int64 {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/bounties", user, map[string]any{"card_id": card, "description": "need it"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct{ ID int64 }](t, rec).ID
}

func (ts *testServer) createOffer(t *testing.T, user string, bountyID int64, card string) int64 {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/me/collection", user, map[string]any{"card_id": card, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/offers", bountyID), user,
		map[string]any{"card_id": card, "contact_code": "FC-" + user})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct{ ID int64 }](t, rec).ID
}

func TestBountyLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	bountyID := ts.createBounty(t, "alice", "a1-055")
	first := ts.createOffer(t, "bob", bountyID, "a1-010")
	second := ts.createOffer(t, "carol", bountyID, "a1-012")

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/offers/%d/accept", first), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/bounties/%d", bountyID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[bounty.BountyDetail](t, rec)
	assert.Equal(t, bounty.BountyCompleted, detail.Status)
	assert.Equal(t, "Ninetales", detail.CardName)
	statuses := map[int64]bounty.OfferStatus{}
	for _, o := range detail.Offers {
		statuses[o.ID] = o.Status
	}
	assert.Equal(t, bounty.OfferAccepted, statuses[first])
	assert.Equal(t, bounty.OfferRejected, statuses[second])

	rec = ts.do(t, http.MethodGet, "/v1/trades", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode[struct{ Trades []bounty.Trade }](t, rec).Trades
	require.Len(t, trades, 1)
	assert.Equal(t, "a1-010", trades[0].OfferedCardID)
	assert.Equal(t, "FC-bob", trades[0].OffererContact)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/trades/%d/complete", first), "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/me/offers", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	offers := decode[struct{ Offers []bounty.OfferView }](t, rec).Offers
	require.Len(t, offers, 1)
	assert.Equal(t, bounty.SettlementComplete, offers[0].SettlementState)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})

	rec := ts.do(t, http.MethodPost, "/v1/bounties", "", map[string]any{"card_id": "a1-055"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/me/bounties", "bad", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decode[map[string]string](t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/v1/bounties", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatusCodes(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	bountyID := ts.createBounty(t, "alice", "a1-055")

	t.Run("self offer is forbidden", func(t *testing.T) {
		ts.do(t, http.MethodPost, "/v1/me/collection", "alice", map[string]any{"card_id": "a1-010"})
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/offers", bountyID), "alice",
			map[string]any{"card_id": "a1-010"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("offer without the card", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/offers", bountyID), "dave",
			map[string]any{"card_id": "a1-012"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("second active bounty for the card", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/bounties", "alice", map[string]any{"card_id": "a1-055"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown offer", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/offers/999/accept", "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/offers/abc/accept", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/v1/bounties?status=lost", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown body field", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/bounties", "alice", map[string]any{"card_id": "a1-010", "bogus": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDuplicateIdempotencyKeyIsConflict(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	body := map[string]any{"card_id": "a1-010"}

	rec := ts.do(t, http.MethodPost, "/v1/bounties", "alice", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/bounties", "alice", map[string]any{"card_id": "a1-012"}, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/v1/me/bounties", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/v1/me/bounties", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/me/bounties", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCollectionAndLeaderboard(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})

	rec := ts.do(t, http.MethodPost, "/v1/me/collection", "alice", map[string]any{"card_id": "a1-010", "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/v1/me/collection", "alice", map[string]any{"card_id": "a1-012"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/v1/me/collection", "bob", map[string]any{"card_id": "a1-010"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPut, "/v1/me/collection/a1-010", "alice", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[collection.Entry](t, rec).Quantity)

	rec = ts.do(t, http.MethodPost, "/v1/me/collection/a1-012/trade", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[collection.Entry](t, rec).ForTrade)

	rec = ts.do(t, http.MethodGet, "/v1/me/collection?pack=Mewtwo", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Cards []collection.Entry }](t, rec).Cards, 2)

	rec = ts.do(t, http.MethodGet, "/v1/leaderboard?pack=Mewtwo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[struct{ Entries []stats.LeaderboardEntry }](t, rec).Entries
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, 100.0, entries[0].CompletionPercent)
	assert.Equal(t, 50.0, entries[1].CompletionPercent)

	rec = ts.do(t, http.MethodGet, "/v1/me/stats", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[stats.Summary](t, rec)
	assert.Equal(t, 1, summary.UniqueCards)
	assert.Equal(t, 2, summary.Rank)

	rec = ts.do(t, http.MethodDelete, "/v1/me/collection/a1-012", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/v1/me/collection/a1-012", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginEnsuresProfile(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})

	rec := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "amy@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok", decode[auth.Session](t, rec).AccessToken)

	rec = ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "amy@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{})
	ts.createBounty(t, "alice", "a1-055")

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bounty.created")
}
