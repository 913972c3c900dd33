package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardbounty/internal/auth"
	"cardbounty/internal/bounty"
)

func TestCreateBountySendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/bounties", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		var body NewBounty
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a1-055", body.CardID)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42})
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL+"/").CreateBounty(context.Background(), "tok", NewBounty{CardID: "a1-055"}, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestListBountiesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mewtwo", r.URL.Query().Get("pack"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Empty(t, r.URL.Query().Get("status"))
		_ = json.NewEncoder(w).Encode(bounty.BountyPage{TotalCount: 21, Page: 2, PageSize: 20, TotalPages: 2})
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL).ListBounties(context.Background(), BountyQuery{Pack: "Mewtwo", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden: cannot offer on your own bounty"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).OfferAction(context.Background(), "tok", 7, "accept")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "api status 403: forbidden: cannot offer on your own bounty", err.Error())
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadSession()
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", UserID: "u-1"}))
	s, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
	_, err = LoadSession()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSessionKeepsFriendCodeAcrossLogins(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	now := time.Date(2020, 1, 2, 12, 0, 0, 0, time.UTC)

	login := auth.Session{AccessToken: "tok", ExpiresIn: 3600, User: auth.User{ID: "u-1", Email: "ash@example.com"}}
	require.NoError(t, SaveSession(NewSession(login, PreviousSession(), now)))
	require.NoError(t, RememberContact(" 1234-5678-9012 "))

	s, err := LoadSession()
	require.ErrorIs(t, err, ErrSessionExpired, "token issued in 2020 has expired")
	assert.Empty(t, s.AccessToken)

	require.NoError(t, ClearSession())
	_, err = LoadSession()
	require.ErrorIs(t, err, ErrNoSession)

	again := NewSession(login, PreviousSession(), time.Now())
	assert.Equal(t, "1234-5678-9012", again.ContactCode)
	assert.Equal(t, "1234-5678-9012", again.Contact(""))
	assert.Equal(t, "9999", again.Contact("9999"))

	other := NewSession(auth.Session{AccessToken: "t2", User: auth.User{ID: "u-2"}}, PreviousSession(), time.Now())
	assert.Empty(t, other.ContactCode)
	assert.True(t, other.ExpiresAt.IsZero())
	assert.False(t, other.Expired(time.Now()))
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	s := NewSession(auth.Session{AccessToken: "tok", ExpiresIn: 60}, Session{}, now)
	assert.False(t, s.Expired(now.Add(59*time.Second)))
	assert.True(t, s.Expired(now.Add(time.Minute)))
}

func TestReplaySendsQueuedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bounties/3/offers", r.URL.Path)
		assert.Equal(t, "k-9", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body NewOffer
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a1-010", body.CardID)
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "duplicate idempotency key"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Replay(context.Background(), "tok", http.MethodPost, "/v1/bounties/3/offers",
		json.RawMessage(`{"card_id":"a1-010"}`), "k-9")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}
