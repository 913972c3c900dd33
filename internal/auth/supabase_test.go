package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAccessTokenCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u-1", Email: "amy@example.com"})
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL+"/", "anon")
	for i := 0; i < 3; i++ {
		u, err := c.VerifyAccessToken(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, "u-1", u.ID)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.VerifyAccessToken(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Session{AccessToken: "tok", User: User{ID: "u-1", Email: body["email"]}})
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL, "anon")
	s, err := c.Login(context.Background(), "amy@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "amy@example.com", s.User.Email)

	_, err = c.Login(context.Background(), "amy@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase status 400")
}
