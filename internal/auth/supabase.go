package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrInvalidToken = errors.New("invalid access token")

// Verifier resolves a bearer token to the user it was issued to.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (User, error)
}

type Authenticator interface {
	Verifier
	Login(ctx context.Context, email, password string) (Session, error)
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type cachedUser struct {
	user    User
	expires time.Time
}

type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client

	cacheTTL time.Duration
	mu       sync.Mutex
	verified map[string]cachedUser
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		cacheTTL: time.Minute,
		verified: make(map[string]cachedUser),
	}
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var out Session
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", payload, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// VerifyAccessToken asks the identity provider who owns the token. Answers
// are remembered for a minute so every request does not pay a round trip.
func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	if u, ok := c.cached(accessToken); ok {
		return u, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return User{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, fmt.Errorf("verify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return User{}, ErrInvalidToken
	}
	c.remember(accessToken, user)
	return user, nil
}

func (c *SupabaseClient) cached(token string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.verified[token]
	if !ok {
		return User{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.verified, token)
		return User{}, false
	}
	return e.user, true
}

func (c *SupabaseClient) remember(token string, u User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.verified) > 10000 {
		c.verified = make(map[string]cachedUser)
	}
	c.verified[token] = cachedUser{user: u, expires: time.Now().Add(c.cacheTTL)}
}

func (c *SupabaseClient) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("supabase status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
