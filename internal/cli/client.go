package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cardbounty/internal/auth"
	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/stats"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type BountyQuery struct {
	CardName string
	Pack     string
	Status   string
	Page     int
	PageSize int
}

func (q BountyQuery) encode() string {
	v := url.Values{}
	if q.CardName != "" {
		v.Set("card_name", q.CardName)
	}
	if q.Pack != "" {
		v.Set("pack", q.Pack)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type NewBounty struct {
	CardID             string `json:"card_id"`
	Description        string `json:"description,omitempty"`
	OfferedAmountCents *int64 `json:"offered_amount_cents,omitempty"`
	OfferedItem        string `json:"offered_item,omitempty"`
}

type NewOffer struct {
	CardID      string `json:"card_id"`
	Message     string `json:"message,omitempty"`
	ContactCode string `json:"contact_code,omitempty"`
}

type created struct {
	ID int64 `json:"id"`
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) ListBounties(ctx context.Context, q BountyQuery) (bounty.BountyPage, error) {
	var out bounty.BountyPage
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/bounties"+q.encode(), "", nil, &out, "")
	return out, err
}

func (c *Client) BountyDetail(ctx context.Context, bountyID int64) (bounty.BountyDetail, error) {
	var out bounty.BountyDetail
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/bounties/%d", bountyID), "", nil, &out, "")
	return out, err
}

func (c *Client) CreateBounty(ctx context.Context, accessToken string, in NewBounty, idem string) (int64, error) {
	var out created
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/bounties", accessToken, in, &out, idem)
	return out.ID, err
}

func (c *Client) CancelBounty(ctx context.Context, accessToken string, bountyID int64) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/cancel", bountyID), accessToken, nil, nil, "")
}

func (c *Client) DeleteBounty(ctx context.Context, accessToken string, bountyID int64) error {
	return c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/bounties/%d", bountyID), accessToken, nil, nil, "")
}

func (c *Client) MyBounties(ctx context.Context, accessToken string) ([]bounty.BountyView, error) {
	var out struct {
		Bounties []bounty.BountyView `json:"bounties"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me/bounties", accessToken, nil, &out, "")
	return out.Bounties, err
}

func (c *Client) CreateOffer(ctx context.Context, accessToken string, bountyID int64, in NewOffer, idem string) (int64, error) {
	var out created
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/offers", bountyID), accessToken, in, &out, idem)
	return out.ID, err
}

// OfferAction posts accept, reject or withdraw for an offer.
func (c *Client) OfferAction(ctx context.Context, accessToken string, offerID int64, action string) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/offers/%d/%s", offerID, url.PathEscape(action)), accessToken, nil, nil, "")
}

func (c *Client) MyOffers(ctx context.Context, accessToken string) ([]bounty.OfferView, error) {
	var out struct {
		Offers []bounty.OfferView `json:"offers"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me/offers", accessToken, nil, &out, "")
	return out.Offers, err
}

func (c *Client) Trades(ctx context.Context, accessToken string) ([]bounty.Trade, error) {
	var out struct {
		Trades []bounty.Trade `json:"trades"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/trades", accessToken, nil, &out, "")
	return out.Trades, err
}

// TradeAction posts complete or cancel for an accepted offer.
func (c *Client) TradeAction(ctx context.Context, accessToken string, offerID int64, action string) error {
	return c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/trades/%d/%s", offerID, url.PathEscape(action)), accessToken, nil, nil, "")
}

func (c *Client) Stats(ctx context.Context, accessToken string) (stats.Summary, error) {
	var out stats.Summary
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me/stats", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, pack string, limit int) ([]stats.LeaderboardEntry, error) {
	v := url.Values{}
	if pack != "" {
		v.Set("pack", pack)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/leaderboard"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out struct {
		Entries []stats.LeaderboardEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out, "")
	return out.Entries, err
}

func (c *Client) Packs(ctx context.Context) ([]collection.Pack, error) {
	var out struct {
		Packs []collection.Pack `json:"packs"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/cards/packs", "", nil, &out, "")
	return out.Packs, err
}

func (c *Client) Collection(ctx context.Context, accessToken string, f collection.Filter) ([]collection.Entry, error) {
	v := url.Values{}
	if f.Pack != "" {
		v.Set("pack", f.Pack)
	}
	if f.Rarity != "" {
		v.Set("rarity", f.Rarity)
	}
	path := "/v1/me/collection"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out struct {
		Cards []collection.Entry `json:"cards"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Cards, err
}

func (c *Client) AddCard(ctx context.Context, accessToken, cardID string, quantity int, forTrade bool) (collection.Entry, error) {
	var out collection.Entry
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/me/collection", accessToken, map[string]any{
		"card_id":   cardID,
		"quantity":  quantity,
		"for_trade": forTrade,
	}, &out, "")
	return out, err
}

func (c *Client) SetQuantity(ctx context.Context, accessToken, cardID string, quantity int) error {
	return c.jsonRequest(ctx, http.MethodPut, "/v1/me/collection/"+url.PathEscape(cardID), accessToken, map[string]any{
		"quantity": quantity,
	}, nil, "")
}

func (c *Client) RemoveCard(ctx context.Context, accessToken, cardID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/me/collection/"+url.PathEscape(cardID), accessToken, nil, nil, "")
}

func (c *Client) ToggleTrade(ctx context.Context, accessToken, cardID string) (collection.Entry, error) {
	var out collection.Entry
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/me/collection/"+url.PathEscape(cardID)+"/trade", accessToken, nil, &out, "")
	return out, err
}

// Replay sends a previously queued request as-is.
func (c *Client) Replay(ctx context.Context, accessToken, method, path string, body json.RawMessage, idem string) error {
	var in any
	if len(body) > 0 {
		in = body
	}
	return c.jsonRequest(ctx, method, path, accessToken, in, nil, idem)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
