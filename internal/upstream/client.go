// Package upstream is the client for the rate-limited card catalog API.
// Every call passes the shared rate limiter before touching the network.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/deckbase/cardsync/internal/ratelimit"
)

// Card is the upstream wire representation of one catalog card.
type Card struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Set             string   `json:"set"`
	SetName         string   `json:"set_name"`
	CollectorNumber string   `json:"collector_number"`
	Rarity          string   `json:"rarity"`
	Layout          string   `json:"layout"`
	TypeLine        string   `json:"type_line"`
	OracleText      string   `json:"oracle_text"`
	Digital         bool     `json:"digital"`
	Finishes        []string `json:"finishes"`
	ImageURIs       struct {
		Normal string `json:"normal"`
	} `json:"image_uris"`
	Prices struct {
		USD string `json:"usd"`
	} `json:"prices"`
}

// Set is the upstream wire representation of one card set.
type Set struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	CardCount int    `json:"card_count"`
}

// CardPage is one page of a set search.
type CardPage struct {
	Data       []Card `json:"data"`
	HasMore    bool   `json:"has_more"`
	TotalCards int    `json:"total_cards"`
}

// BulkSnapshot describes the downloadable full-catalog snapshot.
type BulkSnapshot struct {
	DownloadURL string    `json:"download_uri"`
	UpdatedAt   time.Time `json:"updated_at"`
	Size        int64     `json:"size"`
}

// Config holds upstream client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the upstream catalog API through the shared rate limiter.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
}

// NewClient creates an upstream client.
// Parameters:
//   - cfg: upstream configuration including base URL and timeout.
//   - limiter: shared rate limiter; every call acquires a slot first.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config, limiter *ratelimit.Limiter) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		limiter: limiter,
	}
}

// GetCard fetches a single card by id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: upstream card id.
// Returns:
//   - *Card: fetched card.
//   - error: ErrNotFound, *APIError, or transport error.
func (c *Client) GetCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	if err := c.getJSON(ctx, fmt.Sprintf("/cards/%s", id), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetSet fetches set metadata by set code.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - code: set code, e.g. "ab1".
// Returns:
//   - *Set: set metadata including the upstream card count.
//   - error: ErrNotFound, *APIError, or transport error.
func (c *Client) GetSet(ctx context.Context, code string) (*Set, error) {
	var set Set
	if err := c.getJSON(ctx, fmt.Sprintf("/sets/%s", code), nil, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// SearchSet fetches one page of the cards of a set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - code: set code.
//   - page: 1-based page number.
// Returns:
//   - *CardPage: page data with the has-more indicator.
//   - error: ErrNotFound, *APIError, or transport error.
func (c *Client) SearchSet(ctx context.Context, code string, page int) (*CardPage, error) {
	var result CardPage
	params := map[string]string{
		"q":    fmt.Sprintf("set:%s", code),
		"page": fmt.Sprintf("%d", page),
	}
	if err := c.getJSON(ctx, "/cards/search", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBulkSnapshot fetches the bulk snapshot descriptor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *BulkSnapshot: download URL and updated-at timestamp.
//   - error: ErrNotFound, *APIError, or transport error.
func (c *Client) GetBulkSnapshot(ctx context.Context) (*BulkSnapshot, error) {
	var snap BulkSnapshot
	if err := c.getJSON(ctx, "/bulk-data/all-cards", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// DownloadSnapshot opens a streaming download of the snapshot file. The
// caller owns the returned reader and must close it.
// Parameters:
//   - ctx: context for cancellation.
//   - url: absolute download URL from GetBulkSnapshot.
// Returns:
//   - io.ReadCloser: raw snapshot byte stream.
//   - error: non-nil if the download cannot be started.
func (c *Client) DownloadSnapshot(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}

	raw := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		raw.Close()
		return nil, responseError(resp.StatusCode(), nil)
	}
	return raw, nil
}

// getJSON performs one rate-limited GET and decodes the 2xx body into out.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return responseError(resp.StatusCode(), resp.Body())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

// responseError maps a non-2xx response to a typed error.
func responseError(status int, body []byte) error {
	if status == http.StatusNotFound {
		return ErrNotFound
	}

	apiErr := &APIError{StatusCode: status, Code: "error"}
	if len(body) > 0 {
		var wire struct {
			Code    string `json:"code"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(body, &wire); err == nil {
			if wire.Code != "" {
				apiErr.Code = wire.Code
			}
			apiErr.Detail = wire.Details
		}
	}
	return apiErr
}
