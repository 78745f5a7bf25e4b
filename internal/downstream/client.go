// Package downstream is the client for the storefront catalog service. The
// pipeline issues one bulk product write per batch and classifies the
// per-row results.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// AttributeValue assigns one attribute of the target catalog.
type AttributeValue struct {
	AttributeID string `json:"attribute_id"`
	Value       string `json:"value"`
}

// ChannelListing publishes a product to one sales channel.
type ChannelListing struct {
	ChannelID string `json:"channel_id"`
	Published bool   `json:"published"`
}

// VariantInput is one generated variant row of a product write.
type VariantInput struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	WarehouseID string  `json:"warehouse_id,omitempty"`
}

// ProductInput is one write-candidate sent to the bulk endpoint.
type ProductInput struct {
	Name            string           `json:"name"`
	Slug            string           `json:"slug"`
	Description     string           `json:"description,omitempty"`
	CategoryID      string           `json:"category_id,omitempty"`
	ExternalRef     string           `json:"external_ref"`
	MediaURL        string           `json:"media_url,omitempty"`
	Attributes      []AttributeValue `json:"attributes,omitempty"`
	ChannelListings []ChannelListing `json:"channel_listings,omitempty"`
	Variants        []VariantInput   `json:"variants"`
}

// ProductRef identifies a created product.
type ProductRef struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// WriteError is one rejection reason on a result row.
type WriteError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ProductResult is the per-candidate outcome of a bulk write. Exactly one of
// Product or Errors is populated.
type ProductResult struct {
	Product *ProductRef  `json:"product,omitempty"`
	Errors  []WriteError `json:"errors,omitempty"`
}

// AlreadyExists reports whether the row was rejected only because a product
// with the same natural key (slug) already existed. Treated as success by
// the pipeline, counted separately as a skip.
func (r *ProductResult) AlreadyExists() bool {
	if r.Product != nil || len(r.Errors) == 0 {
		return false
	}
	for _, e := range r.Errors {
		if !(e.Code == "unique" && e.Field == "slug") {
			return false
		}
	}
	return true
}

// ErrorText joins the row's rejection reasons into one message.
func (r *ProductResult) ErrorText() string {
	if len(r.Errors) == 0 {
		return ""
	}
	text := ""
	for i, e := range r.Errors {
		if i > 0 {
			text += "; "
		}
		text += fmt.Sprintf("%s[%s]: %s", e.Code, e.Field, e.Message)
	}
	return text
}

// Writer is the downstream write surface the job processor depends on.
type Writer interface {
	// ProductBulkCreate writes a batch of candidates and returns one result
	// row per candidate, in input order.
	ProductBulkCreate(ctx context.Context, inputs []ProductInput) ([]ProductResult, error)
}

// Config holds downstream client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements Writer against the storefront catalog HTTP API.
// No rate limiter here: only the upstream catalog API imposes call limits.
type Client struct {
	http *resty.Client
}

// NewClient creates a downstream client.
// Parameters:
//   - cfg: downstream configuration including base URL and auth token.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		httpClient.SetHeader("Authorization", "Bearer "+cfg.Token)
	}

	return &Client{http: httpClient}
}

// ProductBulkCreate writes a batch of product candidates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - inputs: write candidates, one per source record.
// Returns:
//   - []ProductResult: one result row per candidate, in input order.
//   - error: non-nil only when the whole call failed; per-row rejections are
//     reported inside the results.
func (c *Client) ProductBulkCreate(ctx context.Context, inputs []ProductInput) ([]ProductResult, error) {
	body := struct {
		Products []ProductInput `json:"products"`
	}{Products: inputs}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/products/bulk")
	if err != nil {
		return nil, fmt.Errorf("bulk write request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("bulk write rejected with status %d: %s", resp.StatusCode(), resp.String())
	}

	var wire struct {
		Results []ProductResult `json:"results"`
	}
	if err := json.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, fmt.Errorf("failed to decode bulk write response: %w", err)
	}

	if len(wire.Results) != len(inputs) {
		return nil, fmt.Errorf("bulk write returned %d results for %d candidates", len(wire.Results), len(inputs))
	}
	return wire.Results, nil
}
