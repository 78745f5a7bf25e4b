// Package mirrorapi adapts the secondary bulk data provider. It exposes the
// same record shape as the primary source and is used only when the primary
// fails outright before yielding anything.
package mirrorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/source"
)

// SourceName is the stable provider identifier.
const SourceName = "mirrorapi"

// pageSize is the mirror's fixed page size.
const pageSize = 200

// Config holds adapter configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// mirrorCard is the mirror provider's wire representation of one card.
type mirrorCard struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	SetID       string `json:"set_id"`
	SetTitle    string `json:"set_title"`
	Number      string `json:"number"`
	RarityName  string `json:"rarity_name"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	Image       string `json:"image"`
	Foil        bool   `json:"foil"`
	DigitalOnly bool   `json:"digital_only"`
	PriceCents  int    `json:"price_cents"`
}

// mirrorPage is one page of the mirror's card listing.
type mirrorPage struct {
	Cards  []mirrorCard `json:"cards"`
	Total  int          `json:"total"`
	Offset int          `json:"offset"`
}

// mirrorSet is the mirror's set metadata.
type mirrorSet struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CardCount int    `json:"card_count"`
}

// Adapter implements source.Source for the mirror provider.
type Adapter struct {
	http *resty.Client
}

// New creates a mirror adapter.
// Parameters:
//   - cfg: mirror configuration including base URL and API key.
// Returns:
//   - *Adapter: initialized adapter.
func New(cfg *Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetTimeout(timeout)
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-Api-Key", cfg.APIKey)
	}

	return &Adapter{http: httpClient}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return SourceName
}

// StreamAll streams the mirror's whole catalog via offset pagination.
func (a *Adapter) StreamAll(ctx context.Context) (source.Stream, error) {
	return &mirrorStream{adapter: a}, nil
}

// StreamSet streams one set via offset pagination.
func (a *Adapter) StreamSet(ctx context.Context, code string) (source.Stream, error) {
	return &mirrorStream{adapter: a, setID: code}, nil
}

// SetInfo fetches set metadata from the mirror.
func (a *Adapter) SetInfo(ctx context.Context, code string) (*source.SetInfo, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/api/sets/%s", code))
	if err != nil {
		return nil, fmt.Errorf("mirror set lookup failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("mirror set lookup rejected with status %d", resp.StatusCode())
	}

	var set mirrorSet
	if err := json.Unmarshal(resp.Body(), &set); err != nil {
		return nil, fmt.Errorf("failed to decode mirror set: %w", err)
	}
	return &source.SetInfo{Code: set.ID, Name: set.Title, CardCount: set.CardCount}, nil
}

// fetchPage fetches one offset page, optionally filtered to a set.
func (a *Adapter) fetchPage(ctx context.Context, setID string, offset int) (*mirrorPage, error) {
	req := a.http.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprintf("%d", offset)).
		SetQueryParam("limit", fmt.Sprintf("%d", pageSize))
	if setID != "" {
		req.SetQueryParam("set", setID)
	}

	resp, err := req.Get("/api/cards")
	if err != nil {
		return nil, fmt.Errorf("mirror page request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("mirror page rejected with status %d", resp.StatusCode())
	}

	var page mirrorPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, fmt.Errorf("failed to decode mirror page: %w", err)
	}
	return &page, nil
}

// mirrorStream walks the mirror's listing forward-only.
type mirrorStream struct {
	adapter *Adapter
	setID   string
	offset  int
	total   int
	started bool
	buf     []mirrorCard
	pos     int
}

// Next returns the next card from the mirror listing.
func (s *mirrorStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	for s.pos >= len(s.buf) {
		if s.started && s.offset >= s.total {
			return nil, io.EOF
		}

		page, err := s.adapter.fetchPage(ctx, s.setID, s.offset)
		if err != nil {
			return nil, err
		}

		s.started = true
		s.total = page.Total
		s.offset += len(page.Cards)
		s.buf = page.Cards
		s.pos = 0

		if len(page.Cards) == 0 {
			return nil, io.EOF
		}
	}

	card := s.buf[s.pos]
	s.pos++
	return adaptCard(&card), nil
}

// Close implements source.Stream.
func (s *mirrorStream) Close() error {
	return nil
}

// adaptCard maps the mirror's wire format into the shared record type.
func adaptCard(c *mirrorCard) *domain.CardRecord {
	finishes := []string{"nonfoil"}
	if c.Foil {
		finishes = append(finishes, "foil")
	}

	return &domain.CardRecord{
		ID:              c.Identifier,
		Name:            c.Title,
		SetCode:         c.SetID,
		SetName:         c.SetTitle,
		CollectorNumber: c.Number,
		Rarity:          c.RarityName,
		Layout:          c.Kind,
		TypeLine:        "",
		OracleText:      c.Text,
		ImageURL:        c.Image,
		Finishes:        finishes,
		Digital:         c.DigitalOnly,
		PriceUSD:        float64(c.PriceCents) / 100,
	}
}
