// Package catalogapi adapts the primary upstream catalog API to the source
// interface. Full-catalog streams come from the cached bulk snapshot; single
// sets are small enough to stream through the paginated search endpoint.
package catalogapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/deckbase/cardsync/internal/breaker"
	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/source"
	"github.com/deckbase/cardsync/internal/storage"
	"github.com/deckbase/cardsync/internal/upstream"
)

const (
	// SourceName is the stable provider identifier.
	SourceName = "catalogapi"

	// snapshotKey is the cache key of the full-catalog snapshot file.
	snapshotKey = "all-cards.json"

	// progressEvery controls how often the snapshot walk logs progress.
	progressEvery = 10000
)

// Config holds adapter configuration.
type Config struct {
	// SnapshotTTL is how long a cached snapshot is reused before a fresh
	// download is considered.
	SnapshotTTL time.Duration
}

// Adapter implements source.Source for the primary catalog provider.
type Adapter struct {
	client  *upstream.Client
	store   storage.SnapshotStore
	breaker *breaker.Breaker
	ttl     time.Duration
	logger  *logger.Logger
}

// New creates a catalog API adapter.
// Parameters:
//   - client: rate-limited upstream client.
//   - store: snapshot cache store.
//   - br: the owning job's circuit breaker, wrapped around every live call.
//   - cfg: adapter configuration; nil uses a 24h snapshot TTL.
//   - log: logger instance.
// Returns:
//   - *Adapter: initialized adapter.
func New(client *upstream.Client, store storage.SnapshotStore, br *breaker.Breaker, cfg *Config, log *logger.Logger) *Adapter {
	ttl := 24 * time.Hour
	if cfg != nil && cfg.SnapshotTTL > 0 {
		ttl = cfg.SnapshotTTL
	}
	return &Adapter{
		client:  client,
		store:   store,
		breaker: br,
		ttl:     ttl,
		logger:  log,
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return SourceName
}

// SetInfo fetches set metadata through the breaker.
func (a *Adapter) SetInfo(ctx context.Context, code string) (*source.SetInfo, error) {
	var set *upstream.Set
	err := a.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		set, err = a.client.GetSet(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &source.SetInfo{Code: set.Code, Name: set.Name, CardCount: set.CardCount}, nil
}

// StreamAll streams the whole catalog from the bulk snapshot, downloading a
// fresh copy only when the cached one has outlived its TTL or the upstream
// reports a newer snapshot.
func (a *Adapter) StreamAll(ctx context.Context) (source.Stream, error) {
	var snap *upstream.BulkSnapshot
	err := a.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = a.client.GetBulkSnapshot(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bulk snapshot: %w", err)
	}

	if err := a.ensureSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	body, err := a.store.Download(ctx, snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached snapshot: %w", err)
	}

	return &snapshotStream{
		scanner: source.NewArrayScanner(body),
		closer:  body,
		logger:  a.logger,
	}, nil
}

// ensureSnapshot downloads the snapshot into the cache unless a fresh copy
// is already there.
func (a *Adapter) ensureSnapshot(ctx context.Context, snap *upstream.BulkSnapshot) error {
	info, err := a.store.Stat(ctx, snapshotKey)
	if err == nil {
		fresh := time.Since(info.LastModified) < a.ttl
		current := !snap.UpdatedAt.After(info.LastModified)
		if fresh && current {
			a.logger.WithFields(logger.Fields{
				"size":      info.Size,
				"cached_at": info.LastModified,
			}).Info("Reusing cached snapshot")
			return nil
		}
	} else if err != storage.ErrNotExist {
		return fmt.Errorf("failed to stat snapshot cache: %w", err)
	}

	a.logger.WithField("url", snap.DownloadURL).Info("Downloading bulk snapshot")

	body, err := a.client.DownloadSnapshot(ctx, snap.DownloadURL)
	if err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer body.Close()

	if err := a.store.Upload(ctx, snapshotKey, body, snap.Size); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}

	a.logger.WithField("size", snap.Size).Info("Snapshot cached")
	return nil
}

// StreamSet streams one set through the paginated search endpoint. The cost
// of a full snapshot is not justified for a single set.
func (a *Adapter) StreamSet(ctx context.Context, code string) (source.Stream, error) {
	return &pagedStream{
		client:  a.client,
		breaker: a.breaker,
		code:    code,
		page:    1,
		hasMore: true,
	}, nil
}

// snapshotStream walks the cached snapshot file incrementally.
type snapshotStream struct {
	scanner *source.ArrayScanner
	closer  io.Closer
	logger  *logger.Logger
	count   int
}

// Next returns the next card of the snapshot in file order.
func (s *snapshotStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := s.scanner.Next()
		if err != nil {
			if err == io.EOF && s.scanner.MalformedCount() > 0 {
				s.logger.WithField("malformed", s.scanner.MalformedCount()).
					Warn("Snapshot walk skipped malformed fragments")
			}
			return nil, err
		}

		var card upstream.Card
		if err := json.Unmarshal(raw, &card); err != nil {
			// Valid JSON that is not a card object. Skip like a malformed line.
			continue
		}

		s.count++
		if s.count%progressEvery == 0 {
			s.logger.WithField("records", s.count).Info("Snapshot walk progress")
		}

		return AdaptCard(&card), nil
	}
}

// Close closes the underlying snapshot reader.
func (s *snapshotStream) Close() error {
	return s.closer.Close()
}

// pagedStream walks a set through successive search pages, following the
// has-more indicator.
type pagedStream struct {
	client  *upstream.Client
	breaker *breaker.Breaker
	code    string
	page    int
	buf     []upstream.Card
	pos     int
	hasMore bool
}

// Next returns the next card of the set, fetching pages on demand.
func (s *pagedStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	for s.pos >= len(s.buf) {
		if !s.hasMore {
			return nil, io.EOF
		}

		var page *upstream.CardPage
		err := s.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.client.SearchSet(ctx, s.code, s.page)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d of set %s: %w", s.page, s.code, err)
		}

		s.buf = page.Data
		s.pos = 0
		s.page++
		s.hasMore = page.HasMore

		if len(s.buf) == 0 && !s.hasMore {
			return nil, io.EOF
		}
	}

	card := s.buf[s.pos]
	s.pos++
	return AdaptCard(&card), nil
}

// Close implements source.Stream.
func (s *pagedStream) Close() error {
	return nil
}

// AdaptCard maps the primary provider's wire format into the shared record
// type.
func AdaptCard(c *upstream.Card) *domain.CardRecord {
	price := 0.0
	if c.Prices.USD != "" {
		if parsed, err := strconv.ParseFloat(c.Prices.USD, 64); err == nil {
			price = parsed
		}
	}

	finishes := c.Finishes
	if len(finishes) == 0 {
		finishes = []string{"nonfoil"}
	}

	return &domain.CardRecord{
		ID:              c.ID,
		Name:            c.Name,
		SetCode:         c.Set,
		SetName:         c.SetName,
		CollectorNumber: c.CollectorNumber,
		Rarity:          c.Rarity,
		Layout:          c.Layout,
		TypeLine:        c.TypeLine,
		OracleText:      c.OracleText,
		ImageURL:        c.ImageURIs.Normal,
		Finishes:        finishes,
		Digital:         c.Digital,
		PriceUSD:        price,
	}
}
