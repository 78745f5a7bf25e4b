package source

import (
	"context"
	"io"

	"github.com/deckbase/cardsync/internal/domain"
)

// Stream is a lazy, forward-only sequence of catalog records. A Stream is
// not restartable within one iteration; calling the producing Source method
// again yields a fresh stream from the beginning.
type Stream interface {
	// Next returns the next record, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) (*domain.CardRecord, error)

	// Close releases any resources held by the stream.
	Close() error
}

// SetInfo carries upstream metadata about one set.
type SetInfo struct {
	Code      string
	Name      string
	CardCount int
}

// Source defines the interface for bulk card data providers.
type Source interface {
	// Name returns the stable identifier for this provider.
	Name() string

	// StreamAll streams every card of the catalog.
	StreamAll(ctx context.Context) (Stream, error)

	// StreamSet streams the cards of one set.
	StreamSet(ctx context.Context, code string) (Stream, error)

	// SetInfo fetches metadata for one set, including the expected card count.
	SetInfo(ctx context.Context, code string) (*SetInfo, error)
}

// SliceStream is a Stream over an in-memory slice, used by backfill
// pre-computation and by tests.
type SliceStream struct {
	records []domain.CardRecord
	pos     int
}

// NewSliceStream creates a Stream over records.
func NewSliceStream(records []domain.CardRecord) *SliceStream {
	return &SliceStream{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceStream) Next(ctx context.Context) (*domain.CardRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return &rec, nil
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	return nil
}
