package venue

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/microroute/internal/domain"
)

type stubBooks struct {
	books map[domain.BookKey]domain.OrderBook
	stale map[domain.BookKey]bool
}

func (s *stubBooks) GetSnapshot(venue, symbol string) (domain.OrderBook, error) {
	key := domain.BookKey{Venue: venue, Symbol: symbol}
	book, ok := s.books[key]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return book, nil
}

func (s *stubBooks) Health(venue, symbol string) error {
	key := domain.BookKey{Venue: venue, Symbol: symbol}
	if s.stale[key] {
		return fmt.Errorf("book %s/%s: %w", venue, symbol, domain.ErrStale)
	}
	if _, ok := s.books[key]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *stubBooks) Keys() []domain.BookKey {
	keys := make([]domain.BookKey, 0, len(s.books))
	for key := range s.books {
		keys = append(keys, key)
	}
	return keys
}

func liveBook(venue, symbol string, bid, ask float64) domain.OrderBook {
	return domain.OrderBook{
		Venue:  venue,
		Symbol: symbol,
		State:  domain.BookLive,
		Bids:   []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: ask, Size: 1}},
	}
}

func TestRefresher_StaleBooksExcludedFromSample(t *testing.T) {
	tight := domain.BookKey{Venue: "alpha", Symbol: "BTC-USD"}
	wide := domain.BookKey{Venue: "alpha", Symbol: "ETH-USD"}

	books := &stubBooks{
		books: map[domain.BookKey]domain.OrderBook{
			// ~10 bps spread around 100.
			tight: liveBook("alpha", "BTC-USD", 99.95, 100.05),
			// A stale book frozen at a huge spread; it must not be sampled.
			wide: liveBook("alpha", "ETH-USD", 50, 150),
		},
		stale: map[domain.BookKey]bool{wide: true},
	}

	scorer := NewScorer(Config{}, nil, slog.Default())
	r := NewRefresher(RefresherConfig{}, scorer, books, nil, nil, nil, slog.Default())

	r.refresh(context.Background())

	m, err := scorer.Metrics("alpha")
	require.NoError(t, err)
	assert.InDelta(t, 10, m.SpreadBps, 0.1, "spread should come from the live book alone")
}

func TestRefresher_AllBooksStaleKeepsPreviousFigures(t *testing.T) {
	key := domain.BookKey{Venue: "alpha", Symbol: "BTC-USD"}
	books := &stubBooks{
		books: map[domain.BookKey]domain.OrderBook{
			key: liveBook("alpha", "BTC-USD", 50, 150),
		},
		stale: map[domain.BookKey]bool{key: true},
	}

	scorer := NewScorer(Config{}, nil, slog.Default())
	scorer.UpsertMetrics(goodVenue("alpha"))

	r := NewRefresher(RefresherConfig{}, scorer, books, nil, nil, nil, slog.Default())
	r.refresh(context.Background())

	m, err := scorer.Metrics("alpha")
	require.NoError(t, err)
	assert.Equal(t, goodVenue("alpha").SpreadBps, m.SpreadBps)
	assert.Equal(t, goodVenue("alpha").TopDepthUsd, m.TopDepthUsd)
}
