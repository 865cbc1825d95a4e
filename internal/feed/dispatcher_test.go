package feed

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/microroute/internal/book"
	"github.com/venuelabs/microroute/internal/domain"
	"github.com/venuelabs/microroute/internal/micro"
	"github.com/venuelabs/microroute/internal/vol"
)

// memBus records published messages per channel.
type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *memBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

func newTestDispatcher(t *testing.T, bus *memBus) (*Dispatcher, *book.Store, *micro.Estimator) {
	t.Helper()
	logger := slog.Default()
	books := book.NewStore(book.Config{}, nil, logger)
	t.Cleanup(books.Close)
	est := micro.NewEstimator(micro.Config{}, logger)
	fc := vol.NewForecaster(vol.Config{}, logger)
	d := NewDispatcher(Config{}, books, est, fc, logger)
	if bus != nil {
		d.WithBus(bus)
	}
	return d, books, est
}

func TestDispatcher_RecordTradeValidation(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	assert.Error(t, d.RecordTrade(ctx, domain.Trade{Price: 1, Size: 1}))
	assert.Error(t, d.RecordTrade(ctx, domain.Trade{Symbol: "BTC-USD", Price: 0, Size: 1}))
	assert.Error(t, d.RecordTrade(ctx, domain.Trade{Symbol: "BTC-USD", Price: 1, Size: -2}))
}

func TestDispatcher_RecordTradeFeedsEstimator(t *testing.T) {
	bus := newMemBus()
	d, _, est := newTestDispatcher(t, bus)

	require.NoError(t, d.RecordTrade(context.Background(), domain.Trade{
		Symbol: "BTC-USD",
		Price:  100,
		Size:   3,
		Side:   domain.TradeBuy,
	}))

	snap := est.Snapshot("BTC-USD")
	assert.Equal(t, 1.0, snap.TI)
	assert.Equal(t, 1, bus.count("ch:trade:BTC-USD"))
}

func TestDispatcher_BookUpdatesFlowToEstimator(t *testing.T) {
	d, books, est := newTestDispatcher(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	require.NoError(t, books.ApplySnapshot(ctx, domain.BookSnapshot{
		Venue:  "alpha",
		Symbol: "BTC-USD",
		Bids:   []domain.PriceLevel{{Price: 100, Size: 6}},
		Asks:   []domain.PriceLevel{{Price: 101, Size: 2}},
	}))

	require.Eventually(t, func() bool {
		return !est.Snapshot("BTC-USD").Fallback
	}, 2*time.Second, 10*time.Millisecond)

	snap := est.Snapshot("BTC-USD")
	assert.InDelta(t, 0.5, snap.OBI, 1e-9)

	cancel()
	<-done
}

func TestDispatcher_GapEventsPublished(t *testing.T) {
	bus := newMemBus()
	d, books, _ := newTestDispatcher(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, books.ApplySnapshot(ctx, domain.BookSnapshot{
		Venue:    "alpha",
		Symbol:   "BTC-USD",
		Bids:     []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:     []domain.PriceLevel{{Price: 101, Size: 1}},
		Sequence: 10,
	}))
	// No fetcher on the store: the gap goes straight to stale, and the
	// dispatcher publishes both health events.
	require.NoError(t, books.ApplyDelta(ctx, domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   20,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 2}},
	}))

	require.Eventually(t, func() bool {
		return bus.count("ch:book:alpha:BTC-USD") >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSynthetic_DrivesFullPipeline(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultSyntheticConfig()
	cfg.Interval = time.Millisecond
	cfg.Venues = []string{"alpha"}
	cfg.Symbols = []string{"BTC-USD"}

	est := micro.NewEstimator(micro.Config{}, logger)
	fc := vol.NewForecaster(vol.Config{}, logger)

	var syn *Synthetic
	fetch := fetcherFunc(func(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
		return syn.FetchSnapshot(ctx, key)
	})
	books := book.NewStore(book.Config{ResyncBackoff: time.Millisecond}, fetch, logger)
	defer books.Close()

	d := NewDispatcher(Config{}, books, est, fc, logger)
	syn = NewSynthetic(cfg, books, d, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	go func() { _ = syn.Run(ctx) }()

	require.Eventually(t, func() bool {
		b, err := books.GetSnapshot("alpha", "BTC-USD")
		return err == nil && b.State == domain.BookLive && len(b.Bids) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !est.Snapshot("BTC-USD").Fallback
	}, 2*time.Second, 5*time.Millisecond)

	b, err := books.GetSnapshot("alpha", "BTC-USD")
	require.NoError(t, err)
	// Generated books are well formed: sorted and uncrossed.
	for i := 1; i < len(b.Bids); i++ {
		assert.Less(t, b.Bids[i].Price, b.Bids[i-1].Price)
	}
	for i := 1; i < len(b.Asks); i++ {
		assert.Greater(t, b.Asks[i].Price, b.Asks[i-1].Price)
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 {
		assert.Less(t, b.Bids[0].Price, b.Asks[0].Price)
	}
}

func TestSynthetic_DeterministicSnapshots(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultSyntheticConfig()

	mk := func() domain.BookSnapshot {
		books := book.NewStore(book.Config{}, nil, logger)
		defer books.Close()
		est := micro.NewEstimator(micro.Config{}, logger)
		fc := vol.NewForecaster(vol.Config{}, logger)
		d := NewDispatcher(Config{}, books, est, fc, logger)
		s := NewSynthetic(cfg, books, d, logger)
		snap, err := s.FetchSnapshot(context.Background(), domain.BookKey{Venue: "alpha", Symbol: "BTC-USD"})
		require.NoError(t, err)
		return snap
	}

	a, b := mk(), mk()
	assert.Equal(t, a.Bids, b.Bids)
	assert.Equal(t, a.Asks, b.Asks)
}

// fetcherFunc adapts a function to book.SnapshotFetcher.
type fetcherFunc func(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error)

func (f fetcherFunc) FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
	return f(ctx, key)
}
