package feed

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/book"
	"github.com/venuelabs/microroute/internal/domain"
)

// SyntheticConfig controls the synthetic market data generator.
type SyntheticConfig struct {
	Seed     int64
	Venues   []string
	Symbols  []string
	Interval time.Duration
	// BasePrice anchors the random walk for every symbol.
	BasePrice float64
	// GapEvery injects a deliberate sequence gap roughly once per this many
	// deltas, exercising the resync path. Zero disables gap injection.
	GapEvery int
	Depth    int
}

// DefaultSyntheticConfig returns generator defaults for local runs.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:      42,
		Venues:    []string{"alpha", "beta"},
		Symbols:   []string{"BTC-USD", "ETH-USD"},
		Interval:  100 * time.Millisecond,
		BasePrice: 50000,
		GapEvery:  500,
		Depth:     20,
	}
}

type syntheticBook struct {
	mid float64
	seq uint64
}

// Synthetic drives the engine with a seeded deterministic random walk:
// snapshots, contiguous deltas, trade prints, and occasional injected gaps.
// It also serves as the snapshot fetcher for resync, so the full reconcile
// loop runs without any live connection.
type Synthetic struct {
	cfg        SyntheticConfig
	books      *book.Store
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	state map[domain.BookKey]*syntheticBook
}

// NewSynthetic creates a synthetic feed over the given book store.
func NewSynthetic(cfg SyntheticConfig, books *book.Store, dispatcher *Dispatcher, logger *slog.Logger) *Synthetic {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 50000
	}
	return &Synthetic{
		cfg:        cfg,
		books:      books,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "synthetic_feed")),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		state:      make(map[domain.BookKey]*syntheticBook),
	}
}

// FetchSnapshot implements book.SnapshotFetcher using the generator's own
// walk state, so resyncs land on a consistent image.
func (s *Synthetic) FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb := s.book(key)
	sb.seq += 10 // a fresh snapshot is always ahead of any buffered delta
	return s.snapshotLocked(key, sb), nil
}

// Run emits snapshots for every venue/symbol pair, then streams deltas and
// trades until the context is cancelled.
func (s *Synthetic) Run(ctx context.Context) error {
	s.mu.Lock()
	var snaps []domain.BookSnapshot
	for _, venue := range s.cfg.Venues {
		for _, symbol := range s.cfg.Symbols {
			key := domain.BookKey{Venue: venue, Symbol: symbol}
			snaps = append(snaps, s.snapshotLocked(key, s.book(key)))
		}
	}
	s.mu.Unlock()

	for _, snap := range snaps {
		if err := s.books.ApplySnapshot(ctx, snap); err != nil {
			return err
		}
	}
	s.logger.Info("synthetic feed started",
		slog.Int("books", len(snaps)),
		slog.Int64("seed", s.cfg.Seed))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	deltas := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deltas++
			if err := s.step(ctx, deltas); err != nil {
				return err
			}
		}
	}
}

func (s *Synthetic) step(ctx context.Context, n int) error {
	s.mu.Lock()
	venue := s.cfg.Venues[s.rng.Intn(len(s.cfg.Venues))]
	symbol := s.cfg.Symbols[s.rng.Intn(len(s.cfg.Symbols))]
	key := domain.BookKey{Venue: venue, Symbol: symbol}
	sb := s.book(key)

	// Random walk the mid with ~10 bps noise.
	sb.mid *= 1 + s.rng.NormFloat64()*0.001
	sb.seq++
	if s.cfg.GapEvery > 0 && n%s.cfg.GapEvery == 0 {
		sb.seq += 5 // deliberate gap
	}

	delta := s.deltaLocked(key, sb)
	trade := s.tradeLocked(symbol, sb)
	s.mu.Unlock()

	if err := s.books.ApplyDelta(ctx, delta); err != nil {
		return err
	}
	if trade != nil {
		return s.dispatcher.RecordTrade(ctx, *trade)
	}
	return nil
}

func (s *Synthetic) book(key domain.BookKey) *syntheticBook {
	sb, ok := s.state[key]
	if !ok {
		// Stagger symbols so they do not all walk the same price.
		offset := 1 + float64(len(s.state))*0.1
		sb = &syntheticBook{mid: s.cfg.BasePrice * offset, seq: uint64(s.rng.Intn(1000)) + 1}
		s.state[key] = sb
	}
	return sb
}

func (s *Synthetic) snapshotLocked(key domain.BookKey, sb *syntheticBook) domain.BookSnapshot {
	tickSize := sb.mid * 0.0001
	bids := make([]domain.PriceLevel, 0, s.cfg.Depth)
	asks := make([]domain.PriceLevel, 0, s.cfg.Depth)
	for i := 1; i <= s.cfg.Depth; i++ {
		bids = append(bids, domain.PriceLevel{
			Price: sb.mid - tickSize*float64(i),
			Size:  0.5 + s.rng.Float64()*2,
		})
		asks = append(asks, domain.PriceLevel{
			Price: sb.mid + tickSize*float64(i),
			Size:  0.5 + s.rng.Float64()*2,
		})
	}
	return domain.BookSnapshot{
		Venue:     key.Venue,
		Symbol:    key.Symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  sb.seq,
		Timestamp: time.Now(),
	}
}

func (s *Synthetic) deltaLocked(key domain.BookKey, sb *syntheticBook) domain.BookDelta {
	tickSize := sb.mid * 0.0001
	level := float64(1 + s.rng.Intn(s.cfg.Depth))

	delta := domain.BookDelta{
		Venue:     key.Venue,
		Symbol:    key.Symbol,
		Sequence:  sb.seq,
		Timestamp: time.Now(),
	}
	size := math.Max(0, s.rng.Float64()*3-0.5) // ~1 in 6 deltas removes the level
	if s.rng.Intn(2) == 0 {
		delta.BidChanges = []domain.PriceLevel{{Price: sb.mid - tickSize*level, Size: size}}
	} else {
		delta.AskChanges = []domain.PriceLevel{{Price: sb.mid + tickSize*level, Size: size}}
	}
	return delta
}

func (s *Synthetic) tradeLocked(symbol string, sb *syntheticBook) *domain.Trade {
	if s.rng.Intn(3) != 0 { // roughly one trade per three deltas
		return nil
	}
	side := domain.TradeBuy
	if s.rng.Intn(2) == 0 {
		side = domain.TradeSell
	}
	return &domain.Trade{
		Symbol:    symbol,
		Price:     sb.mid,
		Size:      0.01 + s.rng.Float64()*0.5,
		Side:      side,
		Timestamp: time.Now(),
	}
}

// Compile-time interface check.
var _ book.SnapshotFetcher = (*Synthetic)(nil)
