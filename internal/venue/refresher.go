package venue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// BookReader is the read surface of the book store the refresher samples
// spread and depth from. Health distinguishes stale and resyncing books
// from live ones.
type BookReader interface {
	GetSnapshot(venue, symbol string) (domain.OrderBook, error)
	Health(venue, symbol string) error
	Keys() []domain.BookKey
}

// LatencyProber measures round-trip latency to a venue in milliseconds.
// Implementations are connector-specific; a nil prober leaves the previous
// figure in place.
type LatencyProber interface {
	ProbeLatency(ctx context.Context, venue string) (float64, error)
}

// RefresherConfig tunes the periodic metrics refresh.
type RefresherConfig struct {
	Interval time.Duration
	// RateLimit/RateWindow describe each venue's request budget, used to
	// read the remaining quota.
	RateLimit  int
	RateWindow time.Duration
	// FeeBps is the static taker fee per venue.
	FeeBps map[string]float64
}

// Refresher periodically samples venue health (spread and depth from the
// book store, latency from the prober, remaining quota from the rate
// budget), pushes the result into the scorer, and optionally persists a
// sample row. It runs on its own interval and is cancellable as a unit.
type Refresher struct {
	cfg    RefresherConfig
	scorer *Scorer
	books  BookReader
	prober LatencyProber
	budget domain.RateBudget
	stats  domain.VenueStatStore
	logger *slog.Logger
}

// NewRefresher creates a Refresher. prober, budget, and stats may each be
// nil; the corresponding field is then left untouched or skipped.
func NewRefresher(cfg RefresherConfig, scorer *Scorer, books BookReader, prober LatencyProber, budget domain.RateBudget, stats domain.VenueStatStore, logger *slog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1200
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &Refresher{
		cfg:    cfg,
		scorer: scorer,
		books:  books,
		prober: prober,
		budget: budget,
		stats:  stats,
		logger: logger.With(slog.String("component", "venue_refresher")),
	}
}

// Run refreshes until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("venue metrics refresher started")
	defer r.logger.Info("venue metrics refresher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh samples every venue that currently has at least one book.
func (r *Refresher) refresh(ctx context.Context) {
	perVenue := make(map[string][]domain.BookKey)
	for _, key := range r.books.Keys() {
		perVenue[key.Venue] = append(perVenue[key.Venue], key)
	}

	for venue, keys := range perVenue {
		prev, _ := r.scorer.Metrics(venue)
		m := domain.VenueMetrics{
			Venue:       venue,
			LatencyMs:   prev.LatencyMs,
			FeeBps:      r.cfg.FeeBps[venue],
			Reliability: prev.Reliability,
			UpdatedAt:   time.Now(),
		}
		if m.Reliability == 0 {
			m.Reliability = 1
		}

		// Average spread and sum top-of-book depth across the venue's
		// live books.
		var spreadSum float64
		var spreadN int
		var staleBooks int
		for _, key := range keys {
			// A stale book's last quotes may be minutes old; sampling them
			// would poison the venue's spread and depth figures.
			if err := r.books.Health(key.Venue, key.Symbol); errors.Is(err, domain.ErrStale) {
				staleBooks++
				continue
			}
			book, err := r.books.GetSnapshot(key.Venue, key.Symbol)
			if err != nil || book.State == domain.BookUninitialized {
				continue
			}
			bid, okB := book.BestBid()
			ask, okA := book.BestAsk()
			mid := book.MidPrice()
			if okB && okA && mid > 0 {
				spreadSum += (ask.Price - bid.Price) / mid * 10000
				spreadN++
				m.TopDepthUsd += (bid.Size + ask.Size) / 2 * mid
			}
		}
		if spreadN > 0 {
			m.SpreadBps = spreadSum / float64(spreadN)
		} else {
			m.SpreadBps = prev.SpreadBps
			m.TopDepthUsd = prev.TopDepthUsd
		}
		if staleBooks > 0 {
			r.logger.Warn("stale books excluded from venue sample",
				slog.String("venue", venue),
				slog.Int("count", staleBooks),
			)
		}

		if r.prober != nil {
			if ms, err := r.prober.ProbeLatency(ctx, venue); err == nil {
				m.LatencyMs = ms
			}
		}

		if r.budget != nil {
			if remaining, err := r.budget.Remaining(ctx, venue, r.cfg.RateLimit, r.cfg.RateWindow); err == nil {
				m.RateRemaining = remaining
			}
		}

		r.scorer.UpsertMetrics(m)

		if r.stats != nil {
			sample := domain.VenueStatSample{
				Venue:       venue,
				LatencyMs:   m.LatencyMs,
				SpreadBps:   m.SpreadBps,
				DepthUsd:    m.TopDepthUsd,
				Reliability: m.Reliability,
				SampledAt:   m.UpdatedAt,
			}
			if err := r.stats.Insert(ctx, sample); err != nil {
				r.logger.Warn("persist venue sample failed",
					slog.String("venue", venue),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
