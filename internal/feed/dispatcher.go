// Package feed bridges inbound market data into the estimation engine. The
// dispatcher consumes reconciled book updates and raw trades, feeds the
// microstructure and volatility estimators, mirrors books to the cache, and
// publishes health events on the signal bus.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/venuelabs/microroute/internal/book"
	"github.com/venuelabs/microroute/internal/domain"
	"github.com/venuelabs/microroute/internal/micro"
	"github.com/venuelabs/microroute/internal/vol"
)

// Channel names for signal bus publications.
const (
	chanBookPrefix  = "ch:book:"
	chanTradePrefix = "ch:trade:"
	chanMicroPrefix = "ch:micro:"
)

// Config controls dispatcher behaviour.
type Config struct {
	// SubscribeBuffer sizes the book update subscription channel.
	SubscribeBuffer int
	// MicroPublishInterval is how often per-symbol microstructure snapshots
	// are published on the bus. Zero disables periodic publishing.
	MicroPublishInterval time.Duration
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		SubscribeBuffer:      512,
		MicroPublishInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SubscribeBuffer <= 0 {
		c.SubscribeBuffer = 512
	}
	return c
}

// Dispatcher wires book updates and trades into the estimators. The bus,
// cache, and audit sinks are optional; a nil sink is skipped.
type Dispatcher struct {
	cfg    Config
	books  *book.Store
	micro  *micro.Estimator
	vol    *vol.Forecaster
	bus    domain.SignalBus
	cache  domain.BookCache
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given components.
func NewDispatcher(cfg Config, books *book.Store, est *micro.Estimator, fc *vol.Forecaster, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg.withDefaults(),
		books:  books,
		micro:  est,
		vol:    fc,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// WithBus attaches a signal bus for outbound event publication.
func (d *Dispatcher) WithBus(bus domain.SignalBus) *Dispatcher {
	d.bus = bus
	return d
}

// WithCache attaches a book cache mirror.
func (d *Dispatcher) WithCache(cache domain.BookCache) *Dispatcher {
	d.cache = cache
	return d
}

// WithAudit attaches an audit log for gap and stale events.
func (d *Dispatcher) WithAudit(audit domain.AuditStore) *Dispatcher {
	d.audit = audit
	return d
}

// RecordTrade ingests one trade print: the trade flows into the
// microstructure estimator and, when a bus is attached, onto the trade
// channel for external consumers.
func (d *Dispatcher) RecordTrade(ctx context.Context, trade domain.Trade) error {
	if trade.Symbol == "" {
		return fmt.Errorf("feed: record trade: %w", domain.ErrNotFound)
	}
	if trade.Price <= 0 || trade.Size <= 0 {
		return fmt.Errorf("feed: record trade %s: non-positive price or size", trade.Symbol)
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now()
	}

	d.micro.OnTrade(trade)

	if d.bus != nil {
		payload, err := json.Marshal(trade)
		if err == nil {
			if err := d.bus.Publish(ctx, chanTradePrefix+trade.Symbol, payload); err != nil {
				d.logger.Warn("trade publish failed",
					slog.String("symbol", trade.Symbol),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// Run consumes book updates until the context is cancelled. Snapshot and
// delta events feed the estimators and refresh the cache mirror; gap and
// stale events are audited and published as health alerts.
func (d *Dispatcher) Run(ctx context.Context) error {
	updates := d.books.Subscribe(d.cfg.SubscribeBuffer)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if d.cfg.MicroPublishInterval > 0 && d.bus != nil {
		ticker = time.NewTicker(d.cfg.MicroPublishInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			d.handle(ctx, u)
		case <-tick:
			d.publishMicro(ctx)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, u book.Update) {
	switch u.Event {
	case book.EventSnapshot, book.EventDelta:
		d.micro.OnBookUpdate(u.Book)
		if mid := u.Book.MidPrice(); mid > 0 {
			d.vol.ObserveMid(u.Book.Symbol, mid, u.Book.LastUpdate)
		}
		d.mirror(ctx, u.Book)
	case book.EventGap, book.EventStale:
		d.alert(ctx, u)
	}
}

func (d *Dispatcher) mirror(ctx context.Context, b domain.OrderBook) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SetBook(ctx, b); err != nil {
		d.logger.Warn("book mirror failed",
			slog.String("venue", b.Venue),
			slog.String("symbol", b.Symbol),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) alert(ctx context.Context, u book.Update) {
	key := domain.BookKey{Venue: u.Book.Venue, Symbol: u.Book.Symbol}
	d.logger.Warn("book health event",
		slog.String("event", string(u.Event)),
		slog.String("book", key.String()),
		slog.Uint64("sequence", u.Book.Sequence))

	if d.audit != nil {
		detail := map[string]any{
			"venue":    u.Book.Venue,
			"symbol":   u.Book.Symbol,
			"sequence": u.Book.Sequence,
			"state":    string(u.Book.State),
		}
		if err := d.audit.Log(ctx, "book_"+string(u.Event), detail); err != nil {
			d.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}

	if d.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":    string(u.Event),
			"venue":    u.Book.Venue,
			"symbol":   u.Book.Symbol,
			"sequence": u.Book.Sequence,
			"state":    string(u.Book.State),
			"ts":       u.Book.LastUpdate,
		})
		if err == nil {
			if err := d.bus.Publish(ctx, chanBookPrefix+key.String(), payload); err != nil {
				d.logger.Warn("health publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) publishMicro(ctx context.Context) {
	seen := make(map[string]struct{})
	for _, key := range d.books.Keys() {
		if _, done := seen[key.Symbol]; done {
			continue
		}
		seen[key.Symbol] = struct{}{}

		snap := d.micro.Snapshot(key.Symbol)
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := d.bus.Publish(ctx, chanMicroPrefix+key.Symbol, payload); err != nil {
			d.logger.Warn("micro publish failed",
				slog.String("symbol", key.Symbol),
				slog.String("error", err.Error()))
		}
	}
}
