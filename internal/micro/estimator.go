// Package micro derives short-horizon microstructure signals (order-book
// imbalance, trade imbalance, spread, micro-volatility, cancel rate) from
// the live book and trade streams. Each symbol's signals are independent
// rolling computations; there is no cross-symbol locking.
package micro

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// Config tunes the estimator's windows.
type Config struct {
	// TopLevels is how many levels per side feed the imbalance sum.
	TopLevels int
	// TradeWindow is the trailing span for the buy/sell volume imbalance.
	TradeWindow time.Duration
	// ReturnBuffer is how many log mid returns feed micro-volatility.
	ReturnBuffer int
	// CancelWindow is the trailing span for the cancel-rate ratio.
	CancelWindow time.Duration
	// AnnualizationFactor scales the raw return stdev into micro-vol.
	AnnualizationFactor float64
	// FallbackSpreadBps is reported when a symbol has no book stream.
	FallbackSpreadBps float64
	// StaleAfter is the input age beyond which confidence starts dropping.
	StaleAfter time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TopLevels:           10,
		TradeWindow:         5 * time.Second,
		ReturnBuffer:        100,
		CancelWindow:        30 * time.Second,
		AnnualizationFactor: math.Sqrt(365 * 24 * 60 * 60),
		FallbackSpreadBps:   25,
		StaleAfter:          5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopLevels <= 0 {
		c.TopLevels = d.TopLevels
	}
	if c.TradeWindow <= 0 {
		c.TradeWindow = d.TradeWindow
	}
	if c.ReturnBuffer <= 0 {
		c.ReturnBuffer = d.ReturnBuffer
	}
	if c.CancelWindow <= 0 {
		c.CancelWindow = d.CancelWindow
	}
	if c.AnnualizationFactor <= 0 {
		c.AnnualizationFactor = d.AnnualizationFactor
	}
	if c.FallbackSpreadBps <= 0 {
		c.FallbackSpreadBps = d.FallbackSpreadBps
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	return c
}

// symbolState holds one symbol's rolling windows. Guarded by its own mutex
// so symbols never contend with each other.
type symbolState struct {
	mu sync.Mutex

	obi       float64
	spreadBps float64
	lastMid   float64
	prevSizes map[float64]float64

	returns *ring
	trades  *tradeWindow
	cancels *countWindow

	lastBookAt  time.Time
	lastTradeAt time.Time
}

// Estimator consumes book updates and trade prints and answers snapshot
// queries. It is safe for concurrent use.
type Estimator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg Config, logger *slog.Logger) *Estimator {
	return &Estimator{
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "micro_estimator")),
		symbols: make(map[string]*symbolState),
	}
}

func (e *Estimator) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{
		returns: newRing(e.cfg.ReturnBuffer),
		trades:  newTradeWindow(e.cfg.TradeWindow),
		cancels: newCountWindow(e.cfg.CancelWindow),
	}
	e.symbols[symbol] = st
	return st
}

// OnBookUpdate folds a fresh book copy into the symbol's rolling state.
func (e *Estimator) OnBookUpdate(book domain.OrderBook) {
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return
	}
	st := e.state(book.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	var bidSum, askSum float64
	sizes := make(map[float64]float64, 2*e.cfg.TopLevels)
	for i, lvl := range book.Bids {
		if i >= e.cfg.TopLevels {
			break
		}
		bidSum += lvl.Size
		sizes[lvl.Price] = lvl.Size
	}
	for i, lvl := range book.Asks {
		if i >= e.cfg.TopLevels {
			break
		}
		askSum += lvl.Size
		sizes[-lvl.Price] = lvl.Size
	}

	if total := bidSum + askSum; total > 0 {
		st.obi = clamp((bidSum-askSum)/total, -1, 1)
	} else {
		st.obi = 0
	}

	mid := book.MidPrice()
	if len(book.Bids) > 0 && len(book.Asks) > 0 && mid > 0 {
		st.spreadBps = (book.Asks[0].Price - book.Bids[0].Price) / mid * 10000
	}

	if mid > 0 {
		if st.lastMid > 0 && mid != st.lastMid {
			st.returns.push(math.Log(mid / st.lastMid))
		}
		st.lastMid = mid
	}

	// Cancel rate: a previously seen level that vanished or shrank counts
	// as a removal event, anything else as an add/refresh.
	now := book.LastUpdate
	if now.IsZero() {
		now = time.Now()
	}
	if st.prevSizes != nil {
		for price, prevSize := range st.prevSizes {
			cur, ok := sizes[price]
			if !ok || cur < prevSize {
				st.cancels.record(now, true)
			}
		}
		for price := range sizes {
			if _, ok := st.prevSizes[price]; !ok {
				st.cancels.record(now, false)
			}
		}
	}
	st.prevSizes = sizes
	st.lastBookAt = now
}

// OnTrade folds a trade print into the symbol's buy/sell volume window.
func (e *Estimator) OnTrade(trade domain.Trade) {
	st := e.state(trade.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	at := trade.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if trade.Side == domain.TradeSell {
		st.trades.add(at, 0, trade.Size)
	} else {
		st.trades.add(at, trade.Size, 0)
	}
	st.lastTradeAt = at
}

// Snapshot returns the current signals for a symbol. A symbol with no data
// yields the documented conservative defaults with low confidence, never an
// error.
func (e *Estimator) Snapshot(symbol string) domain.MicrostructureSnapshot {
	now := time.Now()

	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if !ok {
		return e.fallback(symbol, now)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.lastBookAt.IsZero() && st.lastTradeAt.IsZero() {
		return e.fallback(symbol, now)
	}

	buy, sell := st.trades.totals(now)
	ti := 0.0
	if total := buy + sell; total > 0 {
		ti = clamp((buy-sell)/total, -1, 1)
	}

	microVol := st.returns.stdev() * e.cfg.AnnualizationFactor

	spread := st.spreadBps
	confidence := 1.0
	if st.lastBookAt.IsZero() {
		spread = e.cfg.FallbackSpreadBps
		confidence -= 0.4
	} else if age := now.Sub(st.lastBookAt); age > e.cfg.StaleAfter {
		confidence -= 0.3
	}
	if st.lastTradeAt.IsZero() || now.Sub(st.lastTradeAt) > 2*e.cfg.TradeWindow {
		confidence -= 0.2
	}
	if st.returns.len() < e.cfg.ReturnBuffer/4 {
		confidence -= 0.2
	}
	if confidence < 0.1 {
		confidence = 0.1
	}

	return domain.MicrostructureSnapshot{
		Symbol:     symbol,
		Timestamp:  now,
		OBI:        st.obi,
		TI:         ti,
		SpreadBps:  spread,
		MicroVol:   microVol,
		CancelRate: st.cancels.ratio(now),
		Confidence: confidence,
	}
}

// fallback is the conservative snapshot for symbols with no stream at all.
func (e *Estimator) fallback(symbol string, now time.Time) domain.MicrostructureSnapshot {
	return domain.MicrostructureSnapshot{
		Symbol:     symbol,
		Timestamp:  now,
		SpreadBps:  e.cfg.FallbackSpreadBps,
		Confidence: 0.1,
		Fallback:   true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
