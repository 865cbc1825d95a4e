package micro

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/microroute/internal/domain"
)

func liveBook(bids, asks []domain.PriceLevel) domain.OrderBook {
	return domain.OrderBook{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Bids:       bids,
		Asks:       asks,
		State:      domain.BookLive,
		LastUpdate: time.Now(),
	}
}

func TestEstimator_OBI(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	// 100 units bid depth vs 80 units ask depth -> (100-80)/180.
	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 60}, {Price: 99, Size: 40}},
		[]domain.PriceLevel{{Price: 101, Size: 50}, {Price: 102, Size: 30}},
	))

	snap := e.Snapshot("BTC-USD")
	assert.InDelta(t, 20.0/180.0, snap.OBI, 1e-9)
	assert.False(t, snap.Fallback)
}

func TestEstimator_SpreadBps(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 99.95, Size: 1}},
		[]domain.PriceLevel{{Price: 100.05, Size: 1}},
	))

	snap := e.Snapshot("BTC-USD")
	// 0.10 spread on a 100 mid is 10 bps.
	assert.InDelta(t, 10.0, snap.SpreadBps, 1e-6)
}

func TestEstimator_TopLevelsBound(t *testing.T) {
	e := NewEstimator(Config{TopLevels: 1}, slog.Default())

	// Only the top level per side counts: 10 vs 30.
	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 10}, {Price: 99, Size: 500}},
		[]domain.PriceLevel{{Price: 101, Size: 30}, {Price: 102, Size: 500}},
	))

	snap := e.Snapshot("BTC-USD")
	assert.InDelta(t, -0.5, snap.OBI, 1e-9)
}

func TestEstimator_TradeImbalance(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())
	now := time.Now()

	e.OnTrade(domain.Trade{Symbol: "BTC-USD", Price: 100, Size: 9, Side: domain.TradeBuy, Timestamp: now})
	e.OnTrade(domain.Trade{Symbol: "BTC-USD", Price: 100, Size: 1, Side: domain.TradeSell, Timestamp: now})

	snap := e.Snapshot("BTC-USD")
	assert.InDelta(t, 0.8, snap.TI, 1e-9)
}

func TestEstimator_TradeWindowExpiry(t *testing.T) {
	e := NewEstimator(Config{TradeWindow: time.Second}, slog.Default())

	e.OnTrade(domain.Trade{
		Symbol:    "BTC-USD",
		Price:     100,
		Size:      10,
		Side:      domain.TradeBuy,
		Timestamp: time.Now().Add(-5 * time.Second),
	})

	snap := e.Snapshot("BTC-USD")
	assert.Zero(t, snap.TI)
}

func TestEstimator_CancelRate(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 10}, {Price: 99, Size: 10}},
		[]domain.PriceLevel{{Price: 101, Size: 10}},
	))
	// Second update removes one bid level and shrinks another.
	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 5}},
		[]domain.PriceLevel{{Price: 101, Size: 10}},
	))

	snap := e.Snapshot("BTC-USD")
	assert.Greater(t, snap.CancelRate, 0.0)
	assert.LessOrEqual(t, snap.CancelRate, 1.0)
}

func TestEstimator_MicroVolFromReturns(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	mids := []float64{100, 100.1, 99.9, 100.2, 100.0, 100.3}
	for _, mid := range mids {
		e.OnBookUpdate(liveBook(
			[]domain.PriceLevel{{Price: mid - 0.05, Size: 1}},
			[]domain.PriceLevel{{Price: mid + 0.05, Size: 1}},
		))
	}

	snap := e.Snapshot("BTC-USD")
	assert.Greater(t, snap.MicroVol, 0.0)
}

func TestEstimator_FallbackSnapshot(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	snap := e.Snapshot("UNKNOWN")
	assert.True(t, snap.Fallback)
	assert.Equal(t, DefaultConfig().FallbackSpreadBps, snap.SpreadBps)
	assert.InDelta(t, 0.1, snap.Confidence, 1e-9)
	assert.Zero(t, snap.OBI)
}

func TestEstimator_ConfidenceDropsWithoutTrades(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 1}},
		[]domain.PriceLevel{{Price: 101, Size: 1}},
	))
	noTrades := e.Snapshot("BTC-USD")

	e.OnTrade(domain.Trade{Symbol: "BTC-USD", Price: 100.5, Size: 1, Side: domain.TradeBuy, Timestamp: time.Now()})
	withTrades := e.Snapshot("BTC-USD")

	require.False(t, withTrades.Fallback)
	assert.Greater(t, withTrades.Confidence, noTrades.Confidence)
}

func TestEstimator_OBIClamped(t *testing.T) {
	e := NewEstimator(Config{}, slog.Default())

	// One-sided book: all depth on the bid.
	e.OnBookUpdate(liveBook(
		[]domain.PriceLevel{{Price: 100, Size: 50}},
		nil,
	))

	snap := e.Snapshot("BTC-USD")
	assert.Equal(t, 1.0, snap.OBI)
}
