package vol

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReturns(f *Forecaster, symbol string, n int) {
	at := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		r := 0.001
		if i%2 == 0 {
			r = -0.0012
		}
		f.AddReturn(symbol, r, at)
		at = at.Add(time.Minute)
	}
}

func TestForecaster_DefaultForecast(t *testing.T) {
	f := NewForecaster(Config{}, slog.Default())

	fc := f.Forecast("BTC-USD", 30)
	assert.True(t, fc.Defaulted)
	assert.Equal(t, 30, fc.HorizonMinutes)
	assert.Greater(t, fc.SigmaHAR, 0.0)
	assert.Equal(t, fc.SigmaHAR, fc.SigmaGARCH)

	// Square-root-of-time: a longer horizon means a larger default sigma.
	longer := f.Forecast("BTC-USD", 120)
	assert.Greater(t, longer.SigmaHAR, fc.SigmaHAR)
}

func TestForecaster_DefaultBelowMinSamples(t *testing.T) {
	f := NewForecaster(Config{MinSamples: 20}, slog.Default())
	seedReturns(f, "BTC-USD", 10)

	fc := f.Forecast("BTC-USD", 30)
	assert.True(t, fc.Defaulted)
}

func TestForecaster_ForecastWithHistory(t *testing.T) {
	f := NewForecaster(Config{MinSamples: 20}, slog.Default())
	seedReturns(f, "BTC-USD", 100)

	fc := f.Forecast("BTC-USD", 30)
	assert.False(t, fc.Defaulted)
	assert.Greater(t, fc.SigmaHAR, 0.0)
	assert.Greater(t, fc.SigmaGARCH, 0.0)
	assert.False(t, math.IsNaN(fc.SigmaHAR))
	assert.False(t, math.IsNaN(fc.SigmaGARCH))

	// Horizon scaling is monotone for both estimators.
	longer := f.Forecast("BTC-USD", 120)
	assert.Greater(t, longer.SigmaHAR, fc.SigmaHAR)
	assert.Greater(t, longer.SigmaGARCH, fc.SigmaGARCH)
}

func TestForecaster_InvalidHorizonDefaults(t *testing.T) {
	f := NewForecaster(Config{}, slog.Default())

	fc := f.Forecast("BTC-USD", 0)
	assert.Equal(t, 30, fc.HorizonMinutes)
}

func TestForecaster_ObserveMidCoalesces(t *testing.T) {
	f := NewForecaster(Config{SampleInterval: time.Minute, MinSamples: 2}, slog.Default())
	at := time.Now()

	// First observation seeds, the next two are inside one interval.
	f.ObserveMid("BTC-USD", 100, at)
	f.ObserveMid("BTC-USD", 101, at.Add(time.Second))
	f.ObserveMid("BTC-USD", 102, at.Add(2*time.Second))

	h := f.history("BTC-USD")
	h.mu.Lock()
	count := h.count
	h.mu.Unlock()
	assert.Zero(t, count)

	// Past the interval a return is recorded.
	f.ObserveMid("BTC-USD", 103, at.Add(2*time.Minute))
	h.mu.Lock()
	count = h.count
	h.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestForecaster_GarchParams(t *testing.T) {
	f := NewForecaster(Config{}, slog.Default())

	_, _, _, _, ok := f.GarchParams("UNKNOWN")
	assert.False(t, ok)

	seedReturns(f, "BTC-USD", 50)
	omega, alpha, beta, sigma2, ok := f.GarchParams("BTC-USD")
	require.True(t, ok)
	assert.Greater(t, omega, 0.0)
	assert.Greater(t, sigma2, 0.0)
	assert.Less(t, alpha+beta, 1.0)
}

func TestForecaster_ReestimateKeepsStationarity(t *testing.T) {
	f := NewForecaster(Config{ReestimateEvery: 10, MinSamples: 5}, slog.Default())
	seedReturns(f, "BTC-USD", 200)

	f.reestimatePass()

	_, alpha, beta, sigma2, ok := f.GarchParams("BTC-USD")
	require.True(t, ok)
	assert.Less(t, alpha+beta, 1.0)
	assert.Greater(t, sigma2, 0.0)
}

func TestGarch_StepStaysPositive(t *testing.T) {
	g := defaultGarch(1e-6)
	for i := 0; i < 1000; i++ {
		g.step(0)
	}
	assert.GreaterOrEqual(t, g.sigma2, minOmega)
}

func TestGarch_ClampPersistence(t *testing.T) {
	g := garchParams{alpha: 0.6, beta: 0.6}
	g.clampPersistence()
	assert.InDelta(t, maxPersistence, g.alpha+g.beta, 1e-9)
	// Ratio preserved.
	assert.InDelta(t, 1.0, g.alpha/g.beta, 1e-9)
}
