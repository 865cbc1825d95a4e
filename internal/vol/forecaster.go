// Package vol forecasts short-horizon volatility per symbol from a bounded
// return history, combining a fixed-coefficient HAR-RV regression with a
// GARCH(1,1) recursion. Parameter re-estimation runs as a periodic
// background pass so the hot update path stays O(1).
package vol

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// Config tunes history depth, sampling, and the HAR coefficients.
type Config struct {
	// HistorySize bounds each symbol's return buffer (~1 trading day at
	// 1-minute sampling).
	HistorySize int
	// SampleInterval is the native return sampling granularity; mid-price
	// observations arriving faster are coalesced.
	SampleInterval time.Duration
	// ReestimateEvery is how many new observations trigger a GARCH refit
	// in the next background pass.
	ReestimateEvery int
	// ReestimateInterval is the cadence of the background pass.
	ReestimateInterval time.Duration
	// MinSamples below which the fixed default forecast is returned.
	MinSamples int
	// DefaultDailyVol is the cold-start daily volatility (fraction, not bps).
	DefaultDailyVol float64

	// HAR windows in samples (short/medium/long realized variance).
	HARShort, HARMedium, HARLong int
	// HAR regression coefficients (fixed; a production fit would estimate
	// these from data).
	HARIntercept, HARBetaShort, HARBetaMedium, HARBetaLong float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		HistorySize:        1440,
		SampleInterval:     time.Minute,
		ReestimateEvery:    100,
		ReestimateInterval: 30 * time.Second,
		MinSamples:         20,
		DefaultDailyVol:    0.02,
		HARShort:           60,
		HARMedium:          300,
		HARLong:            1320,
		HARIntercept:       0,
		HARBetaShort:       0.40,
		HARBetaMedium:      0.35,
		HARBetaLong:        0.25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.ReestimateEvery <= 0 {
		c.ReestimateEvery = d.ReestimateEvery
	}
	if c.ReestimateInterval <= 0 {
		c.ReestimateInterval = d.ReestimateInterval
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.DefaultDailyVol <= 0 {
		c.DefaultDailyVol = d.DefaultDailyVol
	}
	if c.HARShort <= 0 {
		c.HARShort = d.HARShort
	}
	if c.HARMedium <= 0 {
		c.HARMedium = d.HARMedium
	}
	if c.HARLong <= 0 {
		c.HARLong = d.HARLong
	}
	if c.HARBetaShort == 0 && c.HARBetaMedium == 0 && c.HARBetaLong == 0 {
		c.HARIntercept = d.HARIntercept
		c.HARBetaShort = d.HARBetaShort
		c.HARBetaMedium = d.HARBetaMedium
		c.HARBetaLong = d.HARBetaLong
	}
	return c
}

// symbolHistory is one symbol's bounded return buffer plus GARCH state.
type symbolHistory struct {
	mu sync.Mutex

	obs   []domain.ReturnObservation // ring storage
	next  int
	count int

	lastMid    float64
	lastSample time.Time

	garch      garchParams
	newObs     int // observations since the last refit
	everFitted bool
}

// Forecaster maintains per-symbol return history and answers forecast
// requests. Safe for concurrent use.
type Forecaster struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolHistory
}

// NewForecaster creates a Forecaster.
func NewForecaster(cfg Config, logger *slog.Logger) *Forecaster {
	return &Forecaster{
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "vol_forecaster")),
		symbols: make(map[string]*symbolHistory),
	}
}

func (f *Forecaster) history(symbol string) *symbolHistory {
	f.mu.RLock()
	h, ok := f.symbols[symbol]
	f.mu.RUnlock()
	if ok {
		return h
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok = f.symbols[symbol]; ok {
		return h
	}
	h = &symbolHistory{obs: make([]domain.ReturnObservation, f.cfg.HistorySize)}
	f.symbols[symbol] = h
	return h
}

// ObserveMid folds a mid-price update into the symbol's return stream,
// coalescing observations inside one sample interval.
func (f *Forecaster) ObserveMid(symbol string, mid float64, at time.Time) {
	if mid <= 0 {
		return
	}
	h := f.history(symbol)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastMid <= 0 {
		h.lastMid = mid
		h.lastSample = at
		return
	}
	if at.Sub(h.lastSample) < f.cfg.SampleInterval {
		return
	}
	r := math.Log(mid / h.lastMid)
	h.lastMid = mid
	h.lastSample = at
	f.addLocked(h, domain.ReturnObservation{
		Timestamp:     at,
		LogReturn:     r,
		SquaredReturn: r * r,
	})
}

// AddReturn records an externally computed log return. Used by replay mode
// and tests.
func (f *Forecaster) AddReturn(symbol string, logReturn float64, at time.Time) {
	h := f.history(symbol)
	h.mu.Lock()
	defer h.mu.Unlock()
	f.addLocked(h, domain.ReturnObservation{
		Timestamp:     at,
		LogReturn:     logReturn,
		SquaredReturn: logReturn * logReturn,
	})
}

func (f *Forecaster) addLocked(h *symbolHistory, obs domain.ReturnObservation) {
	h.obs[h.next] = obs
	h.next = (h.next + 1) % len(h.obs)
	if h.count < len(h.obs) {
		h.count++
	}
	if !h.everFitted {
		h.garch = defaultGarch(f.varianceLocked(h, h.count))
		h.everFitted = true
	}
	h.garch.step(obs.SquaredReturn)
	h.newObs++
}

// recent returns the last n squared returns, oldest first.
func (h *symbolHistory) recentSquared(n int) []float64 {
	if n > h.count {
		n = h.count
	}
	out := make([]float64, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.obs)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.obs[(start+i)%len(h.obs)].SquaredReturn)
	}
	return out
}

// varianceLocked is the mean squared return over the last n observations.
func (f *Forecaster) varianceLocked(h *symbolHistory, n int) float64 {
	sq := h.recentSquared(n)
	if len(sq) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sq {
		sum += s
	}
	return sum / float64(len(sq))
}

// Forecast returns HAR and GARCH volatility for the horizon. With fewer
// than MinSamples observations the fixed default is returned instead of
// extrapolating; the result is flagged Defaulted, never an error.
func (f *Forecaster) Forecast(symbol string, horizonMinutes int) domain.VolatilityForecast {
	if horizonMinutes <= 0 {
		horizonMinutes = 30
	}
	now := time.Now()

	f.mu.RLock()
	h, ok := f.symbols[symbol]
	f.mu.RUnlock()
	if !ok {
		return f.defaultForecast(symbol, horizonMinutes, now)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < f.cfg.MinSamples {
		return f.defaultForecast(symbol, horizonMinutes, now)
	}

	// Per-sample variances over the three HAR windows.
	rv1 := f.varianceLocked(h, f.cfg.HARShort)
	rv5 := f.varianceLocked(h, f.cfg.HARMedium)
	rv22 := f.varianceLocked(h, f.cfg.HARLong)

	rvForecast := f.cfg.HARIntercept +
		f.cfg.HARBetaShort*rv1 +
		f.cfg.HARBetaMedium*rv5 +
		f.cfg.HARBetaLong*rv22
	if rvForecast < minOmega {
		rvForecast = minOmega
	}

	// Square-root-of-time: rv values are per-sample; the sample interval
	// is one minute at native granularity.
	horizonSamples := float64(horizonMinutes) * float64(time.Minute) / float64(f.cfg.SampleInterval)
	sigmaHAR := math.Sqrt(rvForecast * horizonSamples)
	sigmaGARCH := math.Sqrt(h.garch.sigma2 * horizonSamples)

	return domain.VolatilityForecast{
		Symbol:         symbol,
		HorizonMinutes: horizonMinutes,
		SigmaHAR:       sigmaHAR,
		SigmaGARCH:     sigmaGARCH,
		Timestamp:      now,
	}
}

// defaultForecast scales the documented cold-start daily vol to the horizon.
func (f *Forecaster) defaultForecast(symbol string, horizonMinutes int, now time.Time) domain.VolatilityForecast {
	sigma := f.cfg.DefaultDailyVol * math.Sqrt(float64(horizonMinutes)/1440.0)
	return domain.VolatilityForecast{
		Symbol:         symbol,
		HorizonMinutes: horizonMinutes,
		SigmaHAR:       sigma,
		SigmaGARCH:     sigma,
		Timestamp:      now,
		Defaulted:      true,
	}
}

// GarchParams exposes the current parameter set for a symbol. Mainly for
// diagnostics and tests.
func (f *Forecaster) GarchParams(symbol string) (omega, alpha, beta, sigma2 float64, ok bool) {
	f.mu.RLock()
	h, found := f.symbols[symbol]
	f.mu.RUnlock()
	if !found {
		return 0, 0, 0, 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.garch.omega, h.garch.alpha, h.garch.beta, h.garch.sigma2, true
}

// Run executes the periodic re-estimation pass until the context ends.
// Symbols that accumulated ReestimateEvery new observations get their GARCH
// parameters refitted; book updates are never blocked by this work.
func (f *Forecaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.ReestimateInterval)
	defer ticker.Stop()

	f.logger.Info("volatility re-estimation loop started")
	defer f.logger.Info("volatility re-estimation loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.reestimatePass()
		}
	}
}

func (f *Forecaster) reestimatePass() {
	f.mu.RLock()
	symbols := make(map[string]*symbolHistory, len(f.symbols))
	for k, v := range f.symbols {
		symbols[k] = v
	}
	f.mu.RUnlock()

	for symbol, h := range symbols {
		h.mu.Lock()
		if h.newObs < f.cfg.ReestimateEvery {
			h.mu.Unlock()
			continue
		}
		sq := h.recentSquared(h.count)
		h.garch.reestimate(sq)
		h.newObs = 0
		alpha, beta := h.garch.alpha, h.garch.beta
		h.mu.Unlock()

		f.logger.Debug("garch parameters refitted",
			slog.String("symbol", symbol),
			slog.Float64("alpha", alpha),
			slog.Float64("beta", beta),
		)
	}
}
