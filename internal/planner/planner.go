// Package planner turns a parent order (symbol, size, urgency) into an
// impact-aware execution plan: a style, a time horizon, a slice schedule, a
// cost estimate, and a venue recommendation. Planning is synchronous and
// pure apart from read-only lookups; any internal failure yields the
// documented conservative fallback plan instead of an error.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/venuelabs/microroute/internal/domain"
)

// MicroSource supplies the current microstructure snapshot for a symbol.
type MicroSource interface {
	Snapshot(symbol string) domain.MicrostructureSnapshot
}

// VolSource supplies a volatility forecast for a symbol and horizon.
type VolSource interface {
	Forecast(symbol string, horizonMinutes int) domain.VolatilityForecast
}

// VenueChooser supplies the routing recommendation attached to each plan.
type VenueChooser interface {
	ChooseVenue(symbol string, size float64, urgency domain.Urgency) (domain.VenueChoice, error)
}

// BookReader lets the planner derive a cross-venue liquidity picture for
// the symbol being planned.
type BookReader interface {
	GetSnapshot(venue, symbol string) (domain.OrderBook, error)
	Keys() []domain.BookKey
}

// Config tunes the decision tree thresholds and the base schedule table.
type Config struct {
	// TightSpreadBps is the spread below which immediate execution is
	// considered cheap.
	TightSpreadBps float64
	// HighDepthScore is the depth score above which the book is deep
	// enough for aggressive styles.
	HighDepthScore float64
	// HighMicroVol switches planning to VWAP above this micro-volatility.
	HighMicroVol float64
	// LowLiquidityScore switches planning to POV below this score.
	LowLiquidityScore float64
	// MaxParticipation is the order-to-depth ratio above which POV is
	// forced regardless of other signals.
	MaxParticipation float64
	// VolStretch is the k in the volatility horizon multiplier 1+microVol*k.
	VolStretch float64
	// DefaultHorizonMinutes is used for the volatility forecast request.
	DefaultHorizonMinutes int

	Cost CostModel
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TightSpreadBps:        5,
		HighDepthScore:        0.7,
		HighMicroVol:          0.8,
		LowLiquidityScore:     0.3,
		MaxParticipation:      0.25,
		VolStretch:            0.5,
		DefaultHorizonMinutes: 30,
		Cost:                  DefaultCostModel(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TightSpreadBps <= 0 {
		c.TightSpreadBps = d.TightSpreadBps
	}
	if c.HighDepthScore <= 0 {
		c.HighDepthScore = d.HighDepthScore
	}
	if c.HighMicroVol <= 0 {
		c.HighMicroVol = d.HighMicroVol
	}
	if c.LowLiquidityScore <= 0 {
		c.LowLiquidityScore = d.LowLiquidityScore
	}
	if c.MaxParticipation <= 0 {
		c.MaxParticipation = d.MaxParticipation
	}
	if c.VolStretch <= 0 {
		c.VolStretch = d.VolStretch
	}
	if c.DefaultHorizonMinutes <= 0 {
		c.DefaultHorizonMinutes = d.DefaultHorizonMinutes
	}
	if c.Cost == (CostModel{}) {
		c.Cost = d.Cost
	}
	return c
}

// Planner creates execution plans. Safe for concurrent use; it holds no
// mutable state of its own.
type Planner struct {
	cfg    Config
	micro  MicroSource
	vol    VolSource
	venues VenueChooser
	books  BookReader
	store  domain.PlanStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPlanner creates a Planner. venues, books, store, and bus may be nil;
// the corresponding enrichment is then skipped.
func NewPlanner(cfg Config, micro MicroSource, vol VolSource, venues VenueChooser, books BookReader, store domain.PlanStore, bus domain.SignalBus, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:    cfg.withDefaults(),
		micro:  micro,
		vol:    vol,
		venues: venues,
		books:  books,
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "execution_planner")),
	}
}

// CreatePlan produces an immutable execution plan for the parent order.
// It only errors on invalid arguments; every internal failure is converted
// to the conservative fallback plan.
func (p *Planner) CreatePlan(ctx context.Context, symbol string, size float64, urgency domain.Urgency) (domain.ExecutionPlan, error) {
	if strings.TrimSpace(symbol) == "" {
		return domain.ExecutionPlan{}, fmt.Errorf("planner: symbol must not be empty")
	}
	if size <= 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("planner: size must be > 0, got %v", size)
	}

	plan := p.buildPlan(symbol, size, urgency)

	if p.store != nil {
		if err := p.store.Insert(ctx, plan); err != nil {
			p.logger.Warn("persist plan failed",
				slog.String("plan_id", plan.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.bus != nil {
		if payload, err := json.Marshal(plan); err == nil {
			if err := p.bus.Publish(ctx, "ch:plan", payload); err != nil {
				p.logger.Debug("publish plan failed", slog.String("error", err.Error()))
			}
		}
	}

	p.logger.Info("execution plan created",
		slog.String("plan_id", plan.ID),
		slog.String("symbol", symbol),
		slog.String("style", string(plan.Style)),
		slog.Float64("cost_bps", plan.EstimatedCostBps),
		slog.Bool("fallback", plan.Fallback),
	)
	return plan, nil
}

// buildPlan is the pure planning computation. A panic anywhere inside is
// converted into the fallback plan.
func (p *Planner) buildPlan(symbol string, size float64, urgency domain.Urgency) (plan domain.ExecutionPlan) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("planning panic, returning fallback",
				slog.String("symbol", symbol),
				slog.Any("panic", r),
			)
			plan = p.fallbackPlan(symbol, size)
		}
	}()

	snap := p.micro.Snapshot(symbol)
	forecast := p.vol.Forecast(symbol, p.cfg.DefaultHorizonMinutes)
	forecastVol := (forecast.SigmaHAR + forecast.SigmaGARCH) / 2

	depthScore, participation := p.liquidity(symbol, size)
	liquidityScore := 0.5*depthScore + 0.5*(1-clamp(snap.SpreadBps/50, 0, 1))

	if badNumber(snap.SpreadBps) || badNumber(snap.MicroVol) || badNumber(forecastVol) {
		return p.fallbackPlan(symbol, size)
	}

	style, reasons := p.selectStyle(snap, urgency, depthScore, liquidityScore, participation)
	horizon, slices := p.schedule(style, urgency, snap.MicroVol, liquidityScore)

	costBps, slipBps := p.cfg.Cost.estimate(style, size, snap.SpreadBps, snap.MicroVol, forecastVol, horizon)
	if badNumber(costBps) || badNumber(slipBps) {
		return p.fallbackPlan(symbol, size)
	}

	confidence := math.Min(snap.Confidence, 0.95)
	if forecast.Defaulted {
		confidence -= 0.15
	}
	if snap.SpreadBps > 100 {
		confidence -= 0.2
		reasons = append(reasons, "very wide spread")
	}
	if snap.CancelRate > 0.8 {
		confidence -= 0.2
		reasons = append(reasons, "very high cancel rate")
	}
	if confidence < 0.05 {
		confidence = 0.05
	}

	var chosenVenue string
	if p.venues != nil {
		if choice, err := p.venues.ChooseVenue(symbol, size, urgency); err == nil {
			chosenVenue = choice.Venue
		} else {
			reasons = append(reasons, "no venue available")
			confidence = math.Min(confidence, 0.3)
		}
	}

	return domain.ExecutionPlan{
		ID:                 uuid.Must(uuid.NewRandom()).String(),
		Symbol:             symbol,
		TotalSize:          size,
		Urgency:            urgency,
		Style:              style,
		SliceCount:         slices,
		TimeHorizonMinutes: horizon,
		EstimatedCostBps:   costBps,
		EstimatedSlipBps:   slipBps,
		ChosenVenue:        chosenVenue,
		Rationale:          strings.Join(reasons, ", "),
		Confidence:         confidence,
		CreatedAt:          time.Now(),
	}
}

// selectStyle walks the deterministic decision tree in priority order.
func (p *Planner) selectStyle(snap domain.MicrostructureSnapshot, urgency domain.Urgency, depthScore, liquidityScore, participation float64) (domain.ExecutionStyle, []string) {
	switch {
	case urgency == domain.UrgencyHigh:
		return domain.StyleImmediate, []string{"high urgency"}
	case snap.SpreadBps < p.cfg.TightSpreadBps && depthScore > p.cfg.HighDepthScore:
		if urgency == domain.UrgencyMedium {
			return domain.StyleImmediate, []string{"tight spread", "deep book"}
		}
		return domain.StyleTWAP, []string{"tight spread", "deep book", "low urgency"}
	case snap.MicroVol > p.cfg.HighMicroVol:
		return domain.StyleVWAP, []string{"high micro-volatility"}
	case liquidityScore < p.cfg.LowLiquidityScore || participation > p.cfg.MaxParticipation:
		return domain.StylePOV, []string{"thin liquidity for size"}
	default:
		return domain.StyleTWAP, []string{"default conservative"}
	}
}

// baseSchedule is the horizon/slice table keyed by style and urgency.
func baseSchedule(style domain.ExecutionStyle, urgency domain.Urgency) (minutes float64, slices int) {
	type key struct {
		s domain.ExecutionStyle
		u domain.Urgency
	}
	table := map[key][2]float64{
		{domain.StyleTWAP, domain.UrgencyLow}:     {60, 12},
		{domain.StyleTWAP, domain.UrgencyMedium}:  {30, 8},
		{domain.StyleTWAP, domain.UrgencyHigh}:    {15, 4},
		{domain.StyleVWAP, domain.UrgencyLow}:     {90, 18},
		{domain.StyleVWAP, domain.UrgencyMedium}:  {45, 12},
		{domain.StyleVWAP, domain.UrgencyHigh}:    {20, 6},
		{domain.StylePOV, domain.UrgencyLow}:      {120, 24},
		{domain.StylePOV, domain.UrgencyMedium}:   {60, 12},
		{domain.StylePOV, domain.UrgencyHigh}:     {30, 8},
	}
	if style == domain.StyleImmediate {
		return 1, 1
	}
	if v, ok := table[key{style, urgency}]; ok {
		return v[0], int(v[1])
	}
	return 30, 8
}

// schedule scales the base table by volatility and liquidity multipliers:
// worse conditions stretch execution across more time and more slices.
func (p *Planner) schedule(style domain.ExecutionStyle, urgency domain.Urgency, microVol, liquidityScore float64) (float64, int) {
	minutes, slices := baseSchedule(style, urgency)
	if style == domain.StyleImmediate {
		return minutes, slices
	}

	volMult := 1 + microVol*p.cfg.VolStretch
	if volMult > 2 {
		volMult = 2
	}
	liqMult := 2 - clamp(liquidityScore, 0, 1)

	minutes *= volMult * liqMult
	scaled := int(math.Ceil(float64(slices) * volMult * liqMult))
	if scaled < 1 {
		scaled = 1
	}
	return minutes, scaled
}

// liquidity aggregates top-of-book depth for the symbol across venues and
// returns (depthScore, participation ratio).
func (p *Planner) liquidity(symbol string, size float64) (float64, float64) {
	if p.books == nil {
		return 0.5, 0
	}

	var depthUsd, mid float64
	for _, key := range p.books.Keys() {
		if key.Symbol != symbol {
			continue
		}
		book, err := p.books.GetSnapshot(key.Venue, key.Symbol)
		if err != nil {
			continue
		}
		bid, okB := book.BestBid()
		ask, okA := book.BestAsk()
		m := book.MidPrice()
		if okB && okA && m > 0 {
			depthUsd += (bid.Size + ask.Size) / 2 * m
			mid = m
		}
	}
	if depthUsd <= 0 || mid <= 0 {
		return 0.5, 0
	}

	notional := size * mid
	depthScore := clamp(depthUsd/(notional*2), 0, 1)
	return depthScore, notional / depthUsd
}

// fallbackPlan is the documented conservative answer when planning cannot
// complete: TWAP over the default horizon with a mid-range cost estimate
// and floor confidence.
func (p *Planner) fallbackPlan(symbol string, size float64) domain.ExecutionPlan {
	return domain.ExecutionPlan{
		ID:                 uuid.Must(uuid.NewRandom()).String(),
		Symbol:             symbol,
		TotalSize:          size,
		Urgency:            domain.UrgencyMedium,
		Style:              domain.StyleTWAP,
		SliceCount:         8,
		TimeHorizonMinutes: float64(p.cfg.DefaultHorizonMinutes),
		EstimatedCostBps:   15,
		EstimatedSlipBps:   8,
		Rationale:          "fallback: planning inputs unavailable",
		Confidence:         0.1,
		CreatedAt:          time.Now(),
		Fallback:           true,
	}
}

func badNumber(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
