// Package venue maintains per-venue health metrics and ranks venues for a
// given symbol and order size. Scoring is a weighted sum of normalized
// sub-scores; degraded venues are decayed multiplicatively rather than
// excluded, so a degraded venue still wins when every alternative is worse.
package venue

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// Weights are the relative importance of each sub-score. They are
// renormalized after the urgency shift, so only ratios matter.
type Weights struct {
	Spread      float64
	Depth       float64
	Fee         float64
	Latency     float64
	Reliability float64
}

// DefaultWeights is the balanced production weighting.
func DefaultWeights() Weights {
	return Weights{Spread: 0.25, Depth: 0.25, Fee: 0.15, Latency: 0.20, Reliability: 0.15}
}

// Config tunes scoring behaviour.
type Config struct {
	Weights Weights
	// RateFloor is the remaining-quota level below which the rate penalty
	// kicks in.
	RateFloor int
	// RatePenalty is subtracted from the score when quota is below the floor.
	RatePenalty float64
	// DepthComfort is the multiple of the order notional the top of book
	// must hold for a full depth score.
	DepthComfort float64
	// DegradeFactor is the multiplicative reliability decay per degrade
	// level (latency is inflated by its inverse).
	DegradeFactor float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		RateFloor:     10,
		RatePenalty:   0.15,
		DepthComfort:  2.0,
		DegradeFactor: 0.6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	z := Weights{}
	if c.Weights == z {
		c.Weights = d.Weights
	}
	if c.RateFloor <= 0 {
		c.RateFloor = d.RateFloor
	}
	if c.RatePenalty <= 0 {
		c.RatePenalty = d.RatePenalty
	}
	if c.DepthComfort <= 0 {
		c.DepthComfort = d.DepthComfort
	}
	if c.DegradeFactor <= 0 || c.DegradeFactor >= 1 {
		c.DegradeFactor = d.DegradeFactor
	}
	return c
}

// MidPriceFn converts an order size in base units into notional for depth
// comparison. A nil function makes the scorer treat size as notional.
type MidPriceFn func(symbol string) float64

// venueState is the stored metrics plus the current degrade level.
type venueState struct {
	metrics      domain.VenueMetrics
	degradeLevel int
}

// Scorer ranks venues. Safe for concurrent use.
type Scorer struct {
	cfg      Config
	midPrice MidPriceFn
	logger   *slog.Logger

	mu     sync.RWMutex
	venues map[string]*venueState
}

// NewScorer creates a Scorer.
func NewScorer(cfg Config, midPrice MidPriceFn, logger *slog.Logger) *Scorer {
	return &Scorer{
		cfg:      cfg.withDefaults(),
		midPrice: midPrice,
		logger:   logger.With(slog.String("component", "venue_scorer")),
		venues:   make(map[string]*venueState),
	}
}

// UpsertMetrics replaces the stored metrics for a venue. The degrade level
// survives metric refreshes.
func (s *Scorer) UpsertMetrics(m domain.VenueMetrics) {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.venues[m.Venue]
	if !ok {
		st = &venueState{}
		s.venues[m.Venue] = st
	}
	m.Degraded = st.degradeLevel > 0
	st.metrics = m
}

// Metrics returns the stored metrics for one venue.
func (s *Scorer) Metrics(venue string) (domain.VenueMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.venues[venue]
	if !ok {
		return domain.VenueMetrics{}, domain.ErrNotFound
	}
	return s.effectiveLocked(st), nil
}

// All returns the effective metrics of every venue.
func (s *Scorer) All() []domain.VenueMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VenueMetrics, 0, len(s.venues))
	for _, st := range s.venues {
		out = append(out, s.effectiveLocked(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// MarkDegraded decays a venue's reliability multiplicatively and inflates
// its latency. Repeated calls stack.
func (s *Scorer) MarkDegraded(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.venues[venue]
	if !ok {
		st = &venueState{metrics: domain.VenueMetrics{Venue: venue, Reliability: 1}}
		s.venues[venue] = st
	}
	st.degradeLevel++
	st.metrics.Degraded = true
	s.logger.Warn("venue degraded",
		slog.String("venue", venue),
		slog.Int("level", st.degradeLevel),
	)
}

// MarkRecovered removes one degrade level, restoring the decayed figures.
func (s *Scorer) MarkRecovered(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.venues[venue]
	if !ok || st.degradeLevel == 0 {
		return
	}
	st.degradeLevel--
	st.metrics.Degraded = st.degradeLevel > 0
	s.logger.Info("venue recovered",
		slog.String("venue", venue),
		slog.Int("level", st.degradeLevel),
	)
}

// effectiveLocked applies the degrade decay to the stored metrics.
func (s *Scorer) effectiveLocked(st *venueState) domain.VenueMetrics {
	m := st.metrics
	if st.degradeLevel > 0 {
		decay := math.Pow(s.cfg.DegradeFactor, float64(st.degradeLevel))
		m.Reliability *= decay
		if decay > 0 {
			m.LatencyMs /= decay
		}
		m.Degraded = true
	}
	return m
}

// Score ranks every venue for the given symbol and size, best first.
func (s *Scorer) Score(symbol string, size float64, urgency domain.Urgency) []domain.VenueScore {
	notional := size
	if s.midPrice != nil {
		if mid := s.midPrice(symbol); mid > 0 {
			notional = size * mid
		}
	}
	w := shiftWeights(s.cfg.Weights, urgency)

	s.mu.RLock()
	states := make([]*venueState, 0, len(s.venues))
	for _, st := range s.venues {
		states = append(states, st)
	}
	s.mu.RUnlock()

	scores := make([]domain.VenueScore, 0, len(states))
	for _, st := range states {
		s.mu.RLock()
		m := s.effectiveLocked(st)
		s.mu.RUnlock()
		scores = append(scores, s.scoreOne(m, notional, w))
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores
}

// ChooseVenue returns the top-ranked venue with a confidence derived from
// the score gap to the runner-up.
func (s *Scorer) ChooseVenue(symbol string, size float64, urgency domain.Urgency) (domain.VenueChoice, error) {
	scores := s.Score(symbol, size, urgency)
	if len(scores) == 0 {
		return domain.VenueChoice{}, domain.ErrNoVenues
	}

	confidence := 0.6
	if len(scores) > 1 {
		gap := scores[0].Score - scores[1].Score
		confidence = clamp(0.5+gap*2, 0.5, 0.99)
	}
	return domain.VenueChoice{
		Venue:      scores[0].Venue,
		Score:      scores[0].Score,
		Confidence: confidence,
	}, nil
}

// scoreOne computes the weighted sum of normalized sub-scores for a venue.
func (s *Scorer) scoreOne(m domain.VenueMetrics, notional float64, w Weights) domain.VenueScore {
	spreadScore := 1 / (1 + m.SpreadBps/10)
	latencyScore := 1 / (1 + m.LatencyMs/50)
	feeScore := 1 - clamp(m.FeeBps/20, 0, 1)
	reliabilityScore := clamp(m.Reliability, 0, 1)

	depthScore := 1.0
	if notional > 0 {
		depthScore = clamp(m.TopDepthUsd/(notional*s.cfg.DepthComfort), 0, 1)
	}

	score := w.Spread*spreadScore +
		w.Depth*depthScore +
		w.Fee*feeScore +
		w.Latency*latencyScore +
		w.Reliability*reliabilityScore

	var reasons []string
	if m.SpreadBps <= 5 {
		reasons = append(reasons, "tight spread")
	} else if m.SpreadBps >= 20 {
		reasons = append(reasons, "wide spread")
	}
	if depthScore >= 0.9 {
		reasons = append(reasons, "deep book")
	} else if depthScore <= 0.3 {
		reasons = append(reasons, "thin book for size")
	}
	if m.FeeBps >= 10 {
		reasons = append(reasons, "high fee")
	}
	if m.LatencyMs >= 200 {
		reasons = append(reasons, "high latency")
	}
	if m.Degraded {
		reasons = append(reasons, "degraded")
	}
	if m.RateRemaining > 0 && m.RateRemaining < s.cfg.RateFloor {
		score -= s.cfg.RatePenalty
		reasons = append(reasons, fmt.Sprintf("rate budget low (%d left)", m.RateRemaining))
	}
	if score < 0 {
		score = 0
	}

	return domain.VenueScore{Venue: m.Venue, Score: score, Reasons: reasons}
}

// shiftWeights biases the weighting by urgency: urgent flow cares about
// latency and reliability, patient flow about fee and spread. The result is
// renormalized to sum to 1.
func shiftWeights(w Weights, urgency domain.Urgency) Weights {
	switch urgency {
	case domain.UrgencyHigh:
		w.Latency *= 1.5
		w.Reliability *= 1.5
		w.Fee *= 0.75
		w.Spread *= 0.75
	case domain.UrgencyLow:
		w.Fee *= 1.5
		w.Spread *= 1.5
		w.Latency *= 0.75
		w.Reliability *= 0.75
	}
	sum := w.Spread + w.Depth + w.Fee + w.Latency + w.Reliability
	if sum > 0 {
		w.Spread /= sum
		w.Depth /= sum
		w.Fee /= sum
		w.Latency /= sum
		w.Reliability /= sum
	}
	return w
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
