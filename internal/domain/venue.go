package domain

import "time"

// VenueMetrics is the periodically refreshed health picture for one venue.
type VenueMetrics struct {
	Venue         string
	LatencyMs     float64
	SpreadBps     float64
	TopDepthUsd   float64
	FeeBps        float64
	Reliability   float64 // 0..1
	RateRemaining int
	Degraded      bool
	UpdatedAt     time.Time
}

// VenueScore is one venue's ranked score for a given symbol and order size,
// together with the conditions that drove it.
type VenueScore struct {
	Venue   string
	Score   float64
	Reasons []string
}

// VenueChoice is the routing decision: the top-ranked venue plus a
// confidence derived from the score gap to the runner-up.
type VenueChoice struct {
	Venue      string
	Score      float64
	Confidence float64
}
