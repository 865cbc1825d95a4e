package domain

import "time"

// ExecutionStyle is how a parent order is worked.
type ExecutionStyle string

const (
	StyleImmediate ExecutionStyle = "IMMEDIATE"
	StyleTWAP      ExecutionStyle = "TWAP"
	StyleVWAP      ExecutionStyle = "VWAP"
	StylePOV       ExecutionStyle = "POV"
)

// Urgency expresses how aggressively the caller wants the order done.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency maps a free-form string onto an Urgency, defaulting to medium.
func ParseUrgency(s string) Urgency {
	switch Urgency(s) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return Urgency(s)
	default:
		return UrgencyMedium
	}
}

// ExecutionPlan is the immutable output of a planning request. The consuming
// OMS executes the slices and reports fills back out of band.
type ExecutionPlan struct {
	ID                  string
	Symbol              string
	TotalSize           float64
	Urgency             Urgency
	Style               ExecutionStyle
	SliceCount          int
	TimeHorizonMinutes  float64
	EstimatedCostBps    float64
	EstimatedSlipBps    float64
	ChosenVenue         string
	Rationale           string
	Confidence          float64
	CreatedAt           time.Time
	// Fallback is set when planning failed internally and the documented
	// conservative plan was substituted.
	Fallback bool
}
