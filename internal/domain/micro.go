package domain

import "time"

// MicrostructureSnapshot bundles the current short-horizon signals for one
// symbol. OBI and TI are normalized to [-1, 1]; SpreadBps and MicroVol are
// never negative. Confidence is lowered when any input is missing or stale.
type MicrostructureSnapshot struct {
	Symbol     string
	Timestamp  time.Time
	OBI        float64
	TI         float64
	SpreadBps  float64
	MicroVol   float64
	CancelRate float64
	Confidence float64
	// Fallback is set when the snapshot was synthesized from defaults
	// because no book or trade stream existed for the symbol.
	Fallback bool
}
