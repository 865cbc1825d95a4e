package domain

import "time"

// ReturnObservation is one log mid-price return derived from consecutive
// mid updates. SquaredReturn is cached because both HAR and GARCH consume it.
type ReturnObservation struct {
	Timestamp     time.Time
	LogReturn     float64
	SquaredReturn float64
}

// VolatilityForecast is an ephemeral on-demand forecast for one symbol and
// horizon. Volatilities are expressed per-horizon (not annualized).
type VolatilityForecast struct {
	Symbol         string
	HorizonMinutes int
	SigmaHAR       float64
	SigmaGARCH     float64
	Timestamp      time.Time
	// Defaulted is set when the return history was too short and the fixed
	// cold-start volatility was returned instead.
	Defaulted bool
}
