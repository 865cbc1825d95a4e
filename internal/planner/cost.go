package planner

import (
	"math"

	"github.com/venuelabs/microroute/internal/domain"
)

// CostModel holds the parameters of the execution cost estimate:
// half-spread crossing cost, power-law market impact, and a volatility
// risk term, discounted per style for time-spread strategies.
type CostModel struct {
	// ImpactK and ImpactAlpha parameterize impact = K * size^Alpha (bps).
	ImpactK     float64
	ImpactAlpha float64
	// VolCostScale converts microVol*forecastVol into bps.
	VolCostScale float64
	// ReferenceHorizonMinutes anchors the vol term's time scaling.
	ReferenceHorizonMinutes float64
}

// DefaultCostModel returns the production parameters.
func DefaultCostModel() CostModel {
	return CostModel{
		ImpactK:                 5.0,
		ImpactAlpha:             0.6,
		VolCostScale:            40.0,
		ReferenceHorizonMinutes: 30,
	}
}

// styleMultiplier discounts cost for strategies that spread execution over
// time and thereby reduce instantaneous impact.
func styleMultiplier(style domain.ExecutionStyle) float64 {
	switch style {
	case domain.StyleTWAP:
		return 0.85
	case domain.StyleVWAP:
		return 0.70
	case domain.StylePOV:
		return 0.65
	default:
		return 1.0
	}
}

// estimate returns (costBps, slippageBps) for the given conditions.
func (cm CostModel) estimate(style domain.ExecutionStyle, size, spreadBps, microVol, forecastVol, horizonMinutes float64) (float64, float64) {
	spreadCost := spreadBps / 2
	impactCost := cm.ImpactK * math.Pow(size, cm.ImpactAlpha)

	timeScale := 1.0
	if cm.ReferenceHorizonMinutes > 0 && horizonMinutes > 0 {
		timeScale = math.Sqrt(horizonMinutes / cm.ReferenceHorizonMinutes)
	}
	volCost := microVol * forecastVol * cm.VolCostScale * timeScale

	mult := styleMultiplier(style)
	cost := (spreadCost + impactCost + volCost) * mult
	slippage := (spreadCost + impactCost) * mult
	return cost, slippage
}
