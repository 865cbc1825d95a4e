package vol

// garchParams is one symbol's GARCH(1,1) parameter set plus the running
// conditional variance. Stationarity (alpha+beta < 1) is enforced by
// rescaling whenever estimation pushes the persistence to or past 1.
type garchParams struct {
	omega  float64
	alpha  float64
	beta   float64
	sigma2 float64
}

const (
	// maxPersistence is the ceiling alpha+beta is rescaled down to.
	maxPersistence = 0.995
	// minOmega keeps the recursion strictly positive.
	minOmega = 1e-12
)

// defaultGarch seeds a new symbol before any estimation has run. The values
// correspond to a moderately persistent process around the given variance.
func defaultGarch(variance float64) garchParams {
	if variance <= 0 {
		variance = 1e-8
	}
	return garchParams{
		omega:  variance * 0.05,
		alpha:  0.10,
		beta:   0.85,
		sigma2: variance,
	}
}

// step advances the conditional variance by one observation:
// sigma2_t = omega + alpha*r^2 + beta*sigma2_{t-1}.
func (g *garchParams) step(squaredReturn float64) {
	g.sigma2 = g.omega + g.alpha*squaredReturn + g.beta*g.sigma2
	if g.sigma2 < minOmega {
		g.sigma2 = minOmega
	}
}

// clampPersistence rescales alpha and beta proportionally when their sum
// reaches or exceeds 1, preserving their ratio.
func (g *garchParams) clampPersistence() {
	sum := g.alpha + g.beta
	if sum < maxPersistence || sum == 0 {
		return
	}
	scale := maxPersistence / sum
	g.alpha *= scale
	g.beta *= scale
}

// reestimate refits the parameters with a simplified moment method: the
// lag-1 autocorrelation of squared returns proxies the ARCH term, total
// persistence is held near its prior, and omega is backed out from the
// unconditional variance. This is deliberately cruder than MLE.
func (g *garchParams) reestimate(squared []float64) {
	n := len(squared)
	if n < 2 {
		return
	}

	var mean float64
	for _, s := range squared {
		mean += s
	}
	mean /= float64(n)
	if mean <= 0 {
		return
	}

	var num, den float64
	for i := 1; i < n; i++ {
		num += (squared[i] - mean) * (squared[i-1] - mean)
	}
	for _, s := range squared {
		d := s - mean
		den += d * d
	}

	rho := 0.0
	if den > 0 {
		rho = num / den
	}

	// Map the autocorrelation into a shock weight, bounded away from the
	// degenerate corners.
	alpha := rho
	if alpha < 0.01 {
		alpha = 0.01
	}
	if alpha > 0.30 {
		alpha = 0.30
	}

	persistence := g.alpha + g.beta
	if persistence <= alpha || persistence >= 1 {
		persistence = 0.95
	}
	g.alpha = alpha
	g.beta = persistence - alpha
	g.clampPersistence()

	g.omega = mean * (1 - g.alpha - g.beta)
	if g.omega < minOmega {
		g.omega = minOmega
	}
}
