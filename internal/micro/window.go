package micro

import (
	"math"
	"time"
)

// volSample is one timestamped volume observation in a rolling time window.
type volSample struct {
	at  time.Time
	buy float64
	sell float64
}

// tradeWindow keeps buy/sell volume over a fixed trailing duration.
type tradeWindow struct {
	span    time.Duration
	samples []volSample
}

func newTradeWindow(span time.Duration) *tradeWindow {
	return &tradeWindow{span: span}
}

func (w *tradeWindow) add(at time.Time, buy, sell float64) {
	w.samples = append(w.samples, volSample{at: at, buy: buy, sell: sell})
	w.prune(at)
}

func (w *tradeWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// totals returns accumulated buy and sell volume inside the window.
func (w *tradeWindow) totals(now time.Time) (buy, sell float64) {
	w.prune(now)
	for _, s := range w.samples {
		buy += s.buy
		sell += s.sell
	}
	return buy, sell
}

// ring is a fixed-capacity circular buffer of float64 observations.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// stdev computes the sample standard deviation of the buffered values.
// It returns 0 with fewer than two observations.
func (r *ring) stdev() float64 {
	n := r.len()
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	mean := sum / float64(n)
	var ss float64
	for i := 0; i < n; i++ {
		d := r.buf[i] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// countWindow counts timestamped events over a trailing duration. Used for
// the cancel-rate signal: removals vs total level mutations.
type countWindow struct {
	span   time.Duration
	hits   []time.Time
	misses []time.Time
}

func newCountWindow(span time.Duration) *countWindow {
	return &countWindow{span: span}
}

func (c *countWindow) record(at time.Time, hit bool) {
	if hit {
		c.hits = append(c.hits, at)
	} else {
		c.misses = append(c.misses, at)
	}
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
	}
	return ts
}

// ratio returns hits/(hits+misses) inside the window, or 0 when empty.
func (c *countWindow) ratio(now time.Time) float64 {
	cutoff := now.Add(-c.span)
	c.hits = pruneTimes(c.hits, cutoff)
	c.misses = pruneTimes(c.misses, cutoff)
	total := len(c.hits) + len(c.misses)
	if total == 0 {
		return 0
	}
	return float64(len(c.hits)) / float64(total)
}
