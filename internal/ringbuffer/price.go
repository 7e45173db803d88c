package ringbuffer

import (
	"math"

	"github.com/microstructure-engine/internal/market"
)

// PriceBuffer is a Buffer of down-sampled market.PricePoint with
// avg_price, volatility and cross-buffer pearson_correlation (spec §3).
type PriceBuffer struct {
	buf                *Buffer[market.PricePoint]
	minUpdateIntervalMs int64
}

func NewPriceBuffer(capacity int, minUpdateIntervalMs int64) *PriceBuffer {
	return &PriceBuffer{
		buf:                 New[market.PricePoint](capacity),
		minUpdateIntervalMs: minUpdateIntervalMs,
	}
}

// Push adds a point only if it is spaced at least minUpdateIntervalMs
// after the last stored point (down-sampling, spec §3 "Price point").
func (p *PriceBuffer) Push(point market.PricePoint) bool {
	if last, ok := p.buf.Latest(); ok {
		if point.TimestampMs-last.TimestampMs < p.minUpdateIntervalMs {
			return false
		}
	}
	p.buf.Push(point)
	return true
}

func (p *PriceBuffer) Len() int                          { return p.buf.Len() }
func (p *PriceBuffer) GetAll() []market.PricePoint       { return p.buf.GetAll() }
func (p *PriceBuffer) Latest() (market.PricePoint, bool) { return p.buf.Latest() }
func (p *PriceBuffer) Dispose()                          { p.buf.Dispose() }

func (p *PriceBuffer) GetInWindow(nowMs, windowMs int64) []market.PricePoint {
	return p.buf.GetWithinTimeWindow(nowMs, windowMs, func(pt market.PricePoint) int64 { return pt.TimestampMs })
}

func (p *PriceBuffer) AvgPrice(nowMs, windowMs int64) (float64, bool) {
	points := p.GetInWindow(nowMs, windowMs)
	if len(points) == 0 {
		return 0, false
	}
	prices := make([]float64, len(points))
	for i, pt := range points {
		prices[i] = pt.Price
	}
	return mean(prices), true
}

// Volatility is the stddev of price over the window.
func (p *PriceBuffer) Volatility(nowMs, windowMs int64) (float64, bool) {
	points := p.GetInWindow(nowMs, windowMs)
	if len(points) < 2 {
		return 0, false
	}
	prices := make([]float64, len(points))
	for i, pt := range points {
		prices[i] = pt.Price
	}
	return stddev(prices), true
}

// PearsonCorrelation aligns each of this buffer's points in the window
// to the closest-earlier point in other, then computes Pearson's r over
// the aligned price pairs.
func (p *PriceBuffer) PearsonCorrelation(other *PriceBuffer, nowMs, windowMs int64) (float64, bool) {
	a := p.GetInWindow(nowMs, windowMs)
	b := other.buf.GetAll()
	if len(a) < 2 || len(b) == 0 {
		return 0, false
	}

	var xs, ys []float64
	for _, pt := range a {
		// Closest-earlier point in b.
		var matched *market.PricePoint
		for i := range b {
			if b[i].TimestampMs <= pt.TimestampMs {
				matched = &b[i]
			} else {
				break
			}
		}
		if matched == nil {
			continue
		}
		xs = append(xs, pt.Price)
		ys = append(ys, matched.Price)
	}

	if len(xs) < 2 {
		return 0, false
	}

	mx, my := mean(xs), mean(ys)
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}
