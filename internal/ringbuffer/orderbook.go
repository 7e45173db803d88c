package ringbuffer

import (
	"math"

	"github.com/microstructure-engine/internal/market"
)

// OrderbookBuffer is a Buffer of market.Orderbook snapshots with
// avg_spread and spread_volatility window statistics (spec §3).
type OrderbookBuffer struct {
	buf *Buffer[market.Orderbook]
}

func NewOrderbookBuffer(capacity int) *OrderbookBuffer {
	return &OrderbookBuffer{buf: New[market.Orderbook](capacity)}
}

func (o *OrderbookBuffer) Push(ob market.Orderbook)       { o.buf.Push(ob) }
func (o *OrderbookBuffer) Len() int                        { return o.buf.Len() }
func (o *OrderbookBuffer) GetAll() []market.Orderbook      { return o.buf.GetAll() }
func (o *OrderbookBuffer) Latest() (market.Orderbook, bool) { return o.buf.Latest() }
func (o *OrderbookBuffer) Dispose()                        { o.buf.Dispose() }

func (o *OrderbookBuffer) GetInWindow(nowMs, windowMs int64) []market.Orderbook {
	return o.buf.GetWithinTimeWindow(nowMs, windowMs, func(ob market.Orderbook) int64 { return ob.TimestampMs })
}

// AvgSpread is the mean decimal spread over the window.
func (o *OrderbookBuffer) AvgSpread(nowMs, windowMs int64) (float64, bool) {
	books := o.GetInWindow(nowMs, windowMs)
	spreads := spreadsOf(books)
	if len(spreads) == 0 {
		return 0, false
	}
	return mean(spreads), true
}

// SpreadVolatility is the stddev of decimal spread over the window.
func (o *OrderbookBuffer) SpreadVolatility(nowMs, windowMs int64) (float64, bool) {
	books := o.GetInWindow(nowMs, windowMs)
	spreads := spreadsOf(books)
	if len(spreads) < 2 {
		return 0, false
	}
	return stddev(spreads), true
}

func spreadsOf(books []market.Orderbook) []float64 {
	out := make([]float64, 0, len(books))
	for i := range books {
		if s, ok := books[i].Spread(); ok {
			out = append(out, s)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}
