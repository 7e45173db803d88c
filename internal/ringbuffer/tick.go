package ringbuffer

import "github.com/microstructure-engine/internal/market"

// TickBuffer is a Buffer of market.Tick with trade-size-weighted VWAP
// and momentum helpers (spec §3 "Tick buffer").
type TickBuffer struct {
	buf *Buffer[market.Tick]
}

func NewTickBuffer(capacity int) *TickBuffer {
	return &TickBuffer{buf: New[market.Tick](capacity)}
}

func (t *TickBuffer) Push(tick market.Tick) { t.buf.Push(tick) }
func (t *TickBuffer) Len() int               { return t.buf.Len() }
func (t *TickBuffer) GetAll() []market.Tick  { return t.buf.GetAll() }
func (t *TickBuffer) Latest() (market.Tick, bool) { return t.buf.Latest() }
func (t *TickBuffer) Dispose()               { t.buf.Dispose() }

func (t *TickBuffer) GetInWindow(nowMs, windowMs int64) []market.Tick {
	return t.buf.GetWithinTimeWindow(nowMs, windowMs, func(tk market.Tick) int64 { return tk.TimestampMs })
}

// VWAP = sum(price*size)/sum(size) over the window, weighted by trade
// size (not cumulative volume). False when the window has no ticks.
func (t *TickBuffer) VWAP(nowMs, windowMs int64) (float64, bool) {
	ticks := t.GetInWindow(nowMs, windowMs)
	if len(ticks) == 0 {
		return 0, false
	}
	var num, den float64
	for _, tk := range ticks {
		num += tk.Price * tk.Size
		den += tk.Size
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// Momentum(n) = (p_i - p_{i-n}) / p_{i-n} * 100 over the last n+1 ticks.
func (t *TickBuffer) Momentum(n int) (float64, bool) {
	all := t.buf.GetAll()
	if n <= 0 || len(all) <= n {
		return 0, false
	}
	current := all[len(all)-1].Price
	prior := all[len(all)-1-n].Price
	if prior == 0 {
		return 0, false
	}
	return (current - prior) / prior * 100, true
}
