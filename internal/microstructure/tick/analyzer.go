// Package tick implements the Tick Analyzer (spec §4.3, component C3):
// streaming RSI/MACD/momentum/VWAP/price-deviation per market. RSI and
// MACD are updated incrementally; momentum and VWAP are read from the
// per-market tick buffer on each tick. Grounded on the teacher's signals.Processor threshold-crossing
// style (internal/signals/processor.go) and its volatility/trend-
// strength streaming helpers (internal/signals/quantitative.go),
// extended with Wilder-smoothed RSI and a no-look-ahead MACD signal
// line per spec §4.3.
package tick

import (
	"time"

	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/microstructure/markettrack"
	"github.com/microstructure-engine/internal/ringbuffer"
	"github.com/microstructure-engine/internal/signalkind"
)

const (
	rsiPeriod      = 14
	emaFastPeriod  = 12
	emaSlowPeriod  = 26
	macdSignalPeriod = 9
	minTicksForIndicators = 50
)

// Config tunes the thresholds used for signal emission. Zero values
// fall back to the package defaults.
type Config struct {
	TickBufferSize      int
	MomentumThreshold   float64 // percent, default 5
	VWAPDeviationPct    float64 // percent, default 2
	MaxAge              time.Duration
	MaxMarkets          int
}

func (c Config) withDefaults() Config {
	if c.TickBufferSize <= 0 {
		c.TickBufferSize = 1000
	}
	if c.MomentumThreshold <= 0 {
		c.MomentumThreshold = 5
	}
	if c.VWAPDeviationPct <= 0 {
		c.VWAPDeviationPct = 2
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.MaxMarkets <= 0 {
		c.MaxMarkets = 500
	}
	return c
}

// Indicators is the computed snapshot of per-market technical state
// (spec §3 "Technical indicators").
type Indicators struct {
	MarketID       string
	RSI            float64
	MACDLine       float64
	MACDSignal     float64
	MACDHistogram  float64
	Momentum       float64
	VWAP           float64
	PriceDeviation float64
	TickCount      int
	Ready          bool // true once >= 50 ticks received
}

type marketState struct {
	buf *ringbuffer.TickBuffer

	tickCount int

	// Wilder RSI incremental state.
	avgGain float64
	avgLoss float64
	rsiSeeded bool
	prevPrice float64
	havePrev  bool

	// EMA streaming state.
	emaFast     float64
	emaSlow     float64
	haveEMAFast bool
	haveEMASlow bool

	// MACD signal-line incremental EMA, seeded with SMA of first 9 samples.
	macdSamples    []float64
	macdSignal     float64
	macdSignalSeeded bool
}

func newMarketState(bufSize int) *marketState {
	return &marketState{buf: ringbuffer.NewTickBuffer(bufSize)}
}

func disposeMarketState(s *marketState) {
	s.buf.Dispose()
}

// Analyzer maintains per-market tick buffers and streaming estimator
// state, emitting momentum-breakout-family signals on threshold crossings.
type Analyzer struct {
	cfg     Config
	tracker *markettrack.Tracker[*marketState]
}

func NewAnalyzer(cfg Config) *Analyzer {
	cfg = cfg.withDefaults()
	return &Analyzer{
		cfg:     cfg,
		tracker: markettrack.New[*marketState](cfg.MaxAge, cfg.MaxMarkets, disposeMarketState),
	}
}

// CleanupStaleMarkets evicts markets untouched since max_age ago.
func (a *Analyzer) CleanupStaleMarkets(now time.Time) int {
	return a.tracker.CleanupStale(now)
}

// TrackedMarkets returns the number of markets currently tracked.
func (a *Analyzer) TrackedMarkets() int { return a.tracker.Len() }

// Process ingests one tick, updates streaming state, and returns the
// latest indicator snapshot plus any signals crossed by this tick.
func (a *Analyzer) Process(t market.Tick) (Indicators, []signalkind.Signal) {
	now := market.Timestamp(t.TimestampMs)
	st := a.tracker.GetOrCreate(t.MarketID, now, func() *marketState {
		return newMarketState(a.cfg.TickBufferSize)
	})

	st.buf.Push(t)
	st.tickCount++
	a.updateRSI(st, t.Price)
	a.updateMACD(st, t.Price)

	ind := a.snapshot(t.MarketID, st)
	if !ind.Ready {
		return ind, nil
	}

	return ind, a.detectSignals(t, ind)
}

func (a *Analyzer) snapshot(marketID string, st *marketState) Indicators {
	ind := Indicators{MarketID: marketID, TickCount: st.tickCount}
	ind.Ready = st.tickCount >= minTicksForIndicators

	if st.rsiSeeded {
		ind.RSI = wilderRSI(st.avgGain, st.avgLoss)
	}
	ind.MACDLine = st.emaFast - st.emaSlow
	ind.MACDSignal = st.macdSignal
	ind.MACDHistogram = ind.MACDLine - ind.MACDSignal

	if mom, ok := st.buf.Momentum(10); ok {
		ind.Momentum = mom
	}
	var nowMs int64
	if latest, ok := st.buf.Latest(); ok {
		nowMs = latest.TimestampMs
	}
	if vwap, ok := st.buf.VWAP(nowMs, int64((30 * time.Minute).Milliseconds())); ok {
		ind.VWAP = vwap
		if latest, ok := st.buf.Latest(); ok && vwap != 0 {
			ind.PriceDeviation = (latest.Price - vwap) / vwap * 100
		}
	}
	return ind
}

// updateRSI implements Wilder smoothing: seed avg gain/loss with an SMA
// of the first 14 deltas once >= 15 ticks are seen, then apply
// avg = avg + (1/period)*(current-avg) thereafter.
func (a *Analyzer) updateRSI(st *marketState, price float64) {
	if !st.havePrev {
		st.prevPrice = price
		st.havePrev = true
		return
	}
	delta := price - st.prevPrice
	st.prevPrice = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if !st.rsiSeeded {
		// Seed phase: accumulate into running sums until we have 14
		// deltas (tickCount-1 deltas so far), then seed with the SMA.
		st.avgGain += gain
		st.avgLoss += loss
		if st.tickCount-1 >= rsiPeriod {
			st.avgGain /= rsiPeriod
			st.avgLoss /= rsiPeriod
			st.rsiSeeded = true
		}
		return
	}

	st.avgGain = st.avgGain + (gain-st.avgGain)/rsiPeriod
	st.avgLoss = st.avgLoss + (loss-st.avgLoss)/rsiPeriod
}

func wilderRSI(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// updateMACD maintains EMA12/EMA26 (seeded with the first value, as is
// conventional for streaming EMA) and an incrementally-computed EMA9 of
// the MACD line, seeded with the SMA of the first 9 MACD samples so the
// signal at time t never consumes MACD[t+k].
func (a *Analyzer) updateMACD(st *marketState, price float64) {
	st.emaFast = ema(st.emaFast, price, emaFastPeriod, st.haveEMAFast)
	st.haveEMAFast = true
	st.emaSlow = ema(st.emaSlow, price, emaSlowPeriod, st.haveEMASlow)
	st.haveEMASlow = true

	macd := st.emaFast - st.emaSlow

	if !st.macdSignalSeeded {
		st.macdSamples = append(st.macdSamples, macd)
		if len(st.macdSamples) >= macdSignalPeriod {
			var sum float64
			for _, v := range st.macdSamples {
				sum += v
			}
			st.macdSignal = sum / float64(len(st.macdSamples))
			st.macdSignalSeeded = true
			st.macdSamples = nil
		}
		return
	}

	alpha := 2.0 / float64(macdSignalPeriod+1)
	st.macdSignal = st.macdSignal + alpha*(macd-st.macdSignal)
}

func ema(prev, value float64, period int, have bool) float64 {
	if !have {
		return value
	}
	alpha := 2.0 / float64(period+1)
	return prev + alpha*(value-prev)
}

func (a *Analyzer) detectSignals(t market.Tick, ind Indicators) []signalkind.Signal {
	var out []signalkind.Signal

	if ind.RSI < 30 && ind.Momentum > 2 {
		out = append(out, a.emit(t, "rsi_oversold_bounce", ind.Momentum, 2, map[string]interface{}{
			"rsi": ind.RSI, "momentum": ind.Momentum,
		}))
	}
	if ind.RSI > 70 && ind.Momentum < -2 {
		out = append(out, a.emit(t, "rsi_overbought_drop", -ind.Momentum, 2, map[string]interface{}{
			"rsi": ind.RSI, "momentum": ind.Momentum,
		}))
	}
	if ind.MACDLine > ind.MACDSignal && absf(ind.MACDHistogram) > 0.001 {
		out = append(out, a.emit(t, "macd_bullish_crossover", absf(ind.MACDHistogram), 0.001, map[string]interface{}{
			"macd_line": ind.MACDLine, "macd_signal": ind.MACDSignal, "histogram": ind.MACDHistogram,
		}))
	}
	if absf(ind.Momentum) > a.cfg.MomentumThreshold {
		out = append(out, a.emit(t, "momentum_breakout", absf(ind.Momentum), a.cfg.MomentumThreshold, map[string]interface{}{
			"momentum": ind.Momentum,
		}))
	}
	if absf(ind.PriceDeviation) > a.cfg.VWAPDeviationPct {
		out = append(out, a.emit(t, "vwap_deviation", absf(ind.PriceDeviation), a.cfg.VWAPDeviationPct, map[string]interface{}{
			"price_deviation": ind.PriceDeviation, "vwap": ind.VWAP,
		}))
	}

	return out
}

func (a *Analyzer) emit(t market.Tick, reason string, magnitude, threshold float64, metadata map[string]interface{}) signalkind.Signal {
	ratio := magnitude / threshold
	metadata["reason"] = reason
	confidence := ratio
	if confidence > 0.95 {
		confidence = 0.95
	}
	sig := signalkind.New(t.MarketID, signalkind.KindMomentumBreakout, confidence, signalkind.SeverityFromMagnitude(ratio), metadata)
	sig.TimestampMs = t.TimestampMs
	return sig
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
