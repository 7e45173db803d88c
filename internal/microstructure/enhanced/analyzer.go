// Package enhanced implements the Enhanced Microstructure Analyzer
// (spec §4.5, component C5): rolling and time-of-day z-score baselines,
// micro-price slope/drift, and liquidity-vacuum / stealth-accumulation /
// micro-price-drift / off-hours-anomaly detection.
//
// Grounded on the teacher's TimeSeriesStore rolling-statistics idiom
// (internal/state/timeseries.go GetVolatility) extended with the
// hour-bucketed time-of-day baseline spec §4.5 calls for, and
// cross-checked against the pack's microstructure_anomaly.go
// (FOTONPHOTOS-PULSEINTEL, other_examples) for the severity-tier
// vocabulary this package maps onto signalkind.Severity.
package enhanced

import (
	"math"
	"time"

	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/microstructure/markettrack"
	"github.com/microstructure-engine/internal/signalkind"
)

const (
	rollingWindowSize  = 100
	microPriceHistory  = 20
	driftEMAAlpha      = 0.3

	// Open-question tunables (spec §9a): these severity/threshold
	// constants are source-tuned with no documented derivation. They
	// are flagged as configurable rather than guessed at a "derived"
	// value.
	depthDropCriticalPct = -60.0
	microDriftHighAbs    = 1e-3
)

type Config struct {
	DepthDropThresholdPct float64 // T_drop, default 20
	SpreadStableThresholdPct float64 // T_stable, default 10
	ImbalanceZThreshold   float64 // default 3
	OffHoursZThreshold    float64 // default 3
	MaxAge                time.Duration
	MaxMarkets            int
}

func (c Config) withDefaults() Config {
	if c.DepthDropThresholdPct <= 0 {
		c.DepthDropThresholdPct = 20
	}
	if c.SpreadStableThresholdPct <= 0 {
		c.SpreadStableThresholdPct = 10
	}
	if c.ImbalanceZThreshold <= 0 {
		c.ImbalanceZThreshold = 3
	}
	if c.OffHoursZThreshold <= 0 {
		c.OffHoursZThreshold = 3
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.MaxMarkets <= 0 {
		c.MaxMarkets = 500
	}
	return c
}

// Metrics is the full computed metric set for one snapshot (spec §4.5).
type Metrics struct {
	MarketID        string
	Depth1Bid       float64
	Depth1Ask       float64
	Depth1Total     float64
	MicroPrice      float64
	MicroPriceSlope float64
	Drift           float64
	Imbalance       float64
	SpreadBps       float64
	SpreadChangePct float64
	LiquidityVacuum bool
	DepthChangePct  float64
	ZVolume         float64
	ZDepth          float64
	ZSpread         float64
	ZImbalance      float64
	ZVolumeToD      float64
	ZDepthToD       float64
	ZSpreadToD      float64
	ZImbalanceToD   float64
	Hour            int
}

type hourBaseline struct {
	count int
	mean  float64
	m2    float64 // Welford running variance accumulator
}

func (h *hourBaseline) observe(x float64) {
	h.count++
	delta := x - h.mean
	h.mean += delta / float64(h.count)
	delta2 := x - h.mean
	h.m2 += delta * delta2
}

func (h *hourBaseline) stddev() float64 {
	if h.count < 2 {
		return 0
	}
	return math.Sqrt(h.m2 / float64(h.count))
}

// zscore compares x against this hour-of-day's own mean/stddev, i.e.
// "unusual for this hour" rather than "unusual overall" (spec §4.5
// bullet 2: z-scores vs rolling mean/stddev *and* vs time-of-day).
func (h *hourBaseline) zscore(x float64) float64 {
	sd := h.stddev()
	if sd == 0 {
		return 0
	}
	return (x - h.mean) / sd
}

type rollingStat struct {
	values []float64
	cap    int
}

func newRollingStat(capacity int) *rollingStat {
	return &rollingStat{cap: capacity}
}

func (r *rollingStat) push(x float64) {
	r.values = append(r.values, x)
	if len(r.values) > r.cap {
		r.values = r.values[len(r.values)-r.cap:]
	}
}

func (r *rollingStat) meanStddev() (float64, float64) {
	if len(r.values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range r.values {
		sum += v
	}
	m := sum / float64(len(r.values))
	if len(r.values) < 2 {
		return m, 0
	}
	var variance float64
	for _, v := range r.values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(r.values))
	return m, math.Sqrt(variance)
}

func (r *rollingStat) zscore(x float64) float64 {
	m, sd := r.meanStddev()
	if sd == 0 {
		return 0
	}
	return (x - m) / sd
}

type marketState struct {
	rollingVolume    *rollingStat
	rollingDepth     *rollingStat
	rollingSpread    *rollingStat
	rollingImbalance *rollingStat

	hourlyVolume    [24]hourBaseline
	hourlyDepth     [24]hourBaseline
	hourlySpread    [24]hourBaseline
	hourlyImbalance [24]hourBaseline

	microPrices []float64
	drift       float64
	haveDrift   bool

	prevDepth  float64
	haveDepth  bool
	prevSpread float64
	haveSpread bool
}

func newMarketState() *marketState {
	return &marketState{
		rollingVolume:    newRollingStat(rollingWindowSize),
		rollingDepth:     newRollingStat(rollingWindowSize),
		rollingSpread:    newRollingStat(rollingWindowSize),
		rollingImbalance: newRollingStat(rollingWindowSize),
	}
}

func disposeMarketState(s *marketState) {
	s.rollingVolume.values = nil
	s.rollingDepth.values = nil
	s.rollingSpread.values = nil
	s.rollingImbalance.values = nil
	s.microPrices = nil
}

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

func (a *Analyzer) CleanupStaleMarkets(now time.Time) int { return a.tracker.CleanupStale(now) }
func (a *Analyzer) TrackedMarkets() int                    { return a.tracker.Len() }

// Process ingests one orderbook snapshot, updates rolling/time-of-day
// baselines, and returns the computed metrics plus any emitted signals.
func (a *Analyzer) Process(ob market.Orderbook) (Metrics, []signalkind.Signal) {
	now := market.Timestamp(ob.TimestampMs)
	st := a.tracker.GetOrCreate(ob.MarketID, now, newMarketState)

	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if !hasBid || !hasAsk {
		return Metrics{MarketID: ob.MarketID}, nil
	}

	m := Metrics{MarketID: ob.MarketID, Hour: now.UTC().Hour()}
	m.Depth1Bid = bid.Size
	m.Depth1Ask = ask.Size
	m.Depth1Total = bid.Size + ask.Size
	m.Imbalance = ob.DepthImbalance()

	micro, _ := ob.Microprice()
	m.MicroPrice = micro
	st.microPrices = append(st.microPrices, micro)
	if len(st.microPrices) > microPriceHistory {
		st.microPrices = st.microPrices[len(st.microPrices)-microPriceHistory:]
	}
	m.MicroPriceSlope = linearRegressionSlope(st.microPrices)

	if st.haveDrift {
		st.drift = st.drift + driftEMAAlpha*(m.MicroPriceSlope-st.drift)
	} else {
		st.drift = m.MicroPriceSlope
		st.haveDrift = true
	}
	m.Drift = st.drift

	spread, _ := ob.Spread()
	m.SpreadBps = spread * 10000
	totalVolume := ob.TotalBidVolume() + ob.TotalAskVolume()
	totalDepth := bid.Size + ask.Size

	if st.haveSpread && st.prevSpread != 0 {
		m.SpreadChangePct = (spread - st.prevSpread) / st.prevSpread * 100
	}
	st.prevSpread = spread
	st.haveSpread = true

	if st.haveDepth && st.prevDepth != 0 {
		m.DepthChangePct = (totalDepth - st.prevDepth) / st.prevDepth * 100
	}
	st.prevDepth = totalDepth
	st.haveDepth = true

	m.LiquidityVacuum = m.DepthChangePct < -a.cfg.DepthDropThresholdPct && absf(m.SpreadChangePct) < a.cfg.SpreadStableThresholdPct

	m.ZVolume = st.rollingVolume.zscore(totalVolume)
	m.ZDepth = st.rollingDepth.zscore(totalDepth)
	m.ZSpread = st.rollingSpread.zscore(spread)
	m.ZImbalance = st.rollingImbalance.zscore(m.Imbalance)

	m.ZVolumeToD = st.hourlyVolume[m.Hour].zscore(totalVolume)
	m.ZDepthToD = st.hourlyDepth[m.Hour].zscore(totalDepth)
	m.ZSpreadToD = st.hourlySpread[m.Hour].zscore(spread)
	m.ZImbalanceToD = st.hourlyImbalance[m.Hour].zscore(m.Imbalance)

	st.rollingVolume.push(totalVolume)
	st.rollingDepth.push(totalDepth)
	st.rollingSpread.push(spread)
	st.rollingImbalance.push(m.Imbalance)

	st.hourlyVolume[m.Hour].observe(totalVolume)
	st.hourlyDepth[m.Hour].observe(totalDepth)
	st.hourlySpread[m.Hour].observe(spread)
	st.hourlyImbalance[m.Hour].observe(m.Imbalance)

	return m, a.detectSignals(ob, m)
}

func (a *Analyzer) detectSignals(ob market.Orderbook, m Metrics) []signalkind.Signal {
	var out []signalkind.Signal

	if m.LiquidityVacuum {
		sev := signalkind.SeverityMedium
		if m.DepthChangePct < depthDropCriticalPct {
			sev = signalkind.SeverityCritical
		}
		out = append(out, a.signal(ob, signalkind.KindLiquidityVacuum, 0.8, sev, map[string]interface{}{
			"depth_change_pct": m.DepthChangePct, "spread_change_pct": m.SpreadChangePct,
		}))
	}

	if m.ZImbalance > a.cfg.ImbalanceZThreshold && absf(m.SpreadChangePct) < 10 {
		confidence := minf(0.95, m.ZImbalance/5)
		if absf(m.ZImbalanceToD) > absf(m.ZImbalance) {
			// Unusual for this hour even more than it is unusual
			// overall: the accumulation is better hidden than a
			// flat rolling comparison alone would suggest.
			confidence = minf(0.95, confidence+0.05)
		}
		out = append(out, a.signal(ob, signalkind.KindStealthAccumulation, confidence, signalkind.SeverityMedium, map[string]interface{}{
			"imbalance_z": m.ZImbalance, "imbalance_z_time_of_day": m.ZImbalanceToD, "spread_change_pct": m.SpreadChangePct,
		}))
	}

	if m.Drift > 0 {
		sev := signalkind.SeverityMedium
		if m.Drift > microDriftHighAbs {
			sev = signalkind.SeverityHigh
		}
		out = append(out, a.signal(ob, signalkind.KindMicroPriceDrift, minf(0.9, m.Drift*100), sev, map[string]interface{}{
			"drift": m.Drift, "micro_price_slope": m.MicroPriceSlope,
		}))
	}

	// off_hours_anomaly compares against this hour's own baseline, not
	// the flat rolling window: activity that is merely unusual overall
	// (e.g. a quiet market that's always quiet at this hour) shouldn't
	// fire, but activity unusual even relative to this hour's typical
	// level should, regardless of the flat rolling comparison.
	if (m.Hour >= 22 || m.Hour <= 6) && (m.ZVolumeToD > a.cfg.OffHoursZThreshold || m.ZDepthToD > a.cfg.OffHoursZThreshold) {
		ratio := maxf(m.ZVolumeToD, m.ZDepthToD) / a.cfg.OffHoursZThreshold
		out = append(out, a.signal(ob, signalkind.KindOffHoursAnomaly, ratio, signalkind.SeverityFromMagnitude(ratio), map[string]interface{}{
			"hour": m.Hour, "volume_z_time_of_day": m.ZVolumeToD, "depth_z_time_of_day": m.ZDepthToD,
			"volume_z_overall": m.ZVolume, "depth_z_overall": m.ZDepth,
		}))
	}

	return out
}

func (a *Analyzer) signal(ob market.Orderbook, kind signalkind.Kind, confidence float64, severity signalkind.Severity, metadata map[string]interface{}) signalkind.Signal {
	sig := signalkind.New(ob.MarketID, kind, confidence, severity, metadata)
	sig.TimestampMs = ob.TimestampMs
	return sig
}

// linearRegressionSlope returns the OLS slope of y=microPrice against
// x=index over the supplied history.
func linearRegressionSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
