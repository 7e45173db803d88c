// Package orderbook implements the Orderbook Analyzer (spec §4.4,
// component C4): per-snapshot depth/volume/imbalance/liquidity-score
// metrics, plus imbalance/spread-anomaly/market-maker-withdrawal/
// liquidity-shift signal detection against a rolling baseline.
// Grounded on the teacher's Orderbook.BidDepth/AskDepth/ImbalanceRatio
// (internal/state/orderbook.go) generalized off integer cents onto
// decimal [0,1] probabilities, and on the scanner.Scanner liquidity
// scoring idiom (internal/scanner/opportunity.go).
package orderbook

import (
	"time"

	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/microstructure/markettrack"
	"github.com/microstructure-engine/internal/ringbuffer"
	"github.com/microstructure-engine/internal/signalkind"
	"github.com/microstructure-engine/internal/spreadutil"
)

const (
	minSnapshotsForSignals = 10
	baselineWindowMs       = 5 * 60 * 1000
	minBaselineSnapshots   = 5
)

type Config struct {
	BufferSize          int
	ImbalanceThreshold  float64 // default 0.3
	SpreadThreshold     float64 // default 2.0 (z-score like ratio)
	LiquidityThreshold  float64 // default 20
	MMWithdrawalDepthPct float64 // default 0.30
	MMWithdrawalVolPct   float64 // default 0.30
	MaxAge              time.Duration
	MaxMarkets          int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 0.3
	}
	if c.SpreadThreshold <= 0 {
		c.SpreadThreshold = 2.0
	}
	if c.LiquidityThreshold <= 0 {
		c.LiquidityThreshold = 20
	}
	if c.MMWithdrawalDepthPct <= 0 {
		c.MMWithdrawalDepthPct = 0.30
	}
	if c.MMWithdrawalVolPct <= 0 {
		c.MMWithdrawalVolPct = 0.30
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.MaxMarkets <= 0 {
		c.MaxMarkets = 500
	}
	return c
}

// Metrics is the computed per-snapshot metric set (spec §4.4).
type Metrics struct {
	MarketID        string
	TotalBidVolume  float64
	TotalAskVolume  float64
	BidAskRatio     float64
	DepthImbalance  float64
	LiquidityScore  float64
	SpreadPercent   float64
	SpreadBps       float64
}

// tradeSample is one traded print's size, timestamped so RecordTrade's
// history can be windowed the same way the snapshot baselines are.
type tradeSample struct {
	ts   int64
	size float64
}

type marketState struct {
	buf          *ringbuffer.OrderbookBuffer
	recentTrades []tradeSample
}

func newMarketState(bufSize int) *marketState {
	return &marketState{buf: ringbuffer.NewOrderbookBuffer(bufSize)}
}

func disposeMarketState(s *marketState) { s.buf.Dispose() }

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

// RecordTrade feeds a trade print's size into the market-maker-
// withdrawal check, which needs actual traded volume - independent of
// resting book depth - to tell "the book thinned because quoting
// stopped" apart from "the book thinned because one print consumed
// it". Mirrors orderflow.Analyzer's RecordTrade/recentTradeSizes
// pattern.
func (a *Analyzer) RecordTrade(marketID string, ts time.Time, size float64) {
	st := a.tracker.GetOrCreate(marketID, ts, func() *marketState {
		return newMarketState(a.cfg.BufferSize)
	})
	st.recentTrades = append(st.recentTrades, tradeSample{ts: ts.UnixMilli(), size: size})
	cutoff := ts.UnixMilli() - 2*baselineWindowMs
	trimmed := st.recentTrades[:0]
	for _, s := range st.recentTrades {
		if s.ts >= cutoff {
			trimmed = append(trimmed, s)
		}
	}
	st.recentTrades = trimmed
}

// tradedVolumeInWindow sums recorded trade sizes with ts in
// [nowMs-windowMs, nowMs).
func tradedVolumeInWindow(trades []tradeSample, nowMs, windowMs int64) float64 {
	var sum float64
	cutoff := nowMs - windowMs
	for _, s := range trades {
		if s.ts >= cutoff && s.ts < nowMs {
			sum += s.size
		}
	}
	return sum
}

// Process ingests one orderbook snapshot and returns the computed
// metrics plus any signals crossed.
func (a *Analyzer) Process(ob market.Orderbook) (Metrics, []signalkind.Signal) {
	now := market.Timestamp(ob.TimestampMs)
	st := a.tracker.GetOrCreate(ob.MarketID, now, func() *marketState {
		return newMarketState(a.cfg.BufferSize)
	})

	prevSnapshots := st.buf.GetAll()
	st.buf.Push(ob)

	metrics := computeMetrics(ob)
	if len(prevSnapshots) < minSnapshotsForSignals {
		return metrics, nil
	}

	return metrics, a.detectSignals(ob, metrics, st, prevSnapshots)
}

func computeMetrics(ob market.Orderbook) Metrics {
	m := Metrics{MarketID: ob.MarketID}
	m.TotalBidVolume = ob.TotalBidVolume()
	m.TotalAskVolume = ob.TotalAskVolume()
	if m.TotalAskVolume > 0 {
		m.BidAskRatio = m.TotalBidVolume / m.TotalAskVolume
	}
	m.DepthImbalance = ob.DepthImbalance()

	spread, ok := ob.Spread()
	if ok {
		m.SpreadPercent = spreadutil.Percent(spread)
		m.SpreadBps = spreadutil.BPS(spread)
	}

	totalVolume := m.TotalBidVolume + m.TotalAskVolume
	depth := float64(len(ob.Bids) + len(ob.Asks))
	score := minf(100, totalVolume/1000+depth*2) - m.SpreadBps/100*10
	m.LiquidityScore = maxf(0, score)

	return m
}

func (a *Analyzer) detectSignals(ob market.Orderbook, m Metrics, st *marketState, priorSnapshots []market.Orderbook) []signalkind.Signal {
	var out []signalkind.Signal

	nowMs := ob.TimestampMs
	baselineRatio, haveBaseline := avgBidAskRatio(priorSnapshots, nowMs, baselineWindowMs)
	if haveBaseline && countInWindow(priorSnapshots, nowMs, baselineWindowMs) >= minBaselineSnapshots {
		delta := absf(m.BidAskRatio - baselineRatio)
		if delta > a.cfg.ImbalanceThreshold {
			out = append(out, a.signal(ob, signalkind.KindOrderbookImbalance, delta, a.cfg.ImbalanceThreshold, map[string]interface{}{
				"bid_ask_ratio": m.BidAskRatio, "baseline_ratio": baselineRatio,
			}))
		}
	}

	if avgSpread, ok := st.buf.AvgSpread(nowMs, baselineWindowMs); ok {
		if vol, ok := st.buf.SpreadVolatility(nowMs, baselineWindowMs); ok && vol > 0 {
			spread, _ := ob.Spread()
			z := absf(spread-avgSpread) / vol
			if z > a.cfg.SpreadThreshold {
				out = append(out, a.signal(ob, signalkind.KindSpreadAnomaly, z, a.cfg.SpreadThreshold, map[string]interface{}{
					"spread": spread, "avg_spread": avgSpread, "spread_volatility": vol,
				}))
			}
		}
	}

	if len(priorSnapshots) > 0 {
		prev := priorSnapshots[len(priorSnapshots)-1]
		prevMetrics := computeMetrics(prev)
		prevDepth := prevMetrics.TotalBidVolume + prevMetrics.TotalAskVolume
		curDepth := m.TotalBidVolume + m.TotalAskVolume
		prevTradedVol := tradedVolumeInWindow(st.recentTrades, nowMs-baselineWindowMs, baselineWindowMs)
		curTradedVol := tradedVolumeInWindow(st.recentTrades, nowMs, baselineWindowMs)
		if prevDepth > 0 && prevMetrics.LiquidityScore > 0 && prevTradedVol > 0 {
			depthDrop := (prevDepth - curDepth) / prevDepth
			volDrop := (prevTradedVol - curTradedVol) / prevTradedVol
			if depthDrop > a.cfg.MMWithdrawalDepthPct && volDrop > a.cfg.MMWithdrawalVolPct {
				out = append(out, a.signal(ob, signalkind.KindMarketMakerWithdrawal, depthDrop, a.cfg.MMWithdrawalDepthPct, map[string]interface{}{
					"depth_drop_pct": depthDrop * 100, "traded_volume_drop_pct": volDrop * 100,
				}))
			}
		}
	}

	if avgScore, ok := avgLiquidityScore(priorSnapshots, nowMs, baselineWindowMs); ok {
		delta := absf(m.LiquidityScore - avgScore)
		if delta > a.cfg.LiquidityThreshold {
			out = append(out, a.signal(ob, signalkind.KindLiquidityShift, delta, a.cfg.LiquidityThreshold, map[string]interface{}{
				"liquidity_score": m.LiquidityScore, "avg_score": avgScore,
			}))
		}
	}

	return out
}

func (a *Analyzer) signal(ob market.Orderbook, kind signalkind.Kind, magnitude, threshold float64, metadata map[string]interface{}) signalkind.Signal {
	ratio := magnitude / threshold
	confidence := ratio
	maxConf := 0.9
	if confidence > maxConf {
		confidence = maxConf
	}
	sig := signalkind.New(ob.MarketID, kind, confidence, signalkind.SeverityFromMagnitude(ratio), metadata)
	sig.TimestampMs = ob.TimestampMs
	return sig
}

func avgBidAskRatio(books []market.Orderbook, nowMs, windowMs int64) (float64, bool) {
	var sum float64
	var n int
	cutoff := nowMs - windowMs
	for _, ob := range books {
		if ob.TimestampMs < cutoff {
			continue
		}
		m := computeMetrics(ob)
		sum += m.BidAskRatio
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func avgLiquidityScore(books []market.Orderbook, nowMs, windowMs int64) (float64, bool) {
	var sum float64
	var n int
	cutoff := nowMs - windowMs
	for _, ob := range books {
		if ob.TimestampMs < cutoff {
			continue
		}
		m := computeMetrics(ob)
		sum += m.LiquidityScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func countInWindow(books []market.Orderbook, nowMs, windowMs int64) int {
	cutoff := nowMs - windowMs
	n := 0
	for _, ob := range books {
		if ob.TimestampMs >= cutoff {
			n++
		}
	}
	return n
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
