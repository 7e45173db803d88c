// Package detector implements the Signal Detector (spec §4.8,
// component C8): a coarse-grained scan over periodic market-catalog
// snapshots, independent of the per-tick/per-orderbook analyzer
// family (C3-C7). It tracks bounded per-market history, runs
// new_market/volume_spike/price_movement/unusual_activity detectors,
// an optional cross-market correlation stage, and applies
// deduplication with per-signal-type cooldowns before anything reaches
// the sink.
//
// Grounded on the teacher's TimeSeriesStore rolling-window statistics
// (internal/state/timeseries.go) for the per-market history and z-score
// machinery, and its scanner.Scanner catalog-polling loop
// (internal/scanner/opportunity.go) for the periodic-scan shape,
// generalized from arbitrage scanning onto statistical anomaly
// detection per spec §4.8.
package detector

import (
	"math"
	"time"

	"github.com/microstructure-engine/internal/collaborators"
	"github.com/microstructure-engine/internal/microstructure/markettrack"
	"github.com/microstructure-engine/internal/ringbuffer"
	"github.com/microstructure-engine/internal/signalkind"
)

const (
	defaultHistorySize           = 2880
	defaultMaxMarkets            = 200
	rollingActivityWindow        = 100
	minObservationsForPercentile = 10
	recentChangeWindow           = 20
)

// Config tunes the detector. Zero values fall back to the package
// defaults.
type Config struct {
	MinVolumeThreshold float64
	HistorySize        int
	MaxMarkets         int

	VolumeSpikeMultiplier float64 // default 2.5
	VolumeSpikeMinPct     float64 // default 15

	PriceMovementThresholdPts float64 // default 5 (percentage points)

	CorrelationThreshold float64 // default 0.7

	MinConfidence float64 // default 0.5

	Cooldowns map[signalkind.Kind]time.Duration
}

func defaultCooldowns() map[signalkind.Kind]time.Duration {
	return map[signalkind.Kind]time.Duration{
		signalkind.KindNewMarket:              60 * time.Minute,
		signalkind.KindVolumeSpike:            10 * time.Minute,
		signalkind.KindPriceMovement:          5 * time.Minute,
		signalkind.KindUnusualActivity:        15 * time.Minute,
		signalkind.KindCoordinatedCrossMarket: 30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.MinVolumeThreshold <= 0 {
		c.MinVolumeThreshold = 1000
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MaxMarkets <= 0 {
		c.MaxMarkets = defaultMaxMarkets
	}
	if c.VolumeSpikeMultiplier <= 0 {
		c.VolumeSpikeMultiplier = 2.5
	}
	if c.VolumeSpikeMinPct <= 0 {
		c.VolumeSpikeMinPct = 15
	}
	if c.PriceMovementThresholdPts <= 0 {
		c.PriceMovementThresholdPts = 5
	}
	if c.CorrelationThreshold <= 0 {
		c.CorrelationThreshold = 0.7
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.Cooldowns == nil {
		c.Cooldowns = defaultCooldowns()
	}
	return c
}

// observation is one per-scan history entry for a market (spec §4.8).
type observation struct {
	TimestampMs     int64
	Volume24h       float64
	VolumeChangePct float64
	Price           float64
	ActivityScore   float64
}

type marketState struct {
	buf            *ringbuffer.Buffer[observation]
	activityWindow []float64
	createdAt      *time.Time
}

func newMarketState(bufSize int) *marketState {
	return &marketState{buf: ringbuffer.New[observation](bufSize)}
}

func disposeMarketState(s *marketState) {
	s.buf.Dispose()
	s.activityWindow = nil
}

// Detector scans catalog snapshots and emits catalog-scan-family
// signals, deduplicated with per-type cooldowns.
type Detector struct {
	cfg     Config
	tracker *markettrack.Tracker[*marketState]
	dedup   *Dedup
}

func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:     cfg,
		tracker: markettrack.New[*marketState](30*24*time.Hour, cfg.MaxMarkets, disposeMarketState),
		dedup:   NewDedup(cfg.Cooldowns),
	}
}

func (d *Detector) TrackedMarkets() int { return d.tracker.Len() }

// Scan processes one catalog snapshot and returns every signal that
// survives detection, deduplication and the minimum-confidence filter.
func (d *Detector) Scan(catalog []collaborators.MarketSummary, now time.Time) []signalkind.Signal {
	var candidates []signalkind.Signal
	priceSeries := make(map[string]float64, len(catalog))

	for _, mkt := range catalog {
		if mkt.VolumeNum < d.cfg.MinVolumeThreshold {
			continue
		}
		st := d.tracker.GetOrCreate(mkt.ID, now, func() *marketState {
			return newMarketState(d.cfg.HistorySize)
		})
		if st.createdAt == nil {
			st.createdAt = mkt.CreatedAt
		}

		prior := st.buf.GetAll()
		price := primaryPrice(mkt)
		priceSeries[mkt.ID] = price

		obs := observation{TimestampMs: now.UnixMilli(), Volume24h: mkt.VolumeNum, Price: price}
		if len(prior) > 0 {
			last := prior[len(prior)-1]
			if last.Volume24h != 0 {
				obs.VolumeChangePct = (mkt.VolumeNum - last.Volume24h) / last.Volume24h * 100
			}
		}
		obs.ActivityScore = absf(obs.VolumeChangePct) + absf(price-lastPrice(prior))*1000
		st.activityWindow = append(st.activityWindow, obs.ActivityScore)
		if len(st.activityWindow) > rollingActivityWindow {
			st.activityWindow = st.activityWindow[len(st.activityWindow)-rollingActivityWindow:]
		}

		if sig, ok := d.detectNewMarket(mkt, st, now); ok {
			candidates = append(candidates, sig)
		}
		if sig, ok := d.detectVolumeSpike(mkt, obs, prior); ok {
			candidates = append(candidates, sig)
		}
		if sig, ok := d.detectPriceMovement(mkt, obs, prior); ok {
			candidates = append(candidates, sig)
		}
		if sig, ok := d.detectUnusualActivity(mkt, obs, st); ok {
			candidates = append(candidates, sig)
		}

		st.buf.Push(obs)
	}

	candidates = append(candidates, d.detectCoordinatedCrossMarket(priceSeries, now)...)

	return d.filter(candidates, now)
}

func (d *Detector) filter(candidates []signalkind.Signal, now time.Time) []signalkind.Signal {
	var out []signalkind.Signal
	for _, sig := range candidates {
		if sig.Confidence < d.cfg.MinConfidence {
			continue
		}
		if !d.dedup.Allow(sig.MarketID, sig.Kind, now) {
			continue
		}
		d.dedup.Record(sig.MarketID, sig.Kind, now)
		out = append(out, sig)
	}
	return out
}

func (d *Detector) detectNewMarket(mkt collaborators.MarketSummary, st *marketState, now time.Time) (signalkind.Signal, bool) {
	if st.createdAt == nil {
		return signalkind.Signal{}, false
	}
	if now.Sub(*st.createdAt) > time.Hour {
		return signalkind.Signal{}, false
	}
	if mkt.VolumeNum <= 2*d.cfg.MinVolumeThreshold {
		return signalkind.Signal{}, false
	}
	sig := signalkind.New(mkt.ID, signalkind.KindNewMarket, 0.9, signalkind.SeverityMedium, map[string]interface{}{
		"volume_num": mkt.VolumeNum,
	})
	sig.TimestampMs = now.UnixMilli()
	return sig, true
}

func (d *Detector) detectVolumeSpike(mkt collaborators.MarketSummary, obs observation, prior []observation) (signalkind.Signal, bool) {
	if obs.VolumeChangePct <= 0 || obs.VolumeChangePct <= d.cfg.VolumeSpikeMinPct {
		return signalkind.Signal{}, false
	}
	recent := recentChangesOf(prior)
	if len(recent) == 0 {
		return signalkind.Signal{}, false
	}
	avg, sd := meanStddev(recent)
	if obs.VolumeChangePct <= avg*d.cfg.VolumeSpikeMultiplier {
		return signalkind.Signal{}, false
	}
	z := 0.0
	if sd > 0 {
		z = (obs.VolumeChangePct - avg) / sd
	}
	sig := signalkind.New(mkt.ID, signalkind.KindVolumeSpike, confidenceFromZ(z), signalkind.SeverityFromMagnitude(obs.VolumeChangePct/(avg*d.cfg.VolumeSpikeMultiplier)), map[string]interface{}{
		"volume_change_pct": obs.VolumeChangePct, "avg_recent_change_pct": avg,
	})
	return sig, true
}

func (d *Detector) detectPriceMovement(mkt collaborators.MarketSummary, obs observation, prior []observation) (signalkind.Signal, bool) {
	if len(prior) == 0 {
		return signalkind.Signal{}, false
	}
	last := prior[len(prior)-1]
	immediate := (obs.Price - last.Price) * 100

	cumulative := immediate
	if len(prior) >= 2 {
		twoBack := prior[len(prior)-2]
		cumulative = (obs.Price - twoBack.Price) * 100
	}

	magnitude := math.Max(absf(immediate), absf(cumulative))
	if magnitude <= d.cfg.PriceMovementThresholdPts {
		return signalkind.Signal{}, false
	}

	movementType := "trending"
	if absf(immediate) >= absf(cumulative) {
		movementType = "sudden"
	}

	recent := priceChangesOf(prior)
	z := 0.0
	if avg, sd := meanStddev(recent); sd > 0 {
		z = (magnitude - avg) / sd
	}

	sig := signalkind.New(mkt.ID, signalkind.KindPriceMovement, confidenceFromZ(z), signalkind.SeverityFromMagnitude(magnitude/d.cfg.PriceMovementThresholdPts), map[string]interface{}{
		"immediate_change_pts":  immediate,
		"cumulative_change_pts": cumulative,
		"movement_type":         movementType,
	})
	return sig, true
}

func (d *Detector) detectUnusualActivity(mkt collaborators.MarketSummary, obs observation, st *marketState) (signalkind.Signal, bool) {
	window := st.activityWindow
	if len(window) < minObservationsForPercentile {
		if obs.ActivityScore <= 50 {
			return signalkind.Signal{}, false
		}
		sig := signalkind.New(mkt.ID, signalkind.KindUnusualActivity, d.cfg.MinConfidence, signalkind.SeverityLow, map[string]interface{}{
			"activity_score": obs.ActivityScore, "fallback": true,
		})
		return sig, true
	}

	prior := window[:len(window)-1]
	avg, sd := meanStddev(prior)
	if sd == 0 {
		return signalkind.Signal{}, false
	}
	z := (obs.ActivityScore - avg) / sd
	if z < 1.645 {
		return signalkind.Signal{}, false
	}
	sig := signalkind.New(mkt.ID, signalkind.KindUnusualActivity, confidenceFromZ(z), signalkind.SeverityFromMagnitude(z/1.645), map[string]interface{}{
		"activity_score": obs.ActivityScore, "activity_z": z,
	})
	return sig, true
}

// detectCoordinatedCrossMarket computes a pairwise Pearson correlation
// of this scan's price observations against prior scans. Because
// every tracked market is observed at the same scan tick, the series
// are already aligned by index - no closest-earlier lookup is needed.
func (d *Detector) detectCoordinatedCrossMarket(current map[string]float64, now time.Time) []signalkind.Signal {
	var out []signalkind.Signal
	ids := make([]string, 0, len(current))
	series := make(map[string][]float64, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	for _, id := range ids {
		st, ok := d.tracker.Get(id)
		if !ok {
			continue
		}
		var xs []float64
		for _, o := range st.buf.GetAll() {
			xs = append(xs, o.Price)
		}
		xs = append(xs, current[id])
		series[id] = xs
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := series[ids[i]], series[ids[j]]
			n := minInt(len(a), len(b))
			if n < 5 {
				continue
			}
			r := pearson(a[len(a)-n:], b[len(b)-n:])
			if absf(r) < d.cfg.CorrelationThreshold {
				continue
			}
			sig := signalkind.New(ids[i], signalkind.KindCoordinatedCrossMarket, confidenceFromZ(absf(r)*3), signalkind.SeverityFromMagnitude(absf(r)/d.cfg.CorrelationThreshold), map[string]interface{}{
				"correlated_market_id": ids[j], "correlation": r,
			})
			sig.TimestampMs = now.UnixMilli()
			out = append(out, sig)
		}
	}
	return out
}

func primaryPrice(mkt collaborators.MarketSummary) float64 {
	if len(mkt.OutcomePrices) == 0 {
		return 0
	}
	return mkt.OutcomePrices[0]
}

func lastPrice(prior []observation) float64 {
	if len(prior) == 0 {
		return 0
	}
	return prior[len(prior)-1].Price
}

func recentChangesOf(prior []observation) []float64 {
	start := 0
	if len(prior) > recentChangeWindow {
		start = len(prior) - recentChangeWindow
	}
	out := make([]float64, 0, len(prior)-start)
	for _, o := range prior[start:] {
		out = append(out, o.VolumeChangePct)
	}
	return out
}

func priceChangesOf(prior []observation) []float64 {
	start := 0
	if len(prior) > recentChangeWindow {
		start = len(prior) - recentChangeWindow
	}
	var out []float64
	for i := start + 1; i < len(prior); i++ {
		out = append(out, absf((prior[i].Price-prior[i-1].Price)*100))
	}
	return out
}

// confidenceFromZ maps an absolute z-score onto the standard confidence
// tiers spec §4.8 names (1.0/1.28/1.645/1.96/2.58 -> 0.68/0.80/0.90/0.95/0.99).
func confidenceFromZ(z float64) float64 {
	z = absf(z)
	switch {
	case z >= 2.58:
		return 0.99
	case z >= 1.96:
		return 0.95
	case z >= 1.645:
		return 0.90
	case z >= 1.28:
		return 0.80
	case z >= 1.0:
		return 0.68
	default:
		return 0.68 * z
	}
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, _ := meanStddev(xs)
	my, _ := meanStddev(ys)
	var num, dx2, dy2 float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		num += dx * dy
		dx2 += dx * dx
		dy2 += dy * dy
	}
	denom := math.Sqrt(dx2 * dy2)
	if denom == 0 {
		return 0
	}
	return num / denom
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
