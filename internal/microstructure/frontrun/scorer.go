// Package frontrun implements the Front-Running Scorer (spec §4.7,
// component C7): combines the latest Enhanced Microstructure metrics
// (C5) with optional cross-market correlation evidence into a single
// leak-probability score, emitting front_running_detected /
// information_leak when the score and confidence both clear their
// configured thresholds.
//
// Grounded on the teacher's quantitative composite-scoring idiom
// (internal/signals/quantitative.go QuantitativeAnalyzer, which blends
// several streaming indicators into one weighted score via
// math.Sqrt-normalized components); generalized here from a single
// market's indicators to a weighted blend of C5 outputs plus an
// optional cross-market term.
package frontrun

import (
	"math"
	"time"

	"github.com/microstructure-engine/internal/microstructure/enhanced"
	"github.com/microstructure-engine/internal/signalkind"
)

type Config struct {
	// Component weights; must sum close to 1 but are not enforced to.
	WeightImbalance  float64 // default 0.30
	WeightDrift      float64 // default 0.25
	WeightVacuum     float64 // default 0.20
	WeightCorrelation float64 // default 0.25

	ScoreThreshold      float64 // default 0.7
	ConfidenceThreshold float64 // default 0.6

	MaxAge     time.Duration
	MaxMarkets int
}

func (c Config) withDefaults() Config {
	if c.WeightImbalance <= 0 {
		c.WeightImbalance = 0.30
	}
	if c.WeightDrift <= 0 {
		c.WeightDrift = 0.25
	}
	if c.WeightVacuum <= 0 {
		c.WeightVacuum = 0.20
	}
	if c.WeightCorrelation <= 0 {
		c.WeightCorrelation = 0.25
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.7
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.MaxMarkets <= 0 {
		c.MaxMarkets = 500
	}
	return c
}

// Components breaks the score down by contributing factor, for
// observability and the signal's metadata payload.
type Components struct {
	Imbalance   float64
	Drift       float64
	Vacuum      float64
	Correlation float64
}

// Result is the full scorer output (spec §4.7).
type Result struct {
	MarketID       string
	Score          float64
	Confidence     float64
	LeakProbability float64
	TimeToNewsMin  float64
	Components     Components
}

// CorrelatedMarket is one optional cross-market evidence input: a
// topic-clustered market whose own recent z-scores are supplied by the
// caller (the orchestrator owns the topic-cluster membership).
type CorrelatedMarket struct {
	MarketID       string
	ImbalanceZ     float64
	MicroPriceDrift float64
}

// Scorer has no per-market persistent state beyond config; every call
// is a pure function of its inputs, so it carries no tracker.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score combines the latest C5 metrics with optional cross-market
// evidence. If correlated is empty, the correlation term contributes 0.
func (s *Scorer) Score(m enhanced.Metrics, correlated []CorrelatedMarket) Result {
	imbalanceComponent := clamp01(absf(m.ZImbalance) / 4)
	driftComponent := clamp01(absf(m.Drift) * 200)
	vacuumComponent := 0.0
	if m.LiquidityVacuum {
		vacuumComponent = 0.8
	}

	correlationComponent := 0.0
	if len(correlated) > 0 {
		var sum float64
		for _, cm := range correlated {
			sum += clamp01(absf(cm.ImbalanceZ)/4)*0.5 + clamp01(absf(cm.MicroPriceDrift)*200)*0.5
		}
		correlationComponent = clamp01(sum / float64(len(correlated)))
	}

	score := s.cfg.WeightImbalance*imbalanceComponent +
		s.cfg.WeightDrift*driftComponent +
		s.cfg.WeightVacuum*vacuumComponent +
		s.cfg.WeightCorrelation*correlationComponent
	score = clamp01(score)

	// Confidence rewards agreement across the non-zero components, not
	// just magnitude: sqrt-normalized spread of contributing signals.
	nonZero := 0
	var sumSq float64
	for _, c := range []float64{imbalanceComponent, driftComponent, vacuumComponent, correlationComponent} {
		if c > 0 {
			nonZero++
			sumSq += c * c
		}
	}
	confidence := 0.0
	if nonZero > 0 {
		confidence = clamp01(math.Sqrt(sumSq/float64(nonZero)) * (float64(nonZero) / 4))
	}

	leakProbability := clamp01(score * confidence)

	// Time-to-news falls linearly from 60 minutes at score 0 to 0 at
	// score 1: a stronger leak signal implies a shorter runway before
	// the triggering news breaks.
	timeToNews := 60.0
	if score > 0 {
		timeToNews = clamp01(1-score) * 60
	}

	return Result{
		MarketID:        m.MarketID,
		Score:           score,
		Confidence:      confidence,
		LeakProbability: leakProbability,
		TimeToNewsMin:   timeToNews,
		Components: Components{
			Imbalance:   imbalanceComponent,
			Drift:       driftComponent,
			Vacuum:      vacuumComponent,
			Correlation: correlationComponent,
		},
	}
}

// Signal returns a front-running leak signal, tagged with
// KindInformationLeak per spec §4.7, if the result clears both
// thresholds, or false otherwise.
func (s *Scorer) Signal(r Result, timestampMs int64) (signalkind.Signal, bool) {
	if r.Score < s.cfg.ScoreThreshold || r.Confidence < s.cfg.ConfidenceThreshold {
		return signalkind.Signal{}, false
	}
	sig := signalkind.New(r.MarketID, signalkind.KindInformationLeak, r.Confidence, signalkind.SeverityFromMagnitude(r.Score/s.cfg.ScoreThreshold), map[string]interface{}{
		"event":              "front_running_detected",
		"score":              r.Score,
		"leak_probability":   r.LeakProbability,
		"time_to_news_min":   r.TimeToNewsMin,
		"imbalance_component": r.Components.Imbalance,
		"drift_component":     r.Components.Drift,
		"vacuum_component":    r.Components.Vacuum,
		"correlation_component": r.Components.Correlation,
	})
	sig.TimestampMs = timestampMs
	return sig, true
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
