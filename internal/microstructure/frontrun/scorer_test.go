package frontrun

import (
	"testing"

	"github.com/microstructure-engine/internal/microstructure/enhanced"
)

func TestScoreZeroWhenNoEvidence(t *testing.T) {
	s := NewScorer(Config{})
	r := s.Score(enhanced.Metrics{MarketID: "MKT"}, nil)
	if r.Score != 0 {
		t.Fatalf("Score = %v, want 0 with no contributing evidence", r.Score)
	}
	if _, fired := s.Signal(r, 0); fired {
		t.Fatal("did not expect a signal with zero score")
	}
}

func TestCorrelationTermContributesZeroWhenAbsent(t *testing.T) {
	s := NewScorer(Config{})
	m := enhanced.Metrics{MarketID: "MKT", ZImbalance: 3.5, Drift: 0.002, LiquidityVacuum: true}
	withCorrelation := s.Score(m, []CorrelatedMarket{{MarketID: "OTHER", ImbalanceZ: 3.5, MicroPriceDrift: 0.002}})
	withoutCorrelation := s.Score(m, nil)

	if withoutCorrelation.Components.Correlation != 0 {
		t.Fatalf("Correlation component = %v, want 0 when no correlated markets supplied", withoutCorrelation.Components.Correlation)
	}
	if withCorrelation.Score <= withoutCorrelation.Score {
		t.Fatalf("expected cross-market evidence to raise the score: with=%v without=%v", withCorrelation.Score, withoutCorrelation.Score)
	}
}

func TestSignalFiresAboveBothThresholds(t *testing.T) {
	s := NewScorer(Config{ScoreThreshold: 0.5, ConfidenceThreshold: 0.3})
	m := enhanced.Metrics{MarketID: "MKT", ZImbalance: 4, Drift: 0.005, LiquidityVacuum: true}
	r := s.Score(m, []CorrelatedMarket{{MarketID: "OTHER", ImbalanceZ: 4, MicroPriceDrift: 0.005}})

	sig, fired := s.Signal(r, 123)
	if !fired {
		t.Fatalf("expected a signal to fire, got score=%v confidence=%v", r.Score, r.Confidence)
	}
	if sig.Kind != "information_leak" {
		t.Fatalf("Kind = %v, want information_leak", sig.Kind)
	}
	if sig.TimestampMs != 123 {
		t.Fatalf("TimestampMs = %v, want 123", sig.TimestampMs)
	}
}
