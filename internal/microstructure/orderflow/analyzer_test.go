package orderflow

import (
	"testing"

	"github.com/microstructure-engine/internal/market"
)

func book(marketID string, ts int64, bidLevels, askLevels []market.Level) market.Orderbook {
	return market.Orderbook{TimestampMs: ts, MarketID: marketID, Bids: bidLevels, Asks: askLevels}
}

func levels(prices, sizes []float64) []market.Level {
	out := make([]market.Level, len(prices))
	for i := range prices {
		out[i] = market.Level{Price: prices[i], Size: sizes[i], Volume: prices[i] * sizes[i]}
	}
	return out
}

// S5 (flow pressure symmetry, testable property #5): for identical size
// distributions at levels L1..Ln, bid_pressure and ask_pressure are
// invariant under translation of the price levels.
func TestFlowPressureSymmetryUnderPriceTranslation(t *testing.T) {
	sizes := []float64{100, 200, 300}

	a1 := NewAnalyzer(Config{})
	obLow := book("A", 0,
		levels([]float64{0.10, 0.09, 0.08}, sizes),
		levels([]float64{0.11, 0.12, 0.13}, sizes))
	m1, _ := a1.Process(obLow)

	a2 := NewAnalyzer(Config{})
	obHigh := book("B", 0,
		levels([]float64{0.80, 0.79, 0.78}, sizes),
		levels([]float64{0.81, 0.82, 0.83}, sizes))
	m2, _ := a2.Process(obHigh)

	if diff := m1.BidPressure - m2.BidPressure; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("BidPressure not translation-invariant: %v vs %v", m1.BidPressure, m2.BidPressure)
	}
	if diff := m1.AskPressure - m2.AskPressure; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("AskPressure not translation-invariant: %v vs %v", m1.AskPressure, m2.AskPressure)
	}
}

func TestAggressiveBuyerSignalOnSharpBidSkew(t *testing.T) {
	a := NewAnalyzer(Config{})
	ob := book("MKT", 0,
		levels([]float64{0.50, 0.49, 0.48, 0.47, 0.46}, []float64{5000, 4000, 3000, 2000, 1000}),
		levels([]float64{0.51, 0.52, 0.53, 0.54, 0.55}, []float64{100, 100, 100, 100, 100}))
	m, sigs := a.Process(ob)

	if m.WeightedImbalance <= 0 {
		t.Fatalf("WeightedImbalance = %v, want > 0 for bid-heavy book", m.WeightedImbalance)
	}
	found := false
	for _, s := range sigs {
		if s.Kind == "aggressive_buyer" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected aggressive_buyer signal, got %+v", sigs)
	}
}

func TestWallStrengthDetectsOutsizedLevel(t *testing.T) {
	a := NewAnalyzer(Config{})
	ob := book("MKT", 0,
		levels([]float64{0.50, 0.49}, []float64{100, 50000}),
		levels([]float64{0.51, 0.52}, []float64{100, 100}))
	m, _ := a.Process(ob)
	if m.WallStrength <= 0.5 {
		t.Fatalf("WallStrength = %v, want a high value given a 50000-size second level against a 100-size top", m.WallStrength)
	}
}

func TestSizeDistributionHighForOutlierLevel(t *testing.T) {
	bids := levels([]float64{0.50, 0.49, 0.48}, []float64{100, 100, 100})
	asks := levels([]float64{0.51, 0.52, 0.53}, []float64{100, 100, 5000})
	sd := sizeDistribution(bids, asks)
	if sd < 3 {
		t.Fatalf("sizeDistribution = %v, want a large ratio given one outlier level", sd)
	}
}
