package enhanced

import (
	"testing"

	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/signalkind"
)

func book(marketID string, ts int64, bid, ask, bidSize, askSize float64) market.Orderbook {
	return market.Orderbook{
		TimestampMs: ts,
		MarketID:    marketID,
		Bids:        []market.Level{{Price: bid, Size: bidSize, Volume: bid * bidSize}},
		Asks:        []market.Level{{Price: ask, Size: askSize, Volume: ask * askSize}},
	}
}

func TestLiquidityVacuumRequiresSharpDropAndStableSpread(t *testing.T) {
	a := NewAnalyzer(Config{})
	a.Process(book("MKT", 0, 0.49, 0.51, 1000, 1000))
	_, sigs := a.Process(book("MKT", 1000, 0.49, 0.51, 200, 200))

	found := false
	for _, s := range sigs {
		if s.Kind == signalkind.KindLiquidityVacuum {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected liquidity_vacuum on an 80%% depth drop with unchanged spread, got %+v", sigs)
	}
}

func TestLiquidityVacuumSuppressedWhenSpreadWidens(t *testing.T) {
	a := NewAnalyzer(Config{})
	a.Process(book("MKT", 0, 0.49, 0.51, 1000, 1000))
	_, sigs := a.Process(book("MKT", 1000, 0.40, 0.60, 200, 200))

	for _, s := range sigs {
		if s.Kind == signalkind.KindLiquidityVacuum {
			t.Fatalf("did not expect liquidity_vacuum when the spread also widened sharply, got %+v", sigs)
		}
	}
}

func TestMicroPriceSlopeMonotonicIncrease(t *testing.T) {
	a := NewAnalyzer(Config{})
	var m Metrics
	for i := 0; i < 10; i++ {
		bid := 0.40 + float64(i)*0.01
		ask := bid + 0.02
		m, _ = a.Process(book("MKT", int64(i)*1000, bid, ask, 1000, 1000))
	}
	if m.MicroPriceSlope <= 0 {
		t.Fatalf("MicroPriceSlope = %v, want > 0 for monotonically increasing mid", m.MicroPriceSlope)
	}
	if m.Drift <= 0 {
		t.Fatalf("Drift = %v, want > 0 tracking positive slope", m.Drift)
	}
}

// testable property: z-scores are computed against the baseline as it
// stood BEFORE the current observation is folded in, so a single
// extreme snapshot cannot suppress its own z-score by inflating the
// baseline it is compared against.
func TestZScoreExcludesCurrentObservation(t *testing.T) {
	a := NewAnalyzer(Config{})
	for i := 0; i < 30; i++ {
		depth := 1000 + float64(i%5)*2
		a.Process(book("MKT", int64(i)*1000, 0.49, 0.51, depth, depth))
	}
	// A sharp depth spike: z-score should reflect a large deviation from
	// the stable 1000/1000 baseline, not be pulled toward the spike
	// because the spike itself was already folded into the baseline.
	m, _ := a.Process(book("MKT", 30000, 0.49, 0.51, 50000, 50000))
	if m.ZDepth < 3 {
		t.Fatalf("ZDepth = %v, want a large deviation from the pre-spike baseline", m.ZDepth)
	}
}

func TestOffHoursAnomalyGatedByHourWindow(t *testing.T) {
	a := NewAnalyzer(Config{})
	// 3am UTC epoch ms: 1970-01-01T03:00:00Z
	const threeAM = int64(3 * 60 * 60 * 1000)
	for i := 0; i < 30; i++ {
		depth := 1000 + float64(i%5)*2
		a.Process(book("MKT", threeAM+int64(i)*1000, 0.49, 0.51, depth, depth))
	}
	m, sigs := a.Process(book("MKT", threeAM+30000, 0.49, 0.51, 50000, 50000))
	if m.Hour < 22 && m.Hour > 6 {
		t.Fatalf("Hour = %v, expected within the off-hours window for this test to be meaningful", m.Hour)
	}
	found := false
	for _, s := range sigs {
		if s.Kind == signalkind.KindOffHoursAnomaly {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected off_hours_anomaly signal given a large depth z-score at hour %d, got %+v", m.Hour, sigs)
	}
}
