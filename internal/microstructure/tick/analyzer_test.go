package tick

import (
	"testing"

	"github.com/microstructure-engine/internal/market"
)

func pushTicks(a *Analyzer, marketID string, prices []float64) Indicators {
	var ind Indicators
	for i, p := range prices {
		ind, _ = a.Process(market.Tick{
			MarketID:    marketID,
			TimestampMs: int64(i) * 1000,
			Price:       p,
			Size:        1,
		})
	}
	return ind
}

// S5 — Wilder RSI seed: 15 monotonically increasing ticks of step 0.01
// should produce RSI(15) = 100 (all gains, zero loss); a subsequent
// zero-delta tick should not increase RSI.
func TestWilderRSISeedAllGains(t *testing.T) {
	a := NewAnalyzer(Config{})
	prices := make([]float64, 15)
	p := 0.10
	for i := range prices {
		prices[i] = p
		p += 0.01
	}
	ind := pushTicks(a, "MKT-RSI", prices)
	if ind.RSI != 100 {
		t.Fatalf("RSI after 15 monotonic-increase ticks = %v, want 100", ind.RSI)
	}

	// One more tick at the same price (zero delta, "loss" branch=0 gain=0)
	// should not push RSI above 100.
	ind2, _ := a.Process(market.Tick{MarketID: "MKT-RSI", TimestampMs: 15000, Price: prices[len(prices)-1], Size: 1})
	if ind2.RSI > ind.RSI {
		t.Fatalf("RSI increased after a flat tick: %v -> %v", ind.RSI, ind2.RSI)
	}
}

func TestMACDNoLookAhead(t *testing.T) {
	a := NewAnalyzer(Config{})
	prices := make([]float64, 60)
	p := 0.30
	for i := range prices {
		prices[i] = p
		p += 0.002
	}

	// Compute the indicator snapshot at tick 40 by truncating the feed.
	aTruncated := NewAnalyzer(Config{})
	var truncatedInd Indicators
	for i := 0; i < 40; i++ {
		truncatedInd, _ = aTruncated.Process(market.Tick{MarketID: "MKT-MACD", TimestampMs: int64(i) * 1000, Price: prices[i], Size: 1})
	}

	// Compute the full-stream snapshot, capturing the state exactly at
	// tick 40 as it was emitted live.
	var liveAt40 Indicators
	for i, p := range prices {
		ind, _ := a.Process(market.Tick{MarketID: "MKT-MACD", TimestampMs: int64(i) * 1000, Price: p, Size: 1})
		if i == 39 {
			liveAt40 = ind
		}
	}

	if truncatedInd.MACDSignal != liveAt40.MACDSignal {
		t.Fatalf("truncated MACD signal %v != live-at-t MACD signal %v (look-ahead bias)", truncatedInd.MACDSignal, liveAt40.MACDSignal)
	}
	if truncatedInd.MACDLine != liveAt40.MACDLine {
		t.Fatalf("truncated MACD line %v != live-at-t MACD line %v", truncatedInd.MACDLine, liveAt40.MACDLine)
	}
}

func TestIndicatorsNotReadyBeforeFiftyTicks(t *testing.T) {
	a := NewAnalyzer(Config{})
	var ind Indicators
	for i := 0; i < 49; i++ {
		ind, _ = a.Process(market.Tick{MarketID: "MKT", TimestampMs: int64(i) * 1000, Price: 0.5, Size: 1})
	}
	if ind.Ready {
		t.Fatal("indicators should not be Ready before 50 ticks")
	}
	ind, _ = a.Process(market.Tick{MarketID: "MKT", TimestampMs: 49000, Price: 0.5, Size: 1})
	if !ind.Ready {
		t.Fatal("indicators should be Ready at 50 ticks")
	}
}
