package ringbuffer

import (
	"testing"

	"github.com/microstructure-engine/internal/market"
)

func TestTickBufferVWAPUsesTradeSize(t *testing.T) {
	tb := NewTickBuffer(100)
	tb.Push(market.Tick{TimestampMs: 1000, Price: 0.50, Size: 10, Volume: 500})
	tb.Push(market.Tick{TimestampMs: 2000, Price: 0.60, Size: 30, Volume: 1800})

	vwap, ok := tb.VWAP(2000, 5000)
	if !ok {
		t.Fatal("expected VWAP to be computed")
	}
	want := (0.50*10 + 0.60*30) / 40
	if diff := vwap - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("VWAP = %v, want %v", vwap, want)
	}
}

func TestTickBufferMomentum(t *testing.T) {
	tb := NewTickBuffer(100)
	prices := []float64{0.10, 0.11, 0.12, 0.13, 0.14}
	for i, p := range prices {
		tb.Push(market.Tick{TimestampMs: int64(i) * 1000, Price: p, Size: 1})
	}

	got, ok := tb.Momentum(4)
	if !ok {
		t.Fatal("expected momentum to be computed")
	}
	want := (0.14 - 0.10) / 0.10 * 100
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Momentum(4) = %v, want %v", got, want)
	}
}

func TestTickBufferMomentumInsufficientHistory(t *testing.T) {
	tb := NewTickBuffer(100)
	tb.Push(market.Tick{TimestampMs: 0, Price: 0.5, Size: 1})
	if _, ok := tb.Momentum(5); ok {
		t.Fatal("expected Momentum to fail with insufficient history")
	}
}
