package orchestrator

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/microstructure-engine/internal/collaborators"
	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/microstructure/enhanced"
	"github.com/microstructure-engine/internal/microstructure/frontrun"
	"github.com/microstructure-engine/internal/microstructure/orderbook"
	"github.com/microstructure-engine/internal/microstructure/orderflow"
	"github.com/microstructure-engine/internal/microstructure/tick"
	"github.com/microstructure-engine/internal/signalkind"
)

type recordingSink struct {
	signals              []signalkind.Signal
	microstructureSignals []signalkind.Signal
}

func (r *recordingSink) OnSignal(s signalkind.Signal)              { r.signals = append(r.signals, s) }
func (r *recordingSink) OnMicrostructureSignal(s signalkind.Signal) { r.microstructureSignals = append(r.microstructureSignals, s) }

var _ collaborators.SignalSink = (*recordingSink)(nil)

func newTestOrchestrator(sink *recordingSink) *Orchestrator {
	a := Analyzers{
		Tick:      tick.NewAnalyzer(tick.Config{}),
		Orderbook: orderbook.NewAnalyzer(orderbook.Config{}),
		Enhanced:  enhanced.NewAnalyzer(enhanced.Config{}),
		OrderFlow: orderflow.NewAnalyzer(orderflow.Config{}),
		FrontRun:  frontrun.NewScorer(frontrun.Config{}),
	}
	return New(Config{}, a, sink, zerolog.Nop())
}

func book(marketID string, bidPrice, bidSize, askPrice, askSize float64) market.Orderbook {
	return market.Orderbook{
		TimestampMs: 1000,
		MarketID:    marketID,
		Bids:        []market.Level{{Price: bidPrice, Size: bidSize, Volume: bidPrice * bidSize}},
		Asks:        []market.Level{{Price: askPrice, Size: askSize, Volume: askPrice * askSize}},
	}
}

func TestUntrackedMarketFramesAreIgnored(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)

	o.OnTick(market.Tick{MarketID: "MKT", Price: 0.5, Size: 10, TimestampMs: 1000})
	o.OnOrderbook(book("MKT", 0.49, 100, 0.51, 100))

	if len(sink.signals) != 0 || len(sink.microstructureSignals) != 0 {
		t.Fatalf("expected no signals for an untracked market, got signals=%v micro=%v", sink.signals, sink.microstructureSignals)
	}
}

func TestTrackedMarketFlowsThroughAnalyzerChain(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)
	o.TrackMarket("MKT")

	for i := 0; i < 60; i++ {
		o.OnTick(market.Tick{MarketID: "MKT", Price: 0.5, Size: 10, TimestampMs: int64(1000 + i)})
	}
	ind, ok := o.latestIndicators["MKT"]
	if !ok || !ind.Ready {
		t.Fatalf("expected indicators to be tracked and ready after 60 ticks, got %+v ok=%v", ind, ok)
	}

	o.OnOrderbook(book("MKT", 0.49, 100, 0.51, 100))
	if _, ok := o.latestOrderbook["MKT"]; !ok {
		t.Fatal("expected the latest orderbook snapshot to be recorded")
	}
}

func TestEnrichStampsIndicatorAndOrderbookContext(t *testing.T) {
	ind := tick.Indicators{RSI: 55, MACDLine: 0.01}
	ob := book("MKT", 0.49, 100, 0.51, 100)
	sig := signalkind.New("MKT", signalkind.KindOrderbookImbalance, 0.9, signalkind.SeverityHigh, nil)
	sig.TimestampMs = 0

	out := enrich([]signalkind.Signal{sig}, ind, ob)
	if len(out) != 1 {
		t.Fatalf("expected 1 enriched signal, got %d", len(out))
	}
	if out[0].Metadata["indicator_rsi"] != 55.0 {
		t.Fatalf("expected indicator_rsi to be stamped, got %+v", out[0].Metadata)
	}
	if out[0].TimestampMs != ob.TimestampMs {
		t.Fatalf("expected a zero-valued signal timestamp to fall back to the orderbook's, got %d", out[0].TimestampMs)
	}
}

func TestRecoverFrameCountsPanicAndPreservesMarketState(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)
	o.TrackMarket("MKT")

	for i := 0; i < 60; i++ {
		o.OnTick(market.Tick{MarketID: "MKT", Price: 0.5, Size: 10, TimestampMs: int64(1000 + i)})
	}
	indBefore, ok := o.latestIndicators["MKT"]
	if !ok || !indBefore.Ready {
		t.Fatalf("expected indicators to be ready before the panic, got %+v ok=%v", indBefore, ok)
	}

	o.recoverFrame("MKT", "tick", func() { panic("analyzer exploded") })

	if got := o.ErrorCount("MKT"); got != 1 {
		t.Fatalf("expected one panic to be recorded for MKT, got %d", got)
	}
	if got := o.TotalErrors(); got != 1 {
		t.Fatalf("expected TotalErrors to reflect the recovered panic, got %d", got)
	}

	indAfter, ok := o.latestIndicators["MKT"]
	if !ok || indAfter != indBefore {
		t.Fatalf("expected the market's analyzer state to survive an unrelated panic, before=%+v after=%+v ok=%v", indBefore, indAfter, ok)
	}

	o.recoverFrame("MKT", "orderbook", func() { panic("analyzer exploded again") })
	if got := o.ErrorCount("MKT"); got != 2 {
		t.Fatalf("expected the error count to keep incrementing across panics, got %d", got)
	}
}

func TestRecoverFrameLetsNonPanickingFrameRun(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)

	ran := false
	o.recoverFrame("MKT", "tick", func() { ran = true })

	if !ran {
		t.Fatal("expected a non-panicking frame to run to completion")
	}
	if got := o.ErrorCount("MKT"); got != 0 {
		t.Fatalf("expected no error count increment when the frame didn't panic, got %d", got)
	}
}

func TestUntrackMarketClearsErrorCount(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)
	o.TrackMarket("MKT")
	o.recoverFrame("MKT", "tick", func() { panic("boom") })

	if o.ErrorCount("MKT") == 0 {
		t.Fatal("expected the panic to be recorded before untrack")
	}

	o.UntrackMarket("MKT")
	if got := o.ErrorCount("MKT"); got != 0 {
		t.Fatalf("expected error count to be cleared after untrack, got %d", got)
	}
}

func TestUntrackMarketClearsLatestState(t *testing.T) {
	sink := &recordingSink{}
	o := newTestOrchestrator(sink)
	o.TrackMarket("MKT")
	o.OnOrderbook(book("MKT", 0.49, 100, 0.51, 100))
	if _, ok := o.latestOrderbook["MKT"]; !ok {
		t.Fatal("expected orderbook to be tracked before untrack")
	}

	o.UntrackMarket("MKT")
	if _, ok := o.latestOrderbook["MKT"]; ok {
		t.Fatal("expected latest orderbook state to be cleared after untrack")
	}
}
