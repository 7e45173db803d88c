// Package orchestrator wires the analyzer family together (spec §4.10,
// component C10): it owns the tracked-market set, routes each inbound
// tick/orderbook through the correct analyzer chain in dependency
// order, enriches every outgoing signal with the latest indicator and
// orderbook snapshot, and runs periodic housekeeping (stale-market
// eviction, health reporting) until asked to shut down.
//
// Grounded on the teacher's main.go goroutine/WaitGroup wiring and its
// scanner.Scanner housekeeping-ticker pattern, generalized onto the
// C3-C9 analyzer pipeline and switched from sync.WaitGroup to
// golang.org/x/sync/errgroup for the housekeeping goroutine. Analyzer
// panics are recovered per frame (recoverFrame) and do not cancel the
// run.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/microstructure-engine/internal/collaborators"
	"github.com/microstructure-engine/internal/ingestion"
	"github.com/microstructure-engine/internal/market"
	"github.com/microstructure-engine/internal/microstructure/enhanced"
	"github.com/microstructure-engine/internal/microstructure/frontrun"
	"github.com/microstructure-engine/internal/microstructure/orderbook"
	"github.com/microstructure-engine/internal/microstructure/orderflow"
	"github.com/microstructure-engine/internal/microstructure/tick"
	"github.com/microstructure-engine/internal/signalkind"
)

// housekeepingInterval matches spec §4.10's 5-minute perf/cleanup cadence.
const housekeepingInterval = 5 * time.Minute

// Config tunes the orchestrator's housekeeping cadence.
type Config struct {
	HousekeepingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = housekeepingInterval
	}
	return c
}

// Orchestrator is the C10 analyzer-pipeline coordinator.
type Orchestrator struct {
	cfg Config
	log zerolog.Logger

	tickAnalyzer      *tick.Analyzer
	orderbookAnalyzer *orderbook.Analyzer
	enhancedAnalyzer  *enhanced.Analyzer
	flowAnalyzer      *orderflow.Analyzer
	frontrunScorer    *frontrun.Scorer

	sink collaborators.SignalSink

	mu               sync.RWMutex
	latestIndicators map[string]tick.Indicators
	latestOrderbook  map[string]market.Orderbook
	errorCounts      map[string]int64

	tracked map[string]bool
}

// Analyzers bundles the already-constructed C3-C7 components; main.go
// builds each one from live config and hands the bundle here so the
// orchestrator never constructs analyzer config itself.
type Analyzers struct {
	Tick      *tick.Analyzer
	Orderbook *orderbook.Analyzer
	Enhanced  *enhanced.Analyzer
	OrderFlow *orderflow.Analyzer
	FrontRun  *frontrun.Scorer
}

func New(cfg Config, a Analyzers, sink collaborators.SignalSink, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg.withDefaults(),
		log:               log.With().Str("component", "orchestrator").Logger(),
		tickAnalyzer:      a.Tick,
		orderbookAnalyzer: a.Orderbook,
		enhancedAnalyzer:  a.Enhanced,
		flowAnalyzer:      a.OrderFlow,
		frontrunScorer:    a.FrontRun,
		sink:              sink,
		latestIndicators:  make(map[string]tick.Indicators),
		latestOrderbook:   make(map[string]market.Orderbook),
		errorCounts:       make(map[string]int64),
		tracked:           make(map[string]bool),
	}
}

// SetSink replaces the signal sink. Intended to be called once during
// wiring, before Run starts - main.go constructs the Orchestrator
// before the api.Server that becomes part of its own sink, so the sink
// can't be supplied at New time in that one case.
func (o *Orchestrator) SetSink(sink collaborators.SignalSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink = sink
}

// TrackMarket adds marketID to the tracked set. OnTick/OnOrderbook
// silently ignore frames for markets never tracked, matching the
// ingestor's subscribe-then-stream model.
func (o *Orchestrator) TrackMarket(marketID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracked[marketID] = true
}

func (o *Orchestrator) UntrackMarket(marketID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tracked, marketID)
	delete(o.latestIndicators, marketID)
	delete(o.latestOrderbook, marketID)
	delete(o.errorCounts, marketID)
}

func (o *Orchestrator) isTracked(marketID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tracked[marketID]
}

// TrackedMarketIDs returns every currently tracked market id, for the
// API surface's /markets listing.
func (o *Orchestrator) TrackedMarketIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.tracked))
	for id := range o.tracked {
		out = append(out, id)
	}
	return out
}

// LatestIndicators returns the most recent C3 snapshot for marketID.
func (o *Orchestrator) LatestIndicators(marketID string) (tick.Indicators, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ind, ok := o.latestIndicators[marketID]
	return ind, ok
}

// LatestOrderbook returns the most recent book snapshot for marketID.
func (o *Orchestrator) LatestOrderbook(marketID string) (market.Orderbook, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ob, ok := o.latestOrderbook[marketID]
	return ob, ok
}

// ErrorCount returns how many analyzer-chain panics have been caught
// and recovered for marketID (spec §7: "an error counter increments").
func (o *Orchestrator) ErrorCount(marketID string) int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.errorCounts[marketID]
}

// TotalErrors sums ErrorCount across every market that has ever
// recorded one, for a single /health-style rollup figure.
func (o *Orchestrator) TotalErrors() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var total int64
	for _, n := range o.errorCounts {
		total += n
	}
	return total
}

// recoverFrame isolates one inbound frame's analyzer chain: a panic
// anywhere in fn is caught here rather than propagating up through
// errgroup and canceling every other market's processing (spec §7 "Per-
// market analyzer exception: caught at orchestrator boundary; the
// market's ring buffer is preserved; the frame is abandoned; an error
// counter increments"). The analyzer state under fn lives inside
// a.tracker entries keyed by marketID, untouched by an abandoned call,
// so the market resumes cleanly on its next frame.
func (o *Orchestrator) recoverFrame(marketID, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			o.errorCounts[marketID]++
			o.mu.Unlock()
			o.log.Error().
				Str("market_id", marketID).
				Str("stage", stage).
				Interface("panic", r).
				Msg("analyzer chain panicked; frame abandoned, market state preserved")
		}
	}()
	fn()
}

// IngestionHandlers returns the Handlers the Stream Ingestor (C9)
// dispatches decoded frames through.
func (o *Orchestrator) IngestionHandlers() ingestion.Handlers {
	return ingestion.Handlers{
		OnTick:      o.OnTick,
		OnOrderbook: o.OnOrderbook,
	}
}

// OnTick routes one trade print through C3, then emits any resulting
// signals enriched with the latest known indicator snapshot.
func (o *Orchestrator) OnTick(t market.Tick) {
	if !o.isTracked(t.MarketID) {
		return
	}
	o.recoverFrame(t.MarketID, "tick", func() {
		o.flowAnalyzer.RecordTrade(t.MarketID, market.Timestamp(t.TimestampMs), t.Size)
		o.orderbookAnalyzer.RecordTrade(t.MarketID, market.Timestamp(t.TimestampMs), t.Size)

		ind, signals := o.tickAnalyzer.Process(t)
		o.mu.Lock()
		o.latestIndicators[t.MarketID] = ind
		ob := o.latestOrderbook[t.MarketID]
		o.mu.Unlock()

		for _, sig := range enrich(signals, ind, ob) {
			o.sink.OnSignal(sig)
		}
	})
}

// OnOrderbook routes one book snapshot through C4 -> C5 -> C6 in that
// order, then runs C7 off C5's output, enriching every signal along
// the way with the latest indicator and orderbook snapshot and the
// detection timestamp (spec §4.10).
func (o *Orchestrator) OnOrderbook(ob market.Orderbook) {
	if !o.isTracked(ob.MarketID) {
		return
	}
	o.recoverFrame(ob.MarketID, "orderbook", func() {
		o.mu.Lock()
		o.latestOrderbook[ob.MarketID] = ob
		ind := o.latestIndicators[ob.MarketID]
		o.mu.Unlock()

		_, obSignals := o.orderbookAnalyzer.Process(ob)
		enhMetrics, enhSignals := o.enhancedAnalyzer.Process(ob)
		_, flowSignals := o.flowAnalyzer.Process(ob)

		for _, sig := range enrich(obSignals, ind, ob) {
			o.sink.OnSignal(sig)
		}
		for _, sig := range enrich(enhSignals, ind, ob) {
			o.sink.OnSignal(sig)
		}
		for _, sig := range enrich(flowSignals, ind, ob) {
			o.sink.OnMicrostructureSignal(sig)
		}

		result := o.frontrunScorer.Score(enhMetrics, nil)
		if sig, ok := o.frontrunScorer.Signal(result, ob.TimestampMs); ok {
			for _, s := range enrich([]signalkind.Signal{sig}, ind, ob) {
				o.sink.OnSignal(s)
			}
		}
	})
}

// enrich stamps every signal with the detection timestamp and the
// latest indicator/orderbook context (spec §4.10 "every outgoing
// signal is enriched with the latest indicator and orderbook
// snapshot").
func enrich(signals []signalkind.Signal, ind tick.Indicators, ob market.Orderbook) []signalkind.Signal {
	if len(signals) == 0 {
		return signals
	}
	out := make([]signalkind.Signal, len(signals))
	for i, sig := range signals {
		if sig.Metadata == nil {
			sig.Metadata = make(map[string]interface{})
		}
		sig.Metadata["indicator_rsi"] = ind.RSI
		sig.Metadata["indicator_macd_line"] = ind.MACDLine
		if mid, ok := ob.MidPrice(); ok {
			sig.Metadata["orderbook_mid_price"] = mid
		}
		if sig.TimestampMs == 0 {
			sig.TimestampMs = ob.TimestampMs
		}
		out[i] = sig
	}
	return out
}

// Run drives housekeeping until ctx is canceled. Each goroutine in the
// group is supervised by errgroup: the first failure cancels the
// group's context and Run returns that error once all goroutines exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.housekeepingLoop(ctx)
	})
	return g.Wait()
}

func (o *Orchestrator) housekeepingLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			o.houseKeep(now)
		}
	}
}

func (o *Orchestrator) houseKeep(now time.Time) {
	evictedTick := o.tickAnalyzer.CleanupStaleMarkets(now)
	evictedBook := o.orderbookAnalyzer.CleanupStaleMarkets(now)
	evictedEnh := o.enhancedAnalyzer.CleanupStaleMarkets(now)
	evictedFlow := o.flowAnalyzer.CleanupStaleMarkets(now)

	o.log.Info().
		Int("tracked_markets", len(o.TrackedMarketIDs())).
		Int("tick_markets", o.tickAnalyzer.TrackedMarkets()).
		Int("orderbook_markets", o.orderbookAnalyzer.TrackedMarkets()).
		Int("enhanced_markets", o.enhancedAnalyzer.TrackedMarkets()).
		Int("orderflow_markets", o.flowAnalyzer.TrackedMarkets()).
		Int("evicted_stale", evictedTick+evictedBook+evictedEnh+evictedFlow).
		Int64("total_analyzer_panics", o.TotalErrors()).
		Msg("housekeeping: stale market cleanup complete")
}

// Shutdown untracks every market, clearing the orchestrator's own
// per-market state. The analyzers' per-market ring buffers are not
// disposed here.
func (o *Orchestrator) Shutdown() {
	for _, id := range o.TrackedMarketIDs() {
		o.UntrackMarket(id)
	}
}
