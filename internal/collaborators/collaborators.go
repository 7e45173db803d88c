// Package collaborators defines the narrow interfaces the core engine
// talks to at its boundary (spec §6): catalog retrieval, persistence,
// and signal delivery. The core never imports a concrete
// implementation of these - main.go wires them.
package collaborators

import (
	"context"
	"time"

	"github.com/microstructure-engine/internal/signalkind"
)

// MarketSummary is one catalog entry as returned by a CatalogFetcher.
type MarketSummary struct {
	ID             string
	Question       string
	Outcomes       []string
	OutcomePrices  []float64
	VolumeNum      float64
	Active         bool
	Closed         bool
	CreatedAt      *time.Time
	EndDate        *time.Time
	Tags           []string
	Metadata       map[string]interface{}
}

// CatalogFetcher supplies the market catalog snapshot the Signal
// Detector (C8) scans on its check-interval timer.
type CatalogFetcher interface {
	FetchMarkets(ctx context.Context) ([]MarketSummary, error)
}

// SignalSink is the outbound callback pair for emitted signals (spec
// §6): on_signal covers the C3/C4/C5/C7 analyzer signals,
// on_microstructure covers C6 order-flow signals and the C8
// catalog-scan family. Implementations own their own
// rate limiting and formatting; core code does not know about either.
type SignalSink interface {
	OnSignal(signal signalkind.Signal)
	OnMicrostructureSignal(signal signalkind.Signal)
}

// PersistenceWriter is an append-only sink for every record kind the
// engine produces. Core code passes records; the writer owns schema.
type PersistenceWriter interface {
	WriteTick(marketID string, timestampMs int64, price, size float64) error
	WriteOrderbookSnapshot(marketID string, timestampMs int64, bidDepth, askDepth float64) error
	WriteSignal(signal signalkind.Signal) error
	WriteMicrostructureMetrics(marketID string, timestampMs int64, metrics map[string]interface{}) error
	WriteAnomalyScore(marketID string, timestampMs int64, score float64) error
	WriteFrontRunningScore(marketID string, timestampMs int64, score, confidence float64) error
	WriteSignalPerformance(marketID string, kind signalkind.Kind, outcomeRealized bool) error
}
