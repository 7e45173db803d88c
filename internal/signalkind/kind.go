// Package signalkind defines the closed early-signal variant set (spec
// §3, §9 "dynamic dispatch -> tagged variant"). A Signal is a value type
// carrying a Kind tag plus a free-form Metadata bag; sinks pattern-match
// on Kind rather than relying on interface dispatch, generalizing the
// teacher's signals.SignalType (internal/signals/signal.go).
package signalkind

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of early-signal variants (spec §3).
type Kind string

const (
	KindOrderbookImbalance      Kind = "orderbook_imbalance"
	KindSpreadAnomaly            Kind = "spread_anomaly"
	KindMarketMakerWithdrawal    Kind = "market_maker_withdrawal"
	KindMomentumBreakout         Kind = "momentum_breakout"
	KindLiquidityShift           Kind = "liquidity_shift"
	KindNewMarket                Kind = "new_market"
	KindVolumeSpike              Kind = "volume_spike"
	KindPriceMovement            Kind = "price_movement"
	KindUnusualActivity          Kind = "unusual_activity"
	KindAggressiveBuyer          Kind = "aggressive_buyer"
	KindAggressiveSeller         Kind = "aggressive_seller"
	KindIcebergDetected          Kind = "iceberg_detected"
	KindWallBreak                Kind = "wall_break"
	KindLiquidityVacuum          Kind = "liquidity_vacuum"
	KindSmartMoney               Kind = "smart_money"
	KindStopHunt                 Kind = "stop_hunt"
	KindInformationLeak          Kind = "information_leak"
	KindCoordinatedCrossMarket   Kind = "coordinated_cross_market"
	KindOffHoursAnomaly          Kind = "off_hours_anomaly"
	KindStealthAccumulation      Kind = "stealth_accumulation"
	KindMicroPriceDrift          Kind = "micro_price_drift"
	KindFrontRunningDetected     Kind = "front_running_detected"
)

// Severity is the signal urgency tier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TimeHorizon qualifies order-flow signals per spec §4.6.
type TimeHorizon string

const (
	HorizonImmediate TimeHorizon = "immediate"
	HorizonShort     TimeHorizon = "short"
	HorizonMedium    TimeHorizon = "medium"
)

// Signal is the value transferred by copy from analyzers to the sink.
type Signal struct {
	ID          string                 `json:"id"`
	MarketID    string                 `json:"market_id"`
	Kind        Kind                   `json:"kind"`
	TimestampMs int64                  `json:"timestamp_ms"`
	Confidence  float64                `json:"confidence"` // [0,1]
	Severity    Severity               `json:"severity"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// New stamps a fresh signal with a generated id and the given fields.
func New(marketID string, kind Kind, confidence float64, severity Severity, metadata map[string]interface{}) Signal {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return Signal{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		Kind:        kind,
		TimestampMs: time.Now().UnixMilli(),
		Confidence:  clamp01(confidence),
		Severity:    severity,
		Metadata:    metadata,
	}
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

// SeverityFromMagnitude maps a magnitude/threshold ratio onto the
// severity tiers used across every analyzer in spec §4: below 1x the
// threshold is Low, 1x-1.5x Medium, 1.5x-2x High, 2x+ Critical.
func SeverityFromMagnitude(ratio float64) Severity {
	switch {
	case ratio >= 2.0:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
