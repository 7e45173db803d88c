// Package spreadutil provides canonical, price-level-independent
// conversions between decimal spread, basis points, percent and
// tightness (spec §4.2). None of these may divide by mid_price or
// best_ask: a spread of 0.027 means the same thing whether the
// underlying probability sits near 0.01 or near 0.90.
package spreadutil

import (
	"fmt"
	"math"
)

const DefaultMaxBps = 1000.0

// ErrInvalidSpread signals a spread outside the valid [0,1] decimal range.
type ErrInvalidSpread struct {
	Spread float64
}

func (e ErrInvalidSpread) Error() string {
	return fmt.Sprintf("spreadutil: spread %v out of range [0,1]", e.Spread)
}

// Validate rejects spread < 0 or spread > 1.
func Validate(spread float64) error {
	if spread < 0 || spread > 1 {
		return ErrInvalidSpread{Spread: spread}
	}
	return nil
}

// BPS converts a decimal spread to basis points (1 bp = 0.0001).
func BPS(spread float64) float64 {
	return spread * 10000
}

// Percent converts a decimal spread to percent.
func Percent(spread float64) float64 {
	return spread * 100
}

// Tightness is 1 - bps/maxBps, clamped to [0,1]. maxBps <= 0 uses the
// default of 1000.
func Tightness(spread float64, maxBps float64) float64 {
	if maxBps <= 0 {
		maxBps = DefaultMaxBps
	}
	t := 1 - BPS(spread)/maxBps
	return clamp01(t)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
