package spreadutil

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

// S1 — Discord spread case: bid=0.011, ask=0.038.
func TestDiscordSpreadCase(t *testing.T) {
	spread := 0.038 - 0.011
	if !approxEqual(spread, 0.027, 1e-9) {
		t.Fatalf("spread = %v, want 0.027", spread)
	}
	if bps := BPS(spread); !approxEqual(bps, 270, 0.5) {
		t.Fatalf("bps = %v, want ~270", bps)
	}
	if pct := Percent(spread); !approxEqual(pct, 2.7, 1e-9) {
		t.Fatalf("percent = %v, want 2.7", pct)
	}
	if tt := Tightness(spread, 0); !approxEqual(tt, 0.73, 0.005) {
		t.Fatalf("tightness = %v, want ~0.73", tt)
	}
}

// S2 — spread-level independence: equal ask-bid at different price
// levels must produce equal spread_bps up to float epsilon.
func TestSpreadLevelIndependence(t *testing.T) {
	cases := [][2]float64{{0.10, 0.15}, {0.45, 0.50}, {0.85, 0.90}}
	var prev float64
	for i, c := range cases {
		spread := c[1] - c[0]
		bps := BPS(spread)
		if !approxEqual(bps, 500, 1e-6) {
			t.Fatalf("case %d: bps = %v, want ~500", i, bps)
		}
		if i > 0 && !approxEqual(bps, prev, 1e-6) {
			t.Fatalf("case %d: bps %v differs from previous %v by more than 1bp", i, bps, prev)
		}
		prev = bps
	}
}

func TestTightnessClamped(t *testing.T) {
	if got := Tightness(1.0, 1000); got != 0 {
		t.Fatalf("Tightness(1.0) = %v, want 0 (clamped)", got)
	}
	if got := Tightness(0, 1000); got != 1 {
		t.Fatalf("Tightness(0) = %v, want 1", got)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	if err := Validate(-0.01); err == nil {
		t.Fatal("expected error for negative spread")
	}
	if err := Validate(1.01); err == nil {
		t.Fatal("expected error for spread > 1")
	}
	if err := Validate(0.05); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
