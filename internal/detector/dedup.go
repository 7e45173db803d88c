package detector

import (
	"sync"
	"time"

	"github.com/microstructure-engine/internal/signalkind"
)

// Dedup enforces at-most-once emission per (market, signal_type,
// cooldown window) (spec §8 testable property #6).
type Dedup struct {
	mu          sync.Mutex
	cooldowns   map[signalkind.Kind]time.Duration
	lastEmitted map[dedupKey]time.Time
}

type dedupKey struct {
	marketID string
	kind     signalkind.Kind
}

func NewDedup(cooldowns map[signalkind.Kind]time.Duration) *Dedup {
	return &Dedup{
		cooldowns:   cooldowns,
		lastEmitted: make(map[dedupKey]time.Time),
	}
}

// Allow reports whether a signal of this kind for this market may be
// emitted now, given the last emission time and the kind's cooldown.
func (d *Dedup) Allow(marketID string, kind signalkind.Kind, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dedupKey{marketID, kind}
	last, ok := d.lastEmitted[key]
	if !ok {
		return true
	}
	cd := d.cooldowns[kind]
	return now.Sub(last) > cd
}

// Record marks a signal of this kind for this market as emitted at now.
func (d *Dedup) Record(marketID string, kind signalkind.Kind, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastEmitted[dedupKey{marketID, kind}] = now
}
