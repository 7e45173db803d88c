// Package markettrack implements the per-market lifecycle shared by
// every analyzer in spec §3 "Lifecycle": state is created lazily on
// first tick/orderbook, evicted when stale (max_age) or when the
// tracked set exceeds max_markets (drop least-recently-updated).
// Generalizes the teacher's map-of-pointers-guarded-by-mutex idiom
// (internal/state/engine.go) into a reusable generic container.
package markettrack

import (
	"sync"
	"time"
)

// Tracker holds one S per market, evicting by staleness or by LRU
// capacity. When a value is dropped, Tracker calls the dispose
// function passed to New on it (if that function is non-nil).
type Tracker[S any] struct {
	mu         sync.Mutex
	states     map[string]*entry[S]
	maxAge     time.Duration
	maxMarkets int
	dispose    func(S)
}

type entry[S any] struct {
	state      S
	lastUpdate time.Time
}

// New creates a Tracker. dispose (optional) is invoked on the value
// being evicted so ring-buffer memory is released eagerly.
func New[S any](maxAge time.Duration, maxMarkets int, dispose func(S)) *Tracker[S] {
	if maxMarkets <= 0 {
		maxMarkets = 500
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Tracker[S]{
		states:     make(map[string]*entry[S]),
		maxAge:     maxAge,
		maxMarkets: maxMarkets,
		dispose:    dispose,
	}
}

// GetOrCreate returns the existing state for marketID, or creates one
// via newFn, and marks it as just-updated. It evicts the
// least-recently-updated market if this insertion pushes the tracked
// set over capacity.
func (t *Tracker[S]) GetOrCreate(marketID string, now time.Time, newFn func() S) S {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.states[marketID]
	if !exists {
		e = &entry[S]{state: newFn()}
		t.states[marketID] = e
	}
	e.lastUpdate = now
	if !exists {
		t.evictOverCapacityLocked()
	}
	return e.state
}

// Get returns the state for marketID without creating it.
func (t *Tracker[S]) Get(marketID string) (S, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.states[marketID]
	var zero S
	if !ok {
		return zero, false
	}
	return e.state, true
}

// Touch updates the last-update timestamp for marketID without
// mutating its state.
func (t *Tracker[S]) Touch(marketID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.states[marketID]; ok {
		e.lastUpdate = now
	}
}

// CleanupStale evicts every market whose last update is older than
// maxAge relative to now. Returns the number of markets evicted.
func (t *Tracker[S]) CleanupStale(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-t.maxAge)
	for id, e := range t.states {
		if e.lastUpdate.Before(cutoff) {
			if t.dispose != nil {
				t.dispose(e.state)
			}
			delete(t.states, id)
			evicted++
		}
	}
	return evicted
}

// evictOverCapacityLocked drops the least-recently-updated market(s)
// until the tracked set is back within maxMarkets. Caller must hold mu.
func (t *Tracker[S]) evictOverCapacityLocked() {
	for len(t.states) > t.maxMarkets {
		var oldestID string
		var oldestTime time.Time
		first := true
		for id, e := range t.states {
			if first || e.lastUpdate.Before(oldestTime) {
				oldestID = id
				oldestTime = e.lastUpdate
				first = false
			}
		}
		if oldestID == "" {
			return
		}
		if t.dispose != nil {
			t.dispose(t.states[oldestID].state)
		}
		delete(t.states, oldestID)
	}
}

// Len returns the number of tracked markets.
func (t *Tracker[S]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Contains reports whether marketID is currently tracked.
func (t *Tracker[S]) Contains(marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.states[marketID]
	return ok
}

// DisposeAll evicts every tracked market, invoking dispose on each.
func (t *Tracker[S]) DisposeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dispose != nil {
		for _, e := range t.states {
			t.dispose(e.state)
		}
	}
	t.states = make(map[string]*entry[S])
}
