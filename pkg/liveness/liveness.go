// Package liveness tracks the most recent config request seen from
// each node, the liveness signal the failer's Phase A and Phase B
// consult. The reference orchestrator tracks a
// similar per-entity signal in worker.HealthMonitor's monitors map;
// this package keeps the same map-plus-mutex shape but drops the
// goroutine-per-entity scheduling since there's nothing to poll here,
// only heartbeats to record as they arrive.
package liveness

import (
	"sync"
	"time"
)

// Tracker reports when a hostname was last seen making a config
// request, the signal the failer uses to decide whether a node is
// dead.
type Tracker interface {
	// LastRequestFrom returns the instant of the most recent request
	// recorded for hostname, and false if none has ever been recorded.
	LastRequestFrom(hostname string) (time.Time, bool)
}

// Recorder is the write side of a Tracker: whatever terminates the
// config-request RPC calls RecordRequest once per request.
type Recorder interface {
	RecordRequest(hostname string, at time.Time)
}

// InMemoryTracker is a process-local Tracker/Recorder backed by a
// guarded map, the shape the reference orchestrator uses for its
// per-container health monitors.
type InMemoryTracker struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewInMemoryTracker returns an empty tracker.
func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{seen: make(map[string]time.Time)}
}

func (t *InMemoryTracker) RecordRequest(hostname string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.seen[hostname]; ok && prev.After(at) {
		return
	}
	t.seen[hostname] = at
}

func (t *InMemoryTracker) LastRequestFrom(hostname string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.seen[hostname]
	return at, ok
}

// Forget drops hostname's recorded liveness, used once a node is
// removed from the repository so the tracker doesn't grow without
// bound.
func (t *InMemoryTracker) Forget(hostname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, hostname)
}

var _ Tracker = (*InMemoryTracker)(nil)
var _ Recorder = (*InMemoryTracker)(nil)
