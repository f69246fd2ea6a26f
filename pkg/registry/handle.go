// Package registry is the single source of truth for backend existence,
// placement, and lifecycle.
package registry

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/models"
)

// binding pairs a live backend with its metadata. Migration replaces the
// whole binding atomically, so a concurrent Resolve sees either the old
// or the new backend, never a partially migrated one.
type binding struct {
	backend backend.Backend
	meta    *models.BackendMetadata
}

// Handle is a capability-typed reference to one storage unit. Handles are
// shared, immutable references; the backend pointer inside is swapped
// atomically during migration.
type Handle struct {
	id       string
	halfLife time.Duration

	// mu serializes metadata mutation and migration for this backend.
	mu      sync.Mutex
	binding atomic.Pointer[binding]

	// refs counts in-flight operations bound to this backend.
	refs atomic.Int64

	// Decaying access frequency; guarded by mu.
	freq      float64
	lastDecay time.Time
}

// ID returns the backend id.
func (h *Handle) ID() string { return h.id }

// Backend returns the live backend. Lock-free.
func (h *Handle) Backend() backend.Backend {
	return h.binding.Load().backend
}

// Acquire marks an in-flight operation bound to this backend.
func (h *Handle) Acquire() { h.refs.Add(1) }

// Release ends an in-flight operation.
func (h *Handle) Release() { h.refs.Add(-1) }

// InFlight returns the number of operations currently bound.
func (h *Handle) InFlight() int64 { return h.refs.Load() }

// Snapshot returns a copy of the backend's metadata with the access
// frequency decayed to now.
func (h *Handle) Snapshot() models.BackendMetadata {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(time.Now())
}

func (h *Handle) snapshotLocked(now time.Time) models.BackendMetadata {
	meta := *h.binding.Load().meta
	meta.AccessFrequency = h.decayedFreqLocked(now)
	meta.MigrationHistory = append([]models.MigrationRecord(nil), meta.MigrationHistory...)
	meta.IndexStrategies = append([]string(nil), meta.IndexStrategies...)
	meta.Tags = append([]string(nil), meta.Tags...)
	return meta
}

// recordAccess folds one access into the decayed frequency counter.
func (h *Handle) recordAccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freq = h.decayedFreqLocked(now) + 1
	h.lastDecay = now
	h.binding.Load().meta.AccessFrequency = h.freq
}

// accessFrequency returns the frequency decayed to now.
func (h *Handle) accessFrequency(now time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.decayedFreqLocked(now)
}

func (h *Handle) decayedFreqLocked(now time.Time) float64 {
	if h.freq == 0 || h.halfLife <= 0 {
		return h.freq
	}
	elapsed := now.Sub(h.lastDecay)
	if elapsed <= 0 {
		return h.freq
	}
	return h.freq * math.Pow(0.5, elapsed.Seconds()/h.halfLife.Seconds())
}

// BumpLoad adjusts the optimistic load estimate. The router bumps this
// before the routed operation completes to avoid herding under bursty
// concurrent routing; the monitor overwrites it with real stats.
func (h *Handle) BumpLoad(delta int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta := h.binding.Load().meta
	meta.Metrics.ActiveConnections += delta
	if meta.Metrics.ActiveConnections < 0 {
		meta.Metrics.ActiveConnections = 0
	}
}

// updateMeta applies fn to the metadata under the handle lock.
func (h *Handle) updateMeta(fn func(*models.BackendMetadata)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta := h.binding.Load().meta
	fn(meta)
	meta.UpdatedAt = time.Now().UTC()
}
