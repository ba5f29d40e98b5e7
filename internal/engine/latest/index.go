// Package latest maintains the most recent accepted reading per
// (entity, metric) key.
package latest

import (
	"sync"

	"github.com/facmon/facmon/internal/engine/types"
)

// Index is the latest-value index. Updates follow last-write-wins by
// timestamp: a stored snapshot is replaced only by a strictly newer reading,
// so duplicate and out-of-order delivery are no-ops rather than errors.
//
// Each key owns its own lock; writes to different keys never block each
// other. The key map itself is guarded separately and is only write-locked
// when a key is first seen.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	snap types.LatestSnapshot
}

// New creates an empty index.
func New() *Index {
	return &Index{
		entries: make(map[string]*entry),
	}
}

// Update folds a reading into the index. It returns true if the stored
// snapshot was replaced, false if the reading was not strictly newer.
func (i *Index) Update(r types.Reading) bool {
	key := r.Key()

	i.mu.RLock()
	e := i.entries[key]
	i.mu.RUnlock()

	if e == nil {
		i.mu.Lock()
		e = i.entries[key]
		if e == nil {
			e = &entry{}
			i.entries[key] = e
		}
		i.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap.TimestampMs != 0 && r.TimestampMs <= e.snap.TimestampMs {
		return false
	}

	e.snap = types.LatestSnapshot{
		EntityID:    r.EntityID,
		Metric:      r.Metric,
		Value:       r.Value,
		Unit:        r.Unit,
		TimestampMs: r.TimestampMs,
	}
	return true
}

// Get returns the snapshot for a key. The second return is false when the
// key has never been seen. Get is a pure read with no side effects.
func (i *Index) Get(entityID, metric string) (types.LatestSnapshot, bool) {
	i.mu.RLock()
	e := i.entries[entityID+"/"+metric]
	i.mu.RUnlock()

	if e == nil {
		return types.LatestSnapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap.TimestampMs == 0 {
		return types.LatestSnapshot{}, false
	}
	return e.snap, true
}

// Len returns the number of keys with a stored snapshot.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Snapshots returns a copy of every stored snapshot. Intended for
// observability surfaces, not hot paths.
func (i *Index) Snapshots() []types.LatestSnapshot {
	i.mu.RLock()
	entries := make([]*entry, 0, len(i.entries))
	for _, e := range i.entries {
		entries = append(entries, e)
	}
	i.mu.RUnlock()

	out := make([]types.LatestSnapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.snap.TimestampMs != 0 {
			out = append(out, e.snap)
		}
		e.mu.Unlock()
	}
	return out
}
