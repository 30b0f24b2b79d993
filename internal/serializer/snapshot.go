package serializer

import (
	"sync"

	"github.com/slimeforge/slimekeep/internal/profile"
)

// snapshotCache remembers the last non-empty serialize result per user,
// so a final (pre-exit) serialize that finds zero live entities can fall
// back to it instead of committing an empty field (§4.C "Last-snapshot
// fallback").
type snapshotCache struct {
	mu   sync.Mutex
	data map[int64][]profile.Entry
}

func newSnapshotCache() *snapshotCache {
	return &snapshotCache{data: make(map[int64][]profile.Entry)}
}

func (c *snapshotCache) get(userID int64) ([]profile.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[userID]
	return v, ok
}

func (c *snapshotCache) set(userID int64, entries []profile.Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]profile.Entry, len(entries))
	copy(cp, entries)
	c.data[userID] = cp
}

// dedup drops entries whose idKey value has already been seen, keeping
// the first occurrence (§4.C "Deduplication").
func dedup(entries []profile.Entry, idKey string) []profile.Entry {
	seen := make(map[any]bool, len(entries))
	out := make([]profile.Entry, 0, len(entries))
	for _, e := range entries {
		id, ok := e[idKey]
		if ok {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out = append(out, e)
	}
	return out
}

// truncate caps entries at max, returning the truncated slice and the
// number of entries dropped.
func truncate(entries []profile.Entry, max int) ([]profile.Entry, int) {
	if len(entries) <= max {
		return entries, 0
	}
	return entries[:max], len(entries) - max
}
