// Package presync implements the Pre-Exit Sync barrier (§4.F): the
// ordered finalization that runs when a player disconnects, making sure
// the last few ticks of live-world state land in the profile before the
// cache is allowed to evict the user.
package presync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/serializer"
)

// InventoryFinalizer is the optional §4.D collaborator; when present it
// performs the final serialize+apply+verified-save itself (step 7).
type InventoryFinalizer interface {
	FinalizePlayer(ctx context.Context, userID int64, reason string) (ok bool)
}

// GrowthFlusher is the §4.E collaborator invoked before enumeration so the
// resampled live state reflects the final in-session growth tick.
type GrowthFlusher interface {
	FlushPlayerSlimes(userID int64)
}

// Manager runs the Pre-Exit Sync barrier for one user at a time.
type Manager struct {
	registry   *liveworld.Registry
	cache      *profile.Cache
	serializer *serializer.Serializer
	finalizer  InventoryFinalizer // nil falls back to a direct verified save
	growth     GrowthFlusher
	log        *zap.Logger
	now        func() int64

	drainTimeout        time.Duration
	growthSettleWait    time.Duration
	fallbackSaveTimeout time.Duration

	mu     sync.Mutex
	active map[int64]bool
}

func NewManager(registry *liveworld.Registry, cache *profile.Cache, ser *serializer.Serializer, finalizer InventoryFinalizer, growth GrowthFlusher, now func() int64, log *zap.Logger) *Manager {
	return &Manager{
		registry:            registry,
		cache:               cache,
		serializer:          ser,
		finalizer:           finalizer,
		growth:              growth,
		log:                 log,
		now:                 now,
		drainTimeout:        5 * time.Second,
		growthSettleWait:    50 * time.Millisecond,
		fallbackSaveTimeout: 4 * time.Second,
		active:              make(map[int64]bool),
	}
}

// Sync runs the full nine-step barrier for userID on PlayerRemoving.
// Returns true if the final save is confirmed.
func (m *Manager) Sync(ctx context.Context, userID int64) bool {
	m.markActive(userID, true)
	defer m.markActive(userID, false)

	m.cache.AwaitSaveQueue(ctx, userID, m.drainTimeout)

	if m.growth != nil {
		m.growth.FlushPlayerSlimes(userID)
		time.Sleep(m.growthSettleWait)
	}

	profileNow, err := m.cache.GetProfile(ctx, userID)
	if err != nil {
		m.log.Error("presync: load profile failed", zap.Int64("userId", userID), zap.Error(err))
		return false
	}

	live := m.serializer.Serialize(userID, false)
	merged := profile.Inventory{
		WorldSlimes:    overwriteMerge(profileNow.Inventory.WorldSlimes, live.WorldSlimes, "SlimeId"),
		WorldEggs:      conservativeMerge(profileNow.Inventory.WorldEggs, live.WorldEggs, "EggId"),
		EggTools:       conservativeMerge(profileNow.Inventory.EggTools, live.EggTools, "uid"),
		FoodTools:      conservativeMerge(profileNow.Inventory.FoodTools, live.FoodTools, "uid"),
		CapturedSlimes: conservativeMerge(profileNow.Inventory.CapturedSlimes, live.CapturedSlimes, "SlimeId"),
	}
	m.cache.ReplaceInventory(userID, merged)

	var saved bool
	if m.finalizer != nil {
		saved = m.finalizer.FinalizePlayer(ctx, userID, "pre_exit_sync")
	} else {
		_, saved = m.cache.SaveNowAndWait(ctx, userID, m.fallbackSaveTimeout, true)
	}

	if saved {
		m.tagRecentlyPlacedSaved(userID)
	} else {
		m.log.Warn("presync: final save did not confirm", zap.Int64("userId", userID))
	}
	return saved
}

func (m *Manager) markActive(userID int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.active[userID] = true
	} else {
		delete(m.active, userID)
	}
}

// Active reports whether a sync is in progress for userID, useful for
// collaborators that should avoid racing the barrier (e.g. stage
// manager reparent attempts).
func (m *Manager) Active(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[userID]
}

func (m *Manager) tagRecentlyPlacedSaved(userID int64) {
	owner := liveworld.OwnerFromUserID(userID)
	nowTs := m.now()

	for _, id := range m.registry.Slimes.EnumerateByOwner(owner) {
		if sl, ok := m.registry.Slimes.Get(id); ok {
			setExtra(&sl.Extra, "RecentlyPlacedSaved", nowTs)
		}
	}
	for _, id := range m.registry.Eggs.EnumerateByOwner(owner) {
		if eg, ok := m.registry.Eggs.Get(id); ok {
			setExtra(&eg.Extra, "RecentlyPlacedSaved", nowTs)
		}
	}
	for _, id := range m.registry.Tools.EnumerateByOwner(owner) {
		if t, ok := m.registry.Tools.Get(id); ok {
			setExtra(&t.Extra, "RecentlyPlacedSaved", nowTs)
		}
	}
}

func setExtra(extra *map[string]any, key string, value any) {
	if *extra == nil {
		*extra = make(map[string]any)
	}
	(*extra)[key] = value
}

// overwriteMerge is the §4.F step 5 rule: for ids present in both,
// volatile live fields (growth/hunger/pose, and everything else the
// serializer tracks) win over the cached copy; ids only in existing are
// kept untouched; ids only live are appended.
func overwriteMerge(existing, live []profile.Entry, idKey string) []profile.Entry {
	liveByID := indexByID(live, idKey)
	out := make([]profile.Entry, 0, len(existing)+len(live))
	seen := make(map[any]bool, len(live))

	for _, e := range existing {
		id, ok := e[idKey]
		if ok {
			if l, found := liveByID[id]; found {
				out = append(out, l)
				seen[id] = true
				continue
			}
		}
		out = append(out, e)
	}
	for _, l := range live {
		id, ok := l[idKey]
		if ok && seen[id] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// conservativeMerge is the §4.F step 6 rule: empty-adopts, otherwise
// appends only ids the existing slice doesn't already have, never
// dropping an existing entry the live enumeration happened to miss
// (e.g. a tool mid-stage in §4.I).
func conservativeMerge(existing, live []profile.Entry, idKey string) []profile.Entry {
	if len(existing) == 0 {
		return append([]profile.Entry(nil), live...)
	}
	if len(live) == 0 {
		return existing
	}

	existingIDs := make(map[any]bool, len(existing))
	for _, e := range existing {
		if id, ok := e[idKey]; ok {
			existingIDs[id] = true
		}
	}

	out := append([]profile.Entry(nil), existing...)
	for _, l := range live {
		id, ok := l[idKey]
		if ok && existingIDs[id] {
			continue
		}
		out = append(out, l)
	}
	return out
}

func indexByID(entries []profile.Entry, idKey string) map[any]profile.Entry {
	m := make(map[any]profile.Entry, len(entries))
	for _, e := range entries {
		if id, ok := e[idKey]; ok {
			m[id] = e
		}
	}
	return m
}
