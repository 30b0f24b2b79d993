// Package growth is the per-entity, tick-driven Growth Engine (§4.E):
// offline-replay accrual, non-regression of the persisted floor, and
// periodic/micro-threshold save stamping.
package growth

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/events"
	"github.com/slimeforge/slimekeep/internal/liveworld"
)

const bucketCount = 10 // progress buckets at 0.1 granularity

// InventorySyncer is the §4.D collaborator a stamp trigger pushes
// through: serialize the user's live entities into the cached profile.
type InventorySyncer interface {
	UpdateProfileInventory(ctx context.Context, userID int64, overrideEmptyGuard bool)
}

// Engine is the §4.E Growth Engine.
type Engine struct {
	registry *liveworld.Registry
	syncer   InventorySyncer
	bus      *events.Bus
	hook     *MutationHook // nil disables mutation-hook dispatch
	cfg      config.GrowthConfig
	log      *zap.Logger
	now      func() int64

	mu                 sync.Mutex
	offlineAppliedAt   map[liveworld.EntityID]int64
	lastBucket         map[liveworld.EntityID]int
	lastPeriodicStamp  map[liveworld.EntityID]int64
	progressSinceStamp map[liveworld.EntityID]float64
	lastMicroStamp     map[int64]int64 // per-user debounce
	lastDirtyTrigger   map[int64]int64 // per-user debounce for GrowthStampDirty
}

func NewEngine(registry *liveworld.Registry, syncer InventorySyncer, bus *events.Bus, hook *MutationHook, cfg config.GrowthConfig, now func() int64, log *zap.Logger) *Engine {
	e := &Engine{
		registry:           registry,
		syncer:             syncer,
		bus:                bus,
		hook:               hook,
		cfg:                cfg,
		log:                log,
		now:                now,
		offlineAppliedAt:   make(map[liveworld.EntityID]int64),
		lastBucket:         make(map[liveworld.EntityID]int),
		lastPeriodicStamp:  make(map[liveworld.EntityID]int64),
		progressSinceStamp: make(map[liveworld.EntityID]float64),
		lastMicroStamp:     make(map[int64]int64),
		lastDirtyTrigger:   make(map[int64]int64),
	}
	if bus != nil {
		events.Subscribe(bus, e.onGrowthStampDirty)
	}
	return e
}

// Tick processes one growth step for every live slime (world and
// captured). Call at the server's growth tick rate.
func (e *Engine) Tick(ctx context.Context) {
	nowTs := e.now()
	type work struct {
		id liveworld.EntityID
		sl *liveworld.Slime
	}
	var items []work
	e.registry.Slimes.Each(func(id liveworld.EntityID, sl *liveworld.Slime) {
		items = append(items, work{id, sl})
	})
	for _, w := range items {
		e.processSlime(ctx, w.id, w.sl, nowTs)
	}
}

func (e *Engine) processSlime(ctx context.Context, id liveworld.EntityID, sl *liveworld.Slime, nowTs int64) {
	if sl.LastGrowthUpdate == 0 {
		sl.LastGrowthUpdate = nowTs
		return
	}

	delta := nowTs - sl.LastGrowthUpdate
	if delta <= 0 {
		return
	}
	if delta > e.cfg.MaxOfflineSeconds {
		delta = e.cfg.MaxOfflineSeconds
	}
	sl.Age += delta

	gain := e.replay(sl, delta)
	sl.LastGrowthUpdate = nowTs

	e.enforceNonRegression(id, sl, nowTs, delta)
	e.updateScale(sl)
	e.maybeFireMutationHook(id, sl)
	e.maybeStamp(ctx, id, sl, nowTs, gain)
}

// replay integrates a buffered segment (consuming the feed buffer at
// feedMult×hungerMult) followed by a normal segment (hungerMult), per
// §4.E "Offline replay" / "Per-tick mutation" (the same formula covers
// both a large offline delta and a single small tick).
func (e *Engine) replay(sl *liveworld.Slime, delta int64) float64 {
	if sl.UnfedGrowthDuration <= 0 {
		return 0
	}

	remaining := delta
	var gain float64

	if sl.FeedBufferSeconds > 0 && remaining > 0 {
		bufSeg := remaining
		if bufSeg > sl.FeedBufferSeconds {
			bufSeg = sl.FeedBufferSeconds
		}
		speed := sl.FeedSpeedMultiplier * sl.HungerMult
		gain += float64(bufSeg) * speed / sl.UnfedGrowthDuration
		sl.FeedBufferSeconds -= bufSeg
		remaining -= bufSeg
	}

	if remaining > 0 {
		speed := sl.HungerMult
		gain += float64(remaining) * speed / sl.UnfedGrowthDuration
	}

	sl.GrowthProgress += gain
	if sl.GrowthProgress > 1.0 {
		sl.GrowthProgress = 1.0
	} else if sl.GrowthProgress < 0 {
		sl.GrowthProgress = 0
	}
	return gain
}

// enforceNonRegression advances the persisted floor to the new high-water
// mark, then re-raises progress to that floor if it dipped below within
// the second-pass window following the last offline-replay application
// (§4.E "Non-regression").
func (e *Engine) enforceNonRegression(id liveworld.EntityID, sl *liveworld.Slime, nowTs int64, delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasOfflineReplay := delta > 1 // a tick-sized delta is ordinary progress, not a catch-up
	if sl.GrowthProgress > sl.PersistedGrowthProgress {
		sl.PersistedGrowthProgress = sl.GrowthProgress
		if wasOfflineReplay {
			e.offlineAppliedAt[id] = nowTs
		}
		return
	}

	appliedAt, ok := e.offlineAppliedAt[id]
	if !ok {
		return
	}
	if nowTs-appliedAt > int64(e.cfg.SecondPassWindow.Seconds()) {
		delete(e.offlineAppliedAt, id)
		return
	}
	if sl.GrowthProgress < sl.PersistedGrowthProgress {
		sl.GrowthProgress = sl.PersistedGrowthProgress
	}
}

// updateScale recomputes Scale via smoothstep easing over
// [StartScale, MaxScale] (§4.E "Per-tick mutation").
func (e *Engine) updateScale(sl *liveworld.Slime) {
	t := sl.GrowthProgress
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	eased := t * t * (3 - 2*t)
	sl.Scale = sl.StartScale + (sl.MaxScale-sl.StartScale)*eased
}

func (e *Engine) maybeFireMutationHook(id liveworld.EntityID, sl *liveworld.Slime) {
	if e.hook == nil {
		return
	}
	bucket := int(sl.GrowthProgress * bucketCount)
	if bucket > bucketCount {
		bucket = bucketCount
	}

	e.mu.Lock()
	last, seen := e.lastBucket[id]
	e.lastBucket[id] = bucket
	e.mu.Unlock()

	if seen && last == bucket {
		return
	}
	e.hook.OnBucketCrossed(sl, bucket)
}
