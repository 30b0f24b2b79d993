package growth

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/events"
	"github.com/slimeforge/slimekeep/internal/liveworld"
)

type fakeSyncer struct {
	calls []int64
}

func (f *fakeSyncer) UpdateProfileInventory(ctx context.Context, userID int64, overrideEmptyGuard bool) {
	f.calls = append(f.calls, userID)
}

func testCfg() config.GrowthConfig {
	return config.GrowthConfig{
		MaxOfflineSeconds:       3600,
		TimestampUpdateInterval: 1000000 * time.Second, // effectively disabled after the first seeding stamp
		MicroStampThreshold:     0.02,
		MicroStampDebounce:      0,
		SecondPassWindow:        30 * time.Second,
	}
}

func newTestEngine(nowFn func() int64) (*Engine, *liveworld.Registry, *fakeSyncer) {
	reg := liveworld.NewRegistry()
	syncer := &fakeSyncer{}
	e := NewEngine(reg, syncer, events.NewBus(), nil, testCfg(), nowFn, zap.NewNop())
	return e, reg, syncer
}

func TestProcessSlimeAccruesGrowthOverDelta(t *testing.T) {
	now := int64(1000)
	e, reg, _ := newTestEngine(func() int64 { return now })

	owner := liveworld.OwnerFromUserID(42)
	sl := &liveworld.Slime{
		SlimeID:             "s1",
		OwnerID:             owner,
		UnfedGrowthDuration: 100,
		HungerMult:          1.0,
		StartScale:          1.0,
		MaxScale:            2.0,
		LastGrowthUpdate:    now,
	}
	id := liveworld.NewEntityID(1, 1)
	reg.Slimes.Set(id, owner, sl)

	now = 1050
	e.processSlime(context.Background(), id, sl, now)

	if sl.GrowthProgress <= 0 {
		t.Fatalf("expected growth progress to advance, got %v", sl.GrowthProgress)
	}
	if sl.PersistedGrowthProgress != sl.GrowthProgress {
		t.Fatalf("expected persisted floor to match: got %v vs %v", sl.PersistedGrowthProgress, sl.GrowthProgress)
	}
	if sl.Scale <= sl.StartScale {
		t.Fatalf("expected scale to have grown from start scale")
	}
}

func TestOfflineReplayClampsToMaxOffline(t *testing.T) {
	now := int64(100000)
	e, reg, _ := newTestEngine(func() int64 { return now })

	owner := liveworld.OwnerFromUserID(1)
	sl := &liveworld.Slime{
		SlimeID:             "s2",
		OwnerID:             owner,
		UnfedGrowthDuration: 100,
		HungerMult:          1.0,
		LastGrowthUpdate:    0, // first tick just seeds LastGrowthUpdate
	}
	id := liveworld.NewEntityID(2, 1)
	reg.Slimes.Set(id, owner, sl)

	e.processSlime(context.Background(), id, sl, now)
	if sl.LastGrowthUpdate != now {
		t.Fatalf("expected first tick to seed LastGrowthUpdate")
	}
	if sl.GrowthProgress != 0 {
		t.Fatalf("expected no growth applied on seeding tick")
	}

	veryLater := now + 1_000_000
	e.processSlime(context.Background(), id, sl, veryLater)

	expectedDelta := float64(e.cfg.MaxOfflineSeconds) / sl.UnfedGrowthDuration
	if sl.GrowthProgress > expectedDelta+0.001 {
		t.Fatalf("expected growth to be clamped by max offline seconds, got %v want <= %v", sl.GrowthProgress, expectedDelta)
	}
}

func TestNonRegressionReRaisesWithinSecondPassWindow(t *testing.T) {
	now := int64(1000)
	e, reg, _ := newTestEngine(func() int64 { return now })

	owner := liveworld.OwnerFromUserID(7)
	sl := &liveworld.Slime{
		SlimeID:             "s3",
		OwnerID:             owner,
		UnfedGrowthDuration: 10,
		HungerMult:          1.0,
		LastGrowthUpdate:    now,
	}
	id := liveworld.NewEntityID(3, 1)
	reg.Slimes.Set(id, owner, sl)

	now = 1100 // large delta triggers an offline-replay classification
	e.processSlime(context.Background(), id, sl, now)
	floor := sl.PersistedGrowthProgress
	if floor <= 0 {
		t.Fatalf("expected a positive persisted floor after offline replay")
	}

	sl.GrowthProgress = floor / 2

	now = 1110
	e.enforceNonRegression(id, sl, now, 1)

	if sl.GrowthProgress != floor {
		t.Fatalf("expected progress re-raised to floor %v, got %v", floor, sl.GrowthProgress)
	}
}

func TestMaybeStampFiresOnMicroThreshold(t *testing.T) {
	now := int64(1000)
	e, reg, syncer := newTestEngine(func() int64 { return now })

	owner := liveworld.OwnerFromUserID(9)
	sl := &liveworld.Slime{
		SlimeID:             "s4",
		OwnerID:             owner,
		UnfedGrowthDuration: 10,
		HungerMult:          1.0,
		LastGrowthUpdate:    now,
	}
	id := liveworld.NewEntityID(4, 1)
	reg.Slimes.Set(id, owner, sl)

	now = 1001 // 1 second of progress at duration 10 -> 0.1 gain, over threshold 0.02
	e.processSlime(context.Background(), id, sl, now)

	if len(syncer.calls) != 1 {
		t.Fatalf("expected exactly one UpdateProfileInventory call, got %d", len(syncer.calls))
	}
	if syncer.calls[0] != 9 {
		t.Fatalf("expected call for userId 9, got %d", syncer.calls[0])
	}
}

func TestOnGrowthStampDirtyDebouncesPerUser(t *testing.T) {
	now := int64(5000)
	e, _, syncer := newTestEngine(func() int64 { return now })
	e.cfg.MicroStampDebounce = 10 * time.Second

	e.onGrowthStampDirty(events.GrowthStampDirty{UserID: 3, Reason: "feed"})
	e.onGrowthStampDirty(events.GrowthStampDirty{UserID: 3, Reason: "feed-again"})

	if len(syncer.calls) != 1 {
		t.Fatalf("expected debounce to collapse second trigger, got %d calls", len(syncer.calls))
	}

	now = 5020
	e.onGrowthStampDirty(events.GrowthStampDirty{UserID: 3, Reason: "feed-later"})
	if len(syncer.calls) != 2 {
		t.Fatalf("expected trigger after debounce window to fire, got %d calls", len(syncer.calls))
	}
}

func TestFlushPlayerSlimesProcessesOwnedSlimesOnly(t *testing.T) {
	now := int64(2000)
	e, reg, syncer := newTestEngine(func() int64 { return now })

	owner := liveworld.OwnerFromUserID(5)
	other := liveworld.OwnerFromUserID(6)

	mine := &liveworld.Slime{SlimeID: "mine", OwnerID: owner, UnfedGrowthDuration: 10, HungerMult: 1, LastGrowthUpdate: now - 5}
	theirs := &liveworld.Slime{SlimeID: "theirs", OwnerID: other, UnfedGrowthDuration: 10, HungerMult: 1, LastGrowthUpdate: now - 5}

	reg.Slimes.Set(liveworld.NewEntityID(10, 1), owner, mine)
	reg.Slimes.Set(liveworld.NewEntityID(11, 1), other, theirs)

	e.FlushPlayerSlimes(5)

	if mine.GrowthProgress <= 0 {
		t.Fatalf("expected owned slime to accrue growth")
	}
	if theirs.GrowthProgress != 0 {
		t.Fatalf("expected other user's slime to be untouched")
	}
	// One call from the slime's first (periodic) stamp, one from the
	// pre_leave_flush GrowthStampDirty event handled synchronously on the bus.
	if len(syncer.calls) != 2 || syncer.calls[0] != 5 || syncer.calls[1] != 5 {
		t.Fatalf("expected exactly two sync calls, both for userId 5, got %v", syncer.calls)
	}
}
