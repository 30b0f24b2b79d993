package presync

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/kvstore"
	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/serializer"
)

type fakeFactory struct{ next uint32 }

func (f *fakeFactory) SpawnSlime(tpl string, owner liveworld.EntityID) (*liveworld.Slime, liveworld.EntityID) {
	f.next++
	return &liveworld.Slime{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}
func (f *fakeFactory) SpawnEgg(tpl string, owner liveworld.EntityID) (*liveworld.Egg, liveworld.EntityID) {
	f.next++
	return &liveworld.Egg{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}
func (f *fakeFactory) SpawnTool(tpl string, owner liveworld.EntityID) (*liveworld.Tool, liveworld.EntityID) {
	f.next++
	return &liveworld.Tool{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}

type noopGrowth struct{ flushed []int64 }

func (g *noopGrowth) FlushPlayerSlimes(userID int64) { g.flushed = append(g.flushed, userID) }

func newTestManager(t *testing.T) (*Manager, *liveworld.Registry, *profile.Cache) {
	t.Helper()
	reg := liveworld.NewRegistry()
	log := zap.NewNop()
	ser := serializer.New(reg, &fakeFactory{}, serializer.Tables{}, liveworld.HatchPreserveOriginal, func() int64 { return 1000 }, log)
	cache := profile.NewCache(kvstore.NewMemStore(), []string{"guild"}, 10*time.Millisecond, log)
	mgr := NewManager(reg, cache, ser, nil, &noopGrowth{}, func() int64 { return 1000 }, log)
	return mgr, reg, cache
}

func TestSyncOverwritesWorldSlimeVolatileFields(t *testing.T) {
	ctx := context.Background()
	mgr, reg, cache := newTestManager(t)

	if _, err := cache.GetProfile(ctx, 1); err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	cache.AddInventoryItem(1, profile.FieldWorldSlimes, "SlimeId", profile.Entry{
		"SlimeId": "s1", "gp": 0.1, "tpl": "basic_slime",
	})

	owner := liveworld.OwnerFromUserID(1)
	reg.Slimes.Set(liveworld.NewEntityID(1, 0), owner, &liveworld.Slime{
		SlimeID: "s1", OwnerID: owner, GrowthProgress: 0.9, Template: "basic_slime",
	})

	ok := mgr.Sync(ctx, 1)
	if !ok {
		t.Fatalf("expected sync to report success")
	}

	p, err := cache.GetProfile(ctx, 1)
	if err != nil {
		t.Fatalf("GetProfile after sync: %v", err)
	}
	if len(p.Inventory.WorldSlimes) != 1 {
		t.Fatalf("expected 1 world slime, got %d", len(p.Inventory.WorldSlimes))
	}
	if p.Inventory.WorldSlimes[0]["gp"] != 0.9 {
		t.Fatalf("expected live growth progress to overwrite cached value, got %v", p.Inventory.WorldSlimes[0]["gp"])
	}
}

func TestSyncConservativeMergeKeepsEntriesLiveMissed(t *testing.T) {
	ctx := context.Background()
	mgr, _, cache := newTestManager(t)

	if _, err := cache.GetProfile(ctx, 2); err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	cache.AddInventoryItem(2, profile.FieldFoodTools, "uid", profile.Entry{"uid": "t1", "fid": "berry"})

	ok := mgr.Sync(ctx, 2)
	if !ok {
		t.Fatalf("expected sync to succeed")
	}

	p, err := cache.GetProfile(ctx, 2)
	if err != nil {
		t.Fatalf("GetProfile after sync: %v", err)
	}
	if len(p.Inventory.FoodTools) != 1 || p.Inventory.FoodTools[0]["uid"] != "t1" {
		t.Fatalf("expected the staged-tool entry to survive the conservative merge, got %+v", p.Inventory.FoodTools)
	}
}

func TestSyncTagsRecentlyPlacedSavedOnSuccess(t *testing.T) {
	ctx := context.Background()
	mgr, reg, cache := newTestManager(t)

	if _, err := cache.GetProfile(ctx, 3); err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	owner := liveworld.OwnerFromUserID(3)
	tool := &liveworld.Tool{UID: "tool1", OwnerID: owner}
	reg.Tools.Set(liveworld.NewEntityID(1, 0), owner, tool)

	if ok := mgr.Sync(ctx, 3); !ok {
		t.Fatalf("expected sync success")
	}
	if tool.Extra == nil || tool.Extra["RecentlyPlacedSaved"] != int64(1000) {
		t.Fatalf("expected RecentlyPlacedSaved tag, got %+v", tool.Extra)
	}
}

func TestOverwriteMergeAppendsNewLiveIDs(t *testing.T) {
	existing := []profile.Entry{{"SlimeId": "a", "gp": 0.1}}
	live := []profile.Entry{{"SlimeId": "a", "gp": 0.9}, {"SlimeId": "b", "gp": 0.2}}

	out := overwriteMerge(existing, live, "SlimeId")
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
}

func TestConservativeMergeAdoptsWhenProfileEmpty(t *testing.T) {
	out := conservativeMerge(nil, []profile.Entry{{"EggId": "e1"}}, "EggId")
	if len(out) != 1 {
		t.Fatalf("expected live entries adopted when profile empty, got %d", len(out))
	}
}

func TestConservativeMergeKeepsProfileWhenLiveEmpty(t *testing.T) {
	existing := []profile.Entry{{"EggId": "e1"}}
	out := conservativeMerge(existing, nil, "EggId")
	if len(out) != 1 || out[0]["EggId"] != "e1" {
		t.Fatalf("expected existing retained when live empty, got %+v", out)
	}
}
