package inventory

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

type noopGrowth struct{ flushed []int64 }

func (g *noopGrowth) FlushPlayerSlimes(userID int64) { g.flushed = append(g.flushed, userID) }

func newTestService() (*Service, *profile.Cache, *noopGrowth) {
	log := zap.NewNop()
	cache := profile.NewCache(kvstore.NewMemStore(), nil, 5*time.Millisecond, log)
	registry := liveworld.NewRegistry()
	ser := serializer.New(registry, nil, serializer.Tables{}, liveworld.HatchPreserveOriginal, func() int64 { return 1000 }, log)
	growth := &noopGrowth{}
	svc := NewService(cache, ser, growth, time.Second, log)
	return svc, cache, growth
}

func TestAddAndRemoveInventoryItem(t *testing.T) {
	svc, cache, _ := newTestService()
	ctx := context.Background()
	cache.GetProfile(ctx, 1)

	svc.AddInventoryItem(1, profile.FieldFoodTools, "uid", profile.Entry{"uid": "F1"})
	svc.AddInventoryItem(1, profile.FieldFoodTools, "uid", profile.Entry{"uid": "F1"}) // duplicate, should not double

	p, _ := cache.GetProfile(ctx, 1)
	if len(p.Inventory.FoodTools) != 1 {
		t.Fatalf("expected 1 food tool after dedup add, got %d", len(p.Inventory.FoodTools))
	}

	svc.RemoveInventoryItem(1, profile.FieldFoodTools, "uid", "F1")
	p, _ = cache.GetProfile(ctx, 1)
	if len(p.Inventory.FoodTools) != 0 {
		t.Fatalf("expected 0 food tools after remove, got %d", len(p.Inventory.FoodTools))
	}
}

func TestEnsureEntryHasIdBackfillsMissingKeysOnly(t *testing.T) {
	svc, cache, _ := newTestService()
	ctx := context.Background()
	cache.GetProfile(ctx, 2)
	svc.AddInventoryItem(2, profile.FieldFoodTools, "uid", profile.Entry{"uid": "F1", "fid": "apple"})

	svc.EnsureEntryHasId(2, profile.FieldFoodTools, "uid", "F1", profile.Entry{"fid": "banana", "rf": 0.5})

	p, _ := cache.GetProfile(ctx, 2)
	e := p.Inventory.FoodTools[0]
	if e["fid"] != "apple" {
		t.Fatalf("expected existing fid to survive backfill, got %v", e["fid"])
	}
	if e["rf"] != 0.5 {
		t.Fatalf("expected missing key rf to be backfilled, got %v", e["rf"])
	}
}

func TestFinalizePlayerFlushesGrowthAndSaves(t *testing.T) {
	svc, cache, growth := newTestService()
	ctx := context.Background()
	cache.GetProfile(ctx, 3)

	if !svc.FinalizePlayer(ctx, 3, "disconnect") {
		t.Fatalf("expected finalizePlayer to succeed")
	}
	if len(growth.flushed) != 1 || growth.flushed[0] != 3 {
		t.Fatalf("expected growth flush for user 3, got %v", growth.flushed)
	}
}
