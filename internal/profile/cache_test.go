package profile

import (
	"context"
	"testing"
	"time"

	"github.com/slimeforge/slimekeep/internal/kvstore"
	"go.uber.org/zap"
)

func newTestCache() *Cache {
	return NewCache(kvstore.NewMemStore(), []string{"merchants", "wardens"}, 10*time.Millisecond, zap.NewNop())
}

func TestGetProfileSeedsDefault(t *testing.T) {
	c := newTestCache()
	p, err := c.GetProfile(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.UserID != 42 {
		t.Fatalf("userId = %d, want 42", p.UserID)
	}
	if p.Stats.Standing["merchants"] != 0.5 {
		t.Fatalf("default standing = %v, want 0.5", p.Stats.Standing["merchants"])
	}
}

func TestIncrementAndSaveRoundTrip(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	if _, err := c.GetProfile(ctx, 7); err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	c.IncrementCoins(7, 100)

	done, ok := c.SaveNowAndWait(ctx, 7, time.Second, false)
	if !done || !ok {
		t.Fatalf("save did not complete: done=%v ok=%v", done, ok)
	}

	c.Evict(7)
	p, err := c.GetProfile(ctx, 7)
	if err != nil {
		t.Fatalf("GetProfile after evict: %v", err)
	}
	if p.Core.Coins != 100 {
		t.Fatalf("coins = %d, want 100", p.Core.Coins)
	}
}

func TestTrySpendCoinsInsufficientFunds(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	c.GetProfile(ctx, 9)
	c.IncrementCoins(9, 10)

	ok, reason := c.TrySpendCoins(9, 50)
	if ok {
		t.Fatalf("expected spend to fail")
	}
	if reason == "" {
		t.Fatalf("expected a reason")
	}

	s := c.getSlot(9)
	s.mu.Lock()
	coins := s.profile.Core.Coins
	s.mu.Unlock()
	if coins != 10 {
		t.Fatalf("coins changed on failed spend: %d", coins)
	}
}

func TestEmptyOverwriteGuardAppliesOnSave(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	c.GetProfile(ctx, 11)
	c.AddInventoryItem(11, FieldFoodTools, "uid", Entry{"uid": "F1"})

	done, ok := c.SaveNowAndWait(ctx, 11, time.Second, false)
	if !done || !ok {
		t.Fatalf("initial save failed: done=%v ok=%v", done, ok)
	}

	// Simulate a buggy caller overwriting the slot's inventory with an
	// empty slice directly, then triggering a save: the guard should
	// restore foodTools from the remote value instead of committing empty.
	s := c.getSlot(11)
	s.mu.Lock()
	s.profile.Inventory.FoodTools = nil
	s.dirty = true
	s.mu.Unlock()

	done, ok = c.SaveNowAndWait(ctx, 11, time.Second, false)
	if !done || !ok {
		t.Fatalf("second save failed: done=%v ok=%v", done, ok)
	}

	c.Evict(11)
	p, err := c.GetProfile(ctx, 11)
	if err != nil {
		t.Fatalf("GetProfile after evict: %v", err)
	}
	if len(p.Inventory.FoodTools) != 1 {
		t.Fatalf("foodTools = %v, want the guard to have restored 1 entry", p.Inventory.FoodTools)
	}
}

func TestAwaitSaveQueueIdleReturnsImmediately(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	c.GetProfile(ctx, 3)
	if !c.AwaitSaveQueue(ctx, 3, 100*time.Millisecond) {
		t.Fatalf("expected idle queue to report done immediately")
	}
}
