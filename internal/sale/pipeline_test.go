package sale

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/kvstore"
	"github.com/slimeforge/slimekeep/internal/ledger"
	"github.com/slimeforge/slimekeep/internal/profile"
)

type fakeLedger struct {
	entries []ledger.Entry
}

func (f *fakeLedger) WriteWAL(ctx context.Context, entries []ledger.Entry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func testCfg() config.SaleConfig {
	return config.SaleConfig{
		MinPayout:           5,
		StandMultMin:        0.5,
		StandMultMax:        1.5,
		ValuePerGrowth:      1.0,
		PreferenceExponent:  1.0,
		StandingGainA:       0.0005,
		StandingGainB:       0.0002,
		StandingGainC:       1.0,
		StandingGainDivisor: 1000,
	}
}

func newTestCacheWithSlimes(t *testing.T, userID int64, coins int64, entries []profile.Entry, standing float64) *profile.Cache {
	t.Helper()
	c := profile.NewCache(kvstore.NewMemStore(), []string{"merchants"}, time.Hour, zap.NewNop())
	ctx := context.Background()
	if _, err := c.GetProfile(ctx, userID); err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	c.SetCoins(userID, coins)
	c.ReplaceInventory(userID, profile.Inventory{CapturedSlimes: entries})
	c.AdjustStanding(userID, "merchants", standing-0.5)
	if done, ok := c.SaveNowAndWait(ctx, userID, time.Second, true); !done || !ok {
		t.Fatalf("seed save did not confirm")
	}
	return c
}

// TestSellTwoSlimes exercises spec.md scenario S1.
func TestSellTwoSlimes(t *testing.T) {
	entries := []profile.Entry{
		{"SlimeId": "T1", "cv": 50.0},
		{"SlimeId": "T2", "cv": 30.0},
	}
	cache := newTestCacheWithSlimes(t, 1, 100, entries, 0.5)
	p := NewPipeline(cache, &fakeLedger{}, nil, nil, testCfg(), time.Second, zap.NewNop())

	res, err := p.Sell(context.Background(), 1, "merchants", []string{"T1", "T2"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if res.TotalPayout != 80 {
		t.Fatalf("totalPayout = %d, want 80", res.TotalPayout)
	}
	if !res.SaveConfirmed {
		t.Fatalf("expected save confirmed")
	}

	prof, err := cache.GetProfile(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.Core.Coins != 180 {
		t.Fatalf("coins = %d, want 180", prof.Core.Coins)
	}
	if len(prof.Inventory.CapturedSlimes) != 0 {
		t.Fatalf("capturedSlimes = %v, want empty", prof.Inventory.CapturedSlimes)
	}
	if res.NewStanding <= 0.5 {
		t.Fatalf("standing = %v, want > 0.5", res.NewStanding)
	}
}

func TestSellDropsNonPositivePayouts(t *testing.T) {
	entries := []profile.Entry{{"SlimeId": "T1", "vb": 0.0, "gp": 0.0}}
	cache := newTestCacheWithSlimes(t, 2, 0, entries, 0.5)
	cfg := testCfg()
	cfg.MinPayout = 0
	p := NewPipeline(cache, nil, nil, nil, cfg, time.Second, zap.NewNop())

	res, err := p.Sell(context.Background(), 2, "merchants", []string{"T1"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if res.TotalPayout != 0 || len(res.Sold) != 0 {
		t.Fatalf("expected no-op sale, got %+v", res)
	}
}

func TestSellIgnoresUnrequestedIDs(t *testing.T) {
	entries := []profile.Entry{
		{"SlimeId": "T1", "cv": 50.0},
		{"SlimeId": "T2", "cv": 30.0},
	}
	cache := newTestCacheWithSlimes(t, 3, 0, entries, 0.5)
	p := NewPipeline(cache, nil, nil, nil, testCfg(), time.Second, zap.NewNop())

	res, err := p.Sell(context.Background(), 3, "merchants", []string{"T1"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if len(res.Sold) != 1 || res.Sold[0] != "T1" {
		t.Fatalf("sold = %v, want [T1]", res.Sold)
	}

	prof, _ := cache.GetProfile(context.Background(), 3)
	if len(prof.Inventory.CapturedSlimes) != 1 || prof.Inventory.CapturedSlimes[0]["SlimeId"] != "T2" {
		t.Fatalf("expected T2 to remain, got %v", prof.Inventory.CapturedSlimes)
	}
}
