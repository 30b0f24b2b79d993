package faction

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/kvstore"
)

type fakeCoins struct {
	credited map[int64]int64
}

func (f *fakeCoins) IncrementCoins(userID int64, delta int64) {
	if f.credited == nil {
		f.credited = make(map[int64]int64)
	}
	f.credited[userID] += delta
}

func (f *fakeCoins) SaveNowAndWait(ctx context.Context, userID int64, timeout time.Duration, overrideEmptyGuard bool) (bool, bool) {
	return true, true
}

type fakeNotifier struct {
	calls []float64
}

func (n *fakeNotifier) NotifyFactionTotal(faction string, total float64) {
	n.calls = append(n.calls, total)
}

func testCfg() config.FactionConfig {
	return config.FactionConfig{
		MaxUnflushedDelta: 1000,
		FlushInterval:     time.Hour,
		FlushRetries:      3,
		FlushBaseDelay:    time.Millisecond,
		UpdatesTopic:      "FactionTotalsUpdateV1",
	}
}

func TestAddPayoutRejectsNonPositiveAmount(t *testing.T) {
	tot := NewTotals(nil, kvstore.NewMemStore(), nil, nil, testCfg(), func() int64 { return 1 }, zap.NewNop())
	if err := tot.AddPayout(context.Background(), "guild", 0, 0, false); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
	if err := tot.AddPayout(context.Background(), "", 5, 0, false); err == nil {
		t.Fatalf("expected error for empty faction")
	}
}

func TestAddPayoutAccumulatesAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	tot := NewTotals(nil, kvstore.NewMemStore(), nil, notifier, testCfg(), func() int64 { return 1 }, zap.NewNop())

	if err := tot.AddPayout(context.Background(), "guild", 10, 0, false); err != nil {
		t.Fatalf("AddPayout: %v", err)
	}
	if err := tot.AddPayout(context.Background(), "guild", 5, 0, false); err != nil {
		t.Fatalf("AddPayout: %v", err)
	}
	if tot.Total("guild") != 15 {
		t.Fatalf("expected total 15, got %v", tot.Total("guild"))
	}
	if len(notifier.calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.calls))
	}
}

func TestAddPayoutCreditsAttributedUser(t *testing.T) {
	coins := &fakeCoins{}
	tot := NewTotals(nil, kvstore.NewMemStore(), coins, nil, testCfg(), func() int64 { return 1 }, zap.NewNop())

	if err := tot.AddPayout(context.Background(), "guild", 25, 42, true); err != nil {
		t.Fatalf("AddPayout: %v", err)
	}
	if coins.credited[42] != 25 {
		t.Fatalf("expected user 42 credited 25, got %v", coins.credited[42])
	}
}

func TestFlushConvergesAndResetsDirtyDelta(t *testing.T) {
	store := kvstore.NewMemStore()
	tot := NewTotals(nil, store, nil, nil, testCfg(), func() int64 { return 1 }, zap.NewNop())

	if err := tot.AddPayout(context.Background(), "guild", 40, 0, false); err != nil {
		t.Fatalf("AddPayout: %v", err)
	}
	if err := tot.Flush(context.Background(), "guild"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tot.Total("guild") != 40 {
		t.Fatalf("expected converged total 40, got %v", tot.Total("guild"))
	}

	raw, exists, err := store.Load(context.Background(), totalKey("guild"))
	if err != nil || !exists {
		t.Fatalf("expected remote total stored, exists=%v err=%v", exists, err)
	}
	if string(raw) != "40" {
		t.Fatalf("expected remote value 40, got %s", raw)
	}
}

func TestAddPayoutFlushesImmediatelyWhenThresholdCrossed(t *testing.T) {
	store := kvstore.NewMemStore()
	cfg := testCfg()
	cfg.MaxUnflushedDelta = 10
	tot := NewTotals(nil, store, nil, nil, cfg, func() int64 { return 1 }, zap.NewNop())

	if err := tot.AddPayout(context.Background(), "guild", 12, 0, false); err != nil {
		t.Fatalf("AddPayout: %v", err)
	}

	_, exists, err := store.Load(context.Background(), totalKey("guild"))
	if err != nil || !exists {
		t.Fatalf("expected immediate flush to have written remote total, exists=%v err=%v", exists, err)
	}
}

func TestSubscribeAppliesMonotonicMax(t *testing.T) {
	tot := NewTotals(nil, kvstore.NewMemStore(), nil, nil, testCfg(), func() int64 { return 1 }, zap.NewNop())
	tot.Subscribe(Update{Faction: "guild", Total: 100})
	if tot.Total("guild") != 100 {
		t.Fatalf("expected total raised to 100, got %v", tot.Total("guild"))
	}
	tot.Subscribe(Update{Faction: "guild", Total: 50})
	if tot.Total("guild") != 100 {
		t.Fatalf("expected total to stay at 100 (monotonic max), got %v", tot.Total("guild"))
	}
}
