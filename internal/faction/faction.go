// Package faction implements the per-shard Faction Totals aggregator
// (§4.G): in-memory running totals, batched remote flush, and cross-shard
// convergence over Redis Pub/Sub.
package faction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/kvstore"
	"github.com/slimeforge/slimekeep/internal/ledger"
)

// CoinCrediter is the §4.B collaborator used to attribute a payout to a
// specific player.
type CoinCrediter interface {
	IncrementCoins(userID int64, delta int64)
	SaveNowAndWait(ctx context.Context, userID int64, timeout time.Duration, overrideEmptyGuard bool) (done, ok bool)
}

// Update is the cross-shard wire message for topic FactionTotalsUpdateV1.
type Update struct {
	Faction string  `json:"faction"`
	Total   float64 `json:"total"`
	Ts      int64   `json:"ts"`
}

// LocalNotifier fans a local total change out to all clients on this
// shard; concrete UI/transport wiring is out of scope here.
type LocalNotifier interface {
	NotifyFactionTotal(faction string, total float64)
}

// Ledger is the economic WAL collaborator: an attributed payout is
// recorded there before the coin credit lands in the profile cache, the
// same write-before-effect ordering the sale pipeline uses (§4.H, §9).
type Ledger interface {
	WriteWAL(ctx context.Context, entries []ledger.Entry) error
}

// Totals is the §4.G Faction Totals aggregator.
type Totals struct {
	redis    *redis.Client
	store    kvstore.Store
	coins    CoinCrediter
	notifier LocalNotifier
	ledger   Ledger
	cfg      config.FactionConfig
	log      *zap.Logger
	now      func() int64

	mu         sync.Mutex
	total      map[string]float64
	dirtyDelta map[string]float64
}

func NewTotals(redisClient *redis.Client, store kvstore.Store, coins CoinCrediter, notifier LocalNotifier, cfg config.FactionConfig, now func() int64, log *zap.Logger) *Totals {
	return &Totals{
		redis:      redisClient,
		store:      store,
		coins:      coins,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		now:        now,
		total:      make(map[string]float64),
		dirtyDelta: make(map[string]float64),
	}
}

func totalKey(faction string) string { return fmt.Sprintf("FactionTotal_%s", faction) }

// SetLedger attaches the economic WAL. Optional: a nil ledger just skips
// the write-ahead record, degrading gracefully per §7 "missing
// collaborator" (faction totals runs fine without per-player
// attribution bookkeeping beyond the in-memory totals).
func (t *Totals) SetLedger(l Ledger) { t.ledger = l }

// AddPayout validates and applies a payout: bump local total/dirtyDelta,
// fan out locally, publish cross-shard, optionally credit an attributed
// user, and flush immediately if the unflushed delta crosses the
// configured threshold (§4.G).
func (t *Totals) AddPayout(ctx context.Context, faction string, amount float64, userID int64, attributed bool) error {
	if faction == "" {
		return fmt.Errorf("faction: empty faction name")
	}
	if amount <= 0 {
		return fmt.Errorf("faction: non-positive payout amount %v", amount)
	}

	t.mu.Lock()
	t.total[faction] += amount
	t.dirtyDelta[faction] += amount
	newTotal := t.total[faction]
	flushDue := t.dirtyDelta[faction] >= t.cfg.MaxUnflushedDelta
	t.mu.Unlock()

	if t.notifier != nil {
		t.notifier.NotifyFactionTotal(faction, newTotal)
	}
	t.publish(ctx, faction, newTotal)

	if attributed && t.coins != nil {
		if t.ledger != nil {
			if err := t.ledger.WriteWAL(ctx, []ledger.Entry{{
				TxType:  "faction_payout",
				UserID:  userID,
				Faction: faction,
				Amount:  int64(amount),
				Detail:  "add_payout",
			}}); err != nil {
				t.log.Error("faction payout ledger write failed", zap.Int64("userId", userID), zap.Error(err))
			}
		}
		t.coins.IncrementCoins(userID, int64(amount))
		if _, ok := t.coins.SaveNowAndWait(ctx, userID, 4*time.Second, false); !ok {
			t.log.Warn("faction payout coin credit did not confirm", zap.Int64("userId", userID), zap.String("faction", faction))
		}
	}

	if flushDue {
		return t.Flush(ctx, faction)
	}
	return nil
}

func (t *Totals) publish(ctx context.Context, faction string, total float64) {
	if t.redis == nil {
		return
	}
	payload, err := json.Marshal(Update{Faction: faction, Total: total, Ts: t.now()})
	if err != nil {
		t.log.Error("faction update marshal failed", zap.Error(err))
		return
	}
	if err := t.redis.Publish(ctx, t.cfg.UpdatesTopic, payload).Err(); err != nil {
		t.log.Warn("faction update publish failed", zap.String("faction", faction), zap.Error(err))
	}
}

// Flush performs a remote optimistic update (prior+delta), then re-reads
// to converge the local total with the authoritative remote value, with
// exponential backoff retry up to FlushRetries (§4.G "Flush").
func (t *Totals) Flush(ctx context.Context, faction string) error {
	t.mu.Lock()
	delta := t.dirtyDelta[faction]
	t.mu.Unlock()
	if delta == 0 {
		return nil
	}

	key := totalKey(faction)
	var remote float64
	mutator := func(old []byte, exists bool) ([]byte, error) {
		var prior float64
		if exists {
			if err := json.Unmarshal(old, &prior); err != nil {
				return nil, fmt.Errorf("faction flush unmarshal: %w", err)
			}
		}
		remote = prior + delta
		return json.Marshal(remote)
	}

	var lastErr error
	delay := t.cfg.FlushBaseDelay
	for attempt := 0; attempt < t.cfg.FlushRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if _, err := t.store.Update(ctx, key, mutator); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		t.log.Error("faction flush failed", zap.String("faction", faction), zap.Error(lastErr))
		return lastErr
	}

	t.mu.Lock()
	t.total[faction] = remote
	t.dirtyDelta[faction] = 0
	t.mu.Unlock()
	return nil
}

// Subscribe applies an incoming cross-shard Update via monotonic-max
// convergence: the local total only ever rises to match (§4.G
// "Subscribe").
func (t *Totals) Subscribe(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u.Total > t.total[u.Faction] {
		t.total[u.Faction] = u.Total
	}
}

// Total returns the current local total for faction.
func (t *Totals) Total(faction string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total[faction]
}

// ListenRemote subscribes to the cross-shard topic and feeds incoming
// updates into Subscribe until ctx is done. Run this in its own
// goroutine.
func (t *Totals) ListenRemote(ctx context.Context) {
	if t.redis == nil {
		return
	}
	sub := t.redis.Subscribe(ctx, t.cfg.UpdatesTopic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				t.log.Warn("faction update decode failed", zap.Error(err))
				continue
			}
			t.Subscribe(u)
		case <-ctx.Done():
			return
		}
	}
}

// RunPeriodicFlush flushes every faction with a nonzero dirty delta every
// FlushInterval, until ctx is done (§4.G "background loop").
func (t *Totals) RunPeriodicFlush(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			factions := make([]string, 0, len(t.dirtyDelta))
			for f, d := range t.dirtyDelta {
				if d != 0 {
					factions = append(factions, f)
				}
			}
			t.mu.Unlock()
			for _, f := range factions {
				if err := t.Flush(ctx, f); err != nil {
					t.log.Warn("periodic faction flush failed", zap.String("faction", f), zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
