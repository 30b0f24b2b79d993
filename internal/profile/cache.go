package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slimeforge/slimekeep/internal/kvstore"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// waiter is a caller blocked in SaveNowAndWait, resolved when the save
// round it's attached to finishes.
type waiter struct {
	ch chan bool
}

// slot is the per-user hot state: the cached profile plus save-queue
// bookkeeping, all guarded by mu (§5 "per-user mutex").
type slot struct {
	mu sync.Mutex

	profile                *Profile
	dirty                  bool
	spendRecordedSinceLoad bool

	saving          bool
	currentWaiters  []waiter
	pending         bool
	pendingOverride bool
	nextWaiters     []waiter

	debounceTimer *time.Timer
}

// Cache is the Profile Cache & Saver (§4.B): one slot + one save queue per
// online user, draining into the Profile Store Adapter.
type Cache struct {
	store    kvstore.Store
	factions []string
	log      *zap.Logger

	debounce    time.Duration
	mergeGuard  bool // reserved for future strict-mode toggle; unused today

	mu        sync.RWMutex
	slots     map[int64]*slot
	loadGroup singleflight.Group
}

func NewCache(store kvstore.Store, factions []string, debounce time.Duration, log *zap.Logger) *Cache {
	return &Cache{
		store:    store,
		factions: factions,
		log:      log,
		debounce: debounce,
		slots:    make(map[int64]*slot),
	}
}

func profileKey(userID int64) string {
	return fmt.Sprintf("inventory/%d", userID)
}

// getSlot returns the slot for userID, creating it (without loading) if
// absent. Callers that need a loaded profile should go through
// GetProfile/ensureLoaded instead.
func (c *Cache) getSlot(userID int64) *slot {
	c.mu.RLock()
	s, ok := c.slots[userID]
	c.mu.RUnlock()
	if ok {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[userID]; ok {
		return s
	}
	s = &slot{}
	c.slots[userID] = s
	return s
}

// GetProfile returns a point-in-time copy of the cached profile, loading
// it from the store on demand. Concurrent GetProfile calls for the same
// user while a load is in flight collapse into a single Store.Load
// (§4.B "blocks if a load is in flight for the same user").
func (c *Cache) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	s := c.getSlot(userID)

	s.mu.Lock()
	if s.profile != nil {
		p := s.profile.Clone()
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	key := fmt.Sprintf("%d", userID)
	v, err, _ := c.loadGroup.Do(key, func() (any, error) {
		return c.loadFromStore(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile).Clone(), nil
}

func (c *Cache) loadFromStore(ctx context.Context, userID int64) (*Profile, error) {
	s := c.getSlot(userID)

	s.mu.Lock()
	if s.profile != nil {
		p := s.profile.Clone()
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	raw, exists, err := c.store.Load(ctx, profileKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load profile %d: %w", userID, err)
	}

	var p *Profile
	if exists {
		p, err = Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal profile %d: %w", userID, err)
		}
	} else {
		p = NewDefault(userID, c.factions)
	}

	s.mu.Lock()
	if s.profile == nil {
		s.profile = p
	}
	out := s.profile.Clone()
	s.mu.Unlock()
	return out, nil
}

// MarkDirty marks the user's slot dirty and schedules a coalesced save
// after the debounce window (§4.B).
func (c *Cache) MarkDirty(userID int64, reason string) {
	s := c.getSlot(userID)
	s.mu.Lock()
	s.dirty = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(c.debounce, func() {
		c.SaveNow(userID, reason)
	})
	s.mu.Unlock()
}

// SaveNow enqueues a non-blocking save (§4.B).
func (c *Cache) SaveNow(userID int64, reason string) {
	c.enqueueSave(context.Background(), userID, reason, false, nil)
}

// SaveNowOverride enqueues a non-blocking save, letting the caller (the
// Inventory Service's UpdateProfileInventory) control whether the
// empty-overwrite guard is bypassed.
func (c *Cache) SaveNowOverride(userID int64, reason string, overrideEmptyGuard bool) {
	c.enqueueSave(context.Background(), userID, reason, overrideEmptyGuard, nil)
}

// SaveNowAndWait enqueues a save and blocks until it completes or timeout
// elapses. verified=true (the only mode this implementation has, since
// every round performs a real remote write rather than a coalesced
// no-op skip) guarantees the wait only resolves after a successful
// remote write. Returns (done, ok): done=false on timeout; ok=false when
// the write failed or no profile is loaded for userID (nothing is written).
func (c *Cache) SaveNowAndWait(ctx context.Context, userID int64, timeout time.Duration, overrideEmptyGuard bool) (done bool, ok bool) {
	w := waiter{ch: make(chan bool, 1)}
	c.enqueueSave(ctx, userID, "save_now_and_wait", overrideEmptyGuard, &w)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case result := <-w.ch:
		return true, result
	case <-t.C:
		return false, false
	case <-ctx.Done():
		return false, false
	}
}

// AwaitSaveQueue blocks until the user's save queue (in-flight + any
// coalesced follow-up) drains, or timeout elapses.
func (c *Cache) AwaitSaveQueue(ctx context.Context, userID int64, timeout time.Duration) (done bool) {
	deadline := time.Now().Add(timeout)
	s := c.getSlot(userID)

	for {
		s.mu.Lock()
		idle := !s.saving && !s.pending
		if idle {
			s.mu.Unlock()
			return true
		}
		w := waiter{ch: make(chan bool, 1)}
		if s.saving && !s.pending {
			s.currentWaiters = append(s.currentWaiters, w)
		} else {
			s.nextWaiters = append(s.nextWaiters, w)
		}
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		t := time.NewTimer(remaining)
		select {
		case <-w.ch:
			t.Stop()
		case <-t.C:
			return false
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}
}

func (c *Cache) enqueueSave(ctx context.Context, userID int64, reason string, overrideEmptyGuard bool, w *waiter) {
	s := c.getSlot(userID)

	s.mu.Lock()
	if s.profile == nil {
		// No profile loaded yet — nothing dirty to save, and no remote
		// write happens, so a waiter is told ok=false.
		s.mu.Unlock()
		if w != nil {
			w.ch <- false
		}
		return
	}
	if s.saving {
		s.pending = true
		s.pendingOverride = s.pendingOverride || overrideEmptyGuard
		if w != nil {
			s.nextWaiters = append(s.nextWaiters, *w)
		}
		s.mu.Unlock()
		return
	}
	s.saving = true
	if w != nil {
		s.currentWaiters = append(s.currentWaiters, *w)
	}
	snapshot := s.profile.Clone()
	spendRecorded := s.spendRecordedSinceLoad
	s.mu.Unlock()

	go c.runSave(ctx, userID, snapshot, overrideEmptyGuard, spendRecorded, reason)
}

func (c *Cache) runSave(ctx context.Context, userID int64, snapshot *Profile, overrideEmptyGuard, spendRecorded bool, reason string) {
	snapshot.Meta.DataVersion++

	var committedVersion int64
	mutator := func(old []byte, exists bool) ([]byte, error) {
		var prior *Profile
		if exists {
			p, err := Unmarshal(old)
			if err != nil {
				return nil, fmt.Errorf("unmarshal prior profile %d: %w", userID, err)
			}
			prior = p
		}
		merged := ApplyMergeRules(prior, snapshot, MergeOptions{
			OverrideEmptyGuard:     overrideEmptyGuard,
			SpendRecordedSinceLoad: spendRecorded,
		}, c.log)
		if prior != nil && merged.Meta.DataVersion <= prior.Meta.DataVersion {
			merged.Meta.DataVersion = prior.Meta.DataVersion + 1
		}
		merged.ClampCoins()
		merged.ClampStanding()
		committedVersion = merged.Meta.DataVersion
		return Marshal(merged)
	}

	_, err := c.store.Update(ctx, profileKey(userID), mutator)
	ok := err == nil
	if err != nil {
		c.log.Error("profile save failed", zap.Int64("userId", userID), zap.String("reason", reason), zap.Error(err))
	}

	c.finishSave(ctx, userID, ok, committedVersion)
}

func (c *Cache) finishSave(ctx context.Context, userID int64, ok bool, committedVersion int64) {
	s := c.getSlot(userID)

	s.mu.Lock()
	notify := s.currentWaiters
	s.currentWaiters = nil
	s.saving = false
	if ok && s.profile != nil && committedVersion > s.profile.Meta.DataVersion {
		s.profile.Meta.DataVersion = committedVersion
	}
	if ok {
		s.dirty = false
		s.spendRecordedSinceLoad = false
	}

	hadPending := s.pending
	pendingOverride := s.pendingOverride
	s.pending = false
	s.pendingOverride = false

	var nextSnapshot *Profile
	var nextSpendRecorded bool
	if hadPending && s.profile != nil {
		s.saving = true
		s.currentWaiters = s.nextWaiters
		s.nextWaiters = nil
		nextSnapshot = s.profile.Clone()
		nextSpendRecorded = s.spendRecordedSinceLoad
	}
	s.mu.Unlock()

	for _, w := range notify {
		w.ch <- ok
	}

	if hadPending && nextSnapshot != nil {
		go c.runSave(ctx, userID, nextSnapshot, pendingOverride, nextSpendRecorded, "coalesced")
	}
}

// AddInventoryItem deduplicates by the entry's id under idKey, appends,
// and marks the slot dirty (§4.B).
func (c *Cache) AddInventoryItem(userID int64, field Field, idKey string, entry Entry) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	target := s.profile.Inventory.Field(field)
	id, hasID := entry.id(idKey)
	if hasID {
		for _, e := range *target {
			if v, ok := e.id(idKey); ok && v == id {
				return // already present, no duplicate append
			}
		}
	}
	*target = append(*target, entry)
	s.dirty = true
}

// RemoveInventoryItem removes every entry in field whose idKey == idValue
// and marks the slot dirty (§4.B).
func (c *Cache) RemoveInventoryItem(userID int64, field Field, idKey string, idValue any) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	target := s.profile.Inventory.Field(field)
	kept := (*target)[:0:0]
	for _, e := range *target {
		if v, ok := e.id(idKey); ok && v == idValue {
			continue
		}
		kept = append(kept, e)
	}
	*target = kept
	s.dirty = true
}

// IncrementCoins applies an atomic coin delta under the slot lock,
// clamping at zero on underflow (§4.B).
func (c *Cache) IncrementCoins(userID int64, delta int64) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	s.profile.Core.Coins += delta
	if s.profile.Core.Coins < 0 {
		s.profile.Core.Coins = 0
	}
	if delta < 0 {
		s.spendRecordedSinceLoad = true
	}
	s.dirty = true
}

// TrySpendCoins atomically checks and debits amount, with no partial
// effect on failure (§4.B).
func (c *Cache) TrySpendCoins(userID int64, amount int64) (ok bool, reason string) {
	if amount <= 0 {
		return false, "invalid amount"
	}
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return false, "profile not loaded"
	}
	if s.profile.Core.Coins < amount {
		return false, "insufficient coins"
	}
	s.profile.Core.Coins -= amount
	s.spendRecordedSinceLoad = true
	s.dirty = true
	return true, ""
}

// SetCoins absolutely sets coins, clamped >= 0 (§4.B).
func (c *Cache) SetCoins(userID int64, amount int64) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	if amount < 0 {
		amount = 0
	}
	if amount < s.profile.Core.Coins {
		s.spendRecordedSinceLoad = true
	}
	s.profile.Core.Coins = amount
	s.dirty = true
}

// ReplaceInventory wholesale-replaces the five inventory fields (the
// outcome of a serializer pass) and marks the slot dirty. The
// empty-overwrite guard is applied later, at save time, not here
// (§4.D "UpdateProfileInventory... calls into the cache's merge").
func (c *Cache) ReplaceInventory(userID int64, inv Inventory) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	s.profile.Inventory = inv
	s.dirty = true
}

// MutateEntry finds the entry in field whose idKey == idValue and
// replaces it with fn's result, under the slot lock. A no-op if no
// matching entry exists. This is the merge primitive behind
// inventory.Service.EnsureEntryHasId (§4.D).
func (c *Cache) MutateEntry(userID int64, field Field, idKey string, idValue any, fn func(Entry) Entry) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	target := s.profile.Inventory.Field(field)
	for i, e := range *target {
		if v, ok := e.id(idKey); ok && v == idValue {
			// fn gets a copy so snapshots sharing e stay untouched.
			cp := make(Entry, len(e))
			for k, val := range e {
				cp[k] = val
			}
			(*target)[i] = fn(cp)
			s.dirty = true
			return
		}
	}
}

// Standing returns the current standing for a faction (defaulting to 0.5
// the way NewDefault seeds it, if the faction is unset).
func (c *Cache) Standing(userID int64, faction string) float64 {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0.5
	}
	if v, ok := s.profile.Stats.Standing[faction]; ok {
		return v
	}
	return 0.5
}

// AdjustStanding adds delta to a faction's standing, clamped to [0,1].
func (c *Cache) AdjustStanding(userID int64, faction string, delta float64) {
	s := c.getSlot(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	if s.profile.Stats.Standing == nil {
		s.profile.Stats.Standing = make(map[string]float64)
	}
	v := s.profile.Stats.Standing[faction] + delta
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.profile.Stats.Standing[faction] = v
	s.dirty = true
}

// Evict drops the user's slot from the cache. Callers must ensure the
// save queue has drained (AwaitSaveQueue) before evicting (§3 "Lifecycle":
// "cache is evicted only after a verified final save on disconnect").
func (c *Cache) Evict(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, userID)
}

// Shutdown awaits every user's save queue up to deadline, then forces one
// final write per user with a longer retry budget (§4.B "Shutdown"). Since
// this implementation's Store already retries internally, "longer retry
// budget" here means simply not giving up on timeout: the final save is
// launched and its context is allowed to outlive the per-user await.
func (c *Cache) Shutdown(ctx context.Context, deadline time.Duration) {
	c.mu.RLock()
	userIDs := make([]int64, 0, len(c.slots))
	for id := range c.slots {
		userIDs = append(userIDs, id)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, userID := range userIDs {
		userID := userID
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AwaitSaveQueue(ctx, userID, deadline)
			done, ok := c.SaveNowAndWait(ctx, userID, deadline, false)
			if !done || !ok {
				c.log.Warn("shutdown flush did not confirm", zap.Int64("userId", userID), zap.Bool("done", done), zap.Bool("ok", ok))
			}
		}()
	}
	wg.Wait()
}
