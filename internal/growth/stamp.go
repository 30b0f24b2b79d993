package growth

import (
	"context"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/events"
	"github.com/slimeforge/slimekeep/internal/liveworld"
)

// maybeStamp decides whether this tick's growth advance should push a
// serialize+save of the owning user's profile (§4.E "Stamping"): either
// the periodic interval elapsed, or enough unstamped progress
// accumulated to cross the micro-stamp threshold.
func (e *Engine) maybeStamp(ctx context.Context, id liveworld.EntityID, sl *liveworld.Slime, nowTs int64, gain float64) {
	e.mu.Lock()
	e.progressSinceStamp[id] += gain
	accumulated := e.progressSinceStamp[id]
	lastPeriodic, sawPeriodic := e.lastPeriodicStamp[id]
	e.mu.Unlock()

	periodicDue := !sawPeriodic || nowTs-lastPeriodic >= int64(e.cfg.TimestampUpdateInterval.Seconds())
	microDue := accumulated >= e.cfg.MicroStampThreshold

	if !periodicDue && !microDue {
		return
	}

	userID := int64(sl.OwnerID.Index())
	if !e.debounceMicro(userID, nowTs, microDue && !periodicDue) {
		return
	}

	e.mu.Lock()
	e.lastPeriodicStamp[id] = nowTs
	e.progressSinceStamp[id] = 0
	e.mu.Unlock()

	e.syncer.UpdateProfileInventory(ctx, userID, false)
}

// debounceMicro applies MicroStampDebounce only to micro-threshold
// triggers; a periodic-interval stamp always proceeds since it is
// already rate-limited by TimestampUpdateInterval.
func (e *Engine) debounceMicro(userID int64, nowTs int64, isMicroOnly bool) bool {
	if !isMicroOnly {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastMicroStamp[userID]
	if ok && nowTs-last < int64(e.cfg.MicroStampDebounce.Seconds()) {
		return false
	}
	e.lastMicroStamp[userID] = nowTs
	return true
}

// onGrowthStampDirty handles the external §4.E "External trigger": some
// other component (a feed action, a sale) needs this user's growth state
// flushed to the profile cache right away, debounced so a burst of
// triggers collapses into one save.
func (e *Engine) onGrowthStampDirty(evt events.GrowthStampDirty) {
	nowTs := e.now()

	e.mu.Lock()
	last, ok := e.lastDirtyTrigger[evt.UserID]
	if ok && nowTs-last < int64(e.cfg.MicroStampDebounce.Seconds()) {
		e.mu.Unlock()
		return
	}
	e.lastDirtyTrigger[evt.UserID] = nowTs
	e.mu.Unlock()

	e.log.Debug("growth stamp dirty trigger", zap.Int64("userId", evt.UserID), zap.String("reason", evt.Reason))
	e.syncer.UpdateProfileInventory(context.Background(), evt.UserID, false)
}

// FlushPlayerSlimes forces an immediate growth tick + stamp for every
// live slime owned by userID, satisfying inventory.GrowthFlusher for the
// pre-exit sync and FinalizePlayer paths (§4.F step 2), and emits the
// named pre_leave_flush dirty event (§4.E "Pre-leave flush").
func (e *Engine) FlushPlayerSlimes(userID int64) {
	owner := liveworld.OwnerFromUserID(userID)
	nowTs := e.now()
	ids := e.registry.Slimes.EnumerateByOwner(owner)
	for _, id := range ids {
		sl, ok := e.registry.Slimes.Get(id)
		if !ok {
			continue
		}
		e.processSlime(context.Background(), id, sl, nowTs)
	}
	if e.bus != nil {
		events.Emit(e.bus, events.GrowthStampDirty{UserID: userID, Reason: "pre_leave_flush"})
	}
}
