// Package stage implements the Preserve/Stage Manager (§4.I): short-lived
// server-owned custody of a restored tool during the hand-off into a
// player's backpack, protecting it from world-cleanup races the way the
// teacher's timed ground-item and temporary-ownership systems do.
// Grounded on internal/system/item_ground.go (timed entity lifecycle with
// a periodic sweep) and internal/system/doll.go (tagged temporary
// ownership with explicit dismiss/cleanup).
package stage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/kvstore"
	"github.com/slimeforge/slimekeep/internal/liveworld"
)

// Reparenter is the engine collaborator that actually moves a tool
// between containers. The spec calls out that the source engine's
// instance-parent operations can transiently fail (§9 "Ownership of
// tool lifetimes") — callers must treat every reparent as fallible.
type Reparenter interface {
	ReparentToHolding(ctx context.Context, toolID liveworld.EntityID) error
	ReparentToBackpack(ctx context.Context, toolID liveworld.EntityID, owner liveworld.EntityID) error
}

// staged tracks one tool's custody window.
type staged struct {
	id       liveworld.EntityID
	owner    liveworld.EntityID
	stagedAt int64
}

// Manager is the §4.I Preserve/Stage Manager.
type Manager struct {
	registry   *liveworld.Registry
	reparenter Reparenter
	cfg        config.StageConfig
	retry      kvstore.RetryPolicy
	now        func() int64
	log        *zap.Logger

	mu     sync.Mutex
	active map[liveworld.EntityID]*staged
}

func NewManager(registry *liveworld.Registry, reparenter Reparenter, cfg config.StageConfig, now func() int64, log *zap.Logger) *Manager {
	return &Manager{
		registry:   registry,
		reparenter: reparenter,
		cfg:        cfg,
		retry:      kvstore.RetryPolicy{MaxAttempts: cfg.ReparentRetries, BaseDelay: cfg.ReparentBaseDelay},
		now:        now,
		log:        log,
		active:     make(map[liveworld.EntityID]*staged),
	}
}

// Stage begins custody of a restored tool: reparent to a server-owned
// holding area, tag preserve flags, then (after stageTime) reparent into
// the owner's backpack, falling back to a clone-and-destroy escape hatch
// on repeated reparent failure, and finally clear the preserve flags
// after finalDelay+graceSeconds (§4.I). Runs synchronously up to the
// hand-off, then schedules the flag-clear in the background — callers
// that need the clone's final id should read it off the return value.
func (m *Manager) Stage(ctx context.Context, id, owner liveworld.EntityID) liveworld.EntityID {
	tool, ok := m.registry.Tools.Get(id)
	if !ok {
		return id
	}

	nowTs := m.now()
	m.tag(tool, nowTs)

	m.mu.Lock()
	m.active[id] = &staged{id: id, owner: owner, stagedAt: nowTs}
	m.mu.Unlock()

	if err := m.reparentWithRetry(ctx, func(ctx context.Context) error {
		return m.reparenter.ReparentToHolding(ctx, id)
	}); err != nil {
		m.log.Warn("stage: reparent to holding failed after retries", zap.Error(err))
	}

	select {
	case <-time.After(m.cfg.StageTime):
	case <-ctx.Done():
	}

	finalID := id
	err := m.reparentWithRetry(ctx, func(ctx context.Context) error {
		return m.reparenter.ReparentToBackpack(ctx, id, owner)
	})
	if err != nil {
		m.log.Warn("stage: reparent to backpack failed repeatedly, cloning", zap.Error(err))
		finalID = m.cloneAndDestroy(owner, id, tool)
	}

	m.mu.Lock()
	delete(m.active, id)
	if finalID != id {
		m.active[finalID] = &staged{id: finalID, owner: owner, stagedAt: nowTs}
	}
	m.mu.Unlock()

	go m.clearAfterGrace(finalID)
	return finalID
}

func (m *Manager) tag(tool *liveworld.Tool, nowTs int64) {
	if tool.Extra == nil {
		tool.Extra = make(map[string]any)
	}
	tool.Extra["PreserveOnServer"] = true
	tool.Extra["ServerRestore"] = true
	tool.Extra["RestoreStamp"] = nowTs
}

func (m *Manager) reparentWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < m.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.retry.Sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// cloneAndDestroy copies the durable id attributes onto a fresh tool,
// parents the clone via the registry (a local operation, not subject to
// the engine's parent-lock failures), and destroys the original
// (§4.I "the manager clones the tool... destroying the original").
func (m *Manager) cloneAndDestroy(owner, originalID liveworld.EntityID, original *liveworld.Tool) liveworld.EntityID {
	clone := *original
	cloneID := liveworld.NewEntityID(originalID.Index(), originalID.Generation()+1)
	m.registry.Tools.Set(cloneID, owner, &clone)
	m.registry.Tools.Remove(originalID, owner)
	return cloneID
}

func (m *Manager) clearAfterGrace(id liveworld.EntityID) {
	time.Sleep(m.cfg.FinalDelay + m.cfg.GraceSeconds)
	if tool, ok := m.registry.Tools.Get(id); ok {
		delete(tool.Extra, "PreserveOnServer")
		delete(tool.Extra, "ServerRestore")
	}
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Sweep destroys any staged tool whose custody window has exceeded
// ABANDONED_CLEANUP_SECS — the periodic sweeper of §4.I's last
// sentence. Run on a ticker from the caller.
func (m *Manager) Sweep() {
	nowTs := m.now()
	cutoff := int64(m.cfg.AbandonedCleanupSecs.Seconds())

	m.mu.Lock()
	var abandoned []*staged
	for id, s := range m.active {
		if nowTs-s.stagedAt > cutoff {
			abandoned = append(abandoned, s)
			delete(m.active, id)
		}
	}
	m.mu.Unlock()

	for _, s := range abandoned {
		m.log.Warn("stage: destroying abandoned staged tool", zap.Uint64("toolId", uint64(s.id)))
		m.registry.Tools.Remove(s.id, s.owner)
	}
}

// RunSweeper runs Sweep on a ticker until ctx is done (§5 "Coroutine-
// style background loops").
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
