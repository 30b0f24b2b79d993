// Package inventory implements the Inventory Service (§4.D): the
// component sitting between the Grand Serializer (internal/serializer)
// and the Profile Cache (internal/profile), mediating membership changes
// and orchestrating the serialize/apply cycle.
package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/serializer"
)

// GrowthFlusher is the §4.E collaborator FinalizePlayer flushes before
// serializing, so persisted growth reflects the final in-session tick.
type GrowthFlusher interface {
	FlushPlayerSlimes(userID int64)
}

// Service is the §4.D Inventory Service.
type Service struct {
	cache      *profile.Cache
	serializer *serializer.Serializer
	growth     GrowthFlusher
	log        *zap.Logger

	saveTimeout time.Duration
}

func NewService(cache *profile.Cache, ser *serializer.Serializer, growth GrowthFlusher, saveTimeout time.Duration, log *zap.Logger) *Service {
	return &Service{cache: cache, serializer: ser, growth: growth, saveTimeout: saveTimeout, log: log}
}

// SetGrowth attaches the growth flusher after construction, for the case
// where the growth engine itself depends on this Service as its
// InventorySyncer: construct the Service with growth=nil, construct the
// Engine with the Service, then wire the Engine back in here.
func (s *Service) SetGrowth(growth GrowthFlusher) { s.growth = growth }

// AddInventoryItem appends entry to field, deduplicating by idKey
// (§4.D/§4.B).
func (s *Service) AddInventoryItem(userID int64, field profile.Field, idKey string, entry profile.Entry) {
	s.cache.AddInventoryItem(userID, field, idKey, entry)
}

// RemoveInventoryItem removes every entry in field whose idKey matches
// idValue (§4.D/§4.B).
func (s *Service) RemoveInventoryItem(userID int64, field profile.Field, idKey string, idValue any) {
	s.cache.RemoveInventoryItem(userID, field, idKey, idValue)
}

// EnsureEntryHasId idempotently merges missing keys from defaults into
// an existing entry matched by idKey/idValue, without clobbering keys
// already present — used to backfill new short keys on old entries
// without a DataVersion bump, i.e. the additive half of §4.C's
// "additions are safe" rule.
func (s *Service) EnsureEntryHasId(userID int64, field profile.Field, idKey string, idValue any, defaults profile.Entry) {
	s.cache.MutateEntry(userID, field, idKey, idValue, func(e profile.Entry) profile.Entry {
		for k, v := range defaults {
			if _, present := e[k]; !present {
				e[k] = v
			}
		}
		if _, present := e[idKey]; !present {
			e[idKey] = idValue
		}
		return e
	})
}

// UpdateProfileInventory serializes the user's live entities and applies
// the result to the cached profile, honoring the empty-overwrite guard
// unless overrideEmptyGuard is set (§4.D).
func (s *Service) UpdateProfileInventory(ctx context.Context, userID int64, overrideEmptyGuard bool) {
	snap := s.serializer.Serialize(userID, false)
	s.applySnapshot(userID, snap)
	if overrideEmptyGuard {
		s.cache.SaveNowOverride(userID, "update_profile_inventory", true)
	} else {
		s.cache.MarkDirty(userID, "update_profile_inventory")
	}
}

// FinalizePlayer is the end-to-end composition used by Pre-Exit Sync
// (§4.F): flush growth, serialize with isFinal=true, apply with the
// empty-overwrite guard overridden, then a verified save.
func (s *Service) FinalizePlayer(ctx context.Context, userID int64, reason string) (ok bool) {
	if s.growth != nil {
		s.growth.FlushPlayerSlimes(userID)
	}

	snap := s.serializer.Serialize(userID, true)
	s.applySnapshot(userID, snap)

	done, saved := s.cache.SaveNowAndWait(ctx, userID, s.saveTimeout, true)
	if !done || !saved {
		s.log.Warn("finalizePlayer save did not confirm", zap.Int64("userId", userID), zap.String("reason", reason), zap.Bool("done", done), zap.Bool("saved", saved))
		return false
	}
	return true
}

func (s *Service) applySnapshot(userID int64, snap serializer.Snapshot) {
	s.cache.ReplaceInventory(userID, profile.Inventory{
		WorldSlimes:    snap.WorldSlimes,
		WorldEggs:      snap.WorldEggs,
		FoodTools:      snap.FoodTools,
		EggTools:       snap.EggTools,
		CapturedSlimes: snap.CapturedSlimes,
	})
}
