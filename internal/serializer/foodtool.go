package serializer

import (
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
)

// settleThreshold is the number of successive stable frames a restored
// tool must observe before it is considered settled (§4.C "stability
// counter that must cross a threshold").
const settleThreshold = 3

// FoodToolSerializer is the §4.C "FoodTool" sub-serializer.
type FoodToolSerializer struct {
	registry  *liveworld.Registry
	factory   liveworld.Factory
	templates *template.Table[template.Tool]
	log       *zap.Logger
	snapshots *snapshotCache
}

func NewFoodToolSerializer(registry *liveworld.Registry, factory liveworld.Factory, templates *template.Table[template.Tool], log *zap.Logger) *FoodToolSerializer {
	return &FoodToolSerializer{registry: registry, factory: factory, templates: templates, log: log, snapshots: newSnapshotCache()}
}

func (s *FoodToolSerializer) Serialize(userID int64, isFinal bool) []profile.Entry {
	owner := liveworld.OwnerFromUserID(userID)
	ids := s.registry.Tools.EnumerateByOwner(owner)

	entries := make([]profile.Entry, 0, len(ids))
	for _, id := range ids {
		t, ok := s.registry.Tools.Get(id)
		if !ok || t.FoodID == "" {
			continue
		}
		entries = append(entries, profile.Entry{
			keyToolUID:          t.UID,
			keyFoodID:           t.FoodID,
			keyRestoreFraction:  t.RestoreFraction,
			keyBufferBonus:      t.BufferBonus,
			keyConsumable:       t.Consumable,
			keyCharges:          t.Charges,
			keyCooldownOverride: t.CooldownOverride,
			keyTemplate:         t.Template,
		})
	}

	entries = dedup(entries, keyToolUID)
	var dropped int
	entries, dropped = truncate(entries, capFoodTools)
	if dropped > 0 {
		s.log.Warn("foodTools serialize truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	if isFinal && len(entries) == 0 {
		if cached, ok := s.snapshots.get(userID); ok {
			return cached
		}
	}
	s.snapshots.set(userID, entries)
	return entries
}

func (s *FoodToolSerializer) Restore(userID int64, entries []profile.Entry) {
	owner := liveworld.OwnerFromUserID(userID)
	var dropped int
	entries, dropped = truncate(entries, capFoodTools)
	if dropped > 0 {
		s.log.Warn("foodTools restore truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	for _, e := range entries {
		uid, _ := e[keyToolUID].(string)
		if uid == "" {
			continue
		}

		existing := s.findByUID(owner, uid)
		fresh := existing == nil
		if existing == nil {
			tpl, _ := e[keyTemplate].(string)
			var id liveworld.EntityID
			if s.factory != nil {
				existing, id = s.factory.SpawnTool(tpl, owner)
				if existing != nil {
					s.registry.Tools.Set(id, owner, existing)
				}
			}
			if existing == nil {
				// No factory/template available: fall back to a minimal
				// unit-size handle so the uid isn't silently lost.
				existing = &liveworld.Tool{}
				s.registry.Tools.Set(liveworld.NewEntityID(uint32(len(uid)), 0), owner, existing)
			}
		}

		existing.UID = uid
		existing.OwnerID = owner
		existing.FoodID, _ = e[keyFoodID].(string)
		existing.RestoreFraction = floatOr(e, keyRestoreFraction, existing.RestoreFraction)
		existing.BufferBonus = int64(floatOr(e, keyBufferBonus, float64(existing.BufferBonus)))
		if v, ok := e[keyConsumable].(bool); ok {
			existing.Consumable = v
		}
		existing.Charges = int32(intOr(e, keyCharges, int(existing.Charges)))
		existing.CooldownOverride = int64(floatOr(e, keyCooldownOverride, float64(existing.CooldownOverride)))
		if tpl, ok := e[keyTemplate].(string); ok && tpl != "" {
			existing.Template = tpl
		}

		existing.Placeholder = false
		if fresh {
			existing.StableFrames = 0
			existing.Settled = false
		} else {
			existing.StableFrames++
			if existing.StableFrames >= settleThreshold {
				existing.Settled = true
			}
		}
	}
}

func (s *FoodToolSerializer) findByUID(owner liveworld.EntityID, uid string) *liveworld.Tool {
	for _, id := range s.registry.Tools.EnumerateByOwner(owner) {
		if t, ok := s.registry.Tools.Get(id); ok && t.UID == uid && t.FoodID != "" {
			return t
		}
	}
	return nil
}
