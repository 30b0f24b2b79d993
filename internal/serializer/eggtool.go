package serializer

import (
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
)

// EggToolSerializer is the §4.C "EggTool" sub-serializer: unplaced egg
// tools (tools with a template and no FoodId). Its wire entry carries only
// uid and template; restore also repairs placeholder tools.
type EggToolSerializer struct {
	registry  *liveworld.Registry
	factory   liveworld.Factory
	templates *template.Table[template.Tool]
	log       *zap.Logger
	snapshots *snapshotCache
}

func NewEggToolSerializer(registry *liveworld.Registry, factory liveworld.Factory, templates *template.Table[template.Tool], log *zap.Logger) *EggToolSerializer {
	return &EggToolSerializer{registry: registry, factory: factory, templates: templates, log: log, snapshots: newSnapshotCache()}
}

func (s *EggToolSerializer) Serialize(userID int64, isFinal bool) []profile.Entry {
	owner := liveworld.OwnerFromUserID(userID)
	ids := s.registry.Tools.EnumerateByOwner(owner)

	entries := make([]profile.Entry, 0, len(ids))
	for _, id := range ids {
		t, ok := s.registry.Tools.Get(id)
		if !ok || t.FoodID != "" || t.Template == "" {
			continue
		}
		entries = append(entries, profile.Entry{
			keyToolUID:  t.UID,
			keyTemplate: t.Template,
		})
	}

	entries = dedup(entries, keyToolUID)
	var dropped int
	entries, dropped = truncate(entries, capEggTools)
	if dropped > 0 {
		s.log.Warn("eggTools serialize truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	if isFinal && len(entries) == 0 {
		if cached, ok := s.snapshots.get(userID); ok {
			return cached
		}
	}
	s.snapshots.set(userID, entries)
	return entries
}

func (s *EggToolSerializer) Restore(userID int64, entries []profile.Entry) {
	owner := liveworld.OwnerFromUserID(userID)
	var dropped int
	entries, dropped = truncate(entries, capEggTools)
	if dropped > 0 {
		s.log.Warn("eggTools restore truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	for _, e := range entries {
		uid, _ := e[keyToolUID].(string)
		tpl, _ := e[keyTemplate].(string)
		if uid == "" {
			continue
		}

		existing := s.findByUID(owner, uid)
		if existing != nil && isPlaceholder(existing) {
			// Repair: rebuild from template rather than trust the
			// placeholder's (empty) state (§4.C "tolerates and repairs
			// placeholder tools").
			s.registry.Tools.Remove(s.idFor(owner, existing), owner)
			existing = nil
		}

		if existing == nil {
			var id liveworld.EntityID
			if s.factory != nil {
				existing, id = s.factory.SpawnTool(tpl, owner)
				if existing != nil {
					s.registry.Tools.Set(id, owner, existing)
				}
			}
			if existing == nil {
				existing = &liveworld.Tool{}
				s.registry.Tools.Set(liveworld.NewEntityID(uint32(len(uid)+1), 0), owner, existing)
			}
		}

		existing.UID = uid
		existing.OwnerID = owner
		existing.Template = tpl
		existing.Placeholder = false
	}
}

// isPlaceholder identifies a tool as a bare unit-size handle with no real
// content: no template and no food id, i.e. nothing was ever attached to
// it (§4.C "identifiable as a single unit-size part with no content").
func isPlaceholder(t *liveworld.Tool) bool {
	return t.Placeholder || (t.Template == "" && t.FoodID == "")
}

func (s *EggToolSerializer) findByUID(owner liveworld.EntityID, uid string) *liveworld.Tool {
	for _, id := range s.registry.Tools.EnumerateByOwner(owner) {
		if t, ok := s.registry.Tools.Get(id); ok && t.UID == uid && t.FoodID == "" {
			return t
		}
	}
	return nil
}

func (s *EggToolSerializer) idFor(owner liveworld.EntityID, target *liveworld.Tool) liveworld.EntityID {
	for _, id := range s.registry.Tools.EnumerateByOwner(owner) {
		if t, ok := s.registry.Tools.Get(id); ok && t == target {
			return id
		}
	}
	return 0
}
