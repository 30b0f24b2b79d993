package serializer

import (
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
)

// WorldEggSerializer is the §4.C "WorldEgg" sub-serializer.
type WorldEggSerializer struct {
	registry  *liveworld.Registry
	factory   liveworld.Factory
	templates *template.Table[template.Egg]
	policy    liveworld.HatchPolicy
	log       *zap.Logger
	snapshots *snapshotCache

	now func() int64
}

func NewWorldEggSerializer(registry *liveworld.Registry, factory liveworld.Factory, templates *template.Table[template.Egg], policy liveworld.HatchPolicy, now func() int64, log *zap.Logger) *WorldEggSerializer {
	return &WorldEggSerializer{registry: registry, factory: factory, templates: templates, policy: policy, now: now, log: log, snapshots: newSnapshotCache()}
}

func (s *WorldEggSerializer) Serialize(userID int64, isFinal bool) []profile.Entry {
	owner := liveworld.OwnerFromUserID(userID)
	ids := s.registry.Eggs.EnumerateByOwner(owner)

	entries := make([]profile.Entry, 0, len(ids))
	nowTs := s.now()
	for _, id := range ids {
		egg, ok := s.registry.Eggs.Get(id)
		if !ok {
			continue
		}
		remaining := egg.HatchAt - nowTs
		if remaining < 0 {
			remaining = 0
		}
		e := profile.Entry{
			keyEggID:              egg.EggID,
			keyHatchTotalDuration: egg.HatchTotalDuration,
			keyHatchAt:            egg.HatchAt,
			keyTimeRemaining:      remaining,
			keyPlacedAt:           egg.PlacedAt,
			keyRarity:             egg.Rarity,
			keyValueBase:          egg.ValueBase,
			keyTemplate:           egg.Template,
			keyPoseX:              egg.Pose.X,
			keyPoseY:              egg.Pose.Y,
			keyPoseZ:              egg.Pose.Z,
			keyPoseHeading:        egg.Pose.Heading,
		}
		if egg.HasOrigin {
			e[keyLocalX] = egg.LocalPose.X
			e[keyLocalY] = egg.LocalPose.Y
			e[keyLocalZ] = egg.LocalPose.Z
			e[keyLocalHeading] = egg.LocalPose.Heading
		}
		entries = append(entries, e)
	}

	entries = dedup(entries, keyEggID)
	var dropped int
	entries, dropped = truncate(entries, capWorldEggs)
	if dropped > 0 {
		s.log.Warn("worldEggs serialize truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	if isFinal && len(entries) == 0 {
		if cached, ok := s.snapshots.get(userID); ok {
			return cached
		}
	}
	s.snapshots.set(userID, entries)
	return entries
}

func (s *WorldEggSerializer) Restore(userID int64, entries []profile.Entry) {
	owner := liveworld.OwnerFromUserID(userID)
	var dropped int
	entries, dropped = truncate(entries, capWorldEggs)
	if dropped > 0 {
		s.log.Warn("worldEggs restore truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	origin, hasOrigin := s.registry.PlotOrigin(owner)
	nowTs := s.now()

	for _, e := range entries {
		eggID, _ := e[keyEggID].(string)
		if eggID == "" {
			continue
		}

		existing := s.findByID(owner, eggID)
		if existing == nil {
			tpl, _ := e[keyTemplate].(string)
			var id liveworld.EntityID
			if s.factory != nil {
				existing, id = s.factory.SpawnEgg(tpl, owner)
				if existing != nil {
					s.registry.Eggs.Set(id, owner, existing)
				}
			}
			if existing == nil {
				continue
			}
		}

		existing.EggID = eggID
		existing.OwnerID = owner
		existing.HatchTotalDuration = int64(floatOr(e, keyHatchTotalDuration, float64(existing.HatchTotalDuration)))
		existing.PlacedAt = int64(floatOr(e, keyPlacedAt, float64(existing.PlacedAt)))
		existing.Rarity = intOr(e, keyRarity, existing.Rarity)
		existing.ValueBase = floatOr(e, keyValueBase, existing.ValueBase)
		if tpl, ok := e[keyTemplate].(string); ok && tpl != "" {
			existing.Template = tpl
		}

		hatchAt := int64(floatOr(e, keyHatchAt, float64(existing.HatchAt)))
		remaining := int64(floatOr(e, keyTimeRemaining, 0))
		switch s.policy {
		case liveworld.HatchResetByRemaining:
			existing.HatchAt = nowTs + remaining
		case liveworld.HatchReadyImmediately:
			existing.HatchAt = nowTs
		default: // HatchPreserveOriginal: offline progress applied, hatch-at unchanged
			existing.HatchAt = hatchAt
		}

		if hasOrigin {
			local := liveworld.Pose{
				X:       floatOr(e, keyLocalX, 0),
				Y:       floatOr(e, keyLocalY, 0),
				Z:       floatOr(e, keyLocalZ, 0),
				Heading: float32(floatOr(e, keyLocalHeading, 0)),
			}
			existing.LocalPose = local
			existing.HasOrigin = true
			existing.Pose = liveworld.ToAbsolute(origin, local)
		} else {
			existing.Pose = liveworld.Pose{
				X:       floatOr(e, keyPoseX, 0),
				Y:       floatOr(e, keyPoseY, 0),
				Z:       floatOr(e, keyPoseZ, 0),
				Heading: float32(floatOr(e, keyPoseHeading, 0)),
			}
		}
	}
}

func (s *WorldEggSerializer) findByID(owner liveworld.EntityID, eggID string) *liveworld.Egg {
	for _, id := range s.registry.Eggs.EnumerateByOwner(owner) {
		if egg, ok := s.registry.Eggs.Get(id); ok && egg.EggID == eggID {
			return egg
		}
	}
	return nil
}
