package serializer

import (
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
)

// WorldSlimeSerializer is the §4.C "WorldSlime" sub-serializer.
type WorldSlimeSerializer struct {
	registry  *liveworld.Registry
	factory   liveworld.Factory
	templates *template.Table[template.Slime]
	log       *zap.Logger
	snapshots *snapshotCache
}

func NewWorldSlimeSerializer(registry *liveworld.Registry, factory liveworld.Factory, templates *template.Table[template.Slime], log *zap.Logger) *WorldSlimeSerializer {
	return &WorldSlimeSerializer{registry: registry, factory: factory, templates: templates, log: log, snapshots: newSnapshotCache()}
}

func (s *WorldSlimeSerializer) Serialize(userID int64, isFinal bool) []profile.Entry {
	owner := liveworld.OwnerFromUserID(userID)
	ids := s.registry.Slimes.EnumerateByOwner(owner)

	entries := make([]profile.Entry, 0, len(ids))
	for _, id := range ids {
		sl, ok := s.registry.Slimes.Get(id)
		if !ok || sl.Captured {
			continue
		}
		entries = append(entries, s.toEntry(sl))
	}

	entries = dedup(entries, keySlimeID)
	var dropped int
	entries, dropped = truncate(entries, capWorldSlimes)
	if dropped > 0 {
		s.log.Warn("worldSlimes serialize truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	if isFinal && len(entries) == 0 {
		if cached, ok := s.snapshots.get(userID); ok {
			return cached
		}
	}
	s.snapshots.set(userID, entries)
	return entries
}

func (s *WorldSlimeSerializer) toEntry(sl *liveworld.Slime) profile.Entry {
	e := profile.Entry{
		keySlimeID:                 sl.SlimeID,
		keyGrowthProgress:          sl.GrowthProgress,
		keyPersistedGrowthProgress: sl.PersistedGrowthProgress,
		keyAge:                     sl.Age,
		keyStartScale:              sl.StartScale,
		keyMaxScale:                sl.MaxScale,
		keyScale:                   sl.Scale,
		keyFeedBufferSeconds:       sl.FeedBufferSeconds,
		keyFeedSpeedMultiplier:     sl.FeedSpeedMultiplier,
		keyUnfedGrowthDuration:     sl.UnfedGrowthDuration,
		keyHungerMult:              sl.HungerMult,
		keyLastGrowthUpdate:        sl.LastGrowthUpdate,
		keyLastHungerUpdate:        sl.LastHungerUpdate,
		keyBodyColor:               encodeColor(sl.BodyColor),
		keyTier:                    sl.Tier,
		keyRarity:                  sl.Rarity,
		keyCurrentValue:            sl.CurrentValue,
		keyValueBase:               sl.ValueBase,
		keyTemplate:                sl.Template,
		keyPoseX:                   sl.Pose.X,
		keyPoseY:                   sl.Pose.Y,
		keyPoseZ:                   sl.Pose.Z,
		keyPoseHeading:             sl.Pose.Heading,
	}
	if sl.HasOrigin {
		e[keyLocalX] = sl.LocalPose.X
		e[keyLocalY] = sl.LocalPose.Y
		e[keyLocalZ] = sl.LocalPose.Z
		e[keyLocalHeading] = sl.LocalPose.Heading
	}
	return e
}

// Restore rebuilds or updates live world slimes from persisted entries,
// in the fixed serialize order (§4.C "Restore calls the five sub-restores
// in a fixed order").
func (s *WorldSlimeSerializer) Restore(userID int64, entries []profile.Entry) {
	owner := liveworld.OwnerFromUserID(userID)
	var dropped int
	entries, dropped = truncate(entries, capWorldSlimes)
	if dropped > 0 {
		s.log.Warn("worldSlimes restore truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	origin, hasOrigin := s.registry.PlotOrigin(owner)

	for _, e := range entries {
		slimeID, _ := e[keySlimeID].(string)
		if slimeID == "" {
			continue
		}

		existing := s.findByID(owner, slimeID)
		if existing == nil {
			tpl, _ := e[keyTemplate].(string)
			var id liveworld.EntityID
			if s.factory != nil {
				existing, id = s.factory.SpawnSlime(tpl, owner)
				if existing != nil {
					s.registry.Slimes.Set(id, owner, existing)
				}
			}
			if existing == nil {
				continue
			}
		}

		s.applyEntry(existing, e)
		existing.OwnerID = owner
		existing.Captured = false

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

func (s *WorldSlimeSerializer) applyEntry(sl *liveworld.Slime, e profile.Entry) {
	sl.SlimeID, _ = e[keySlimeID].(string)
	sl.GrowthProgress = floatOr(e, keyGrowthProgress, sl.GrowthProgress)
	sl.PersistedGrowthProgress = floatOr(e, keyPersistedGrowthProgress, sl.PersistedGrowthProgress)
	sl.Age = int64(floatOr(e, keyAge, float64(sl.Age)))
	sl.StartScale = floatOr(e, keyStartScale, sl.StartScale)
	sl.MaxScale = floatOr(e, keyMaxScale, sl.MaxScale)
	sl.Scale = floatOr(e, keyScale, sl.Scale)
	sl.FeedBufferSeconds = int64(floatOr(e, keyFeedBufferSeconds, float64(sl.FeedBufferSeconds)))
	sl.FeedSpeedMultiplier = floatOr(e, keyFeedSpeedMultiplier, sl.FeedSpeedMultiplier)
	sl.UnfedGrowthDuration = floatOr(e, keyUnfedGrowthDuration, sl.UnfedGrowthDuration)
	sl.HungerMult = floatOr(e, keyHungerMult, sl.HungerMult)
	sl.LastGrowthUpdate = int64(floatOr(e, keyLastGrowthUpdate, float64(sl.LastGrowthUpdate)))
	sl.LastHungerUpdate = int64(floatOr(e, keyLastHungerUpdate, float64(sl.LastHungerUpdate)))
	if c, ok := decodeColor(e[keyBodyColor]); ok {
		sl.BodyColor = c
	}
	sl.Tier = intOr(e, keyTier, sl.Tier)
	sl.Rarity = intOr(e, keyRarity, sl.Rarity)
	sl.CurrentValue = floatOr(e, keyCurrentValue, sl.CurrentValue)
	sl.ValueBase = floatOr(e, keyValueBase, sl.ValueBase)
	if tpl, ok := e[keyTemplate].(string); ok && tpl != "" {
		sl.Template = tpl
	}
}

func (s *WorldSlimeSerializer) findByID(owner liveworld.EntityID, slimeID string) *liveworld.Slime {
	var found *liveworld.Slime
	for _, id := range s.registry.Slimes.EnumerateByOwner(owner) {
		if sl, ok := s.registry.Slimes.Get(id); ok && sl.SlimeID == slimeID && !sl.Captured {
			found = sl
			break
		}
	}
	return found
}

func floatOr(e profile.Entry, key string, def float64) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func intOr(e profile.Entry, key string, def int) int {
	switch v := e[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
