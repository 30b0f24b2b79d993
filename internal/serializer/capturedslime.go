package serializer

import (
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
)

// CapturedSlimeSerializer is the §4.C "CapturedSlime" sub-serializer:
// tools representing captured live pets, carrying the full visual
// attribute set. Dedupes by SlimeId; settles via the same stability
// heartbeat as the tool serializers.
type CapturedSlimeSerializer struct {
	registry  *liveworld.Registry
	factory   liveworld.Factory
	templates *template.Table[template.Slime]
	log       *zap.Logger
	snapshots *snapshotCache
}

func NewCapturedSlimeSerializer(registry *liveworld.Registry, factory liveworld.Factory, templates *template.Table[template.Slime], log *zap.Logger) *CapturedSlimeSerializer {
	return &CapturedSlimeSerializer{registry: registry, factory: factory, templates: templates, log: log, snapshots: newSnapshotCache()}
}

func (s *CapturedSlimeSerializer) Serialize(userID int64, isFinal bool) []profile.Entry {
	owner := liveworld.OwnerFromUserID(userID)
	ids := s.registry.Slimes.EnumerateByOwner(owner)

	entries := make([]profile.Entry, 0, len(ids))
	for _, id := range ids {
		sl, ok := s.registry.Slimes.Get(id)
		if !ok || !sl.Captured {
			continue
		}
		entries = append(entries, profile.Entry{
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
		})
	}

	entries = dedup(entries, keySlimeID)
	var dropped int
	entries, dropped = truncate(entries, capCapturedSlimes)
	if dropped > 0 {
		s.log.Warn("capturedSlimes serialize truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	if isFinal && len(entries) == 0 {
		if cached, ok := s.snapshots.get(userID); ok {
			return cached
		}
	}
	s.snapshots.set(userID, entries)
	return entries
}

func (s *CapturedSlimeSerializer) Restore(userID int64, entries []profile.Entry) {
	owner := liveworld.OwnerFromUserID(userID)
	var dropped int
	entries, dropped = truncate(entries, capCapturedSlimes)
	if dropped > 0 {
		s.log.Warn("capturedSlimes restore truncated", zap.Int64("userId", userID), zap.Int("dropped", dropped))
	}

	for _, e := range entries {
		slimeID, _ := e[keySlimeID].(string)
		if slimeID == "" {
			continue
		}

		existing := s.findByID(owner, slimeID)
		fresh := existing == nil
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

		existing.SlimeID = slimeID
		existing.OwnerID = owner
		existing.Captured = true
		existing.GrowthProgress = floatOr(e, keyGrowthProgress, existing.GrowthProgress)
		existing.PersistedGrowthProgress = floatOr(e, keyPersistedGrowthProgress, existing.PersistedGrowthProgress)
		existing.Age = int64(floatOr(e, keyAge, float64(existing.Age)))
		existing.StartScale = floatOr(e, keyStartScale, existing.StartScale)
		existing.MaxScale = floatOr(e, keyMaxScale, existing.MaxScale)
		existing.Scale = floatOr(e, keyScale, existing.Scale)
		existing.FeedBufferSeconds = int64(floatOr(e, keyFeedBufferSeconds, float64(existing.FeedBufferSeconds)))
		existing.FeedSpeedMultiplier = floatOr(e, keyFeedSpeedMultiplier, existing.FeedSpeedMultiplier)
		existing.UnfedGrowthDuration = floatOr(e, keyUnfedGrowthDuration, existing.UnfedGrowthDuration)
		existing.HungerMult = floatOr(e, keyHungerMult, existing.HungerMult)
		existing.LastGrowthUpdate = int64(floatOr(e, keyLastGrowthUpdate, float64(existing.LastGrowthUpdate)))
		existing.LastHungerUpdate = int64(floatOr(e, keyLastHungerUpdate, float64(existing.LastHungerUpdate)))
		if c, ok := decodeColor(e[keyBodyColor]); ok {
			existing.BodyColor = c
		}
		existing.Tier = intOr(e, keyTier, existing.Tier)
		existing.Rarity = intOr(e, keyRarity, existing.Rarity)
		existing.CurrentValue = floatOr(e, keyCurrentValue, existing.CurrentValue)
		existing.ValueBase = floatOr(e, keyValueBase, existing.ValueBase)
		if tpl, ok := e[keyTemplate].(string); ok && tpl != "" {
			existing.Template = tpl
		}

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

func (s *CapturedSlimeSerializer) findByID(owner liveworld.EntityID, slimeID string) *liveworld.Slime {
	for _, id := range s.registry.Slimes.EnumerateByOwner(owner) {
		if sl, ok := s.registry.Slimes.Get(id); ok && sl.SlimeID == slimeID && sl.Captured {
			return sl
		}
	}
	return nil
}
