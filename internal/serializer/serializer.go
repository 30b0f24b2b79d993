package serializer

import (
	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/template"
	"go.uber.org/zap"
)

// Snapshot is the wire-projected inventory produced by Serialize and
// consumed by Restore (§4.C "Serialize(userId, isFinal) returns
// {worldSlimes, worldEggs, foodTools, eggTools, capturedSlimes}").
type Snapshot struct {
	WorldSlimes    []profile.Entry
	WorldEggs      []profile.Entry
	FoodTools      []profile.Entry
	EggTools       []profile.Entry
	CapturedSlimes []profile.Entry
}

// Serializer is the Grand Serializer (§4.C): the fixed-order composition
// of the five sub-serializers.
type Serializer struct {
	worldSlimes    *WorldSlimeSerializer
	worldEggs      *WorldEggSerializer
	foodTools      *FoodToolSerializer
	eggTools       *EggToolSerializer
	capturedSlimes *CapturedSlimeSerializer
}

// Tables bundles the static template tables handed to the sub-serializers.
// They hold them but do not read them: when restore finds no live
// instance for a persisted id, construction goes through the Factory.
type Tables struct {
	Slimes *template.Table[template.Slime]
	Eggs   *template.Table[template.Egg]
	Tools  *template.Table[template.Tool]
}

func New(registry *liveworld.Registry, factory liveworld.Factory, tables Tables, hatchPolicy liveworld.HatchPolicy, now func() int64, log *zap.Logger) *Serializer {
	return &Serializer{
		worldSlimes:    NewWorldSlimeSerializer(registry, factory, tables.Slimes, log),
		worldEggs:      NewWorldEggSerializer(registry, factory, tables.Eggs, hatchPolicy, now, log),
		foodTools:      NewFoodToolSerializer(registry, factory, tables.Tools, log),
		eggTools:       NewEggToolSerializer(registry, factory, tables.Tools, log),
		capturedSlimes: NewCapturedSlimeSerializer(registry, factory, tables.Slimes, log),
	}
}

// Serialize projects every live entity owned by userID into the five
// inventory fields.
func (s *Serializer) Serialize(userID int64, isFinal bool) Snapshot {
	return Snapshot{
		WorldSlimes:    s.worldSlimes.Serialize(userID, isFinal),
		WorldEggs:      s.worldEggs.Serialize(userID, isFinal),
		FoodTools:      s.foodTools.Serialize(userID, isFinal),
		EggTools:       s.eggTools.Serialize(userID, isFinal),
		CapturedSlimes: s.capturedSlimes.Serialize(userID, isFinal),
	}
}

// Restore rebuilds or updates live entities from a persisted inventory,
// calling the five sub-restores in the fixed order: worldSlimes,
// worldEggs, foodTools, eggTools, capturedSlimes (§4.C).
func (s *Serializer) Restore(userID int64, inv profile.Inventory) {
	s.worldSlimes.Restore(userID, inv.WorldSlimes)
	s.worldEggs.Restore(userID, inv.WorldEggs)
	s.foodTools.Restore(userID, inv.FoodTools)
	s.eggTools.Restore(userID, inv.EggTools)
	s.capturedSlimes.Restore(userID, inv.CapturedSlimes)
}
