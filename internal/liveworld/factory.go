package liveworld

import (
	"fmt"
	"sync/atomic"

	"github.com/slimeforge/slimekeep/internal/template"
)

// idCounter generates unique entity indices for spawned placeholders,
// mirroring the teacher's world.NextNpcID atomic counter. Starts well
// above any generation-1 owner id so restore-spawned placeholders never
// collide with OwnerFromUserID plot entities.
var idCounter atomic.Uint32

func init() {
	idCounter.Store(1_000_000)
}

func nextIndex() uint32 {
	return idCounter.Add(1)
}

// TemplateFactory is the default liveworld.Factory: it looks a persisted
// entry's template name up in the static YAML tables and spawns a fresh
// placeholder entity, registering it in the same Registry the serializer
// reads from. Grounded on the teacher's NPC spawn path (world.NextNpcID +
// struct literal from a template row), generalized from "spawn an NPC
// from npc_list.yaml" to "spawn a slime/egg/tool from its template table".
type TemplateFactory struct {
	registry *Registry
	slimes   *template.Table[template.Slime]
	eggs     *template.Table[template.Egg]
	tools    *template.Table[template.Tool]
}

func NewTemplateFactory(registry *Registry, slimes *template.Table[template.Slime], eggs *template.Table[template.Egg], tools *template.Table[template.Tool]) *TemplateFactory {
	return &TemplateFactory{registry: registry, slimes: slimes, eggs: eggs, tools: tools}
}

func (f *TemplateFactory) SpawnSlime(tpl string, owner EntityID) (*Slime, EntityID) {
	id := NewEntityID(nextIndex(), 1)
	sl := &Slime{
		ID:         id,
		OwnerID:    owner,
		Template:   tpl,
		StartScale: 0.1,
		MaxScale:   1.0,
		HungerMult: 1.0,
	}
	if t, ok := f.slimes.Lookup(tpl); ok {
		sl.StartScale = t.StartScale
		sl.MaxScale = t.MaxScale
		sl.UnfedGrowthDuration = t.UnfedGrowthDuration
		sl.ValueBase = t.ValueBase
		sl.CurrentValue = t.ValueBase
		sl.Tier = t.Tier
		sl.Rarity = t.Rarity
		sl.BodyColor = decodeHexColor(t.BodyColorHex)
	}
	f.registry.Slimes.Set(id, owner, sl)
	return sl, id
}

func (f *TemplateFactory) SpawnEgg(tpl string, owner EntityID) (*Egg, EntityID) {
	id := NewEntityID(nextIndex(), 1)
	eg := &Egg{ID: id, OwnerID: owner, Template: tpl}
	if t, ok := f.eggs.Lookup(tpl); ok {
		eg.HatchTotalDuration = t.HatchTotalDuration
		eg.Rarity = t.Rarity
		eg.ValueBase = t.ValueBase
	}
	f.registry.Eggs.Set(id, owner, eg)
	return eg, id
}

func (f *TemplateFactory) SpawnTool(tpl string, owner EntityID) (*Tool, EntityID) {
	id := NewEntityID(nextIndex(), 1)
	tl := &Tool{ID: id, OwnerID: owner, Template: tpl, Placeholder: true}
	if t, ok := f.tools.Lookup(tpl); ok {
		tl.RestoreFraction = t.RestoreFraction
		tl.BufferBonus = t.BufferBonus
		tl.Consumable = t.Consumable
		tl.Charges = t.Charges
	}
	f.registry.Tools.Set(id, owner, tl)
	return tl, id
}

func decodeHexColor(hex string) Color {
	if len(hex) != 6 {
		return Color{}
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02X%02X%02X", &r, &g, &b); err != nil {
		return Color{}
	}
	return Color{R: r, G: g, B: b}
}
