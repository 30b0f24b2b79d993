// Package liveworld models the runtime, attribute-bearing objects that the
// persistence core serializes to and restores from durable profile entries:
// world slimes, world eggs, and backpack/character tools. Live entities are
// the spec's "external collaborator" — this package defines the minimal
// interface that component C (the serializer) needs to read, write, and
// enumerate them, and nothing about rendering, physics, or gameplay.
package liveworld

// EntityID is a generational entity handle: the low 32 bits are a dense
// index, the high 32 bits a generation counter that invalidates stale
// references after the slot is recycled. Adapted from the teacher's ECS
// entity id scheme.
type EntityID uint64

func NewEntityID(index, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// Pose is a 3D position plus heading, expressed either in absolute world
// space or relative to an owning plot's origin part (§4.C "Spatial
// encoding").
type Pose struct {
	X, Y, Z float64
	Heading float32
}

// Color is a runtime RGB color. Serialize emits 6-hex uppercase; restore
// accepts either a hex string or a structured Color (§4.C "Color encoding").
type Color struct {
	R, G, B uint8
}

// Kind distinguishes the five inventory fields' live counterparts.
type Kind int

const (
	KindWorldSlime Kind = iota
	KindWorldEgg
	KindFoodTool
	KindEggTool
	KindCapturedSlime
)

// Slime is a live world or captured pet entity. Every field the growth
// engine and serializer need is explicit; Extra is the forward-compat bag
// for attributes this repository doesn't yet model (spec §9 "Dynamic
// attribute bags").
type Slime struct {
	ID       EntityID
	SlimeID  string // durable id (§3 invariant 1: immutable once assigned)
	OwnerID  EntityID
	Captured bool // true for CapturedSlime tools, false for WorldSlime

	GrowthProgress          float64
	PersistedGrowthProgress float64
	Age                     int64 // seconds

	StartScale float64
	MaxScale   float64
	Scale      float64

	FeedBufferSeconds     int64
	FeedSpeedMultiplier   float64
	UnfedGrowthDuration   float64
	HungerMult            float64
	LastGrowthUpdate      int64 // unix seconds
	LastHungerUpdate      int64 // unix seconds

	BodyColor Color
	Tier      int
	Rarity    int

	CurrentValue float64
	ValueBase    float64

	Pose       Pose
	LocalPose  Pose
	HasOrigin  bool

	StableFrames int // successive settled frames observed (stability heartbeat; CapturedSlime only)
	Settled      bool

	Template string
	Extra    map[string]any
}

// Egg is a live placed egg awaiting hatch.
type Egg struct {
	ID      EntityID
	EggID   string
	OwnerID EntityID

	HatchTotalDuration int64 // seconds
	HatchAt            int64 // absolute unix timestamp
	PlacedAt           int64

	Rarity int

	ValueBase float64

	Pose      Pose
	LocalPose Pose
	HasOrigin bool

	Template string
	Extra    map[string]any
}

// HatchPolicy governs how a restored egg's hatch-at timestamp is chosen.
type HatchPolicy int

const (
	HatchPreserveOriginal HatchPolicy = iota // offline progress applied
	HatchResetByRemaining
	HatchReadyImmediately
)

// Tool is a live backpack/character tool: food tools and unplaced egg
// tools share this shape; CapturedSlime uses Slime instead since it needs
// growth/hunger fields.
type Tool struct {
	ID      EntityID
	UID     string // ToolUniqueId
	OwnerID EntityID

	FoodID          string
	RestoreFraction float64
	BufferBonus     int64
	Consumable      bool
	Charges         int32
	CooldownOverride int64

	Placeholder bool // single unit-size part with no content (needs repair)

	StableFrames int // successive settled frames observed (stability heartbeat)
	Settled      bool

	Template string
	Extra    map[string]any
}
