// Package serializer is the Grand Serializer (§4.C): a translation library
// between live world/backpack entities and the persisted inventory entries
// that travel through the Profile Cache. Its only state is each
// sub-serializer's last non-empty snapshot per user (snapshot.go).
// It depends on nothing but the liveworld.Registry/Factory contracts and
// the template tables — no storage, no network.
package serializer

// Short-key projection tables (§4.C "Short-key projection"). Keys are
// fixed once shipped; additions are safe, removals require a Meta
// DataVersion bump. Grouped per sub-serializer for readability even
// though Entry is a flat map on the wire.
const (
	keySlimeID                 = "SlimeId"
	keyGrowthProgress          = "gp"
	keyPersistedGrowthProgress = "pgp"
	keyAge                     = "age"
	keyStartScale              = "ssc"
	keyMaxScale                = "msc"
	keyScale                   = "sc"
	keyFeedBufferSeconds       = "fbs"
	keyFeedSpeedMultiplier     = "fsm"
	keyUnfedGrowthDuration     = "ufd"
	keyHungerMult              = "hm"
	keyLastGrowthUpdate        = "lgu"
	keyLastHungerUpdate        = "lhu"
	keyBodyColor               = "col"
	keyTier                    = "tier"
	keyRarity                  = "rar"
	keyCurrentValue            = "cv"
	keyValueBase               = "vb"
	keyTemplate                = "tpl"
	keyPoseX                   = "px"
	keyPoseY                   = "py"
	keyPoseZ                   = "pz"
	keyPoseHeading             = "ph"
	keyLocalX                  = "lx"
	keyLocalY                  = "ly"
	keyLocalZ                  = "lz"
	keyLocalHeading            = "lh"

	keyEggID             = "EggId"
	keyHatchTotalDuration = "htd"
	keyHatchAt            = "hat"
	keyTimeRemaining      = "trm"
	keyPlacedAt           = "plc"

	keyToolUID          = "uid"
	keyFoodID           = "fid"
	keyRestoreFraction  = "rf"
	keyBufferBonus      = "bb"
	keyConsumable       = "cons"
	keyCharges          = "chg"
	keyCooldownOverride = "cdo"
)

const (
	capWorldSlimes    = 200
	capWorldEggs      = 100
	capFoodTools      = 64
	capEggTools       = 64
	capCapturedSlimes = 500
)
