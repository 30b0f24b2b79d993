// Package sale implements the Sale Pipeline (§4.H): the atomic primitive
// that prices a batch of captured slimes, credits coins, removes the
// sold entries, and raises the seller's faction standing. Grounded on
// the teacher's internal/system/shop.go (price-then-mutate-inventory
// shape) and internal/persist/clan_repo.go's CreateClan ("WAL-safe: DB
// first, memory second" — applied here as ledger-write-before-cache-
// effect so a crash mid-sale leaves a replayable trail instead of a
// silently lost credit).
package sale

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/ledger"
	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
)

// idKeys are every key name a sold entry's durable id might be filed
// under, across the field's own canonical key and the legacy aliases
// other callers have historically used (§4.H step 5 "defensively call
// removeInventoryItem across all plausible key names").
var idKeys = []string{"SlimeId", "ToolUniqueId", "ToolUid", "uid", "id"}

// Cache is the subset of *profile.Cache the pipeline needs.
type Cache interface {
	GetProfile(ctx context.Context, userID int64) (*profile.Profile, error)
	IncrementCoins(userID int64, delta int64)
	RemoveInventoryItem(userID int64, field profile.Field, idKey string, idValue any)
	SaveNowAndWait(ctx context.Context, userID int64, timeout time.Duration, overrideEmptyGuard bool) (done, ok bool)
	AdjustStanding(userID int64, faction string, delta float64)
	Standing(userID int64, faction string) float64
}

// Ledger is the subset of the economic WAL the pipeline writes to before
// any in-memory effect (§4.H "All of steps 4-8 are best-effort-idempotent").
type Ledger interface {
	WriteWAL(ctx context.Context, entries []ledger.Entry) error
}

// Quote is one priced tool, the result of step 2.
type Quote struct {
	ID        string
	BaseGross float64
	Payout    int64
}

// Result is the outcome of a Sell call.
type Result struct {
	Sold          []string
	TotalPayout   int64
	TotalBase     float64
	StandingGain  float64
	NewStanding   float64
	SaveConfirmed bool
}

// Pipeline is the §4.H Sale Pipeline.
type Pipeline struct {
	cache     Cache
	ledger    Ledger
	registry  *liveworld.Registry
	palette   []liveworld.Color
	cfg       config.SaleConfig
	saveDeadline time.Duration
	log       *zap.Logger
}

func NewPipeline(cache Cache, led Ledger, registry *liveworld.Registry, palette []liveworld.Color, cfg config.SaleConfig, saveDeadline time.Duration, log *zap.Logger) *Pipeline {
	return &Pipeline{cache: cache, ledger: led, registry: registry, palette: palette, cfg: cfg, saveDeadline: saveDeadline, log: log}
}

// Sell runs the full pipeline for userID selling toolIDs (captured-slime
// durable ids) to faction (§4.H steps 1-8).
func (p *Pipeline) Sell(ctx context.Context, userID int64, faction string, toolIDs []string) (Result, error) {
	prof, err := p.cache.GetProfile(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	standing := prof.Stats.Standing[faction]
	standMult := p.cfg.StandMultMin + (p.cfg.StandMultMax-p.cfg.StandMultMin)*standing

	wanted := make(map[string]bool, len(toolIDs))
	for _, id := range toolIDs {
		wanted[id] = true
	}

	var quotes []Quote
	var totalPayout int64
	var totalBase float64
	for _, e := range prof.Inventory.CapturedSlimes {
		id, _ := e["SlimeId"].(string)
		if id == "" || !wanted[id] {
			continue
		}
		baseGross := toolBaseGross(e, p.cfg.ValuePerGrowth)
		colorMult := p.colorMultiplier(e)
		payout := int64(math.Floor(math.Max(float64(p.cfg.MinPayout), baseGross*standMult*colorMult)))
		if payout <= 0 {
			continue
		}
		quotes = append(quotes, Quote{ID: id, BaseGross: baseGross, Payout: payout})
		totalPayout += payout
		totalBase += baseGross
	}

	if len(quotes) == 0 {
		return Result{}, nil
	}

	soldIDs := make([]string, len(quotes))
	for i, q := range quotes {
		soldIDs[i] = q.ID
	}

	if p.ledger != nil {
		if err := p.ledger.WriteWAL(ctx, []ledger.Entry{{
			TxType:  "sale",
			UserID:  userID,
			Faction: faction,
			Amount:  totalPayout,
			Detail:  "sell_slimes",
		}}); err != nil {
			p.log.Error("sale ledger write failed", zap.Int64("userId", userID), zap.Error(err))
		}
	}

	p.cache.IncrementCoins(userID, totalPayout)
	for _, id := range soldIDs {
		p.removeEverywhere(userID, id)
	}

	// The removals are deliberate, so the empty-overwrite guard must not
	// restore the sold entries from the prior remote value.
	done, saved := p.cache.SaveNowAndWait(ctx, userID, p.saveDeadline, true)
	saveConfirmed := done && saved
	if saveConfirmed {
		saveConfirmed = p.verifyRemoved(ctx, userID, soldIDs)
	}

	p.destroyLive(userID, soldIDs)

	gain := p.standingGain(totalBase, float64(totalPayout), standing)
	p.cache.AdjustStanding(userID, faction, gain)
	p.cache.SaveNowAndWait(ctx, userID, p.saveDeadline, false)

	return Result{
		Sold:          soldIDs,
		TotalPayout:   totalPayout,
		TotalBase:     totalBase,
		StandingGain:  gain,
		NewStanding:   p.cache.Standing(userID, faction),
		SaveConfirmed: saveConfirmed,
	}, nil
}

// removeEverywhere defensively removes id from every inventory field
// under every plausible id key (§4.H step 5): idempotent, so calling it
// when only one field/key actually matches is harmless.
func (p *Pipeline) removeEverywhere(userID int64, id string) {
	for _, field := range profile.AllFields {
		for _, key := range idKeys {
			p.cache.RemoveInventoryItem(userID, field, key, id)
		}
	}
}

// verifyRemoved reads the cached profile post-save and checks no sold id
// remains; on a miss, retries the removal+save once more (§4.H step 6).
func (p *Pipeline) verifyRemoved(ctx context.Context, userID int64, soldIDs []string) bool {
	prof, err := p.cache.GetProfile(ctx, userID)
	if err != nil {
		return false
	}
	if !anyIDRemains(prof, soldIDs) {
		return true
	}

	p.log.Warn("sale verify found residual sold ids, retrying removal", zap.Int64("userId", userID))
	for _, id := range soldIDs {
		p.removeEverywhere(userID, id)
	}
	_, saved := p.cache.SaveNowAndWait(ctx, userID, p.saveDeadline, true)
	return saved
}

func anyIDRemains(prof *profile.Profile, soldIDs []string) bool {
	sold := make(map[string]bool, len(soldIDs))
	for _, id := range soldIDs {
		sold[id] = true
	}
	for _, field := range profile.AllFields {
		for _, e := range *prof.Inventory.Field(field) {
			for _, key := range idKeys {
				if v, ok := e[key].(string); ok && sold[v] {
					return true
				}
			}
		}
	}
	return false
}

func (p *Pipeline) destroyLive(userID int64, soldIDs []string) {
	if p.registry == nil {
		return
	}
	owner := liveworld.OwnerFromUserID(userID)
	sold := make(map[string]bool, len(soldIDs))
	for _, id := range soldIDs {
		sold[id] = true
	}
	for _, id := range p.registry.Slimes.EnumerateByOwner(owner) {
		sl, ok := p.registry.Slimes.Get(id)
		if ok && sold[sl.SlimeID] {
			p.registry.Slimes.Remove(id, owner)
		}
	}
}

// standingGain applies §4.H step 8's formula, floored at zero; there is no
// upper bound on the gain itself, and AdjustStanding clamps the resulting
// standing to [0,1].
func (p *Pipeline) standingGain(baseGross, totalPayout, standing float64) float64 {
	gain := (baseGross*p.cfg.StandingGainA + totalPayout*p.cfg.StandingGainB) / (1 + standing*p.cfg.StandingGainC) / p.cfg.StandingGainDivisor
	if gain < 0 {
		gain = 0
	}
	return gain
}

// toolBaseGross resolves §4.H step 2's baseGross: CurrentValue ("cv") if
// present and positive, else ValueBase * (1 + valuePerGrowth*growth).
func toolBaseGross(e profile.Entry, valuePerGrowth float64) float64 {
	if cv, ok := e["cv"].(float64); ok && cv > 0 {
		return cv
	}
	vb, _ := e["vb"].(float64)
	gp, _ := e["gp"].(float64)
	return vb * (1 + valuePerGrowth*gp)
}

// colorMultiplier maps a tool's body color to a preference multiplier
// via nearest-palette-color distance raised to the preference exponent:
// the closer the color sits to any palette entry, the higher the
// multiplier (1.0 for an exact match, decaying toward 0 as distance
// approaches the maximum possible RGB distance). An empty palette (no
// color preference configured) is neutral (multiplier 1.0).
func (p *Pipeline) colorMultiplier(e profile.Entry) float64 {
	if len(p.palette) == 0 {
		return 1.0
	}
	c, ok := decodeColor(e["col"])
	if !ok {
		return 1.0
	}
	best := math.MaxFloat64
	for _, pc := range p.palette {
		if d := colorDistance(c, pc); d < best {
			best = d
		}
	}
	const maxDist = 441.67295593 // sqrt(255^2 * 3)
	similarity := 1 - best/maxDist
	if similarity < 0 {
		similarity = 0
	}
	return math.Pow(similarity, p.cfg.PreferenceExponent)
}

func colorDistance(a, b liveworld.Color) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func decodeColor(v any) (liveworld.Color, bool) {
	hex, ok := v.(string)
	if !ok || len(hex) != 6 {
		return liveworld.Color{}, false
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02X%02X%02X", &r, &g, &b); err != nil {
		return liveworld.Color{}, false
	}
	return liveworld.Color{R: r, G: g, B: b}, true
}
