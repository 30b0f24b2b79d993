package profile

import "go.uber.org/zap"

// MergeOptions controls the pre-commit guards applied inside a save's
// Store.Update mutator (§4.B "Empty-overwrite guard", "Coin-zero
// protection").
type MergeOptions struct {
	// OverrideEmptyGuard, when true, lets an empty incoming inventory
	// field replace a non-empty remote field (§3 invariant 6's explicit
	// override).
	OverrideEmptyGuard bool
	// SpendRecordedSinceLoad, when true, suppresses coin-zero protection
	// because a legitimate spend (not a bug) brought coins to zero.
	SpendRecordedSinceLoad bool
}

// ApplyMergeRules reconciles the in-memory snapshot (incoming) against the
// latest remote value (prior) before a save commits, enforcing the
// empty-overwrite guard and coin-zero protection. It mutates and returns
// incoming; prior is read-only.
func ApplyMergeRules(prior, incoming *Profile, opts MergeOptions, log *zap.Logger) *Profile {
	if prior == nil {
		return incoming
	}

	if !opts.OverrideEmptyGuard {
		applyEmptyOverwriteGuard(prior, incoming, log)
	}

	if incoming.Core.Coins == 0 && prior.Core.Coins > 0 && !opts.SpendRecordedSinceLoad {
		log.Warn("coin-zero protection triggered, restoring prior balance",
			zap.Int64("userId", incoming.UserID),
			zap.Int64("priorCoins", prior.Core.Coins))
		incoming.Core.Coins = prior.Core.Coins
	}

	return incoming
}

// applyEmptyOverwriteGuard implements §3 invariant 6: an empty snapshot
// field never overwrites a non-empty same field absent an explicit
// override. The decision is logged per field.
func applyEmptyOverwriteGuard(prior, incoming *Profile, log *zap.Logger) {
	for _, f := range AllFields {
		priorField := prior.Inventory.Field(f)
		incomingField := incoming.Inventory.Field(f)
		if len(*incomingField) == 0 && len(*priorField) > 0 {
			log.Warn("empty-overwrite guard triggered, keeping prior field",
				zap.Int64("userId", incoming.UserID),
				zap.String("field", string(f)),
				zap.Int("priorCount", len(*priorField)))
			*incomingField = append([]Entry(nil), *priorField...)
		}
	}
}
