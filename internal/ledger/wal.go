package ledger

import (
	"context"
	"fmt"
)

// Entry is one economic write-ahead log record: a sale payout or a
// faction payout attribution (§4.G "credit them via incrementCoins",
// §4.H "ApplySale"). The ledger is write-first: callers append an Entry
// before crediting coins in the profile cache, so a crash between the
// two leaves a recoverable trail rather than a silently lost credit.
type Entry struct {
	TxType  string // "sale", "faction_payout"
	UserID  int64
	Faction string
	Amount  int64
	Detail  string
}

type WALRepo struct {
	db *DB
}

func NewWALRepo(db *DB) *WALRepo {
	return &WALRepo{db: db}
}

// WriteWAL atomically appends a batch of entries in a single transaction.
func (r *WALRepo) WriteWAL(ctx context.Context, entries []Entry) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("wal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO economic_wal (tx_type, user_id, faction, amount, detail)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.TxType, e.UserID, e.Faction, e.Amount, e.Detail,
		); err != nil {
			return fmt.Errorf("wal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkProcessed marks every unprocessed entry of userID as processed,
// called once the corresponding profile-cache credit has been confirmed
// saved.
func (r *WALRepo) MarkProcessed(ctx context.Context, userID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE economic_wal SET processed = TRUE WHERE processed = FALSE AND user_id = $1`,
		userID,
	)
	return err
}

// ListUnprocessed returns every unprocessed entry, oldest first, for
// operational recovery tooling (cmd/ledgerinspect).
func (r *WALRepo) ListUnprocessed(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT tx_type, user_id, faction, amount, detail FROM economic_wal
		 WHERE processed = FALSE ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TxType, &e.UserID, &e.Faction, &e.Amount, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan wal row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
