package ledger

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-raffle/internal/models"
)

// Migrate creates the schema directly from the bun models. Used by tests
// and local development; deployed environments run the SQL files under
// migrations/ instead.
func Migrate(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Raffle)(nil),
		(*models.Participant)(nil),
		(*models.RaffleEntry)(nil),
		(*models.AllocationSession)(nil),
		(*models.BlessedNumber)(nil),
		(*models.Invoice)(nil),
		(*models.Referral)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	// The uniqueness constraints the allocator's concurrency story rests
	// on. Numbers are unique per raffle, and the session key makes the
	// idempotency guard a store-level guarantee.
	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*models.RaffleEntry)(nil)).
			Index("uq_raffle_entries_raffle_number").
			Unique().IfNotExists().
			Column("raffle_id", "number"),
		db.NewCreateIndex().
			Model((*models.AllocationSession)(nil)).
			Index("uq_allocation_sessions_raffle_session").
			Unique().IfNotExists().
			Column("raffle_id", "session_id"),
		db.NewCreateIndex().
			Model((*models.RaffleEntry)(nil)).
			Index("idx_raffle_entries_session").
			IfNotExists().
			Column("raffle_id", "stripe_session_id"),
		db.NewCreateIndex().
			Model((*models.RaffleEntry)(nil)).
			Index("idx_raffle_entries_participant").
			IfNotExists().
			Column("participant_id"),
		db.NewCreateIndex().
			Model((*models.BlessedNumber)(nil)).
			Index("uq_blessed_numbers_raffle_number").
			Unique().IfNotExists().
			Column("raffle_id", "number"),
		db.NewCreateIndex().
			Model((*models.Invoice)(nil)).
			Index("idx_invoices_referral_code").
			IfNotExists().
			Column("referral_code"),
	}

	for _, idx := range indexes {
		if _, err := idx.Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}
