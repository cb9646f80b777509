package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-raffle/internal/models"
)

// ErrBlessedNumberAssigned is returned when a blessed number already has an
// owner. Assignments are write-once.
var ErrBlessedNumberAssigned = errors.New("blessed number already assigned")

// DB is the order ledger: raffles, participants, entries and blessed
// numbers backed by Postgres through bun. Uniqueness is enforced by the
// schema, so concurrent writers are resolved here by conflict results
// rather than by pre-checks.
type DB struct {
	Bun *bun.DB
}

// GetActiveRaffle returns the currently active raffle, or nil when no
// raffle is active.
func (d *DB) GetActiveRaffle(ctx context.Context) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch active raffle: %w", err)
	}
	return &raffle, nil
}

// ListUsedNumbers returns every number already issued within a raffle.
func (d *DB) ListUsedNumbers(ctx context.Context, raffleID string) ([]int, error) {
	var numbers []int
	err := d.Bun.NewSelect().
		Column("number").
		Table("raffle_entries").
		Where("raffle_id = ?", raffleID).
		Scan(ctx, &numbers)
	if err != nil {
		return nil, fmt.Errorf("list used numbers: %w", err)
	}
	return numbers, nil
}

// FindParticipantByEmail returns nil when no participant matches. Emails
// are stored lowercased, so callers normalize before looking up.
func (d *DB) FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	var participant models.Participant
	err := d.Bun.NewSelect().
		Model(&participant).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &participant, nil
}

// CreateParticipant inserts a new participant. When a concurrent request
// creates the same email first, the unique violation is swallowed and the
// existing row is returned instead.
func (d *DB) CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error) {
	participant := &models.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err := d.Bun.NewInsert().Model(participant).Exec(ctx)
	if err == nil {
		return participant, nil
	}
	if !IsUniqueViolation(err) {
		return nil, fmt.Errorf("create participant: %w", err)
	}

	existing, readErr := d.FindParticipantByEmail(ctx, email)
	if readErr != nil {
		return nil, readErr
	}
	if existing == nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return existing, nil
}

// ListBlessedNumbers returns every blessed number of a raffle, assigned or
// not; the allocator filters on AssignedTo.
func (d *DB) ListBlessedNumbers(ctx context.Context, raffleID string) ([]models.BlessedNumber, error) {
	var blessed []models.BlessedNumber
	err := d.Bun.NewSelect().
		Model(&blessed).
		Where("raffle_id = ?", raffleID).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blessed numbers: %w", err)
	}
	return blessed, nil
}

// FindEntriesBySession returns the entries already written for a payment
// session, the idempotency check for webhook redelivery.
func (d *DB) FindEntriesBySession(ctx context.Context, raffleID, sessionID string) ([]models.RaffleEntry, error) {
	var entries []models.RaffleEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("raffle_id = ?", raffleID).
		Where("stripe_session_id = ?", sessionID).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find entries by session: %w", err)
	}
	return entries, nil
}

// Unique violations inside the insert transaction surface as these
// sentinels so RunInTx rolls back before they are translated to outcomes.
var (
	errSessionCommitted = errors.New("allocation session already committed")
	errNumberTaken      = errors.New("number already taken")
)

// InsertEntries writes a drawn batch and its session marker in one
// transaction. Either everything lands or nothing does: a violation of the
// unique (raffle_id, session_id) key reports InsertSessionExists, a
// violation of (raffle_id, number) reports InsertConflict, and the
// rollback leaves no rows behind in either case.
func (d *DB) InsertEntries(ctx context.Context, entries []models.RaffleEntry) (models.InsertOutcome, error) {
	if len(entries) == 0 {
		return models.InsertOK, nil
	}

	session := &models.AllocationSession{
		ID:        uuid.NewString(),
		RaffleID:  entries[0].RaffleID,
		SessionID: entries[0].StripeSessionID,
		CreatedAt: time.Now().UTC(),
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(session).Exec(ctx); err != nil {
			if IsUniqueViolation(err) {
				return errSessionCommitted
			}
			return err
		}
		if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
			if IsUniqueViolation(err) {
				return errNumberTaken
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		return models.InsertOK, nil
	case errors.Is(err, errSessionCommitted):
		return models.InsertSessionExists, nil
	case errors.Is(err, errNumberTaken):
		return models.InsertConflict, nil
	default:
		return models.InsertOK, fmt.Errorf("insert entries: %w", err)
	}
}

// AssignBlessedNumber sets the owner of a blessed number. The update is
// conditional on the row being unassigned; a lost race returns
// ErrBlessedNumberAssigned.
func (d *DB) AssignBlessedNumber(ctx context.Context, id, participantID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.BlessedNumber)(nil)).
		Set("assigned_to = ?", participantID).
		Where("id = ?", id).
		Where("assigned_to IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("assign blessed number: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign blessed number: %w", err)
	}
	if affected == 0 {
		return ErrBlessedNumberAssigned
	}
	return nil
}

// ListEntriesByParticipant returns a participant's entries, newest first.
func (d *DB) ListEntriesByParticipant(ctx context.Context, participantID string) ([]models.RaffleEntry, error) {
	var entries []models.RaffleEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("participant_id = ?", participantID).
		Order("purchased_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries by participant: %w", err)
	}
	return entries, nil
}

// GetEntryByID fetches a single entry, used for receipt generation.
func (d *DB) GetEntryByID(ctx context.Context, id string) (*models.RaffleEntry, error) {
	var entry models.RaffleEntry
	err := d.Bun.NewSelect().
		Model(&entry).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &entry, nil
}

// SoldCount counts issued numbers, excluding entries from failed payments.
func (d *DB) SoldCount(ctx context.Context, raffleID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.RaffleEntry)(nil)).
		Where("raffle_id = ?", raffleID).
		Where("payment_status != ?", models.PaymentStatusFailed).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("sold count: %w", err)
	}
	return count, nil
}

// IsUniqueViolation recognizes unique-constraint errors from pgdriver
// (code 23505) and from the sqlite driver used in tests.
func IsUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
