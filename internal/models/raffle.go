package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Raffle is a single lottery campaign. Exactly one raffle is active at a
// time; activation is handled by an external admin process, so the service
// only ever reads these rows.
type Raffle struct {
	bun.BaseModel `bun:"table:raffles"`

	ID           string    `bun:"id,pk" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	TotalNumbers int       `bun:"total_numbers,notnull" json:"total_numbers"`
	Price        float64   `bun:"price,notnull" json:"price"`
	IsActive     bool      `bun:"is_active,notnull,default:false" json:"is_active"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type Participant struct {
	bun.BaseModel `bun:"table:participants"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email,notnull,unique" json:"email"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// RaffleEntry is one purchased number inside a raffle. The (raffle_id,
// number) pair is unique at the database level; entries are immutable once
// written.
type RaffleEntry struct {
	bun.BaseModel `bun:"table:raffle_entries"`

	ID              string    `bun:"id,pk" json:"id"`
	RaffleID        string    `bun:"raffle_id,notnull" json:"raffle_id"`
	ParticipantID   string    `bun:"participant_id,notnull" json:"participant_id"`
	Number          int       `bun:"number,notnull" json:"number"`
	PaymentStatus   string    `bun:"payment_status,notnull" json:"payment_status"`
	StripeSessionID string    `bun:"stripe_session_id,nullzero" json:"stripe_session_id,omitempty"`
	IsWinner        bool      `bun:"is_winner,notnull,default:false" json:"is_winner"`
	PurchasedAt     time.Time `bun:"purchased_at,notnull,default:current_timestamp" json:"purchased_at"`
}

// AllocationSession marks a payment session whose draw has been committed.
// The unique (raffle_id, session_id) key makes webhook idempotency a
// store-level guarantee; the row is written in the same transaction as the
// entry batch.
type AllocationSession struct {
	bun.BaseModel `bun:"table:allocation_sessions"`

	ID        string    `bun:"id,pk" json:"id"`
	RaffleID  string    `bun:"raffle_id,notnull" json:"raffle_id"`
	SessionID string    `bun:"session_id,notnull" json:"session_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// BlessedNumber is a pre-seeded prize number. AssignedTo stays empty until
// the number is drawn, after which it is never reassigned.
type BlessedNumber struct {
	bun.BaseModel `bun:"table:blessed_numbers"`

	ID           string    `bun:"id,pk" json:"id"`
	RaffleID     string    `bun:"raffle_id,notnull" json:"raffle_id"`
	Number       int       `bun:"number,notnull" json:"number"`
	IsMinorPrize bool      `bun:"is_minor_prize,notnull,default:false" json:"is_minor_prize"`
	AssignedTo   string    `bun:"assigned_to,nullzero" json:"assigned_to,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Payment status values shared by invoices and raffle entries.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)
