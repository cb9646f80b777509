package models

import "time"

// InsertOutcome reports how a batch entry insert ended. A conflict means a
// concurrent allocation won the race for at least one number; a session hit
// means the payment session already committed a batch earlier. Nothing is
// written in either case.
type InsertOutcome int

const (
	InsertOK InsertOutcome = iota
	InsertConflict
	InsertSessionExists
)

// AllocationRequest carries everything the allocator needs for one payment
// event. RaffleID is optional; when set it must match the active raffle.
type AllocationRequest struct {
	RaffleID         string `json:"raffle_id,omitempty"`
	ParticipantName  string `json:"name"`
	ParticipantEmail string `json:"email"`
	Quantity         int    `json:"amount"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderNumber      string `json:"order_number,omitempty"`
}

const (
	AllocationStatusAllocated        = "allocated"
	AllocationStatusAlreadyProcessed = "already_processed"
)

type AllocationResult struct {
	Status         string   `json:"status"`
	RaffleID       string   `json:"raffle_id"`
	ParticipantID  string   `json:"participant_id"`
	Numbers        []int    `json:"assigned"`
	WinningNumbers []int    `json:"winning_numbers"`
	Warnings       []string `json:"warnings,omitempty"`
}

// AllocationEvent is the kafka payload published after a successful
// allocation.
type AllocationEvent struct {
	RaffleID         string    `json:"raffle_id"`
	ParticipantEmail string    `json:"participant_email"`
	PaymentSessionID string    `json:"payment_session_id"`
	OrderNumber      string    `json:"order_number,omitempty"`
	Numbers          []int     `json:"numbers"`
	WinningNumbers   []int     `json:"winning_numbers"`
	AllocatedAt      time.Time `json:"allocated_at"`
}

// TicketNumber is one number inside a grouped purchase view.
type TicketNumber struct {
	Number   int  `json:"number"`
	IsWinner bool `json:"is_winner"`
}

// TicketPurchase groups a participant's entries by raffle, payment status
// and purchase day, mirroring how the storefront presents ticket history.
type TicketPurchase struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Numbers       []TicketNumber `json:"numbers"`
	PaymentStatus string         `json:"payment_status"`
	PurchaseDate  time.Time      `json:"purchase_date"`
}
