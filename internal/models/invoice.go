package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PaymentMethodStripe   = "STRIPE"
	PaymentMethodTransfer = "TRANSFER"
)

type Invoice struct {
	bun.BaseModel `bun:"table:invoices"`

	ID            string    `bun:"id,pk" json:"id"`
	OrderNumber   string    `bun:"order_number,notnull,unique" json:"order_number"`
	FullName      string    `bun:"full_name,notnull" json:"full_name"`
	Email         string    `bun:"email,notnull" json:"email"`
	Phone         string    `bun:"phone,nullzero" json:"phone,omitempty"`
	Country       string    `bun:"country,nullzero" json:"country,omitempty"`
	Province      string    `bun:"province,nullzero" json:"province,omitempty"`
	City          string    `bun:"city,nullzero" json:"city,omitempty"`
	Address       string    `bun:"address,nullzero" json:"address,omitempty"`
	PaymentMethod string    `bun:"payment_method,notnull" json:"payment_method"`
	Amount        int       `bun:"amount,notnull" json:"amount"`
	TotalPrice    float64   `bun:"total_price,notnull" json:"total_price"`
	Status        string    `bun:"status,notnull" json:"status"`
	ReferralCode  string    `bun:"referral_code,nullzero" json:"referral_code,omitempty"`
	ParticipantID string    `bun:"participant_id,notnull" json:"participant_id"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// InvoiceCreationData is the API-facing shape used when a buyer starts a
// purchase. The participant is resolved (or created) from Email before the
// invoice row is written.
type InvoiceCreationData struct {
	FullName      string  `json:"full_name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	Country       string  `json:"country"`
	Province      string  `json:"province"`
	City          string  `json:"city"`
	Address       string  `json:"address"`
	PaymentMethod string  `json:"payment_method"`
	Amount        int     `json:"amount"`
	TotalPrice    float64 `json:"total_price"`
	ReferralCode  string  `json:"referral_code"`
}

type Referral struct {
	bun.BaseModel `bun:"table:referrals"`

	ID             string    `bun:"id,pk" json:"id"`
	ReferralCode   string    `bun:"referral_code,notnull,unique" json:"referral_code"`
	Name           string    `bun:"name,notnull" json:"name"`
	Email          string    `bun:"email,nullzero" json:"email,omitempty"`
	Phone          string    `bun:"phone,nullzero" json:"phone,omitempty"`
	CommissionRate float64   `bun:"commission_rate,notnull" json:"commission_rate"`
	IsActive       bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// ReferralStats is a referral partner together with the sales it produced.
type ReferralStats struct {
	Referral
	TotalInvoices   int     `json:"total_invoices"`
	TotalSales      float64 `json:"total_sales"`
	TotalCommission float64 `json:"total_commission"`
}
