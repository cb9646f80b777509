package models

// CheckoutRequest starts a Stripe checkout. The purchase token pins the
// quantity, price and raffle that were shown at selection time.
type CheckoutRequest struct {
	PurchaseToken string `json:"purchase_token"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Country       string `json:"country"`
	Province      string `json:"province"`
	City          string `json:"city"`
	Address       string `json:"address"`
	ReferralCode  string `json:"referral_code,omitempty"`
}

type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	OrderNumber string `json:"order_number"`
}

// PurchaseTokenClaims is the validated content of a purchase token.
type PurchaseTokenClaims struct {
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	RaffleID string  `json:"raffle_id"`
	// ExpiresAt is the unix expiry of the token in seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// DashboardMetrics aggregates the sales figures shown on the admin
// dashboard. Percentages split completed sales between payment methods.
type DashboardMetrics struct {
	TotalSales         float64 `json:"total_sales"`
	TotalNumbersSold   int     `json:"total_numbers_sold"`
	TotalWinners       int     `json:"total_winners"`
	ConversionRate     float64 `json:"conversion_rate"`
	TransferSales      float64 `json:"transfer_sales"`
	StripeSales        float64 `json:"stripe_sales"`
	TransferPercentage float64 `json:"transfer_percentage"`
	StripePercentage   float64 `json:"stripe_percentage"`
}

// Winner is one prize-winning participant with their win count.
type Winner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Total int    `json:"total"`
}
