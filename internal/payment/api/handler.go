package payment_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/payment"
	"ms-raffle/internal/purchasetoken"
)

type Handler struct {
	Tokens   *purchasetoken.Service
	Payments *payment.Service
	Logger   *logger.Logger
}

func NewHandler(tokens *purchasetoken.Service, payments *payment.Service) *Handler {
	return &Handler{
		Tokens:   tokens,
		Payments: payments,
		Logger:   logger.NewLogger(),
	}
}

// IssuePurchaseToken quotes a quantity against the active raffle and
// returns a short-lived signed token pinning quantity, price and raffle.
func (h *Handler) IssuePurchaseToken(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "IssuePurchaseToken: received request")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("IssuePurchaseToken: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	token, claims, err := h.Tokens.Issue(r.Context(), req.Quantity)
	if err != nil {
		h.writeTokenError(w, "IssuePurchaseToken", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"token":  token,
		"claims": claims,
	}); err != nil {
		h.Logger.Error("API", fmt.Sprintf("IssuePurchaseToken: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("IssuePurchaseToken: issued token for quantity %d", req.Quantity))
}

// ValidatePurchaseToken lets the storefront re-check a token before
// presenting the checkout form.
func (h *Handler) ValidatePurchaseToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	claims, err := h.Tokens.Validate(r.Context(), req.Token)
	if err != nil {
		h.writeTokenError(w, "ValidatePurchaseToken", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(claims); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ValidatePurchaseToken: failed to encode response: %v", err))
	}
}

func (h *Handler) writeTokenError(w http.ResponseWriter, op string, err error) {
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))

	switch {
	case errors.Is(err, purchasetoken.ErrInvalidQuantity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, purchasetoken.ErrTokenExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, purchasetoken.ErrStaleToken):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, purchasetoken.ErrNoActiveRaffle):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, purchasetoken.ErrTokenInvalid):
		http.Error(w, purchasetoken.ErrTokenInvalid.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, "Failed to process purchase token", http.StatusInternalServerError)
	}
}

// CreateCheckoutSession opens a Stripe checkout for a validated token.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "CreateCheckoutSession: received request")

	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateCheckoutSession: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.Payments.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		if isTokenError(err) {
			h.writeTokenError(w, "CreateCheckoutSession", err)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CreateCheckoutSession: %v", err))
		http.Error(w, "Failed to create checkout session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateCheckoutSession: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateCheckoutSession: session created for order %s", resp.OrderNumber))
}

func isTokenError(err error) bool {
	return errors.Is(err, purchasetoken.ErrTokenInvalid) ||
		errors.Is(err, purchasetoken.ErrTokenExpired) ||
		errors.Is(err, purchasetoken.ErrStaleToken) ||
		errors.Is(err, purchasetoken.ErrNoActiveRaffle) ||
		errors.Is(err, purchasetoken.ErrInvalidQuantity)
}

// HandleStripeWebhook receives Stripe event deliveries. Processing errors
// come back as WebhookError with a safe public message; anything else is a
// generic 500 so Stripe retries.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.Payments.HandleWebhook(r); err != nil {
		var webhookErr *payment.WebhookError
		if errors.As(err, &webhookErr) {
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
