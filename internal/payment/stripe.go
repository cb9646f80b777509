package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-raffle/internal/config"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

// Init sets the Stripe API key for the process.
func Init(secretKey string) {
	stripe.Key = secretKey
}

type TokenValidator interface {
	Validate(ctx context.Context, token string) (*models.PurchaseTokenClaims, error)
}

type InvoiceManager interface {
	Create(ctx context.Context, data models.InvoiceCreationData) (*models.Invoice, error)
	Complete(ctx context.Context, orderNumber string) (*models.Invoice, error)
	MarkFailed(ctx context.Context, orderNumber string) error
}

type Allocator interface {
	Allocate(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error)
}

type Service struct {
	Config    config.StripeConfig
	Tokens    TokenValidator
	Invoices  InvoiceManager
	Allocator Allocator
	Logger    *logger.Logger
}

func NewService(cfg config.StripeConfig, tokens TokenValidator, invoices InvoiceManager, allocator Allocator, log *logger.Logger) *Service {
	return &Service{
		Config:    cfg,
		Tokens:    tokens,
		Invoices:  invoices,
		Allocator: allocator,
		Logger:    log,
	}
}

// CreateCheckoutSession validates the purchase token, opens a pending
// invoice and creates the Stripe session. The metadata carries everything
// the webhook needs to allocate numbers later.
func (s *Service) CreateCheckoutSession(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	claims, err := s.Tokens.Validate(ctx, req.PurchaseToken)
	if err != nil {
		return nil, fmt.Errorf("purchase token rejected: %w", err)
	}

	invoice, err := s.Invoices.Create(ctx, models.InvoiceCreationData{
		FullName:      req.FullName,
		Email:         req.Email,
		Phone:         req.Phone,
		Country:       req.Country,
		Province:      req.Province,
		City:          req.City,
		Address:       req.Address,
		PaymentMethod: models.PaymentMethodStripe,
		Amount:        claims.Quantity,
		TotalPrice:    claims.Price,
		ReferralCode:  req.ReferralCode,
	})
	if err != nil {
		return nil, err
	}

	amountInCents := int64(claims.Price * 100)

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.Config.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Bundle of %d raffle numbers", claims.Quantity)),
					},
					UnitAmount: stripe.Int64(amountInCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.Config.SuccessURL),
		CancelURL:  stripe.String(s.Config.CancelURL),
	}
	params.AddMetadata("order_number", invoice.OrderNumber)
	params.AddMetadata("name", req.FullName)
	params.AddMetadata("email", invoice.Email)
	params.AddMetadata("phone", req.Phone)
	params.AddMetadata("amount", strconv.Itoa(claims.Quantity))

	checkoutSession, err := session.New(params)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create checkout session for order %s: %v", invoice.OrderNumber, err))
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.Logger.Info("PAYMENT", fmt.Sprintf("Created checkout session %s for order %s", checkoutSession.ID, invoice.OrderNumber))
	return &models.CheckoutResponse{
		SessionID:   checkoutSession.ID,
		OrderNumber: invoice.OrderNumber,
	}, nil
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// HandleWebhook verifies and processes a Stripe webhook delivery. A
// completed checkout session triggers number allocation keyed by the
// session id, then flips the invoice; redeliveries ride the allocator's
// idempotency path.
func (s *Service) HandleWebhook(r *http.Request) error {
	if s.Config.WebhookSecret == "" {
		s.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.Config.WebhookSecret, opts)
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Webhook signature verification failed: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	s.Logger.LogWebhook(string(event.Type), "Processing Stripe webhook event")

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(r.Context(), event.Data.Raw)

	case "checkout.session.expired":
		var checkoutSession stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
			break
		}
		if orderNumber := checkoutSession.Metadata["order_number"]; orderNumber != "" {
			if err := s.Invoices.MarkFailed(r.Context(), orderNumber); err != nil {
				s.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to mark invoice %s failed: %v", orderNumber, err))
			}
		}

	default:
		s.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}

	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var checkoutSession stripe.CheckoutSession
	if err := json.Unmarshal(raw, &checkoutSession); err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal checkout session: %v", err))
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}

	metadata := checkoutSession.Metadata
	orderNumber := metadata["order_number"]
	if orderNumber == "" {
		s.Logger.Error("WEBHOOK", "Checkout session has no order_number in metadata")
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid checkout session data",
			InternalError: "Checkout session has no order_number in metadata",
		}
	}

	quantity, err := strconv.Atoi(metadata["amount"])
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Checkout session %s has invalid amount %q", checkoutSession.ID, metadata["amount"]))
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid checkout session data",
			InternalError: fmt.Sprintf("Invalid amount in metadata: %q", metadata["amount"]),
			OriginalErr:   err,
		}
	}

	_, err = s.Allocator.Allocate(ctx, models.AllocationRequest{
		ParticipantName:  metadata["name"],
		ParticipantEmail: metadata["email"],
		Quantity:         quantity,
		PaymentSessionID: checkoutSession.ID,
		OrderNumber:      orderNumber,
	})
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to allocate numbers for session %s: %v", checkoutSession.ID, err))
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Failed to process payment",
			InternalError: fmt.Sprintf("Failed to allocate numbers for session %s: %v", checkoutSession.ID, err),
			OriginalErr:   err,
		}
	}

	// The entries are the source of truth once written; a failed status
	// flip is logged and retried on redelivery.
	if _, err := s.Invoices.Complete(ctx, orderNumber); err != nil {
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to complete invoice %s: %v", orderNumber, err))
	}

	s.Logger.LogWebhook("checkout.session.completed", fmt.Sprintf("Processed payment for order %s", orderNumber))
	return nil
}
