package payment_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-raffle/internal/config"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/payment"
)

func newWebhookService(secret string) *payment.Service {
	cfg := config.StripeConfig{WebhookSecret: secret, Currency: "usd"}
	return payment.NewService(cfg, nil, nil, nil, logger.NewLogger())
}

func TestHandleWebhook_MissingSecret(t *testing.T) {
	svc := newWebhookService("")

	req, _ := http.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader("{}"))
	err := svc.HandleWebhook(req)

	var webhookErr *payment.WebhookError
	require.ErrorAs(t, err, &webhookErr)
	assert.Equal(t, "configuration", webhookErr.Category)
	assert.Equal(t, http.StatusInternalServerError, webhookErr.StatusCode)
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	svc := newWebhookService("whsec_test")

	req, _ := http.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	err := svc.HandleWebhook(req)

	var webhookErr *payment.WebhookError
	require.ErrorAs(t, err, &webhookErr)
	assert.Equal(t, "validation", webhookErr.Category)
	assert.Equal(t, http.StatusBadRequest, webhookErr.StatusCode)
}

func TestCheckoutSession(t *testing.T) {
	// Creating a real checkout session needs the Stripe SDK; covered by the
	// token and invoice tests up to the session.New call.
	t.Skip("Skipping test as we need a better way to mock Stripe SDK")
}
