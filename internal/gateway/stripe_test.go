package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v82"

	"ms-checkout/internal/models"
)

func TestPaymentStatusFromIntent(t *testing.T) {
	tests := []struct {
		status stripe.PaymentIntentStatus
		want   models.GatewayPaymentStatus
	}{
		{stripe.PaymentIntentStatusSucceeded, models.GatewayPaymentCompleted},
		{stripe.PaymentIntentStatusCanceled, models.GatewayPaymentCancelled},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, models.GatewayPaymentFailed},
		{stripe.PaymentIntentStatusProcessing, models.GatewayPaymentPending},
		{stripe.PaymentIntentStatusRequiresAction, models.GatewayPaymentPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, paymentStatusFromIntent(tt.status), "status %s", tt.status)
	}
}

func TestLinkStatusFromSession(t *testing.T) {
	assert.Equal(t, models.CheckoutLinkCompleted,
		linkStatusFromSession(&stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusComplete}))
	assert.Equal(t, models.CheckoutLinkExpired,
		linkStatusFromSession(&stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired}))
	assert.Equal(t, models.CheckoutLinkOpen,
		linkStatusFromSession(&stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen}))
}

func TestIsMissing(t *testing.T) {
	assert.True(t, isMissing(&stripe.Error{Code: stripe.ErrorCodeResourceMissing}))
	assert.True(t, isMissing(&stripe.Error{HTTPStatusCode: http.StatusNotFound}))
	assert.True(t, isMissing(fmt.Errorf("wrapped: %w", &stripe.Error{Code: stripe.ErrorCodeResourceMissing})))

	assert.False(t, isMissing(&stripe.Error{Code: stripe.ErrorCodeRateLimit, HTTPStatusCode: http.StatusTooManyRequests}))
	assert.False(t, isMissing(errors.New("connection refused")))
	assert.False(t, isMissing(nil))
}

func TestPaymentFromIntentCarriesOrderMetadata(t *testing.T) {
	intent := &stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   2500,
		Currency: stripe.CurrencyUSD,
		Created:  1700000000,
		Metadata: map[string]string{orderIDMetadataKey: "ext-order-1"},
	}

	payment := paymentFromIntent(intent)
	assert.Equal(t, "pi_1", payment.PaymentID)
	assert.Equal(t, models.GatewayPaymentCompleted, payment.Status)
	assert.Equal(t, int64(2500), payment.Amount)
	assert.Equal(t, "usd", payment.Currency)
	assert.Equal(t, "ext-order-1", payment.ExternalOrderID)
	assert.False(t, payment.CreatedAt.IsZero())

	payment = paymentFromIntent(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusProcessing})
	assert.Empty(t, payment.ExternalOrderID)
}
