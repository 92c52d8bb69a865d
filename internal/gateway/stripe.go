package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

// orderIDMetadataKey is the payment-intent metadata key the storefront
// stamps with the external order id when it creates the hosted flow.
const orderIDMetadataKey = "external_order_id"

// StripeGateway adapts Stripe's hosted-checkout API to the Gateway
// contract. Payments map to payment intents, checkout links to checkout
// sessions, and order search to a payment-intent metadata search.
type StripeGateway struct {
	logger *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{logger: log}
}

func (g *StripeGateway) RetrievePayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	g.logger.LogGateway("RETRIEVE_PAYMENT", paymentID, "Fetching payment intent")

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := paymentintent.Get(paymentID, params)
	if err != nil {
		if isMissing(err) {
			g.logger.LogGateway("RETRIEVE_PAYMENT", paymentID, "Payment intent not found at provider")
			return nil, nil
		}
		g.logger.Error("GATEWAY", fmt.Sprintf("Failed to retrieve payment intent %s: %v", paymentID, err))
		return nil, fmt.Errorf("%w: retrieve payment %s: %v", ErrGatewayUnavailable, paymentID, err)
	}

	payment := paymentFromIntent(intent)
	return &payment, nil
}

func (g *StripeGateway) RetrieveCheckoutLink(ctx context.Context, linkID string) (*models.CheckoutLink, error) {
	g.logger.LogGateway("RETRIEVE_LINK", linkID, "Fetching checkout session status")

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(linkID, params)
	if err != nil {
		if isMissing(err) {
			g.logger.LogGateway("RETRIEVE_LINK", linkID, "Checkout session not found at provider")
			return nil, nil
		}
		g.logger.Error("GATEWAY", fmt.Sprintf("Failed to retrieve checkout session %s: %v", linkID, err))
		return nil, fmt.Errorf("%w: retrieve checkout link %s: %v", ErrGatewayUnavailable, linkID, err)
	}

	link := &models.CheckoutLink{
		LinkID:          sess.ID,
		Status:          linkStatusFromSession(sess),
		ExternalOrderID: sess.ClientReferenceID,
	}
	if sess.PaymentIntent != nil {
		link.PaymentID = sess.PaymentIntent.ID
	}
	return link, nil
}

func (g *StripeGateway) SearchPaymentsByOrder(ctx context.Context, externalOrderID string) ([]models.GatewayPayment, error) {
	g.logger.LogGateway("SEARCH_PAYMENTS", externalOrderID, "Searching payment intents by external order")

	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", orderIDMetadataKey, externalOrderID),
			Context: ctx,
		},
	}

	var payments []models.GatewayPayment
	iter := paymentintent.Search(params)
	for iter.Next() {
		payments = append(payments, paymentFromIntent(iter.PaymentIntent()))
	}
	if err := iter.Err(); err != nil {
		g.logger.Error("GATEWAY", fmt.Sprintf("Payment search failed for order %s: %v", externalOrderID, err))
		return nil, fmt.Errorf("%w: search payments for order %s: %v", ErrGatewayUnavailable, externalOrderID, err)
	}

	g.logger.LogGateway("SEARCH_PAYMENTS", externalOrderID, fmt.Sprintf("Found %d payment(s)", len(payments)))
	return payments, nil
}

// isMissing tells a provider-side "does not exist" apart from a transport
// failure; the cascade falls back differently for each.
func isMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}

func paymentFromIntent(intent *stripe.PaymentIntent) models.GatewayPayment {
	payment := models.GatewayPayment{
		PaymentID: intent.ID,
		Status:    paymentStatusFromIntent(intent.Status),
		Amount:    intent.Amount,
		Currency:  string(intent.Currency),
		CreatedAt: models.UnixTimeToTime(intent.Created),
	}
	if intent.Metadata != nil {
		payment.ExternalOrderID = intent.Metadata[orderIDMetadataKey]
	}
	return payment
}

func paymentStatusFromIntent(status stripe.PaymentIntentStatus) models.GatewayPaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.GatewayPaymentCompleted
	case stripe.PaymentIntentStatusCanceled:
		return models.GatewayPaymentCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Stripe parks a failed attempt back in requires_payment_method.
		return models.GatewayPaymentFailed
	default:
		return models.GatewayPaymentPending
	}
}

func linkStatusFromSession(sess *stripe.CheckoutSession) models.CheckoutLinkStatus {
	switch sess.Status {
	case stripe.CheckoutSessionStatusComplete:
		return models.CheckoutLinkCompleted
	case stripe.CheckoutSessionStatusExpired:
		return models.CheckoutLinkExpired
	default:
		return models.CheckoutLinkOpen
	}
}
