package gateway

import (
	"context"
	"errors"

	"ms-checkout/internal/models"
)

// ErrGatewayUnavailable wraps transport-level provider failures. Callers
// must treat it as "no signal yet", never as a definitive negative: a
// not-found at the provider is reported as a nil result with a nil error.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway is the read-only contract against the external payment provider.
// This subsystem performs no writes through it.
type Gateway interface {
	// RetrievePayment returns (nil, nil) when the provider reports the
	// payment as not found.
	RetrievePayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)

	// RetrieveCheckoutLink returns (nil, nil) when the provider reports the
	// hosted checkout link as not found.
	RetrieveCheckoutLink(ctx context.Context, linkID string) (*models.CheckoutLink, error)

	// SearchPaymentsByOrder returns all payments the provider associates
	// with the external order id; the slice may be empty.
	SearchPaymentsByOrder(ctx context.Context, externalOrderID string) ([]models.GatewayPayment, error)
}
