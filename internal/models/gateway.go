package models

import "time"

// GatewayPaymentStatus is the provider status normalized by the gateway
// adapter. "completed" is the only value the reconciliation engine treats
// as definitive success.
type GatewayPaymentStatus string

const (
	GatewayPaymentCompleted GatewayPaymentStatus = "completed"
	GatewayPaymentPending   GatewayPaymentStatus = "pending"
	GatewayPaymentFailed    GatewayPaymentStatus = "failed"
	GatewayPaymentCancelled GatewayPaymentStatus = "cancelled"
)

// GatewayPayment is the adapter's view of one payment attempt at the
// provider.
type GatewayPayment struct {
	PaymentID       string               `json:"payment_id"`
	ExternalOrderID string               `json:"external_order_id,omitempty"`
	Status          GatewayPaymentStatus `json:"status"`
	Amount          int64                `json:"amount"`
	Currency        string               `json:"currency"`
	CreatedAt       time.Time            `json:"created_at"`

	// Synthesized marks a minimal completed-payment marker derived from an
	// authoritatively completed checkout link that exposed no payment
	// sub-object.
	Synthesized bool `json:"synthesized,omitempty"`
}

type CheckoutLinkStatus string

const (
	CheckoutLinkOpen      CheckoutLinkStatus = "open"
	CheckoutLinkCompleted CheckoutLinkStatus = "completed"
	CheckoutLinkExpired   CheckoutLinkStatus = "expired"
)

// CheckoutLink is the adapter's view of the hosted payment page the user
// was redirected to.
type CheckoutLink struct {
	LinkID          string             `json:"link_id"`
	Status          CheckoutLinkStatus `json:"status"`
	PaymentID       string             `json:"payment_id,omitempty"`
	ExternalOrderID string             `json:"external_order_id,omitempty"`
}
