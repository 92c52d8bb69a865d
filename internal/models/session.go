package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

type PaymentSubStatus string

const (
	PaymentPending   PaymentSubStatus = "pending"
	PaymentPaid      PaymentSubStatus = "paid"
	PaymentFailed    PaymentSubStatus = "failed"
	PaymentCancelled PaymentSubStatus = "cancelled"
)

// CheckoutSession is one user's attempt to pay for a captured cart snapshot
// via the external gateway. The snapshot fields (items, pricing, address)
// are written once at submission; the state-machine fields (status,
// payment_status, order_id, failure_reason, gateway_status) are written
// only by the reconciliation engine and the order materializer. Once
// status leaves "pending" it never changes again.
type CheckoutSession struct {
	bun.BaseModel `bun:"table:checkout_sessions"`

	SessionID string   `bun:"session_id,pk" json:"session_id"`
	UserID    string   `bun:"user_id,notnull" json:"user_id"`
	Items     ItemList `bun:"items,type:jsonb" json:"items"`

	Subtotal       int64 `bun:"subtotal" json:"subtotal"`
	DiscountAmount int64 `bun:"discount_amount" json:"discount_amount"`
	ShippingCost   int64 `bun:"shipping_cost" json:"shipping_cost"`
	Total          int64 `bun:"total" json:"total"`

	DiscountID   string `bun:"discount_id,nullzero" json:"discount_id,omitempty"`
	DiscountCode string `bun:"discount_code,nullzero" json:"discount_code,omitempty"`

	ShippingAddress Address `bun:"shipping_address,type:jsonb" json:"shipping_address"`

	CheckoutLinkID    string `bun:"checkout_link_id,nullzero" json:"checkout_link_id,omitempty"`
	ExternalOrderID   string `bun:"external_order_id,nullzero" json:"external_order_id,omitempty"`
	ExternalPaymentID string `bun:"external_payment_id,nullzero" json:"external_payment_id,omitempty"`
	RedirectURL       string `bun:"redirect_url,nullzero" json:"redirect_url,omitempty"`

	PaymentStatus PaymentSubStatus `bun:"payment_status" json:"payment_status"`
	FailureReason string           `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	GatewayStatus string           `bun:"gateway_status,nullzero" json:"gateway_status,omitempty"`

	Status  SessionStatus `bun:"status" json:"status"`
	OrderID string        `bun:"order_id,nullzero" json:"order_id,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
	ExpiresAt time.Time `bun:"expires_at" json:"expires_at"`
}

// Terminal reports whether the session reached an absorbing state.
func (s *CheckoutSession) Terminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// CheckoutRequest is the submit-checkout payload. The external references
// come from the storefront that created the hosted payment flow; this
// service performs no writes against the gateway.
type CheckoutRequest struct {
	DiscountCode      string  `json:"discount_code,omitempty"`
	ShippingAddress   Address `json:"shipping_address"`
	CheckoutLinkID    string  `json:"checkout_link_id,omitempty"`
	ExternalOrderID   string  `json:"external_order_id,omitempty"`
	ExternalPaymentID string  `json:"external_payment_id,omitempty"`
	RedirectURL       string  `json:"redirect_url,omitempty"`
}

// VerifyRequest carries whatever identifiers the caller has after the
// external payment flow ends.
type VerifyRequest struct {
	SessionID         string `json:"-"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
	ExternalOrderID   string `json:"external_order_id,omitempty"`
	ClientOutcome     string `json:"client_outcome,omitempty"` // e.g. "cancelled"
	UserID            string `json:"-"`
}

// VerifyResult is the definitive answer: paid with an order, or failed
// with the reason persisted on the session.
type VerifyResult struct {
	Order         *Order `json:"order"`
	PaymentStatus string `json:"payment_status"` // "paid" | "failed"
	GatewayStatus string `json:"gateway_status"`
}
