package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is the durable, append-only artifact produced by materializing a
// confirmed-paid checkout session. Item and address fields are copied from
// the session snapshot at materialization time. Payment fields never change
// after creation; fulfillment has its own lifecycle.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID   string   `bun:"order_id,pk" json:"order_id"`
	UserID    string   `bun:"user_id,notnull" json:"user_id"`
	SessionID string   `bun:"session_id,notnull,unique" json:"session_id"`
	Items     ItemList `bun:"items,type:jsonb" json:"items"`

	Subtotal       int64 `bun:"subtotal" json:"subtotal"`
	DiscountAmount int64 `bun:"discount_amount" json:"discount_amount"`
	ShippingCost   int64 `bun:"shipping_cost" json:"shipping_cost"`
	Total          int64 `bun:"total" json:"total"`

	PaymentMethod string `bun:"payment_method" json:"payment_method"`

	PaymentProvider   string           `bun:"payment_provider" json:"payment_provider"`
	ExternalPaymentID string           `bun:"external_payment_id,nullzero" json:"external_payment_id,omitempty"`
	ExternalOrderID   string           `bun:"external_order_id,nullzero" json:"external_order_id,omitempty"`
	PaymentStatus     PaymentSubStatus `bun:"payment_status" json:"payment_status"`
	PaymentFailure    string           `bun:"payment_failure,nullzero" json:"payment_failure,omitempty"`

	ShippingAddress Address `bun:"shipping_address,type:jsonb" json:"shipping_address"`

	FulfillmentStatus string `bun:"fulfillment_status" json:"fulfillment_status"`

	// Discount application record: code and amount, not a live reference.
	DiscountCode string `bun:"discount_code,nullzero" json:"discount_code,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

const (
	FulfillmentUnfulfilled = "unfulfilled"

	PaymentMethodGateway = "gateway"
)
