package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Discount is a flat-amount coupon. UsedCount is incremented exactly once
// per session that successfully materializes referencing it.
type Discount struct {
	bun.BaseModel `bun:"table:discounts"`

	DiscountID string    `bun:"discount_id,pk" json:"discount_id"`
	Code       string    `bun:"code,unique,notnull" json:"code"`
	Amount     int64     `bun:"amount" json:"amount"` // minor units off the subtotal
	MaxUsage   int       `bun:"max_usage" json:"max_usage"`
	UsedCount  int       `bun:"used_count" json:"used_count"`
	Active     bool      `bun:"active" json:"active"`
	ExpiresAt  time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
}

// Usable reports whether the discount can still be applied at checkout.
func (d *Discount) Usable(now time.Time) (bool, string) {
	if !d.Active {
		return false, "discount is not active"
	}
	if !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt) {
		return false, "discount has expired"
	}
	if d.MaxUsage > 0 && d.UsedCount >= d.MaxUsage {
		return false, "discount usage limit has been reached"
	}
	return true, ""
}

// AmountFor caps the flat discount at the cart subtotal.
func (d *Discount) AmountFor(subtotal int64) int64 {
	if d.Amount > subtotal {
		return subtotal
	}
	return d.Amount
}
