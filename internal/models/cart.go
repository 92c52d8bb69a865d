package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CartItem is the mutable per-user working set. Cart mutation endpoints are
// owned elsewhere; this service only snapshots the cart at submission and
// clears it when the snapshot is materialized into an order.
type CartItem struct {
	bun.BaseModel `bun:"table:cart_items"`

	ItemID      string    `bun:"item_id,pk" json:"item_id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	ProductID   string    `bun:"product_id,notnull" json:"product_id"`
	ProductName string    `bun:"product_name" json:"product_name"`
	VariantID   string    `bun:"variant_id,nullzero" json:"variant_id,omitempty"`
	DesignRef   string    `bun:"design_ref,nullzero" json:"design_ref,omitempty"`
	UnitPrice   int64     `bun:"unit_price" json:"unit_price"`
	Quantity    int       `bun:"quantity" json:"quantity"`
	AddedAt     time.Time `bun:"added_at" json:"added_at"`
}
