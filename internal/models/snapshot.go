package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotItem is one line of the cart snapshot captured at checkout
// submission. Orders copy these verbatim; they are never re-derived from
// the live cart.
type SnapshotItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	VariantID   string `json:"variant_id,omitempty"`
	DesignRef   string `json:"design_ref,omitempty"`
	UnitPrice   int64  `json:"unit_price"` // minor units
	Quantity    int    `json:"quantity"`
}

// ItemList stores the snapshot as a JSON column so the same model works
// against both the postgres schema and the sqlite test shim.
type ItemList []SnapshotItem

func (l ItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ItemList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported item list source type %T", src)
	}
}

// Subtotal sums unit price times quantity over the snapshot.
func (l ItemList) Subtotal() int64 {
	var total int64
	for _, item := range l {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Address is the shipping address snapshot. Stored as JSON alongside the
// item snapshot.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		if len(v) == 0 {
			*a = Address{}
			return nil
		}
		return json.Unmarshal(v, a)
	case string:
		if v == "" {
			*a = Address{}
			return nil
		}
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported address source type %T", src)
	}
}

var ErrEmptySnapshot = errors.New("checkout snapshot has no items")

// SnapshotFromCart copies the user's cart items into an immutable snapshot.
func SnapshotFromCart(items []CartItem) (ItemList, error) {
	if len(items) == 0 {
		return nil, ErrEmptySnapshot
	}
	snapshot := make(ItemList, 0, len(items))
	for _, ci := range items {
		snapshot = append(snapshot, SnapshotItem{
			ProductID:   ci.ProductID,
			ProductName: ci.ProductName,
			VariantID:   ci.VariantID,
			DesignRef:   ci.DesignRef,
			UnitPrice:   ci.UnitPrice,
			Quantity:    ci.Quantity,
		})
	}
	return snapshot, nil
}

// UnixTimeToTime converts a provider-reported Unix timestamp.
func UnixTimeToTime(unixTime int64) time.Time {
	return time.Unix(unixTime, 0)
}
