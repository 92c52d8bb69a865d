package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-checkout/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

type DB struct {
	Bun *bun.DB
}

// ---------------- CHECKOUT SESSIONS ----------------

func (d *DB) CreateSession(ctx context.Context, session *models.CheckoutSession) error {
	_, err := d.Bun.NewInsert().Model(session).Exec(ctx)
	return err
}

func (d *DB) GetSessionByID(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := d.Bun.NewSelect().
		Model(&session).
		Where("session_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CompleteSession is the atomic pending→completed flip plus the order
// insert, committed together. The session's state-machine fields must
// already be set on the model; only the caller that observes a winning
// flip gets its order persisted. If the insert fails the flip rolls back
// and the session stays pending, so a later verify can retry cleanly.
func (d *DB) CompleteSession(ctx context.Context, session *models.CheckoutSession, order *models.Order) (bool, error) {
	var won bool
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(session).
			Column("status", "payment_status", "order_id", "external_payment_id", "external_order_id", "failure_reason", "gateway_status").
			Where("session_id = ?", session.SessionID).
			Where("status = ?", models.SessionPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows != 1 {
			return nil
		}
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// FailSession is the atomic pending→failed flip with the persisted reason
// and the last gateway status observed.
func (d *DB) FailSession(ctx context.Context, sessionID string, paymentStatus models.PaymentSubStatus, reason, gatewayStatus string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("status = ?", models.SessionFailed).
		Set("payment_status = ?", paymentStatus).
		Set("failure_reason = ?", reason).
		Set("gateway_status = ?", gatewayStatus).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.SessionPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ExpireSession is the atomic pending→expired flip used by the TTL sweep
// and the Redis expiry subscription.
func (d *DB) ExpireSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("status = ?", models.SessionExpired).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.SessionPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ExpirePendingBefore flips every pending session whose TTL elapsed before
// the cutoff. Returns how many sessions were expired.
func (d *DB) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("status = ?", models.SessionExpired).
		Where("status = ?", models.SessionPending).
		Where("expires_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StripTerminalBefore removes the large snapshot payloads from terminal
// sessions older than the cutoff. Totals and the payment outcome stay.
func (d *DB) StripTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("items = ?", "[]").
		Set("shipping_address = ?", "{}").
		Where("status IN (?)", bun.In([]models.SessionStatus{models.SessionCompleted, models.SessionFailed, models.SessionExpired})).
		Where("created_at < ?", cutoff).
		Where("items != ?", "[]").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------- ORDERS ----------------

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- CARTS ----------------

func (d *DB) CartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	var items []models.CartItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("user_id = ?", userID).
		Order("added_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *DB) ClearCart(ctx context.Context, userID string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.CartItem)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

// ---------------- DISCOUNTS ----------------

func (d *DB) GetDiscountByCode(ctx context.Context, code string) (*models.Discount, error) {
	var discount models.Discount
	err := d.Bun.NewSelect().
		Model(&discount).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

func (d *DB) GetDiscountByID(ctx context.Context, id string) (*models.Discount, error) {
	var discount models.Discount
	err := d.Bun.NewSelect().
		Model(&discount).
		Where("discount_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

// IncrementDiscountUsage bumps the usage counter in place; the caller is
// responsible for invoking it at most once per materialized session.
func (d *DB) IncrementDiscountUsage(ctx context.Context, discountID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Discount)(nil)).
		Set("used_count = used_count + 1").
		Where("discount_id = ?", discountID).
		Exec(ctx)
	return err
}
