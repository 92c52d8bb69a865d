package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ms-checkout/internal/models"
)

// providerName stamps order payment sub-records; a single gateway is
// active at a time.
const providerName = "stripe"

// materialize converts a confirmed-paid session into a durable order,
// exactly once. The atomic pending→completed flip on the session is the
// idempotency boundary: only the winner runs the effects (order creation,
// discount increment, cart clear); losers replay the stored outcome.
func (s *Service) materialize(ctx context.Context, session *models.CheckoutSession, payment *models.GatewayPayment, gatewayStatus string) (*models.VerifyResult, error) {
	order := &models.Order{
		OrderID:           uuid.NewString(),
		UserID:            session.UserID,
		SessionID:         session.SessionID,
		Items:             session.Items,
		Subtotal:          session.Subtotal,
		DiscountAmount:    session.DiscountAmount,
		ShippingCost:      session.ShippingCost,
		Total:             session.Total,
		PaymentMethod:     models.PaymentMethodGateway,
		PaymentProvider:   providerName,
		ExternalPaymentID: payment.PaymentID,
		ExternalOrderID:   payment.ExternalOrderID,
		PaymentStatus:     models.PaymentPaid,
		ShippingAddress:   session.ShippingAddress,
		FulfillmentStatus: models.FulfillmentUnfulfilled,
		DiscountCode:      session.DiscountCode,
		CreatedAt:         s.now(),
	}
	if order.ExternalPaymentID == "" {
		order.ExternalPaymentID = session.ExternalPaymentID
	}
	if order.ExternalOrderID == "" {
		order.ExternalOrderID = session.ExternalOrderID
	}

	session.Status = models.SessionCompleted
	session.PaymentStatus = models.PaymentPaid
	session.OrderID = order.OrderID
	session.FailureReason = ""
	session.GatewayStatus = gatewayStatus
	if payment.PaymentID != "" {
		session.ExternalPaymentID = payment.PaymentID
	}
	if payment.ExternalOrderID != "" {
		session.ExternalOrderID = payment.ExternalOrderID
	}

	// Flip and insert commit together: a failed order insert leaves the
	// session pending so a later verify can retry.
	won, err := s.DB.CompleteSession(ctx, session, order)
	if err != nil {
		return nil, fmt.Errorf("failed to complete session %s: %w", session.SessionID, err)
	}
	if !won {
		// Lost the race: another verify already drove the session terminal.
		s.logger.LogSession("RACE_LOST", session.SessionID, "session reached a terminal state concurrently, replaying outcome")
		current, err := s.DB.GetSessionByID(ctx, session.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session %s: %w", session.SessionID, err)
		}
		return s.replayOutcome(ctx, current)
	}
	s.logger.LogSession("COMPLETED", session.SessionID, fmt.Sprintf("order=%s payment=%s synthesized=%t",
		order.OrderID, payment.PaymentID, payment.Synthesized))

	if session.DiscountID != "" {
		if err := s.DB.IncrementDiscountUsage(ctx, session.DiscountID); err != nil {
			s.logger.Error("DISCOUNT", fmt.Sprintf("Failed to increment usage for discount %s (session %s): %v",
				session.DiscountID, session.SessionID, err))
		}
	}

	if err := s.DB.ClearCart(ctx, session.UserID); err != nil {
		s.logger.Error("CART", fmt.Sprintf("Failed to clear cart for user %s after order %s: %v",
			session.UserID, order.OrderID, err))
	}

	if s.Tracker != nil {
		if err := s.Tracker.Forget(ctx, session.SessionID); err != nil {
			s.logger.Warn("SESSION", fmt.Sprintf("Failed to drop TTL key for session %s: %v", session.SessionID, err))
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishOrderCreated(*order); err != nil {
			s.logger.Error("KAFKA", fmt.Sprintf("Failed to publish order created for %s: %v", order.OrderID, err))
		}
	}

	return &models.VerifyResult{
		Order:         order,
		PaymentStatus: "paid",
		GatewayStatus: gatewayStatus,
	}, nil
}
