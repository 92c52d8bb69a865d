package checkout

import (
	"context"
	"errors"
	"fmt"

	"ms-checkout/internal/checkout/db"
	"ms-checkout/internal/models"
)

const (
	// gatewayStatusNone is reported when no provider signal was observed at all.
	gatewayStatusNone = "not_found"
	// gatewayStatusMatchingRefs marks an outcome accepted by the
	// matching-reference trust policy rather than a provider lookup.
	gatewayStatusMatchingRefs = "matching_references"
)

// paymentRefs are the identifiers one reconciliation attempt works with,
// merged from the session record and the caller's request. Both the
// session-keyed and the order-keyed entry points funnel into the same
// cascade through this struct.
type paymentRefs struct {
	PaymentID string
	LinkID    string
	OrderID   string
}

func refsForSession(session *models.CheckoutSession, req models.VerifyRequest) paymentRefs {
	refs := paymentRefs{
		PaymentID: req.ExternalPaymentID,
		LinkID:    session.CheckoutLinkID,
		OrderID:   session.ExternalOrderID,
	}
	if refs.PaymentID == "" {
		refs.PaymentID = session.ExternalPaymentID
	}
	if refs.OrderID == "" {
		refs.OrderID = req.ExternalOrderID
	}
	return refs
}

func refsForExternalOrder(externalOrderID string) paymentRefs {
	return paymentRefs{OrderID: externalOrderID}
}

// Verify resolves a definitive payment outcome for the session and drives
// it to a terminal state. Calling it again on a terminal session returns
// the stored outcome without re-running any strategy or side effect.
func (s *Service) Verify(ctx context.Context, req models.VerifyRequest) (*models.VerifyResult, error) {
	session, err := s.DB.GetSessionByID(ctx, req.SessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", req.SessionID, err)
	}

	if session.UserID != req.UserID {
		s.logger.LogSecurity("VERIFY_DENIED", fmt.Sprintf("user %s attempted to verify session %s", req.UserID, req.SessionID))
		return nil, ErrUnauthorized
	}

	if session.Terminal() {
		s.logger.LogSession("REPLAY", session.SessionID, fmt.Sprintf("already terminal with status %s", session.Status))
		return s.replayOutcome(ctx, session)
	}

	if s.opts.VerifyDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.VerifyDeadline)
		defer cancel()
	}

	payment, gatewayStatus := s.resolveDefinitivePayment(ctx, refsForSession(session, req))

	if payment == nil && s.Policy.Applies(req.ExternalPaymentID, req.ExternalOrderID, session) {
		s.logger.Warn("TRUST", fmt.Sprintf("Accepting matching references %s as completed-payment evidence for session %s",
			req.ExternalPaymentID, session.SessionID))
		payment = &models.GatewayPayment{
			PaymentID:       req.ExternalPaymentID,
			ExternalOrderID: req.ExternalOrderID,
			Status:          models.GatewayPaymentCompleted,
			Synthesized:     true,
		}
		gatewayStatus = gatewayStatusMatchingRefs
	}

	if payment != nil && payment.Status == models.GatewayPaymentCompleted {
		return s.materialize(ctx, session, payment, gatewayStatus)
	}

	return s.failSession(ctx, session, req.ClientOutcome, gatewayStatus)
}

// ReconcileExternalOrder is the order-keyed entry point: it resolves a
// payment for an external order id through the same cascade, without a
// session. Used for manual follow-up on ambiguous signals.
func (s *Service) ReconcileExternalOrder(ctx context.Context, externalOrderID string) (*models.GatewayPayment, string, error) {
	if externalOrderID == "" {
		return nil, gatewayStatusNone, errors.New("external order id is required")
	}
	payment, gatewayStatus := s.resolveDefinitivePayment(ctx, refsForExternalOrder(externalOrderID))
	return payment, gatewayStatus, nil
}

// resolveDefinitivePayment runs the strategy cascade. Each strategy is
// attempted only while no completed payment has been found; transport
// failures inside a strategy are logged and treated as "no signal", never
// as a definitive negative.
func (s *Service) resolveDefinitivePayment(ctx context.Context, refs paymentRefs) (*models.GatewayPayment, string) {
	gatewayStatus := gatewayStatusNone

	// Strategy 1: direct retrieval by payment id.
	if refs.PaymentID != "" {
		payment, err := s.Gateway.RetrievePayment(ctx, refs.PaymentID)
		switch {
		case err != nil:
			s.logger.Warn("RECONCILE", fmt.Sprintf("Direct retrieval of %s failed, cascading: %v", refs.PaymentID, err))
		case payment != nil:
			gatewayStatus = string(payment.Status)
			if payment.Status == models.GatewayPaymentCompleted {
				return payment, gatewayStatus
			}
		}
	}

	// Strategy 2: bounded poll of the stored checkout link.
	if refs.LinkID != "" {
		if payment, status := s.pollCheckoutLink(ctx, refs); payment != nil {
			return payment, status
		} else if status != "" {
			gatewayStatus = status
		}
	}

	// Strategy 3: search payments by external order id.
	if refs.OrderID != "" {
		payment, err := s.searchByOrder(ctx, refs.OrderID)
		switch {
		case err != nil:
			s.logger.Warn("RECONCILE", fmt.Sprintf("Payment search for order %s failed, cascading: %v", refs.OrderID, err))
		case payment != nil:
			gatewayStatus = string(payment.Status)
			if payment.Status == models.GatewayPaymentCompleted {
				return payment, gatewayStatus
			}
		}
	}

	return nil, gatewayStatus
}

// pollCheckoutLink polls the link status up to the retry bound. Exhausting
// the bound falls through to the next strategy; it never fails the verify
// call. The returned status is the last link status observed, "" if none.
func (s *Service) pollCheckoutLink(ctx context.Context, refs paymentRefs) (*models.GatewayPayment, string) {
	lastStatus := ""

	attempts := s.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		link, err := s.Gateway.RetrieveCheckoutLink(ctx, refs.LinkID)
		if err != nil {
			s.logger.Warn("RECONCILE", fmt.Sprintf("Link poll %d/%d for %s failed: %v", attempt, attempts, refs.LinkID, err))
		} else if link == nil {
			// Definitive absent: the provider does not know this link.
			s.logger.LogGateway("LINK_POLL", refs.LinkID, "Link not found at provider, stopping poll")
			return nil, lastStatus
		} else {
			lastStatus = string(link.Status)
			switch link.Status {
			case models.CheckoutLinkCompleted:
				return s.resolveCompletedLink(ctx, link, refs), lastStatus
			case models.CheckoutLinkExpired:
				return nil, lastStatus
			}
		}

		if attempt < attempts && !s.Retry.Wait(ctx) {
			break
		}
	}

	return nil, lastStatus
}

// resolveCompletedLink turns an authoritatively completed link into a
// payment: the embedded payment object if it resolves, a searched payment
// otherwise, and as a last resort a minimal completed-payment marker. The
// link-level completed status is trusted as the provider's authoritative
// signal, so this never returns nil.
func (s *Service) resolveCompletedLink(ctx context.Context, link *models.CheckoutLink, refs paymentRefs) *models.GatewayPayment {
	if link.PaymentID != "" {
		payment, err := s.Gateway.RetrievePayment(ctx, link.PaymentID)
		if err != nil {
			s.logger.Warn("RECONCILE", fmt.Sprintf("Failed to resolve payment %s behind completed link %s: %v",
				link.PaymentID, link.LinkID, err))
		} else if payment != nil && payment.Status == models.GatewayPaymentCompleted {
			return payment
		}
	}

	orderID := link.ExternalOrderID
	if orderID == "" {
		orderID = refs.OrderID
	}
	if orderID != "" {
		payment, err := s.searchByOrder(ctx, orderID)
		if err != nil {
			s.logger.Warn("RECONCILE", fmt.Sprintf("Search behind completed link %s failed: %v", link.LinkID, err))
		} else if payment != nil && payment.Status == models.GatewayPaymentCompleted {
			return payment
		}
		// A non-completed search hit is ignored here: the link-level
		// completed status outranks a stale payment record behind it.
	}

	s.logger.LogGateway("LINK_POLL", link.LinkID, "Completed link with no resolvable payment, synthesizing completed marker")
	return &models.GatewayPayment{
		PaymentID:       link.PaymentID,
		ExternalOrderID: orderID,
		Status:          models.GatewayPaymentCompleted,
		Synthesized:     true,
	}
}

// searchByOrder prefers a completed entry, else the first.
func (s *Service) searchByOrder(ctx context.Context, externalOrderID string) (*models.GatewayPayment, error) {
	payments, err := s.Gateway.SearchPaymentsByOrder(ctx, externalOrderID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	for i := range payments {
		if payments[i].Status == models.GatewayPaymentCompleted {
			return &payments[i], nil
		}
	}
	return &payments[0], nil
}

// failSession is the negative terminal transition. An explicit client
// cancellation outranks "not found" as the persisted reason.
func (s *Service) failSession(ctx context.Context, session *models.CheckoutSession, clientOutcome, gatewayStatus string) (*models.VerifyResult, error) {
	paymentStatus := models.PaymentFailed
	reason := fmt.Sprintf("no completed payment found (last gateway status: %s)", gatewayStatus)
	if clientOutcome == "cancelled" {
		paymentStatus = models.PaymentCancelled
		reason = "payment cancelled by customer"
	}

	won, err := s.DB.FailSession(ctx, session.SessionID, paymentStatus, reason, gatewayStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to mark session %s failed: %w", session.SessionID, err)
	}
	if !won {
		// A concurrent verify reached a terminal state first; its outcome wins.
		current, err := s.DB.GetSessionByID(ctx, session.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session %s: %w", session.SessionID, err)
		}
		return s.replayOutcome(ctx, current)
	}

	session.Status = models.SessionFailed
	session.PaymentStatus = paymentStatus
	session.FailureReason = reason
	session.GatewayStatus = gatewayStatus
	s.logger.LogSession("FAILED", session.SessionID, reason)

	if s.Tracker != nil {
		if err := s.Tracker.Forget(ctx, session.SessionID); err != nil {
			s.logger.Warn("SESSION", fmt.Sprintf("Failed to drop TTL key for session %s: %v", session.SessionID, err))
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishCheckoutFailed(*session); err != nil {
			s.logger.Error("KAFKA", fmt.Sprintf("Failed to publish checkout failure for session %s: %v", session.SessionID, err))
		}
	}

	return &models.VerifyResult{
		Order:         nil,
		PaymentStatus: "failed",
		GatewayStatus: gatewayStatus,
	}, nil
}

// replayOutcome converts a terminal session into the result the original
// winning call produced. No strategy or side effect runs here.
func (s *Service) replayOutcome(ctx context.Context, session *models.CheckoutSession) (*models.VerifyResult, error) {
	// Sessions expired by the TTL sweep never saw a gateway signal.
	gatewayStatus := session.GatewayStatus
	if gatewayStatus == "" {
		gatewayStatus = gatewayStatusNone
	}

	if session.Status == models.SessionCompleted {
		order, err := s.DB.GetOrderByID(ctx, session.OrderID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load order %s for session %s: %w", session.OrderID, session.SessionID, err)
		}
		return &models.VerifyResult{
			Order:         order,
			PaymentStatus: "paid",
			GatewayStatus: gatewayStatus,
		}, nil
	}

	return &models.VerifyResult{
		Order:         nil,
		PaymentStatus: "failed",
		GatewayStatus: gatewayStatus,
	}, nil
}
