package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/checkout/db"
	"ms-checkout/internal/gateway"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/utils"
)

type DBLayer interface {
	CreateSession(ctx context.Context, session *models.CheckoutSession) error
	GetSessionByID(ctx context.Context, id string) (*models.CheckoutSession, error)
	CompleteSession(ctx context.Context, session *models.CheckoutSession, order *models.Order) (bool, error)
	FailSession(ctx context.Context, sessionID string, paymentStatus models.PaymentSubStatus, reason, gatewayStatus string) (bool, error)
	ExpireSession(ctx context.Context, sessionID string) (bool, error)
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	StripTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)

	CartItems(ctx context.Context, userID string) ([]models.CartItem, error)
	ClearCart(ctx context.Context, userID string) error

	GetDiscountByCode(ctx context.Context, code string) (*models.Discount, error)
	IncrementDiscountUsage(ctx context.Context, discountID string) error
}

// SessionTracker mirrors a pending session's TTL into Redis so expiry can
// be reacted to promptly; the periodic sweep remains the fallback.
type SessionTracker interface {
	Track(ctx context.Context, sessionID string, ttl time.Duration) error
	Forget(ctx context.Context, sessionID string) error
}

type EventPublisher interface {
	PublishOrderCreated(order models.Order) error
	PublishCheckoutFailed(session models.CheckoutSession) error
}

// Options carries the tuning the service needs beyond its collaborators.
type Options struct {
	SessionTTL        time.Duration
	ShippingFlatRate  int64
	SnapshotRetention time.Duration
	VerifyDeadline    time.Duration
}

type Service struct {
	DB      DBLayer
	Gateway gateway.Gateway
	Tracker SessionTracker
	Events  EventPublisher
	Policy  MatchingReferencePolicy
	Retry   RetryPolicy

	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

func NewService(dbLayer DBLayer, gw gateway.Gateway, tracker SessionTracker, events EventPublisher,
	policy MatchingReferencePolicy, retry RetryPolicy, opts Options, log *logger.Logger) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Service{
		DB:      dbLayer,
		Gateway: gw,
		Tracker: tracker,
		Events:  events,
		Policy:  policy,
		Retry:   retry,
		opts:    opts,
		logger:  log,
		now:     time.Now,
	}
}

// SubmitCheckout snapshots the user's cart, prices it, and creates the
// pending session that the reconciliation engine will drive to a terminal
// state.
func (s *Service) SubmitCheckout(ctx context.Context, userID string, req models.CheckoutRequest) (*models.CheckoutSession, error) {
	cartItems, err := s.DB.CartItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart for user %s: %w", userID, err)
	}

	snapshot, err := models.SnapshotFromCart(cartItems)
	if err != nil {
		return nil, ErrCartEmpty
	}

	now := s.now()
	subtotal := snapshot.Subtotal()

	session := &models.CheckoutSession{
		SessionID:         utils.GenerateSessionID(),
		UserID:            userID,
		Items:             snapshot,
		Subtotal:          subtotal,
		ShippingCost:      s.opts.ShippingFlatRate,
		ShippingAddress:   req.ShippingAddress,
		CheckoutLinkID:    req.CheckoutLinkID,
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		RedirectURL:       req.RedirectURL,
		PaymentStatus:     models.PaymentPending,
		Status:            models.SessionPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.opts.SessionTTL),
	}

	if req.DiscountCode != "" {
		discount, err := s.DB.GetDiscountByCode(ctx, req.DiscountCode)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown code %q", ErrDiscountInvalid, req.DiscountCode)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load discount %q: %w", req.DiscountCode, err)
		}
		if usable, reason := discount.Usable(now); !usable {
			return nil, fmt.Errorf("%w: %s", ErrDiscountInvalid, reason)
		}
		session.DiscountID = discount.DiscountID
		session.DiscountCode = discount.Code
		session.DiscountAmount = discount.AmountFor(subtotal)
	}

	session.Total = session.Subtotal - session.DiscountAmount + session.ShippingCost

	if err := s.DB.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	s.logger.LogSession("CREATED", session.SessionID, fmt.Sprintf("user=%s total=%d expires=%s",
		userID, session.Total, session.ExpiresAt.Format(time.RFC3339)))

	if s.Tracker != nil {
		if err := s.Tracker.Track(ctx, session.SessionID, s.opts.SessionTTL); err != nil {
			// The sweep still expires the session; the Redis key only makes it prompt.
			s.logger.Warn("SESSION", fmt.Sprintf("Failed to track TTL for session %s: %v", session.SessionID, err))
		}
	}

	return session, nil
}

// GetSession returns the session, owner-only.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*models.CheckoutSession, error) {
	session, err := s.DB.GetSessionByID(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrUnauthorized
	}
	return session, nil
}

// GetOrder returns the order, owner-only.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrUnauthorized
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return s.DB.GetOrdersByUser(ctx, userID)
}
