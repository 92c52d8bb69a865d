package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/checkout"
	"ms-checkout/internal/checkout/db"
	"ms-checkout/internal/gateway"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

// fakeStore is an in-memory DBLayer with the same conditional-transition
// semantics as the real store: a terminal session never flips again, and
// only one caller observes a winning transition.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.CheckoutSession
	orders    map[string]*models.Order
	carts     map[string][]models.CartItem
	discounts map[string]*models.Discount

	failOn string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[string]*models.CheckoutSession),
		orders:    make(map[string]*models.Order),
		carts:     make(map[string][]models.CartItem),
		discounts: make(map[string]*models.Discount),
	}
}

func (f *fakeStore) fail(op string) error {
	if f.failOn == op {
		return errors.New("store failure on " + op)
	}
	return nil
}

func (f *fakeStore) CreateSession(ctx context.Context, session *models.CheckoutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateSession"); err != nil {
		return err
	}
	copied := *session
	f.sessions[session.SessionID] = &copied
	return nil
}

func (f *fakeStore) GetSessionByID(ctx context.Context, id string) (*models.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetSessionByID"); err != nil {
		return nil, err
	}
	session, ok := f.sessions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeStore) CompleteSession(ctx context.Context, session *models.CheckoutSession, order *models.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CompleteSession"); err != nil {
		return false, err
	}
	current, ok := f.sessions[session.SessionID]
	if !ok || current.Status != models.SessionPending {
		return false, nil
	}
	current.Status = session.Status
	current.PaymentStatus = session.PaymentStatus
	current.OrderID = session.OrderID
	current.ExternalPaymentID = session.ExternalPaymentID
	current.ExternalOrderID = session.ExternalOrderID
	current.FailureReason = session.FailureReason
	current.GatewayStatus = session.GatewayStatus
	copied := *order
	f.orders[order.OrderID] = &copied
	return true, nil
}

func (f *fakeStore) FailSession(ctx context.Context, sessionID string, paymentStatus models.PaymentSubStatus, reason, gatewayStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FailSession"); err != nil {
		return false, err
	}
	current, ok := f.sessions[sessionID]
	if !ok || current.Status != models.SessionPending {
		return false, nil
	}
	current.Status = models.SessionFailed
	current.PaymentStatus = paymentStatus
	current.FailureReason = reason
	current.GatewayStatus = gatewayStatus
	return true, nil
}

func (f *fakeStore) ExpireSession(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.sessions[sessionID]
	if !ok || current.Status != models.SessionPending {
		return false, nil
	}
	current.Status = models.SessionExpired
	return true, nil
}

func (f *fakeStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, session := range f.sessions {
		if session.Status == models.SessionPending && session.ExpiresAt.Before(cutoff) {
			session.Status = models.SessionExpired
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) StripTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, session := range f.sessions {
		if session.Status != models.SessionPending && session.CreatedAt.Before(cutoff) && len(session.Items) > 0 {
			session.Items = nil
			session.ShippingAddress = models.Address{}
			count++
		}
	}
	return count, nil
}

// seedOrder plants an order directly, bypassing the transition semantics.
func (f *fakeStore) seedOrder(order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *order
	f.orders[order.OrderID] = &copied
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []models.Order
	for _, order := range f.orders {
		if order.UserID == userID {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

func (f *fakeStore) CartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carts[userID], nil
}

func (f *fakeStore) ClearCart(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	return nil
}

func (f *fakeStore) GetDiscountByCode(ctx context.Context, code string) (*models.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, discount := range f.discounts {
		if discount.Code == code {
			copied := *discount
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) IncrementDiscountUsage(ctx context.Context, discountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	discount, ok := f.discounts[discountID]
	if !ok {
		return db.ErrNotFound
	}
	discount.UsedCount++
	return nil
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// fakeGateway serves scripted provider responses and counts calls.
type fakeGateway struct {
	mu sync.Mutex

	payments   map[string]*models.GatewayPayment
	paymentErr error

	links   map[string]*models.CheckoutLink
	linkErr error

	searchResults map[string][]models.GatewayPayment
	searchErr     error

	retrieveCalls int
	linkCalls     int
	searchCalls   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:      make(map[string]*models.GatewayPayment),
		links:         make(map[string]*models.CheckoutLink),
		searchResults: make(map[string][]models.GatewayPayment),
	}
}

func (f *fakeGateway) RetrievePayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, nil
	}
	copied := *payment
	return &copied, nil
}

func (f *fakeGateway) RetrieveCheckoutLink(ctx context.Context, linkID string) (*models.CheckoutLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls++
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	link, ok := f.links[linkID]
	if !ok {
		return nil, nil
	}
	copied := *link
	return &copied, nil
}

func (f *fakeGateway) SearchPaymentsByOrder(ctx context.Context, externalOrderID string) ([]models.GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults[externalOrderID], nil
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked []string
	dropped []string
}

func (f *fakeTracker) Track(ctx context.Context, sessionID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, sessionID)
	return nil
}

func (f *fakeTracker) Forget(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, sessionID)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	orders   []models.Order
	failures []models.CheckoutSession
}

func (f *fakePublisher) PublishOrderCreated(order models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakePublisher) PublishCheckoutFailed(session models.CheckoutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, session)
	return nil
}

func (f *fakePublisher) orderEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakePublisher) failureEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

type testEnv struct {
	service *checkout.Service
	store   *fakeStore
	gateway *fakeGateway
	tracker *fakeTracker
	events  *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	gw := newFakeGateway()
	tracker := &fakeTracker{}
	events := &fakePublisher{}

	service := checkout.NewService(
		store, gw, tracker, events,
		checkout.MatchingReferencePolicy{},
		checkout.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Sleep: func(time.Duration) {}},
		checkout.Options{
			SessionTTL:        30 * time.Minute,
			ShippingFlatRate:  500,
			SnapshotRetention: time.Hour,
			VerifyDeadline:    10 * time.Second,
		},
		logger.NewLogger(),
	)
	return &testEnv{service: service, store: store, gateway: gw, tracker: tracker, events: events}
}

func pendingSession(store *fakeStore) *models.CheckoutSession {
	session := &models.CheckoutSession{
		SessionID: "cs_test_000001",
		UserID:    "user-1",
		Items: models.ItemList{
			{ProductID: "prod-1", ProductName: "Mug", UnitPrice: 1000, Quantity: 2},
			{ProductID: "prod-2", ProductName: "Sticker", UnitPrice: 500, Quantity: 1},
		},
		Subtotal:        2500,
		DiscountAmount:  500,
		ShippingCost:    500,
		Total:           2500,
		DiscountID:      "disc-1",
		DiscountCode:    "SAVE5",
		CheckoutLinkID:  "link-1",
		ExternalOrderID: "ext-order-1",
		PaymentStatus:   models.PaymentPending,
		Status:          models.SessionPending,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(30 * time.Minute),
	}
	copied := *session
	store.sessions[session.SessionID] = &copied
	store.discounts["disc-1"] = &models.Discount{DiscountID: "disc-1", Code: "SAVE5", Amount: 500, Active: true}
	store.carts["user-1"] = []models.CartItem{{ItemID: "ci-1", UserID: "user-1", ProductID: "prod-1", UnitPrice: 1000, Quantity: 2}}
	return session
}

func verifyReq(session *models.CheckoutSession) models.VerifyRequest {
	return models.VerifyRequest{
		SessionID: session.SessionID,
		UserID:    session.UserID,
	}
}

func TestVerifyDirectRetrievalMaterializesOrder(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID:       "pi_1",
		ExternalOrderID: "ext-order-1",
		Status:          models.GatewayPaymentCompleted,
		Amount:          2500,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, string(models.GatewayPaymentCompleted), result.GatewayStatus)
	assert.Equal(t, session.SessionID, result.Order.SessionID)
	assert.Equal(t, int64(2500), result.Order.Total)
	assert.Equal(t, int64(500), result.Order.DiscountAmount)
	assert.Equal(t, "pi_1", result.Order.ExternalPaymentID)
	assert.Equal(t, session.Items, result.Order.Items)

	stored, err := env.store.GetSessionByID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, result.Order.OrderID, stored.OrderID)

	assert.Equal(t, 1, env.store.discounts["disc-1"].UsedCount)
	assert.Empty(t, env.store.carts["user-1"])
	assert.Equal(t, []string{session.SessionID}, env.tracker.dropped)
	assert.Equal(t, 1, env.events.orderEvents())
}

func TestVerifyNoSignalFailsSession(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	// Link stays open; nothing else resolves.
	env.gateway.links["link-1"] = &models.CheckoutLink{LinkID: "link-1", Status: models.CheckoutLinkOpen}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)

	assert.Nil(t, result.Order)
	assert.Equal(t, "failed", result.PaymentStatus)

	stored, err := env.store.GetSessionByID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, stored.Status)
	assert.Equal(t, models.PaymentFailed, stored.PaymentStatus)
	assert.Contains(t, stored.FailureReason, "no completed payment found")

	assert.Equal(t, 0, env.store.orderCount())
	assert.Equal(t, 0, env.store.discounts["disc-1"].UsedCount)
	assert.Equal(t, 1, env.events.failureEvents())
}

func TestVerifyClientCancelledOutranksNotFound(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)
	session.CheckoutLinkID = ""
	env.store.sessions[session.SessionID].CheckoutLinkID = ""

	req := verifyReq(session)
	req.ClientOutcome = "cancelled"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.PaymentStatus)

	stored, err := env.store.GetSessionByID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, stored.PaymentStatus)
	assert.Equal(t, "payment cancelled by customer", stored.FailureReason)
}

func TestVerifyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID: "pi_1",
		Status:    models.GatewayPaymentCompleted,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	first, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Order)

	second, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, second.Order)

	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, "paid", second.PaymentStatus)
	assert.Equal(t, 1, env.store.orderCount())
	assert.Equal(t, 1, env.store.discounts["disc-1"].UsedCount)
	assert.Equal(t, 1, env.events.orderEvents())
}

func TestVerifyReplayMatchesFirstResult(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID: "pi_1",
		Status:    models.GatewayPaymentCompleted,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	first, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Order)

	second, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)

	// The replay is indistinguishable from the winning call, gateway
	// status included.
	assert.Equal(t, first, second)
	assert.Equal(t, string(models.GatewayPaymentCompleted), second.GatewayStatus)
}

func TestVerifyFailureReplayMatchesFirstResult(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.links["link-1"] = &models.CheckoutLink{LinkID: "link-1", Status: models.CheckoutLinkOpen}

	first, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	assert.Equal(t, "failed", first.PaymentStatus)

	second, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, string(models.CheckoutLinkOpen), second.GatewayStatus)
}

func TestVerifyRetriesAfterFailedMaterialization(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID: "pi_1",
		Status:    models.GatewayPaymentCompleted,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	// A store failure during materialization must leave the session
	// pending with no order, never completed with a dangling order id.
	env.store.failOn = "CompleteSession"
	_, err := env.service.Verify(context.Background(), req)
	require.Error(t, err)

	stored, err := env.store.GetSessionByID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, stored.Status)
	assert.Empty(t, stored.OrderID)
	assert.Equal(t, 0, env.store.orderCount())

	env.store.failOn = ""
	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, 1, env.store.orderCount())
}

func TestVerifyConcurrentCallsMaterializeOnce(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID: "pi_1",
		Status:    models.GatewayPaymentCompleted,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	const callers = 8
	results := make([]*models.VerifyResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.service.Verify(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var orderID string
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Order, "caller %d got no order", i)
		assert.Equal(t, "paid", results[i].PaymentStatus)
		if orderID == "" {
			orderID = results[i].Order.OrderID
		}
		assert.Equal(t, orderID, results[i].Order.OrderID)
	}

	assert.Equal(t, 1, env.store.orderCount())
	assert.Equal(t, 1, env.store.discounts["disc-1"].UsedCount)
}

func TestVerifyUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Verify(context.Background(), models.VerifyRequest{SessionID: "missing", UserID: "user-1"})
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestVerifyDeniesForeignSession(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	req := verifyReq(session)
	req.UserID = "someone-else"

	_, err := env.service.Verify(context.Background(), req)
	assert.ErrorIs(t, err, checkout.ErrUnauthorized)
	assert.Equal(t, 0, env.gateway.retrieveCalls+env.gateway.linkCalls+env.gateway.searchCalls)
}

func TestVerifyTerminalSessionReplaysWithoutGatewayCalls(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	order := &models.Order{OrderID: "order-1", UserID: session.UserID, SessionID: session.SessionID, Total: 2500}
	env.store.seedOrder(order)

	stored := env.store.sessions[session.SessionID]
	stored.Status = models.SessionCompleted
	stored.PaymentStatus = models.PaymentPaid
	stored.OrderID = "order-1"
	stored.GatewayStatus = string(models.GatewayPaymentCompleted)

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	assert.Equal(t, "order-1", result.Order.OrderID)
	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, string(models.GatewayPaymentCompleted), result.GatewayStatus)
	assert.Equal(t, 0, env.gateway.retrieveCalls+env.gateway.linkCalls+env.gateway.searchCalls)
}

func TestVerifyExpiredSessionReplaysFailure(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	stored := env.store.sessions[session.SessionID]
	stored.Status = models.SessionExpired

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	assert.Nil(t, result.Order)
	assert.Equal(t, "failed", result.PaymentStatus)
	assert.Equal(t, "not_found", result.GatewayStatus)
	assert.Equal(t, 0, env.gateway.retrieveCalls+env.gateway.linkCalls+env.gateway.searchCalls)
}

func TestVerifyPollExhaustionFallsThroughToSearch(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.links["link-1"] = &models.CheckoutLink{LinkID: "link-1", Status: models.CheckoutLinkOpen}
	env.gateway.searchResults["ext-order-1"] = []models.GatewayPayment{
		{PaymentID: "pi_search", ExternalOrderID: "ext-order-1", Status: models.GatewayPaymentCompleted},
	}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, "pi_search", result.Order.ExternalPaymentID)
	assert.Equal(t, 3, env.gateway.linkCalls)
	assert.Equal(t, 1, env.gateway.searchCalls)
}

func TestVerifyCompletedLinkResolvesEmbeddedPayment(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.links["link-1"] = &models.CheckoutLink{
		LinkID:    "link-1",
		Status:    models.CheckoutLinkCompleted,
		PaymentID: "pi_link",
	}
	env.gateway.payments["pi_link"] = &models.GatewayPayment{
		PaymentID: "pi_link",
		Status:    models.GatewayPaymentCompleted,
	}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, "pi_link", result.Order.ExternalPaymentID)
	assert.Equal(t, 1, env.gateway.linkCalls)
}

func TestVerifyCompletedLinkSynthesizesMarker(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	// Link is authoritatively complete but exposes no payment and the
	// search comes back empty; a minimal completed marker still wins.
	env.gateway.links["link-1"] = &models.CheckoutLink{
		LinkID:          "link-1",
		Status:          models.CheckoutLinkCompleted,
		ExternalOrderID: "ext-order-1",
	}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, "ext-order-1", result.Order.ExternalOrderID)

	stored, err := env.store.GetSessionByID(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)
}

func TestVerifyExpiredLinkStopsPolling(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)

	env.gateway.links["link-1"] = &models.CheckoutLink{LinkID: "link-1", Status: models.CheckoutLinkExpired}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	assert.Nil(t, result.Order)
	assert.Equal(t, "failed", result.PaymentStatus)
	assert.Equal(t, 1, env.gateway.linkCalls)
}

func TestVerifyTransportErrorCascadesToSearch(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)
	env.store.sessions[session.SessionID].CheckoutLinkID = ""

	env.gateway.paymentErr = gateway.ErrGatewayUnavailable
	env.gateway.searchResults["ext-order-1"] = []models.GatewayPayment{
		{PaymentID: "pi_search", Status: models.GatewayPaymentCompleted},
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, "paid", result.PaymentStatus)
}

func TestVerifySearchPrefersCompletedPayment(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)
	env.store.sessions[session.SessionID].CheckoutLinkID = ""

	env.gateway.searchResults["ext-order-1"] = []models.GatewayPayment{
		{PaymentID: "pi_pending", Status: models.GatewayPaymentPending},
		{PaymentID: "pi_done", Status: models.GatewayPaymentCompleted},
	}

	result, err := env.service.Verify(context.Background(), verifyReq(session))
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, "pi_done", result.Order.ExternalPaymentID)
}

func TestVerifyNonCompletedPaymentDoesNotMaterialize(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)
	env.store.sessions[session.SessionID].CheckoutLinkID = ""
	env.store.sessions[session.SessionID].ExternalOrderID = ""

	env.gateway.payments["pi_1"] = &models.GatewayPayment{
		PaymentID: "pi_1",
		Status:    models.GatewayPaymentFailed,
	}

	req := verifyReq(session)
	req.ExternalPaymentID = "pi_1"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, result.Order)
	assert.Equal(t, "failed", result.PaymentStatus)
	assert.Equal(t, string(models.GatewayPaymentFailed), result.GatewayStatus)
}

func TestVerifyMatchingReferencesTrustedWhenEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.service.Policy = checkout.MatchingReferencePolicy{Enabled: true}
	session := pendingSession(env.store)
	env.store.sessions[session.SessionID].CheckoutLinkID = ""
	env.store.sessions[session.SessionID].ExternalOrderID = ""

	req := verifyReq(session)
	req.ExternalPaymentID = "ref-12345678"
	req.ExternalOrderID = "ref-12345678"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, "paid", result.PaymentStatus)
	assert.Equal(t, "matching_references", result.GatewayStatus)
}

func TestVerifyMatchingReferencesIgnoredByDefault(t *testing.T) {
	env := newTestEnv(t)
	session := pendingSession(env.store)
	env.store.sessions[session.SessionID].CheckoutLinkID = ""
	env.store.sessions[session.SessionID].ExternalOrderID = ""

	req := verifyReq(session)
	req.ExternalPaymentID = "ref-12345678"
	req.ExternalOrderID = "ref-12345678"

	result, err := env.service.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, result.Order)
	assert.Equal(t, "failed", result.PaymentStatus)
}

func TestReconcileExternalOrder(t *testing.T) {
	env := newTestEnv(t)

	env.gateway.searchResults["ext-order-9"] = []models.GatewayPayment{
		{PaymentID: "pi_9", ExternalOrderID: "ext-order-9", Status: models.GatewayPaymentCompleted},
	}

	payment, status, err := env.service.ReconcileExternalOrder(context.Background(), "ext-order-9")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, "pi_9", payment.PaymentID)
	assert.Equal(t, string(models.GatewayPaymentCompleted), status)

	_, _, err = env.service.ReconcileExternalOrder(context.Background(), "")
	assert.Error(t, err)
}
