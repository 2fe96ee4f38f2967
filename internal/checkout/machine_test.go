package checkout

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/event"
	"github.com/utafrali/storefront-sync/internal/gateway"
	gatewaymock "github.com/utafrali/storefront-sync/internal/gateway/mock"
	"github.com/utafrali/storefront-sync/internal/repository/memory"
	"github.com/utafrali/storefront-sync/internal/store"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// --- collaborators ---

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) PrepareCheckout(ctx context.Context, cart domain.Cart) error {
	return m.Called(ctx, cart).Error(0)
}

func (m *mockRemote) EstimateShipping(ctx context.Context, addr domain.Address) ([]domain.ShippingOption, error) {
	args := m.Called(ctx, addr)
	opts, _ := args.Get(0).([]domain.ShippingOption)
	return opts, args.Error(1)
}

func (m *mockRemote) CreateOrder(ctx context.Context, addr domain.Address, optionID string) (domain.OrderHandle, error) {
	args := m.Called(ctx, addr, optionID)
	return args.Get(0).(domain.OrderHandle), args.Error(1)
}

func (m *mockRemote) VerifyPayment(ctx context.Context, a domain.PaymentAssertion) (bool, error) {
	args := m.Called(ctx, a)
	return args.Bool(0), args.Error(1)
}

type fakeCart struct {
	mu       sync.Mutex
	cart     domain.Cart
	known    bool
	reloads  []domain.Cart
	reloadN  int
	clearErr error
	cleared  int
}

func (f *fakeCart) Snapshot() (domain.Cart, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cart, f.known
}

func (f *fakeCart) Reload(ctx context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadN++
	if len(f.reloads) > 0 {
		f.cart = f.reloads[0]
		if len(f.reloads) > 1 {
			f.reloads = f.reloads[1:]
		}
	}
	f.known = true
	return f.cart, nil
}

func (f *fakeCart) ClearCart(ctx context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	if f.clearErr != nil {
		return domain.Cart{}, f.clearErr
	}
	f.cart = domain.Cart{Items: []domain.CartItem{}}
	return f.cart, nil
}

type fakeGate struct {
	mu      sync.Mutex
	pending bool
	release chan struct{}
}

func (g *fakeGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

func (g *fakeGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.release
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		g.mu.Lock()
		g.pending = false
		g.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type identity struct {
	mu sync.Mutex
	id string
}

func (i *identity) Identity() auth.Identity {
	i.mu.Lock()
	defer i.mu.Unlock()
	return auth.Identity{ID: i.id, Email: i.id + "@example.com", Authenticated: true}
}

func (i *identity) set(id string) {
	i.mu.Lock()
	i.id = id
	i.mu.Unlock()
}

type spyRecorder struct {
	mu        sync.Mutex
	steps     []string
	completed []event.CheckoutCompletedData
	ambiguous []event.VerificationAmbiguousData
}

func (r *spyRecorder) CheckoutStepChanged(_ context.Context, d event.CheckoutStepData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, d.From+">"+d.To)
}

func (r *spyRecorder) CheckoutCompleted(_ context.Context, d event.CheckoutCompletedData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, d)
}

func (r *spyRecorder) VerificationAmbiguous(_ context.Context, d event.VerificationAmbiguousData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ambiguous = append(r.ambiguous, d)
}

// --- fixture ---

var testSecret = []byte("test-secret")

type fixture struct {
	remote   *mockRemote
	cart     *fakeCart
	gate     *fakeGate
	ident    *identity
	sessions *memory.SessionRepository
	cache    *store.Cache
	gw       *gatewaymock.Gateway
	events   *spyRecorder
	m        *Machine
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		remote:   &mockRemote{},
		cart:     &fakeCart{cart: cartWith(2), known: true},
		gate:     &fakeGate{},
		ident:    &identity{id: "user-1"},
		sessions: memory.NewSessionRepository(),
		cache:    store.NewCache(newTestLogger(), time.Second),
		gw:       gatewaymock.New(testSecret, gatewaymock.Silent),
		events:   &spyRecorder{},
	}
	t.Cleanup(f.cache.Close)
	f.m = NewMachine(Config{
		Gateway:      gateway.Config{Key: "key_test", MerchantName: "Green Basket"},
		CartAttempts: 3,
		CartStep:     time.Millisecond,
	}, Deps{
		Remote:    f.remote,
		Cart:      f.cart,
		Migration: f.gate,
		Identity:  f.ident,
		Sessions:  f.sessions,
		Cache:     f.cache,
		Gateway:   f.gw,
		Events:    f.events,
	}, newTestLogger())
	return f
}

func cartWith(n int) domain.Cart {
	c := domain.Cart{ID: "cart-1", Items: []domain.CartItem{}}
	if n > 0 {
		c.Items = append(c.Items, domain.CartItem{ProductID: "moringa", Quantity: n, UnitPrice: 299})
	}
	c.Recalculate()
	return c
}

func testAddress() domain.Address {
	return domain.Address{
		FullName: "Asha Rao", Phone: "9876543210", AddressLine: "12 MG Road",
		City: "Bengaluru", PostalCode: "560001", Country: "IN",
	}
}

var testOptions = []domain.ShippingOption{
	{ID: "std", Carrier: "BlueDart", Service: "Standard", Amount: 4900, EstimatedDays: 4},
	{ID: "exp", Carrier: "BlueDart", Service: "Express", Amount: 9900, EstimatedDays: 1},
}

var testHandle = domain.OrderHandle{OrderID: "ord-1", GatewayOrderID: "gw-1", Amount: 64800, Currency: "INR"}

// toPayment drives a fresh checkout to the payment step.
func (f *fixture) toPayment(t *testing.T) *domain.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.remote.On("EstimateShipping", mock.Anything, testAddress()).Return(testOptions, nil).Maybe()
	f.remote.On("CreateOrder", mock.Anything, testAddress(), "std").Return(testHandle, nil).Maybe()

	_, err := f.m.Begin(ctx)
	require.NoError(t, err)
	_, err = f.m.SubmitAddress(ctx, testAddress())
	require.NoError(t, err)
	s, err := f.m.ConfirmShipping(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StepPayment, s.Step)
	return s
}

// --- tests ---

func TestBegin_CreatesSessionAndPrepares(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, cartWith(2)).Return(nil).Once()

	s, err := f.m.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepAddress, s.Step)
	assert.Equal(t, "user-1", s.OwnerID)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, []string{">address"}, f.events.steps)

	stored, err := f.m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)
	f.remote.AssertExpectations(t)
}

func TestBegin_RefusesEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.cart.cart = cartWith(0)

	_, err := f.m.Begin(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	f.remote.AssertNotCalled(t, "PrepareCheckout", mock.Anything, mock.Anything)
}

func TestBegin_LoadsCartWhenUnknown(t *testing.T) {
	f := newFixture(t)
	f.cart.known = false
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)

	_, err := f.m.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.cart.reloadN)
}

func TestBegin_ResumesPersistedStep(t *testing.T) {
	f := newFixture(t)
	first := f.toPayment(t)

	again, err := f.m.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, domain.StepPayment, again.Step)
	f.remote.AssertNumberOfCalls(t, "PrepareCheckout", 1)
}

func TestBegin_ResetsForOtherIdentity(t *testing.T) {
	f := newFixture(t)
	first := f.toPayment(t)

	f.ident.set("user-2")
	_, err := f.m.Current(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	s, err := f.m.Begin(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, s.ID)
	assert.Equal(t, domain.StepAddress, s.Step)
	assert.Equal(t, "user-2", s.OwnerID)
}

func TestSubmitAddress_AdvancesAndCachesQuote(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, testAddress()).Return(testOptions, nil)
	ctx := context.Background()

	_, err := f.m.Begin(ctx)
	require.NoError(t, err)
	s, err := f.m.SubmitAddress(ctx, testAddress())
	require.NoError(t, err)

	assert.Equal(t, domain.StepShipping, s.Step)
	assert.Equal(t, "std", s.SelectedShipping)
	assert.Len(t, s.ShippingOptions, 2)

	quote, ok := store.Lookup[domain.ShippingQuote](f.cache, store.KeyShippingQuote)
	require.True(t, ok)
	assert.Equal(t, testAddress(), quote.Address)
	assert.Equal(t, testOptions, quote.Options)
}

func TestSubmitAddress_InvalidAddressNoRemoteCall(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()
	_, err := f.m.Begin(ctx)
	require.NoError(t, err)

	addr := testAddress()
	addr.City = ""
	_, err = f.m.SubmitAddress(ctx, addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "city")
	f.remote.AssertNotCalled(t, "EstimateShipping", mock.Anything, mock.Anything)
}

func TestSubmitAddress_NoOptionsStaysAtAddressKeepingData(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, testAddress()).Return([]domain.ShippingOption{}, nil)
	ctx := context.Background()
	_, err := f.m.Begin(ctx)
	require.NoError(t, err)

	_, err = f.m.SubmitAddress(ctx, testAddress())
	require.Error(t, err)
	assert.True(t, apperrors.IsRejection(err))

	s, err := f.m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StepAddress, s.Step)
	require.NotNil(t, s.ShippingAddress)
	assert.Equal(t, "Asha Rao", s.ShippingAddress.FullName)
	assert.NotEmpty(t, s.LastError)
}

func TestSubmitAddress_NetworkFailureNeverAdvances(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, mock.Anything).
		Return(nil, apperrors.NetworkFailure("estimate shipping", errors.New("timeout")))
	ctx := context.Background()
	_, err := f.m.Begin(ctx)
	require.NoError(t, err)

	_, err = f.m.SubmitAddress(ctx, testAddress())
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))

	s, _ := f.m.Current(ctx)
	assert.Equal(t, domain.StepAddress, s.Step)
}

func TestSelectShipping(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, mock.Anything).Return(testOptions, nil)
	ctx := context.Background()
	_, _ = f.m.Begin(ctx)
	_, err := f.m.SubmitAddress(ctx, testAddress())
	require.NoError(t, err)

	s, err := f.m.SelectShipping(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, "exp", s.SelectedShipping)

	_, err = f.m.SelectShipping(ctx, "drone")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestStepGuards(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := f.m.ConfirmShipping(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "no session yet")

	_, err = f.m.Begin(ctx)
	require.NoError(t, err)

	_, err = f.m.ConfirmShipping(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	_, err = f.m.OpenPayment(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	_, err = f.m.HandleGatewayEvent(ctx, EventPaymentDismissed{})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	_, err = f.m.Back(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestConfirmShipping_CreatesOrder(t *testing.T) {
	f := newFixture(t)
	s := f.toPayment(t)

	require.NotNil(t, s.OrderHandle)
	assert.Equal(t, testHandle, *s.OrderHandle)
	assert.Equal(t, []string{">address", "address>shipping", "shipping>payment"}, f.events.steps)
}

func TestConfirmShipping_FailureStaysAtShipping(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, mock.Anything).Return(testOptions, nil)
	f.remote.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.OrderHandle{}, apperrors.ServerRejection("OUT_OF_STOCK", "moringa sold out", 409))
	ctx := context.Background()
	_, _ = f.m.Begin(ctx)
	_, _ = f.m.SubmitAddress(ctx, testAddress())

	_, err := f.m.ConfirmShipping(ctx)
	require.Error(t, err)
	s, _ := f.m.Current(ctx)
	assert.Equal(t, domain.StepShipping, s.Step)
	assert.Nil(t, s.OrderHandle)
	assert.Equal(t, "std", s.SelectedShipping)
}

func TestOpenPayment_BuildsParams(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)

	p, err := f.m.OpenPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gw-1", p.OrderID)
	assert.Equal(t, int64(64800), p.Amount)
	assert.Equal(t, "key_test", p.Key)
	assert.Equal(t, "Asha Rao", p.Prefill.Name)
	assert.Equal(t, "user-1@example.com", p.Prefill.Email)
}

func TestPaymentSuccess_VerifiedCompletesAndClearsCart(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	a := f.gw.Assert("gw-1", "pay-1")
	f.remote.On("VerifyPayment", mock.Anything, a).Return(true, nil).Once()

	s, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSuccess, s.Step)
	assert.Equal(t, "ord-1", s.SuccessOrderID)
	require.NotNil(t, s.PaymentVerification)
	assert.True(t, s.PaymentVerification.Verified)
	assert.Equal(t, 1, f.cart.cleared)

	require.Len(t, f.events.completed, 1)
	assert.Equal(t, "pay-1", f.events.completed[0].PaymentID)
	_, ok := f.cache.Get(store.KeyShippingQuote)
	assert.False(t, ok)

	// A completed session is replaced on the next entry.
	f.cart.cart = cartWith(1)
	next, err := f.m.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepAddress, next.Step)
	assert.NotEqual(t, s.ID, next.ID)
}

func TestPaymentSuccess_ClearCartFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	f.cart.clearErr = errors.New("offline")
	a := f.gw.Assert("gw-1", "pay-1")
	f.remote.On("VerifyPayment", mock.Anything, a).Return(true, nil)

	s, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSuccess, s.Step)
}

func TestPaymentSuccess_NotVerifiedStaysAtPayment(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	a := f.gw.Assert("gw-1", "pay-1")
	f.remote.On("VerifyPayment", mock.Anything, a).Return(false, nil)

	_, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrVerificationFailed))
	assert.False(t, errors.Is(err, apperrors.ErrVerificationAmbiguous))

	s, _ := f.m.Current(context.Background())
	assert.Equal(t, domain.StepPayment, s.Step)
	assert.Equal(t, domain.PaymentVerificationFailed, s.PaymentState)
	assert.Zero(t, f.cart.cleared)

	// The gateway can be reopened after a failed verification.
	_, err = f.m.OpenPayment(context.Background())
	assert.NoError(t, err)
}

func TestPaymentSuccess_NetworkErrorIsAmbiguous(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	a := f.gw.Assert("gw-1", "pay-1")
	f.remote.On("VerifyPayment", mock.Anything, a).
		Return(false, apperrors.NetworkFailure("verify payment", errors.New("timeout"))).Once()

	_, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrVerificationAmbiguous))

	s, _ := f.m.Current(context.Background())
	assert.Equal(t, domain.StepPayment, s.Step)
	assert.Equal(t, domain.PaymentVerificationAmbiguous, s.PaymentState)
	assert.Empty(t, s.SuccessOrderID)
	assert.Zero(t, f.cart.cleared)
	require.Len(t, f.events.ambiguous, 1)

	// No silent retry: reopening, going back and a second success are refused.
	_, err = f.m.OpenPayment(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrVerificationAmbiguous))
	_, err = f.m.Back(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrVerificationAmbiguous))
	_, err = f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	assert.True(t, errors.Is(err, apperrors.ErrVerificationAmbiguous))
	f.remote.AssertNumberOfCalls(t, "VerifyPayment", 1)

	// The user may ask for one explicit re-verification.
	f.remote.On("VerifyPayment", mock.Anything, a).Return(true, nil).Once()
	s, err = f.m.ReverifyPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StepSuccess, s.Step)
}

func TestPaymentSuccess_MismatchedOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)

	a := f.gw.Assert("gw-other", "pay-1")
	_, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: a})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.m.HandleGatewayEvent(context.Background(), EventPaymentSucceeded{Assertion: domain.PaymentAssertion{OrderHandle: "gw-1"}})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	f.remote.AssertNotCalled(t, "VerifyPayment", mock.Anything, mock.Anything)
}

func TestReverify_RequiresAmbiguousState(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	_, err := f.m.ReverifyPayment(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestDismissal_StaysAtPaymentIdle(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)

	s, err := f.m.HandleGatewayEvent(context.Background(), EventPaymentDismissed{})
	require.NoError(t, err)
	assert.Equal(t, domain.StepPayment, s.Step)
	assert.Equal(t, domain.PaymentDismissed, s.PaymentState)

	_, err = f.m.OpenPayment(context.Background())
	require.NoError(t, err)
	s, _ = f.m.Current(context.Background())
	assert.Equal(t, domain.PaymentNone, s.PaymentState)
}

func TestOpenPayment_GatewayCallbacksDriveMachine(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	f.gw.Mode = gatewaymock.Succeed
	f.remote.On("VerifyPayment", mock.Anything, mock.MatchedBy(func(a domain.PaymentAssertion) bool {
		return a.OrderHandle == "gw-1" && gatewaymock.Verify(testSecret, a)
	})).Return(true, nil)

	_, err := f.m.OpenPayment(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := f.m.Current(context.Background())
		return err == nil && s.Step == domain.StepSuccess
	}, time.Second, 5*time.Millisecond)
}

func TestBack_FromPaymentDropsOrder(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	ctx := context.Background()

	s, err := f.m.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StepShipping, s.Step)
	assert.Nil(t, s.OrderHandle)
	assert.Equal(t, "std", s.SelectedShipping)

	s, err = f.m.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StepAddress, s.Step)
	require.NotNil(t, s.ShippingAddress, "entered data is kept")
}

func TestCancel_DeletesSession(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	ctx := context.Background()

	s, err := f.m.Cancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StepAbandoned, s.Step)

	_, err = f.m.Current(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Contains(t, f.events.steps, "payment>abandoned")
}

func TestResetForIdentity(t *testing.T) {
	f := newFixture(t)
	f.toPayment(t)
	ctx := context.Background()

	require.NoError(t, f.m.ResetForIdentity(ctx, "user-1"))
	_, err := f.sessions.Get(ctx)
	require.NoError(t, err, "own session kept")

	require.NoError(t, f.m.ResetForIdentity(ctx, "user-2"))
	_, err = f.sessions.Get(ctx)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestBegin_WaitsForMigrationThenRevalidatesCart(t *testing.T) {
	f := newFixture(t)
	f.gate.pending = true
	f.gate.release = make(chan struct{})
	f.cart.cart = cartWith(0)
	f.cart.reloads = []domain.Cart{cartWith(0), cartWith(2)}
	f.remote.On("PrepareCheckout", mock.Anything, cartWith(2)).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, mock.Anything).Return(testOptions, nil)
	f.remote.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(testHandle, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.m.Begin(context.Background())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Begin returned while migration was outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	close(f.gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.cart.reloadN)

	ctx := context.Background()
	_, err := f.m.SubmitAddress(ctx, testAddress())
	require.NoError(t, err)
	_, err = f.m.ConfirmShipping(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.cart.reloadN, "cart re-read again before the order")
}

func TestConfirmShipping_RevalidationEmptyCartRefused(t *testing.T) {
	f := newFixture(t)
	f.remote.On("PrepareCheckout", mock.Anything, mock.Anything).Return(nil)
	f.remote.On("EstimateShipping", mock.Anything, mock.Anything).Return(testOptions, nil)
	ctx := context.Background()
	_, _ = f.m.Begin(ctx)
	_, _ = f.m.SubmitAddress(ctx, testAddress())

	f.gate.pending = true
	f.gate.release = make(chan struct{})
	close(f.gate.release)
	f.cart.reloads = []domain.Cart{cartWith(0)}

	_, err := f.m.ConfirmShipping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 3, f.cart.reloadN, "bounded by CartAttempts")
	f.remote.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(domain.StepAddress, domain.StepShipping))
	assert.True(t, canTransition(domain.StepPayment, domain.StepSuccess))
	assert.False(t, canTransition(domain.StepAddress, domain.StepPayment))
	assert.False(t, canTransition(domain.StepShipping, domain.StepSuccess))
	assert.False(t, canTransition(domain.StepSuccess, domain.StepAddress))
}
