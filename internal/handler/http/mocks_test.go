package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-sync/internal/checkout"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/gateway"
	"github.com/utafrali/storefront-sync/internal/session"
	"github.com/utafrali/storefront-sync/pkg/health"
	"github.com/utafrali/storefront-sync/pkg/middleware"
)

// ============================================================================
// Mock services
// ============================================================================

type mockCart struct {
	mock.Mock
}

func (m *mockCart) result(args mock.Arguments) (domain.Cart, error) {
	c, _ := args.Get(0).(domain.Cart)
	return c, args.Error(1)
}

func (m *mockCart) Cart(ctx context.Context) (domain.Cart, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCart) AddItem(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	return m.result(m.Called(ctx, productID, qty))
}

func (m *mockCart) RemoveItem(ctx context.Context, productID string) (domain.Cart, error) {
	return m.result(m.Called(ctx, productID))
}

func (m *mockCart) UpdateQuantity(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	return m.result(m.Called(ctx, productID, qty))
}

func (m *mockCart) IncrementItem(ctx context.Context, productID string) (domain.Cart, error) {
	return m.result(m.Called(ctx, productID))
}

func (m *mockCart) DecrementItem(ctx context.Context, productID string) (domain.Cart, error) {
	return m.result(m.Called(ctx, productID))
}

func (m *mockCart) ClearCart(ctx context.Context) (domain.Cart, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCart) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	return m.result(m.Called(ctx, code))
}

func (m *mockCart) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	return m.result(m.Called(ctx))
}

type mockWishlist struct {
	mock.Mock
}

func (m *mockWishlist) result(args mock.Arguments) (domain.Wishlist, error) {
	w, _ := args.Get(0).(domain.Wishlist)
	return w, args.Error(1)
}

func (m *mockWishlist) Wishlist(ctx context.Context) (domain.Wishlist, error) {
	return m.result(m.Called(ctx))
}

func (m *mockWishlist) AddToWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	return m.result(m.Called(ctx, productID))
}

func (m *mockWishlist) RemoveFromWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	return m.result(m.Called(ctx, productID))
}

func (m *mockWishlist) ClearWishlist(ctx context.Context) (domain.Wishlist, error) {
	return m.result(m.Called(ctx))
}

func (m *mockWishlist) ToggleWishlist(ctx context.Context, productID string, isCurrentlyIn bool) (domain.Wishlist, error) {
	return m.result(m.Called(ctx, productID, isCurrentlyIn))
}

func (m *mockWishlist) CheckMembership(ctx context.Context, productID string) (bool, error) {
	args := m.Called(ctx, productID)
	return args.Bool(0), args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Login(ctx context.Context, token string) (session.Result, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(session.Result), args.Error(1)
}

func (m *mockSession) Logout(ctx context.Context) (session.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.Result), args.Error(1)
}

func (m *mockSession) Current() session.Result {
	return m.Called().Get(0).(session.Result)
}

type mockCheckout struct {
	mock.Mock
}

func (m *mockCheckout) result(args mock.Arguments) (*domain.CheckoutSession, error) {
	s, _ := args.Get(0).(*domain.CheckoutSession)
	return s, args.Error(1)
}

func (m *mockCheckout) Current(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCheckout) Begin(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCheckout) Cancel(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCheckout) SubmitAddress(ctx context.Context, addr domain.Address) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx, addr))
}

func (m *mockCheckout) SelectShipping(ctx context.Context, optionID string) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx, optionID))
}

func (m *mockCheckout) ConfirmShipping(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCheckout) Back(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

func (m *mockCheckout) OpenPayment(ctx context.Context) (gateway.Params, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).(gateway.Params)
	return p, args.Error(1)
}

func (m *mockCheckout) HandleGatewayEvent(ctx context.Context, ev checkout.Event) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx, ev))
}

func (m *mockCheckout) ReverifyPayment(ctx context.Context) (*domain.CheckoutSession, error) {
	return m.result(m.Called(ctx))
}

type fixedCounters domain.CounterSnapshot

func (c fixedCounters) Snapshot() domain.CounterSnapshot { return domain.CounterSnapshot(c) }

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	cart     *mockCart
	wishlist *mockWishlist
	session  *mockSession
	checkout *mockCheckout
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cart:     new(mockCart),
		wishlist: new(mockWishlist),
		session:  new(mockSession),
		checkout: new(mockCheckout),
	}
	f.session.On("Current").Return(session.Result{UserID: "guest-1"}).Maybe()

	f.router = NewRouter(Services{
		Cart:     f.cart,
		Wishlist: f.wishlist,
		Session:  f.session,
		Checkout: f.checkout,
		Counters: fixedCounters{CartCount: 3, WishlistCount: 1},
	}, health.NewHandler(), testLogger(), RouterConfig{CORS: middleware.DefaultCORSConfig()})

	t.Cleanup(func() {
		f.cart.AssertExpectations(t)
		f.wishlist.AssertExpectations(t)
		f.session.AssertExpectations(t)
		f.checkout.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
	Warning *errorBody      `json:"warning"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func newRequest(method, path, body string) *http.Request {
	return httptest.NewRequest(method, path, strings.NewReader(body))
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}
