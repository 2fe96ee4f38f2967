package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/migration"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

type mockResetter struct{ mock.Mock }

func (m *mockResetter) Reset() { m.Called() }

type mockMigrator struct{ mock.Mock }

func (m *mockMigrator) Trigger(ctx context.Context, loginID string) bool {
	return m.Called(loginID).Bool(0)
}

func (m *mockMigrator) Wait(ctx context.Context) error { return m.Called().Error(0) }

func (m *mockMigrator) Last() (migration.Report, bool) {
	args := m.Called()
	return args.Get(0).(migration.Report), args.Bool(1)
}

func (m *mockMigrator) Cancel() { m.Called() }

type mockCheckout struct{ mock.Mock }

func (m *mockCheckout) ResetForIdentity(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

type fixture struct {
	auth      *auth.Session
	cart      *mockResetter
	wishlist  *mockResetter
	migration *mockMigrator
	checkout  *mockCheckout
	mgr       *Manager
}

func newFixture(t *testing.T, wait time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		auth:      auth.NewSession("guest-token"),
		cart:      &mockResetter{},
		wishlist:  &mockResetter{},
		migration: &mockMigrator{},
		checkout:  &mockCheckout{},
	}
	f.mgr = NewManager(context.Background(), f.auth, f.cart, f.wishlist, f.migration, f.checkout, wait,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.mgr.newLoginID = sequentialIDs()
	t.Cleanup(func() {
		f.cart.AssertExpectations(t)
		f.wishlist.AssertExpectations(t)
		f.migration.AssertExpectations(t)
		f.checkout.AssertExpectations(t)
	})
	return f
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID,
		Email:  userID + "@shop.example",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("login-%d", n)
	}
}

func TestLogin_FromGuestMigratesCart(t *testing.T) {
	f := newFixture(t, time.Second)
	tok := token(t, "u1")

	f.wishlist.On("Reset").Once()
	f.checkout.On("ResetForIdentity", "u1").Return(nil).Once()
	f.migration.On("Trigger", "login-1").Return(true).Once()
	f.migration.On("Wait").Return(nil).Once()
	f.migration.On("Last").Return(migration.Report{
		LoginID:  "login-1",
		Outcome:  migration.Converged,
		Attempts: 2,
		Cart:     domain.Cart{TotalItems: 2},
	}, true).Once()

	res, err := f.mgr.Login(context.Background(), tok)

	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.True(t, res.Authenticated)
	assert.Equal(t, &MigrationStatus{Outcome: "converged", Attempts: 2, TotalItems: 2}, res.Migration)
	f.cart.AssertNotCalled(t, "Reset")
}

func TestLogin_MigrationTimeoutIsSoft(t *testing.T) {
	f := newFixture(t, time.Second)
	tok := token(t, "u1")

	f.wishlist.On("Reset")
	f.checkout.On("ResetForIdentity", "u1").Return(nil)
	f.migration.On("Trigger", "login-1").Return(true)
	f.migration.On("Wait").Return(nil)
	f.migration.On("Last").Return(migration.Report{
		LoginID:  "login-1",
		Outcome:  migration.TimedOut,
		Attempts: 6,
		Err:      apperrors.MigrationTimeout(6),
	}, true)

	res, err := f.mgr.Login(context.Background(), tok)

	require.Error(t, err)
	assert.True(t, apperrors.IsSoft(err))
	assert.True(t, res.Authenticated)
	assert.Equal(t, "timed_out", res.Migration.Outcome)
	assert.True(t, f.auth.IsAuthenticated(), "a slow merge must not undo the login")
}

func TestLogin_WaitExpiresReportsPending(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	tok := token(t, "u1")

	f.wishlist.On("Reset")
	f.checkout.On("ResetForIdentity", "u1").Return(nil)
	f.migration.On("Trigger", "login-1").Return(true)
	f.migration.On("Wait").Return(context.DeadlineExceeded)

	res, err := f.mgr.Login(context.Background(), tok)

	require.NoError(t, err)
	assert.Equal(t, "pending", res.Migration.Outcome)
}

func TestLogin_TriggerDeclinedDoesNotWait(t *testing.T) {
	f := newFixture(t, time.Second)
	tok := token(t, "u1")

	f.wishlist.On("Reset")
	f.checkout.On("ResetForIdentity", "u1").Return(nil)
	f.migration.On("Trigger", "login-1").Return(false)

	res, err := f.mgr.Login(context.Background(), tok)

	require.NoError(t, err)
	assert.Nil(t, res.Migration)
	f.migration.AssertNotCalled(t, "Wait")
}

func TestLogin_SwitchingUsersResetsInsteadOfMigrating(t *testing.T) {
	f := newFixture(t, time.Second)
	first := token(t, "u1")

	f.wishlist.On("Reset")
	f.checkout.On("ResetForIdentity", mock.Anything).Return(nil)
	f.migration.On("Trigger", "login-1").Return(false).Once()
	_, err := f.mgr.Login(context.Background(), first)
	require.NoError(t, err)

	f.migration.On("Cancel").Once()
	f.cart.On("Reset").Once()

	res, err := f.mgr.Login(context.Background(), token(t, "u2"))

	require.NoError(t, err)
	assert.Equal(t, "u2", res.UserID)
	assert.Nil(t, res.Migration)
	f.migration.AssertNumberOfCalls(t, "Trigger", 1)
	f.checkout.AssertCalled(t, "ResetForIdentity", "u2")
}

func TestLogin_SameUserTokenRefreshIsNoop(t *testing.T) {
	f := newFixture(t, time.Second)

	f.wishlist.On("Reset").Once()
	f.checkout.On("ResetForIdentity", "u1").Return(nil).Once()
	f.migration.On("Trigger", mock.Anything).Return(false).Once()
	_, err := f.mgr.Login(context.Background(), token(t, "u1"))
	require.NoError(t, err)

	res, err := f.mgr.Login(context.Background(), token(t, "u1"))

	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
}

func TestLogin_InvalidTokenLeavesGuest(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.mgr.Login(context.Background(), "not-a-jwt")

	require.Error(t, err)
	assert.Equal(t, 401, apperrors.HTTPStatus(err))
	assert.False(t, f.mgr.Current().Authenticated)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, 0)

	f.wishlist.On("Reset")
	f.checkout.On("ResetForIdentity", mock.Anything).Return(nil)
	f.migration.On("Trigger", mock.Anything).Return(true).Once()
	res, err := f.mgr.Login(context.Background(), token(t, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Migration.Outcome)

	f.migration.On("Cancel").Once()
	f.cart.On("Reset").Once()

	out, err := f.mgr.Logout(context.Background())

	require.NoError(t, err)
	assert.False(t, out.Authenticated)
	assert.Contains(t, out.UserID, "guest:")
	assert.NotEqual(t, "guest:guest-token", out.UserID, "logout starts a fresh guest cart")
	f.checkout.AssertCalled(t, "ResetForIdentity", out.UserID)
}

func TestLogout_WhenGuest(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.mgr.Logout(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

type staticCart struct{ cart domain.Cart }

func (c *staticCart) Snapshot() (domain.Cart, bool) { return c.cart, true }
func (c *staticCart) Epoch() uint64 { return 0 }
func (c *staticCart) Adopt(_ uint64, cart domain.Cart) bool {
	c.cart = cart
	return true
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) GetCart(context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return domain.Cart{
		Items:      []domain.CartItem{{ProductID: "moringa", Quantity: 2, UnitPrice: 299, TotalPrice: 598}},
		TotalItems: 2,
		TotalPrice: 598,
	}, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestLogin_SameTokenAfterLogoutMigratesAgain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guest := &staticCart{cart: domain.Cart{
		Items:      []domain.CartItem{{ProductID: "moringa", Quantity: 1, UnitPrice: 299, TotalPrice: 299}},
		TotalItems: 1,
	}}
	fetcher := &countingFetcher{}
	rec := migration.NewReconciler(migration.Config{MaxAttempts: 2, Step: time.Millisecond}, guest, fetcher, nil, logger)

	cart, wishlist, checkout := &mockResetter{}, &mockResetter{}, &mockCheckout{}
	cart.On("Reset")
	wishlist.On("Reset")
	checkout.On("ResetForIdentity", mock.Anything).Return(nil)
	mgr := NewManager(context.Background(), auth.NewSession("guest-token"), cart, wishlist, rec, checkout, time.Second, logger)

	tok := token(t, "u1")

	res, err := mgr.Login(context.Background(), tok)
	require.NoError(t, err)
	require.NotNil(t, res.Migration)
	assert.Equal(t, "converged", res.Migration.Outcome)
	assert.Equal(t, 1, fetcher.count())

	_, err = mgr.Logout(context.Background())
	require.NoError(t, err)

	res, err = mgr.Login(context.Background(), tok)
	require.NoError(t, err)
	require.NotNil(t, res.Migration, "a new sign-in is a new login event")
	assert.Equal(t, "converged", res.Migration.Outcome)
	assert.Equal(t, 2, fetcher.count())
}
