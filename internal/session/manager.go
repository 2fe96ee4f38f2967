// Package session coordinates identity changes across the sync engines:
// a login starts the guest cart migration, a logout drops everything the
// previous user could see.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/migration"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
	"github.com/utafrali/storefront-sync/pkg/logger"
)

// Auth is the device's identity holder.
type Auth interface {
	Login(token string) (prev, next auth.Identity, err error)
	Logout() (auth.Identity, error)
	Identity() auth.Identity
}

// Resetter drops an engine's local state.
type Resetter interface {
	Reset()
}

// Migrator runs the guest cart migration.
type Migrator interface {
	Trigger(ctx context.Context, loginID string) bool
	Wait(ctx context.Context) error
	Last() (migration.Report, bool)
	Cancel()
}

// CheckoutResetter drops a checkout session owned by someone else.
type CheckoutResetter interface {
	ResetForIdentity(ctx context.Context, identityID string) error
}

// MigrationStatus is what the caller learns about the cart merge.
type MigrationStatus struct {
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	TotalItems int    `json:"total_items"`
}

// Result is returned from Login and Logout.
type Result struct {
	UserID        string           `json:"user_id"`
	Email         string           `json:"email,omitempty"`
	Authenticated bool             `json:"authenticated"`
	Migration     *MigrationStatus `json:"migration,omitempty"`
}

// Manager applies identity changes.
type Manager struct {
	auth      Auth
	cart      Resetter
	wishlist  Resetter
	migration Migrator
	checkout  CheckoutResetter
	logger    *slog.Logger

	// base outlives requests so a migration keeps polling after the login
	// response is written.
	base context.Context
	wait time.Duration

	// newLoginID names each login event; every sign-in gets its own
	// migration run, even with a token that was used before.
	newLoginID func() string
}

// NewManager creates a Manager. Login blocks for at most wait on the cart
// migration before answering with a pending status.
func NewManager(base context.Context, a Auth, cart, wishlist Resetter, m Migrator, checkout CheckoutResetter, wait time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		auth:       a,
		cart:       cart,
		wishlist:   wishlist,
		migration:  m,
		checkout:   checkout,
		logger:     logger,
		base:       base,
		wait:       wait,
		newLoginID: uuid.NewString,
	}
}

// Login signs token's user in. Coming from a guest, the guest cart is kept
// and migrated; switching between two users resets local state instead. A
// migration that does not converge in time is reported as a soft
// MigrationTimeout next to the result.
func (m *Manager) Login(ctx context.Context, token string) (Result, error) {
	prev, next, err := m.auth.Login(token)
	if err != nil {
		return Result{}, err
	}
	ctx = logger.WithUserID(ctx, next.ID)
	res := Result{UserID: next.ID, Email: next.Email, Authenticated: true}

	if prev.ID == next.ID {
		// Token refresh for the same user.
		return res, nil
	}

	switched := prev.Authenticated
	if switched {
		m.migration.Cancel()
		m.cart.Reset()
	}
	m.wishlist.Reset()
	if err := m.checkout.ResetForIdentity(ctx, next.ID); err != nil {
		m.logger.WarnContext(ctx, "checkout session not reset on login", slog.String("error", err.Error()))
	}

	m.logger.InfoContext(ctx, "signed in",
		slog.Bool("switched_user", switched),
	)
	if switched {
		return res, nil
	}

	loginID := m.newLoginID()
	if !m.migration.Trigger(m.base, loginID) {
		return res, nil
	}
	return m.awaitMigration(ctx, loginID, res)
}

func (m *Manager) awaitMigration(ctx context.Context, loginID string, res Result) (Result, error) {
	if m.wait <= 0 {
		res.Migration = &MigrationStatus{Outcome: "pending"}
		return res, nil
	}

	wctx, cancel := context.WithTimeout(ctx, m.wait)
	defer cancel()
	if err := m.migration.Wait(wctx); err != nil {
		res.Migration = &MigrationStatus{Outcome: "pending"}
		return res, nil
	}

	rep, ok := m.migration.Last()
	if !ok || rep.LoginID != loginID {
		res.Migration = &MigrationStatus{Outcome: "pending"}
		return res, nil
	}
	res.Migration = &MigrationStatus{
		Outcome:    rep.Outcome.String(),
		Attempts:   rep.Attempts,
		TotalItems: rep.Cart.TotalItems,
	}
	if rep.Outcome == migration.TimedOut {
		return res, rep.Err
	}
	return res, nil
}

// Logout returns the device to a fresh guest and drops the user's cart,
// wishlist, pending migration and checkout session.
func (m *Manager) Logout(ctx context.Context) (Result, error) {
	guest, err := m.auth.Logout()
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return Result{}, apperrors.Unauthorized("not signed in")
		}
		return Result{}, err
	}

	m.migration.Cancel()
	m.cart.Reset()
	m.wishlist.Reset()
	if err := m.checkout.ResetForIdentity(ctx, guest.ID); err != nil {
		m.logger.WarnContext(ctx, "checkout session not reset on logout", slog.String("error", err.Error()))
	}

	m.logger.InfoContext(ctx, "signed out")
	return Result{UserID: guest.ID}, nil
}

// Current describes the signed-in identity.
func (m *Manager) Current() Result {
	id := m.auth.Identity()
	return Result{UserID: id.ID, Email: id.Email, Authenticated: id.Authenticated}
}
