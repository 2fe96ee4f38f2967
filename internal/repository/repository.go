package repository

import (
	"context"

	"github.com/utafrali/storefront-sync/internal/domain"
)

// SessionRepository persists the device's single checkout session so a
// restart resumes at the stored step.
type SessionRepository interface {
	// Get returns the stored session, or a NotFound error when none exists.
	Get(ctx context.Context) (*domain.CheckoutSession, error)

	// Save overwrites the stored session.
	Save(ctx context.Context, session *domain.CheckoutSession) error

	// Delete removes the stored session. Deleting nothing is not an error.
	Delete(ctx context.Context) error
}
