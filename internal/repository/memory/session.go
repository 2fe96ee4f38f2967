// Package memory holds a process-local session repository for single-run
// sidecars and tests.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/storefront-sync/internal/domain"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// SessionRepository keeps the checkout session in memory.
type SessionRepository struct {
	mu      sync.RWMutex
	session *domain.CheckoutSession
}

// NewSessionRepository creates an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{}
}

// Get returns a copy of the stored session.
func (r *SessionRepository) Get(_ context.Context) (*domain.CheckoutSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, apperrors.NotFound("checkout session", "current")
	}
	return r.session.Clone(), nil
}

// Save stores a copy of session.
func (r *SessionRepository) Save(_ context.Context, session *domain.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = session.Clone()
	return nil
}

// Delete forgets the stored session.
func (r *SessionRepository) Delete(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
	return nil
}
