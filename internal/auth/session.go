// Package auth holds the device's current identity. Tokens are issued
// elsewhere; the sidecar only reads their claims to learn who is signed in.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// Claims are the access-token claims the sidecar reads. The signature is
// verified by the commerce API, not here.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is who the session currently acts for.
type Identity struct {
	ID            string
	Email         string
	Authenticated bool
}

// ParseIdentity extracts the user identity from an access token without
// verifying its signature. Expired tokens are refused.
func ParseIdentity(token string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, apperrors.Unauthorized(fmt.Sprintf("parse access token: %v", err))
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, apperrors.Unauthorized("access token carries no user id")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return Identity{}, apperrors.Unauthorized("access token expired")
	}
	return Identity{ID: id, Email: claims.Email, Authenticated: true}, nil
}

// ErrNotAuthenticated is returned by Logout when no user is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// Session is the auth provider for one device. Before login it acts as a
// guest with a random opaque token that keys the guest cart.
type Session struct {
	mu         sync.RWMutex
	guestToken string
	token      string
	identity   Identity
}

// NewSession starts a guest session. An empty guestToken gets a new uuid.
func NewSession(guestToken string) *Session {
	if guestToken == "" {
		guestToken = uuid.NewString()
	}
	return &Session{
		guestToken: guestToken,
		identity:   Identity{ID: "guest:" + guestToken},
	}
}

// Login switches the session to the user named by token and returns the
// previous identity.
func (s *Session) Login(token string) (prev, next Identity, err error) {
	next, err = ParseIdentity(token)
	if err != nil {
		return Identity{}, Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.identity
	s.token = token
	s.identity = next
	return prev, next, nil
}

// Logout returns to a fresh guest identity.
func (s *Session) Logout() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.identity.Authenticated {
		return s.identity, ErrNotAuthenticated
	}
	s.token = ""
	s.guestToken = uuid.NewString()
	s.identity = Identity{ID: "guest:" + s.guestToken}
	return s.identity, nil
}

// IsAuthenticated reports whether a user is signed in.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Authenticated
}

// BearerToken returns the user's access token, or the guest token.
func (s *Session) BearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" {
		return s.token
	}
	return s.guestToken
}

// Identity returns the current identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}
