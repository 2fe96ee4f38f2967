package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-sync/internal/domain"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

const keyPrefix = "storefront:checkout:"

// SessionRepository implements repository.SessionRepository using Redis.
type SessionRepository struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSessionRepository creates a Redis-backed session repository for one
// device. A zero ttl keeps the session until it is deleted.
func NewSessionRepository(client *redis.Client, deviceID string, ttl time.Duration) *SessionRepository {
	return &SessionRepository{
		client: client,
		key:    keyPrefix + deviceID,
		ttl:    ttl,
	}
}

// Get retrieves the stored checkout session.
func (r *SessionRepository) Get(ctx context.Context) (*domain.CheckoutSession, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("checkout session", r.key)
		}
		return nil, fmt.Errorf("redis get checkout session: %w", err)
	}

	var s domain.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	return &s, nil
}

// Save persists the session with the configured TTL.
func (r *SessionRepository) Save(ctx context.Context, session *domain.CheckoutSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkout session: %w", err)
	}
	return nil
}

// Delete removes the stored session.
func (r *SessionRepository) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del checkout session: %w", err)
	}
	return nil
}
