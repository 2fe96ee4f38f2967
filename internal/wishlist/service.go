// Package wishlist mediates wishlist mutations through the optimistic
// engine and answers membership questions from the cache.
package wishlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/optimistic"
	"github.com/utafrali/storefront-sync/internal/store"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// Remote is the commerce API surface the wishlist needs.
type Remote interface {
	GetWishlist(ctx context.Context) (domain.Wishlist, error)
	AddToWishlist(ctx context.Context, productID string) (domain.Wishlist, error)
	RemoveFromWishlist(ctx context.Context, productID string) (domain.Wishlist, error)
	ClearWishlist(ctx context.Context) (domain.Wishlist, error)
}

// IdentitySource supplies the user id stamped on projected items.
type IdentitySource interface {
	Identity() auth.Identity
}

// RollbackRecorder is notified of every rolled back mutation.
type RollbackRecorder interface {
	MutationRolledBack(ctx context.Context, entity, op string, err error)
}

// Service is the wishlist sync engine.
type Service struct {
	remote   Remote
	identity IdentitySource
	cache    *store.Cache
	engine   *optimistic.Engine[domain.Wishlist]
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the wishlist engine and attaches its refetch policy.
func NewService(remote Remote, identity IdentitySource, cache *store.Cache, counters *store.Counters, maxAge time.Duration, events RollbackRecorder, logger *slog.Logger) *Service {
	s := &Service{
		remote:   remote,
		identity: identity,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}

	cfg := optimistic.Config[domain.Wishlist]{
		Entity:   "wishlist",
		Key:      store.KeyWishlist,
		Cache:    cache,
		Clone:    domain.Wishlist.Clone,
		Count:    func(w domain.Wishlist) int { return len(w.Items) },
		SetCount: counters.SetWishlistCount,
		Logger:   logger,
	}
	if events != nil {
		cfg.OnRollback = func(ctx context.Context, op string, err error) {
			events.MutationRolledBack(ctx, "wishlist", op, err)
		}
	}
	s.engine = optimistic.New(cfg)

	cache.Attach(store.KeyWishlist, store.Policy{MaxAge: maxAge, Refetch: s.refetch})
	return s
}

// AddToWishlist adds productID. Adding a product that is already present
// projects no change.
func (s *Service) AddToWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Wishlist{}, apperrors.ValidationFailure("product id is required")
	}

	item := domain.WishlistItem{
		ProductID: productID,
		UserID:    s.identity.Identity().ID,
		CreatedAt: s.now().UTC(),
	}
	return s.mutate(ctx, optimistic.Mutation[domain.Wishlist]{
		Name: "add",
		Project: func(w domain.Wishlist) domain.Wishlist {
			w.Add(item)
			return w
		},
		Commit: func(ctx context.Context) (domain.Wishlist, error) {
			return s.remote.AddToWishlist(ctx, productID)
		},
	})
}

// RemoveFromWishlist removes productID.
func (s *Service) RemoveFromWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Wishlist{}, apperrors.ValidationFailure("product id is required")
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Wishlist]{
		Name: "remove",
		Project: func(w domain.Wishlist) domain.Wishlist {
			w.Remove(productID)
			return w
		},
		Commit: func(ctx context.Context) (domain.Wishlist, error) {
			return s.remote.RemoveFromWishlist(ctx, productID)
		},
	})
}

// ClearWishlist removes every item.
func (s *Service) ClearWishlist(ctx context.Context) (domain.Wishlist, error) {
	return s.mutate(ctx, optimistic.Mutation[domain.Wishlist]{
		Name: "clear",
		Project: func(domain.Wishlist) domain.Wishlist {
			return domain.Wishlist{Items: []domain.WishlistItem{}}
		},
		Commit: s.remote.ClearWishlist,
	})
}

// ToggleWishlist removes productID when the caller believes it is present
// and adds it otherwise.
func (s *Service) ToggleWishlist(ctx context.Context, productID string, isCurrentlyIn bool) (domain.Wishlist, error) {
	if isCurrentlyIn {
		return s.RemoveFromWishlist(ctx, productID)
	}
	return s.AddToWishlist(ctx, productID)
}

// CheckMembership reports whether productID is wishlisted. A fresh cached
// wishlist answers directly; otherwise the wishlist is fetched once.
func (s *Service) CheckMembership(ctx context.Context, productID string) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, apperrors.ValidationFailure("product id is required")
	}

	if s.cache.Fresh(store.KeyWishlist) {
		if w, ok := store.Lookup[domain.Wishlist](s.cache, store.KeyWishlist); ok {
			return w.Contains(productID), nil
		}
	}
	if err := s.Refresh(ctx); err != nil {
		return false, err
	}
	w, ok := s.engine.Current()
	if !ok {
		return false, nil
	}
	return w.Contains(productID), nil
}

// Wishlist returns the cached wishlist, loading it when absent.
func (s *Service) Wishlist(ctx context.Context) (domain.Wishlist, error) {
	if w, ok := store.Lookup[domain.Wishlist](s.cache, store.KeyWishlist); ok {
		return w, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return domain.Wishlist{}, err
	}
	w, ok := s.engine.Current()
	if !ok {
		return domain.Wishlist{}, apperrors.NotFound("wishlist", "current")
	}
	return w, nil
}

// Refresh refetches the wishlist through the engine.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.cache.Refresh(ctx, store.KeyWishlist); err != nil {
		return fmt.Errorf("refresh wishlist: %w", err)
	}
	return nil
}

// Reset forgets the wishlist on identity change.
func (s *Service) Reset() {
	s.engine.Reset()
}

func (s *Service) mutate(ctx context.Context, m optimistic.Mutation[domain.Wishlist]) (domain.Wishlist, error) {
	w, err := s.engine.Mutate(ctx, m)
	if err != nil {
		return domain.Wishlist{}, fmt.Errorf("wishlist %s: %w", m.Name, err)
	}
	return w, nil
}

func (s *Service) refetch(ctx context.Context) error {
	version := s.engine.Version()
	w, err := s.remote.GetWishlist(ctx)
	if err != nil {
		return err
	}
	if !s.engine.RebaseIfUnchanged(version, w) {
		s.logger.DebugContext(ctx, "discarded wishlist refetch older than confirmed wishlist")
	}
	return nil
}
