// Package cart mediates every cart mutation with optimistic update then
// reconcile, keeping the cached cart snapshot and the cart badge count in
// lockstep.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/optimistic"
	"github.com/utafrali/storefront-sync/internal/store"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

// MaxQuantityPerItem caps a single line, matching the backend limit.
const MaxQuantityPerItem = 100

// Remote is the commerce API surface the cart needs.
type Remote interface {
	GetCart(ctx context.Context) (domain.Cart, error)
	AddToCart(ctx context.Context, productID string, qty int) (domain.Cart, error)
	RemoveFromCart(ctx context.Context, productID string) (domain.Cart, error)
	UpdateCartItem(ctx context.Context, productID string, qty int) (domain.Cart, error)
	ClearCart(ctx context.Context) (domain.Cart, error)
	ApplyCoupon(ctx context.Context, code string) (domain.Cart, error)
	RemoveCoupon(ctx context.Context) (domain.Cart, error)
}

// RollbackRecorder is notified of every rolled back mutation.
type RollbackRecorder interface {
	MutationRolledBack(ctx context.Context, entity, op string, err error)
}

// Service is the cart sync engine.
type Service struct {
	remote Remote
	cache  *store.Cache
	engine *optimistic.Engine[domain.Cart]
	logger *slog.Logger
}

// NewService creates the cart engine and attaches its refetch policy to the
// cache. maxAge of zero means the cached cart never expires on its own.
func NewService(remote Remote, cache *store.Cache, counters *store.Counters, maxAge time.Duration, events RollbackRecorder, logger *slog.Logger) *Service {
	s := &Service{
		remote: remote,
		cache:  cache,
		logger: logger,
	}

	cfg := optimistic.Config[domain.Cart]{
		Entity:   "cart",
		Key:      store.KeyCart,
		Cache:    cache,
		Clone:    domain.Cart.Clone,
		Count:    func(c domain.Cart) int { return c.TotalItems },
		SetCount: counters.SetCartCount,
		Logger:   logger,
	}
	if events != nil {
		cfg.OnRollback = func(ctx context.Context, op string, err error) {
			events.MutationRolledBack(ctx, "cart", op, err)
		}
	}
	s.engine = optimistic.New(cfg)

	cache.Attach(store.KeyCart, store.Policy{MaxAge: maxAge, Refetch: s.refetch})
	return s
}

// AddItem adds qty of productID. An existing line is incremented; a new
// product shows as a zero-priced placeholder until the server answers.
func (s *Service) AddItem(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, apperrors.ValidationFailure("product id is required")
	}
	if qty < 1 {
		return domain.Cart{}, apperrors.ValidationFailure("quantity must be at least 1")
	}
	if qty > MaxQuantityPerItem {
		return domain.Cart{}, apperrors.ValidationFailure(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "add_item",
		Project: func(c domain.Cart) domain.Cart {
			c.AdjustQuantity(productID, qty)
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			return s.remote.AddToCart(ctx, productID, qty)
		},
	})
}

// RemoveItem removes the line for productID.
func (s *Service) RemoveItem(ctx context.Context, productID string) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, apperrors.ValidationFailure("product id is required")
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "remove_item",
		Project: func(c domain.Cart) domain.Cart {
			c.SetQuantity(productID, 0)
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			return s.remote.RemoveFromCart(ctx, productID)
		},
	})
}

// UpdateQuantity sets the quantity of productID. Zero removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, apperrors.ValidationFailure("product id is required")
	}
	if qty < 0 {
		return domain.Cart{}, apperrors.ValidationFailure("quantity must not be negative")
	}
	if qty > MaxQuantityPerItem {
		return domain.Cart{}, apperrors.ValidationFailure(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "update_quantity",
		Project: func(c domain.Cart) domain.Cart {
			c.SetQuantity(productID, qty)
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			return s.remote.UpdateCartItem(ctx, productID, qty)
		},
	})
}

// IncrementItem adds one unit of productID.
func (s *Service) IncrementItem(ctx context.Context, productID string) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, apperrors.ValidationFailure("product id is required")
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "increment_item",
		Project: func(c domain.Cart) domain.Cart {
			c.AdjustQuantity(productID, 1)
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			return s.remote.AddToCart(ctx, productID, 1)
		},
	})
}

// DecrementItem removes one unit of productID. Reaching zero removes the
// line. The absolute quantity sent to the server is computed when the
// mutation reaches the head of the queue, from the confirmed cart, so an
// earlier queued mutation that fails cannot skew it.
func (s *Service) DecrementItem(ctx context.Context, productID string) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, apperrors.ValidationFailure("product id is required")
	}

	current, err := s.Cart(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if current.Quantity(productID) == 0 {
		return domain.Cart{}, apperrors.NotFound("cart item", productID)
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "decrement_item",
		Project: func(c domain.Cart) domain.Cart {
			c.AdjustQuantity(productID, -1)
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			confirmed, _ := s.engine.Confirmed()
			qty := confirmed.Quantity(productID)
			switch {
			case qty == 0:
				return domain.Cart{}, apperrors.NotFound("cart item", productID)
			case qty == 1:
				return s.remote.RemoveFromCart(ctx, productID)
			default:
				return s.remote.UpdateCartItem(ctx, productID, qty-1)
			}
		},
	})
}

// ClearCart empties the cart.
func (s *Service) ClearCart(ctx context.Context) (domain.Cart, error) {
	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "clear_cart",
		Project: func(c domain.Cart) domain.Cart {
			return domain.Cart{ID: c.ID, Items: []domain.CartItem{}, ExpiresAt: c.ExpiresAt}
		},
		Commit: s.remote.ClearCart,
	})
}

// ApplyCoupon applies code. Only the code is projected; discount amounts
// come from the server.
func (s *Service) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Cart{}, apperrors.ValidationFailure("coupon code is required")
	}

	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "apply_coupon",
		Project: func(c domain.Cart) domain.Cart {
			c.CouponCode = code
			return c
		},
		Commit: func(ctx context.Context) (domain.Cart, error) {
			return s.remote.ApplyCoupon(ctx, code)
		},
	})
}

// RemoveCoupon drops the applied coupon and its discount.
func (s *Service) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	return s.mutate(ctx, optimistic.Mutation[domain.Cart]{
		Name: "remove_coupon",
		Project: func(c domain.Cart) domain.Cart {
			c.ClearCoupon()
			return c
		},
		Commit: s.remote.RemoveCoupon,
	})
}

// Cart returns the cached cart, loading it through the engine when absent.
// A stale entry is served as is while a background refetch runs.
func (s *Service) Cart(ctx context.Context) (domain.Cart, error) {
	if c, ok := store.Lookup[domain.Cart](s.cache, store.KeyCart); ok {
		return c, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return domain.Cart{}, err
	}
	c, ok := store.Lookup[domain.Cart](s.cache, store.KeyCart)
	if !ok {
		return domain.Cart{}, apperrors.NotFound("cart", "current")
	}
	return c, nil
}

// Refresh refetches the cart and rebases the engine on it. Concurrent
// refreshes share one request.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.cache.Refresh(ctx, store.KeyCart); err != nil {
		return fmt.Errorf("refresh cart: %w", err)
	}
	return nil
}

// Reload fetches the cart directly, adopts it and returns it.
func (s *Service) Reload(ctx context.Context) (domain.Cart, error) {
	version := s.engine.Version()
	c, err := s.remote.GetCart(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	s.engine.RebaseIfUnchanged(version, c)
	return c, nil
}

// Snapshot returns the visible cart without any remote call.
func (s *Service) Snapshot() (domain.Cart, bool) {
	return s.engine.Current()
}

// Epoch identifies the identity generation; see Adopt.
func (s *Service) Epoch() uint64 {
	return s.engine.Epoch()
}

// Adopt installs c as the confirmed cart unless Reset ran after epoch was
// read.
func (s *Service) Adopt(epoch uint64, c domain.Cart) bool {
	return s.engine.RebaseAt(epoch, c)
}

// Reset forgets the cart, clearing the cache entry and the badge count.
func (s *Service) Reset() {
	s.engine.Reset()
}

func (s *Service) mutate(ctx context.Context, m optimistic.Mutation[domain.Cart]) (domain.Cart, error) {
	c, err := s.engine.Mutate(ctx, m)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("%s: %w", strings.ReplaceAll(m.Name, "_", " "), err)
	}
	// Mutation responses may lack display metadata; fetch the enriched cart
	// in the background.
	s.cache.Invalidate(store.KeyCart)
	s.cache.Revalidate(store.KeyCart)
	return c, nil
}

// refetch adopts the server cart unless the confirmed cart changed while
// the request was out; that change has already scheduled another refetch.
func (s *Service) refetch(ctx context.Context) error {
	version := s.engine.Version()
	c, err := s.remote.GetCart(ctx)
	if err != nil {
		return err
	}
	if !s.engine.RebaseIfUnchanged(version, c) {
		s.logger.DebugContext(ctx, "discarded cart refetch older than confirmed cart")
	}
	return nil
}
