package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/pkg/httputil"
	"github.com/utafrali/storefront-sync/pkg/validator"
)

// WishlistService is the wishlist sync engine as seen by the transport.
type WishlistService interface {
	Wishlist(ctx context.Context) (domain.Wishlist, error)
	AddToWishlist(ctx context.Context, productID string) (domain.Wishlist, error)
	RemoveFromWishlist(ctx context.Context, productID string) (domain.Wishlist, error)
	ClearWishlist(ctx context.Context) (domain.Wishlist, error)
	ToggleWishlist(ctx context.Context, productID string, isCurrentlyIn bool) (domain.Wishlist, error)
	CheckMembership(ctx context.Context, productID string) (bool, error)
}

// WishlistHandler handles HTTP requests for wishlist endpoints.
type WishlistHandler struct {
	service  WishlistService
	counters CounterSource
	logger   *slog.Logger
}

// NewWishlistHandler creates a new wishlist HTTP handler.
func NewWishlistHandler(svc WishlistService, counters CounterSource, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{service: svc, counters: counters, logger: logger}
}

// ToggleRequest carries what the UI currently shows for the product.
type ToggleRequest struct {
	InWishlist *bool `json:"in_wishlist" validate:"required"`
}

type wishlistResponse struct {
	Wishlist domain.Wishlist        `json:"wishlist"`
	Counters domain.CounterSnapshot `json:"counters"`
}

type membershipResponse struct {
	ProductID  string `json:"product_id"`
	InWishlist bool   `json:"in_wishlist"`
}

// GetWishlist handles GET /api/v1/wishlist
func (h *WishlistHandler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.Wishlist(r.Context()))
}

// ClearWishlist handles DELETE /api/v1/wishlist
func (h *WishlistHandler) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.ClearWishlist(r.Context()))
}

// AddItem handles POST /api/v1/wishlist/items/{productId}
func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.AddToWishlist(r.Context(), chi.URLParam(r, "productId")))
}

// RemoveItem handles DELETE /api/v1/wishlist/items/{productId}
func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.RemoveFromWishlist(r.Context(), chi.URLParam(r, "productId")))
}

// Toggle handles POST /api/v1/wishlist/items/{productId}/toggle
func (h *WishlistHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.service.ToggleWishlist(r.Context(), chi.URLParam(r, "productId"), *req.InWishlist))
}

// Membership handles GET /api/v1/wishlist/items/{productId}
func (h *WishlistHandler) Membership(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	in, err := h.service.CheckMembership(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, membershipResponse{ProductID: productID, InWishlist: in})
}

func (h *WishlistHandler) respond(w http.ResponseWriter, r *http.Request) func(domain.Wishlist, error) {
	return func(wl domain.Wishlist, err error) {
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteData(w, http.StatusOK, wishlistResponse{Wishlist: wl, Counters: h.counters.Snapshot()})
	}
}
