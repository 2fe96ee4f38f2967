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

// CartService is the cart sync engine as seen by the transport.
type CartService interface {
	Cart(ctx context.Context) (domain.Cart, error)
	AddItem(ctx context.Context, productID string, qty int) (domain.Cart, error)
	RemoveItem(ctx context.Context, productID string) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, productID string, qty int) (domain.Cart, error)
	IncrementItem(ctx context.Context, productID string) (domain.Cart, error)
	DecrementItem(ctx context.Context, productID string) (domain.Cart, error)
	ClearCart(ctx context.Context) (domain.Cart, error)
	ApplyCoupon(ctx context.Context, code string) (domain.Cart, error)
	RemoveCoupon(ctx context.Context) (domain.Cart, error)
}

// CounterSource exposes the global counters.
type CounterSource interface {
	Snapshot() domain.CounterSnapshot
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service  CartService
	counters CounterSource
	logger   *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc CartService, counters CounterSource, logger *slog.Logger) *CartHandler {
	return &CartHandler{service: svc, counters: counters, logger: logger}
}

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// UpdateQuantityRequest is the JSON request body for setting a quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// CouponRequest is the JSON request body for applying a coupon.
type CouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Counters handles GET /api/v1/counters
func (h *CartHandler) Counters(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.counters.Snapshot())
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.Cart(r.Context()))
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.ClearCart(r.Context()))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.service.AddItem(r.Context(), req.ProductID, req.Quantity))
}

// UpdateItem handles PUT /api/v1/cart/items/{productId}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.service.UpdateQuantity(r.Context(), chi.URLParam(r, "productId"), req.Quantity))
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.RemoveItem(r.Context(), chi.URLParam(r, "productId")))
}

// IncrementItem handles POST /api/v1/cart/items/{productId}/increment
func (h *CartHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.IncrementItem(r.Context(), chi.URLParam(r, "productId")))
}

// DecrementItem handles POST /api/v1/cart/items/{productId}/decrement
func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.DecrementItem(r.Context(), chi.URLParam(r, "productId")))
}

// ApplyCoupon handles POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.service.ApplyCoupon(r.Context(), req.Code))
}

// RemoveCoupon handles DELETE /api/v1/cart/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.RemoveCoupon(r.Context()))
}

// respond writes the cart together with the counters so the UI badge and
// the cart view always render the same state.
func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request) func(domain.Cart, error) {
	return func(c domain.Cart, err error) {
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteData(w, http.StatusOK, cartResponse{Cart: c, Counters: h.counters.Snapshot()})
	}
}

type cartResponse struct {
	Cart     domain.Cart            `json:"cart"`
	Counters domain.CounterSnapshot `json:"counters"`
}
