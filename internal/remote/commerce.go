package remote

import (
	"context"
	"net/http"

	"github.com/utafrali/storefront-sync/internal/domain"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
)

type productQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type productRef struct {
	ProductID string `json:"product_id"`
}

// GetCart fetches the authoritative cart.
func (c *Client) GetCart(ctx context.Context) (domain.Cart, error) {
	var cart domain.Cart
	err := c.snapshot(ctx, http.MethodGet, "/api/v1/cart", "get cart", nil, &cart)
	return cart, err
}

// AddToCart adds qty of productID and returns the resulting cart.
func (c *Client) AddToCart(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	var cart domain.Cart
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/add", "add to cart",
		productQuantity{ProductID: productID, Quantity: qty}, &cart)
	return cart, err
}

// RemoveFromCart removes the line for productID.
func (c *Client) RemoveFromCart(ctx context.Context, productID string) (domain.Cart, error) {
	var cart domain.Cart
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/remove", "remove from cart",
		productRef{ProductID: productID}, &cart)
	return cart, err
}

// UpdateCartItem sets the quantity for productID. Zero removes the line.
func (c *Client) UpdateCartItem(ctx context.Context, productID string, qty int) (domain.Cart, error) {
	var cart domain.Cart
	body := struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}{productID, qty}
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/update", "update cart item", body, &cart)
	return cart, err
}

// ClearCart empties the cart.
func (c *Client) ClearCart(ctx context.Context) (domain.Cart, error) {
	var cart domain.Cart
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/clear", "clear cart", nil, &cart)
	return cart, err
}

// ApplyCoupon applies code; discounts in the response are server-computed.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	var cart domain.Cart
	body := struct {
		Code string `json:"code"`
	}{code}
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/coupon/apply", "apply coupon", body, &cart)
	return cart, err
}

// RemoveCoupon drops the applied coupon.
func (c *Client) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	var cart domain.Cart
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/cart/coupon/remove", "remove coupon", nil, &cart)
	return cart, err
}

// GetWishlist fetches every wishlist item.
func (c *Client) GetWishlist(ctx context.Context) (domain.Wishlist, error) {
	var w domain.Wishlist
	err := c.snapshot(ctx, http.MethodGet, "/api/v1/wishlist", "get wishlist", nil, &w)
	return w, err
}

// AddToWishlist adds productID. The backend treats a duplicate add as a no-op.
func (c *Client) AddToWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	var w domain.Wishlist
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/wishlist/add", "add to wishlist",
		productRef{ProductID: productID}, &w)
	return w, err
}

// RemoveFromWishlist removes productID.
func (c *Client) RemoveFromWishlist(ctx context.Context, productID string) (domain.Wishlist, error) {
	var w domain.Wishlist
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/wishlist/remove", "remove from wishlist",
		productRef{ProductID: productID}, &w)
	return w, err
}

// ClearWishlist removes every item.
func (c *Client) ClearWishlist(ctx context.Context) (domain.Wishlist, error) {
	var w domain.Wishlist
	err := c.snapshot(ctx, http.MethodPost, "/api/v1/wishlist/clear", "clear wishlist", nil, &w)
	return w, err
}

// PrepareCheckout tells the backend a checkout is starting for cart.
func (c *Client) PrepareCheckout(ctx context.Context, cart domain.Cart) error {
	body := struct {
		Cart domain.Cart `json:"cart"`
	}{cart}
	return c.do(ctx, http.MethodPost, "/api/v1/checkout/prepare", "prepare checkout", body, nil)
}

// EstimateShipping quotes shipping options for addr.
func (c *Client) EstimateShipping(ctx context.Context, addr domain.Address) ([]domain.ShippingOption, error) {
	var out struct {
		Options []domain.ShippingOption `json:"options"`
	}
	body := struct {
		Address domain.Address `json:"address"`
	}{addr}
	err := c.do(ctx, http.MethodPost, "/api/v1/checkout/shipping/estimate", "estimate shipping", body, &out)
	return out.Options, err
}

// CreateOrder creates the order to be paid and returns its handle.
func (c *Client) CreateOrder(ctx context.Context, addr domain.Address, shippingOptionID string) (domain.OrderHandle, error) {
	var h domain.OrderHandle
	body := struct {
		Address          domain.Address `json:"address"`
		ShippingOptionID string         `json:"shipping_option_id"`
	}{addr, shippingOptionID}
	err := c.do(ctx, http.MethodPost, "/api/v1/checkout/order/create", "create order", body, &h)
	if err == nil && h.GatewayOrderID == "" {
		return h, apperrors.ServerRejection("INVALID_ORDER", "order created without a gateway order id", 0)
	}
	return h, err
}

// VerifyPayment asks the backend to check a gateway assertion. A business
// rejection is reported as verified=false; any other error means the outcome
// is unknown.
func (c *Client) VerifyPayment(ctx context.Context, a domain.PaymentAssertion) (bool, error) {
	var out struct {
		Verified bool `json:"verified"`
	}
	body := struct {
		Assertion domain.PaymentAssertion `json:"assertion"`
	}{a}
	err := c.do(ctx, http.MethodPost, "/api/v1/checkout/payment/verify", "verify payment", body, &out)
	if err != nil {
		if apperrors.IsRejection(err) {
			return false, nil
		}
		return false, err
	}
	return out.Verified, nil
}
