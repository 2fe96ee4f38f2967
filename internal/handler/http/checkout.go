package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-sync/internal/checkout"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/gateway"
	"github.com/utafrali/storefront-sync/pkg/httputil"
	"github.com/utafrali/storefront-sync/pkg/validator"
)

// CheckoutMachine drives the checkout flow.
type CheckoutMachine interface {
	Current(ctx context.Context) (*domain.CheckoutSession, error)
	Begin(ctx context.Context) (*domain.CheckoutSession, error)
	Cancel(ctx context.Context) (*domain.CheckoutSession, error)
	SubmitAddress(ctx context.Context, addr domain.Address) (*domain.CheckoutSession, error)
	SelectShipping(ctx context.Context, optionID string) (*domain.CheckoutSession, error)
	ConfirmShipping(ctx context.Context) (*domain.CheckoutSession, error)
	Back(ctx context.Context) (*domain.CheckoutSession, error)
	OpenPayment(ctx context.Context) (gateway.Params, error)
	HandleGatewayEvent(ctx context.Context, ev checkout.Event) (*domain.CheckoutSession, error)
	ReverifyPayment(ctx context.Context) (*domain.CheckoutSession, error)
}

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	machine CheckoutMachine
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(m CheckoutMachine, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{machine: m, logger: logger}
}

// AddressRequest is the JSON request body for the address step.
type AddressRequest struct {
	Address *domain.Address `json:"address" validate:"required"`
}

// SelectShippingRequest is the JSON request body for choosing a quote.
type SelectShippingRequest struct {
	OptionID string `json:"option_id" validate:"required,max=64"`
}

// GetCheckout handles GET /api/v1/checkout
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.Current(r.Context()))
}

// Begin handles POST /api/v1/checkout
func (h *CheckoutHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.Begin(r.Context()))
}

// Cancel handles DELETE /api/v1/checkout
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.Cancel(r.Context()))
}

// SubmitAddress handles POST /api/v1/checkout/address
func (h *CheckoutHandler) SubmitAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.machine.SubmitAddress(r.Context(), *req.Address))
}

// SelectShipping handles POST /api/v1/checkout/shipping/select
func (h *CheckoutHandler) SelectShipping(w http.ResponseWriter, r *http.Request) {
	var req SelectShippingRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.machine.SelectShipping(r.Context(), req.OptionID))
}

// ConfirmShipping handles POST /api/v1/checkout/shipping/confirm
func (h *CheckoutHandler) ConfirmShipping(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.ConfirmShipping(r.Context()))
}

// Back handles POST /api/v1/checkout/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.Back(r.Context()))
}

// OpenPayment handles POST /api/v1/checkout/payment
func (h *CheckoutHandler) OpenPayment(w http.ResponseWriter, r *http.Request) {
	params, err := h.machine.OpenPayment(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, params)
}

// PaymentSucceeded handles POST /api/v1/checkout/payment/success
func (h *CheckoutHandler) PaymentSucceeded(w http.ResponseWriter, r *http.Request) {
	var a domain.PaymentAssertion
	if err := validator.DecodeAndValidate(r, &a); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.respond(w, r)(h.machine.HandleGatewayEvent(r.Context(), checkout.EventPaymentSucceeded{Assertion: a}))
}

// PaymentDismissed handles POST /api/v1/checkout/payment/dismiss
func (h *CheckoutHandler) PaymentDismissed(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.HandleGatewayEvent(r.Context(), checkout.EventPaymentDismissed{}))
}

// ReverifyPayment handles POST /api/v1/checkout/payment/reverify
func (h *CheckoutHandler) ReverifyPayment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.machine.ReverifyPayment(r.Context()))
}

func (h *CheckoutHandler) respond(w http.ResponseWriter, r *http.Request) func(*domain.CheckoutSession, error) {
	return func(s *domain.CheckoutSession, err error) {
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteData(w, http.StatusOK, s)
	}
}
