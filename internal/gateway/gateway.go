// Package gateway hands a created order to the payment gateway. The gateway
// answers asynchronously through Handlers.
package gateway

import (
	"context"
	"log/slog"

	"github.com/utafrali/storefront-sync/internal/domain"
)

// Config is the opaque merchant configuration passed through to the gateway.
type Config struct {
	Key          string
	Theme        string
	MerchantName string
}

// Prefill seeds the gateway form from the shipping address.
type Prefill struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email,omitempty"`
}

// Params is everything the gateway needs to take a payment.
type Params struct {
	Key         string  `json:"key"`
	OrderID     string  `json:"order_id"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Theme       string  `json:"theme,omitempty"`
	Prefill     Prefill `json:"prefill"`
}

// BuildParams combines the order handle with merchant config. addr may be
// nil.
func BuildParams(cfg Config, h domain.OrderHandle, addr *domain.Address, email string) Params {
	p := Params{
		Key:         cfg.Key,
		OrderID:     h.GatewayOrderID,
		Amount:      h.Amount,
		Currency:    h.Currency,
		Name:        cfg.MerchantName,
		Description: "Order " + h.OrderID,
		Theme:       cfg.Theme,
		Prefill:     Prefill{Email: email},
	}
	if addr != nil {
		p.Prefill.Name = addr.FullName
		p.Prefill.Contact = addr.Phone
	}
	return p
}

// Handlers receive the gateway's verdict. Exactly one of them is called per
// Open, possibly never if the user walks away.
type Handlers struct {
	OnSuccess func(domain.PaymentAssertion)
	OnDismiss func()
}

// Gateway opens a payment for params.
type Gateway interface {
	Open(ctx context.Context, params Params, h Handlers) error
}

// Handoff is the production gateway for the sidecar: the UI renders the
// gateway itself from the returned params and reports the verdict back over
// HTTP, so Open only records the handoff.
type Handoff struct {
	logger *slog.Logger
}

// NewHandoff creates a Handoff gateway.
func NewHandoff(logger *slog.Logger) *Handoff {
	return &Handoff{logger: logger}
}

// Open implements Gateway.
func (g *Handoff) Open(ctx context.Context, params Params, _ Handlers) error {
	g.logger.InfoContext(ctx, "payment handed off to client",
		slog.String("gateway_order_id", params.OrderID),
		slog.Int64("amount", params.Amount),
		slog.String("currency", params.Currency),
	)
	return nil
}
