// Package mock is a local payment gateway for development and tests. It
// completes or dismisses every payment on its own and signs assertions with
// HMAC-SHA256 so a matching verifier can check them.
package mock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/gateway"
)

// Mode selects what the mock does after Open.
type Mode int

const (
	// Succeed calls OnSuccess with a signed assertion.
	Succeed Mode = iota
	// Dismiss calls OnDismiss.
	Dismiss
	// Silent calls nothing.
	Silent
)

// Gateway is a gateway.Gateway that answers after Delay.
type Gateway struct {
	Secret []byte
	Mode   Mode
	Delay  time.Duration
}

// New creates a mock gateway that signs with secret.
func New(secret []byte, mode Mode) *Gateway {
	return &Gateway{Secret: secret, Mode: mode}
}

// Open implements gateway.Gateway. Handlers run on their own goroutine.
func (g *Gateway) Open(ctx context.Context, params gateway.Params, h gateway.Handlers) error {
	go func() {
		if g.Delay > 0 {
			t := time.NewTimer(g.Delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		switch g.Mode {
		case Succeed:
			if h.OnSuccess != nil {
				h.OnSuccess(g.Assert(params.OrderID, "pay_"+uuid.NewString()))
			}
		case Dismiss:
			if h.OnDismiss != nil {
				h.OnDismiss()
			}
		}
	}()
	return nil
}

// Assert builds a signed assertion for a gateway order and payment id.
func (g *Gateway) Assert(gatewayOrderID, paymentID string) domain.PaymentAssertion {
	return domain.PaymentAssertion{
		OrderHandle: gatewayOrderID,
		PaymentID:   paymentID,
		Signature:   Sign(g.Secret, gatewayOrderID, paymentID),
	}
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID".
func Sign(secret []byte, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether a carries a valid signature for secret.
func Verify(secret []byte, a domain.PaymentAssertion) bool {
	want := Sign(secret, a.OrderHandle, a.PaymentID)
	return hmac.Equal([]byte(want), []byte(a.Signature))
}
