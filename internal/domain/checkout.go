package domain

import "time"

// Step is a checkout state.
type Step string

const (
	StepAddress   Step = "address"
	StepShipping  Step = "shipping"
	StepPayment   Step = "payment"
	StepSuccess   Step = "success"
	StepAbandoned Step = "abandoned"
)

// IsTerminal reports whether no further transition can leave s.
func (s Step) IsTerminal() bool {
	return s == StepSuccess || s == StepAbandoned
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case StepAddress, StepShipping, StepPayment, StepSuccess, StepAbandoned:
		return true
	}
	return false
}

// PaymentState tracks what happened after the gateway was last opened.
type PaymentState string

const (
	PaymentNone                  PaymentState = "none"
	PaymentDismissed             PaymentState = "dismissed"
	PaymentVerificationFailed    PaymentState = "verification_failed"
	PaymentVerificationAmbiguous PaymentState = "verification_ambiguous"
)

// Address is a shipping address. State is optional.
type Address struct {
	FullName    string `json:"full_name" validate:"required,max=120"`
	Phone       string `json:"phone" validate:"required,min=6,max=20"`
	AddressLine string `json:"address_line" validate:"required,max=255"`
	City        string `json:"city" validate:"required,max=100"`
	State       string `json:"state,omitempty" validate:"max=100"`
	PostalCode  string `json:"postal_code" validate:"required,max=20"`
	Country     string `json:"country" validate:"required,max=64"`
}

// ShippingOption is one quote returned by the shipping estimate.
type ShippingOption struct {
	ID            string `json:"id"`
	Carrier       string `json:"carrier"`
	Service       string `json:"service"`
	Amount        int64  `json:"amount"`
	EstimatedDays int    `json:"estimated_days"`
}

// ShippingQuote is the cached result of the last shipping estimate.
type ShippingQuote struct {
	Address Address          `json:"address"`
	Options []ShippingOption `json:"options"`
}

// OrderHandle identifies the order created for payment.
type OrderHandle struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// PaymentAssertion is the signed proof the gateway hands back on success.
type PaymentAssertion struct {
	OrderHandle string `json:"order_handle" validate:"required"`
	PaymentID   string `json:"payment_id" validate:"required"`
	Signature   string `json:"signature" validate:"required"`
}

// PaymentVerification records the backend's verdict on an assertion.
type PaymentVerification struct {
	PaymentID  string    `json:"payment_id"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`
}

// CheckoutSession is the persisted checkout state for one identity.
type CheckoutSession struct {
	ID                  string               `json:"id"`
	OwnerID             string               `json:"owner_id"`
	Step                Step                 `json:"step"`
	ShippingAddress     *Address             `json:"shipping_address,omitempty"`
	ShippingOptions     []ShippingOption     `json:"shipping_options,omitempty"`
	SelectedShipping    string               `json:"selected_shipping,omitempty"`
	OrderHandle         *OrderHandle         `json:"order_handle,omitempty"`
	PaymentState        PaymentState         `json:"payment_state"`
	PaymentAssertion    *PaymentAssertion    `json:"payment_assertion,omitempty"`
	PaymentVerification *PaymentVerification `json:"payment_verification,omitempty"`
	SuccessOrderID      string               `json:"success_order_id,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Clone returns a deep copy of s.
func (s *CheckoutSession) Clone() *CheckoutSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.ShippingAddress != nil {
		a := *s.ShippingAddress
		out.ShippingAddress = &a
	}
	if s.ShippingOptions != nil {
		out.ShippingOptions = make([]ShippingOption, len(s.ShippingOptions))
		copy(out.ShippingOptions, s.ShippingOptions)
	}
	if s.OrderHandle != nil {
		h := *s.OrderHandle
		out.OrderHandle = &h
	}
	if s.PaymentAssertion != nil {
		a := *s.PaymentAssertion
		out.PaymentAssertion = &a
	}
	if s.PaymentVerification != nil {
		v := *s.PaymentVerification
		out.PaymentVerification = &v
	}
	return &out
}

// FindShippingOption returns the option with the given id.
func (s *CheckoutSession) FindShippingOption(id string) (ShippingOption, bool) {
	for _, o := range s.ShippingOptions {
		if o.ID == id {
			return o, true
		}
	}
	return ShippingOption{}, false
}
