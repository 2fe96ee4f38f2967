package checkout

import "github.com/utafrali/storefront-sync/internal/domain"

// Event is a message from the payment gateway.
type Event interface {
	gatewayEvent()
}

// EventPaymentSucceeded carries the gateway's signed assertion.
type EventPaymentSucceeded struct {
	Assertion domain.PaymentAssertion
}

// EventPaymentDismissed means the user closed the gateway without paying.
type EventPaymentDismissed struct{}

func (EventPaymentSucceeded) gatewayEvent() {}
func (EventPaymentDismissed) gatewayEvent() {}

// transitions lists the steps reachable from each non-terminal step.
var transitions = map[domain.Step][]domain.Step{
	domain.StepAddress:  {domain.StepShipping, domain.StepAbandoned},
	domain.StepShipping: {domain.StepPayment, domain.StepAddress, domain.StepAbandoned},
	domain.StepPayment:  {domain.StepSuccess, domain.StepShipping, domain.StepAbandoned},
}

func canTransition(from, to domain.Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
