// Package checkout drives the checkout steps address, shipping, payment and
// success, persisting the session after every transition.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/domain"
	"github.com/utafrali/storefront-sync/internal/event"
	"github.com/utafrali/storefront-sync/internal/gateway"
	"github.com/utafrali/storefront-sync/internal/repository"
	"github.com/utafrali/storefront-sync/internal/store"
	apperrors "github.com/utafrali/storefront-sync/pkg/errors"
	"github.com/utafrali/storefront-sync/pkg/poll"
	"github.com/utafrali/storefront-sync/pkg/validator"
)

// Remote is the commerce API surface checkout needs.
type Remote interface {
	PrepareCheckout(ctx context.Context, cart domain.Cart) error
	EstimateShipping(ctx context.Context, addr domain.Address) ([]domain.ShippingOption, error)
	CreateOrder(ctx context.Context, addr domain.Address, shippingOptionID string) (domain.OrderHandle, error)
	VerifyPayment(ctx context.Context, a domain.PaymentAssertion) (bool, error)
}

// CartSource is the cart engine as seen from checkout.
type CartSource interface {
	Snapshot() (domain.Cart, bool)
	Reload(ctx context.Context) (domain.Cart, error)
	ClearCart(ctx context.Context) (domain.Cart, error)
}

// MigrationGate reports and waits for an outstanding cart migration.
type MigrationGate interface {
	Pending() bool
	Wait(ctx context.Context) error
}

// IdentitySource supplies the identity that owns the session.
type IdentitySource interface {
	Identity() auth.Identity
}

// Recorder receives checkout milestones.
type Recorder interface {
	CheckoutStepChanged(ctx context.Context, d event.CheckoutStepData)
	CheckoutCompleted(ctx context.Context, d event.CheckoutCompletedData)
	VerificationAmbiguous(ctx context.Context, d event.VerificationAmbiguousData)
}

// Config holds gateway pass-through settings and the cart re-validation
// bounds used after a migration.
type Config struct {
	Gateway      gateway.Config
	CartAttempts int
	CartStep     time.Duration
}

// Deps groups the machine's collaborators.
type Deps struct {
	Remote    Remote
	Cart      CartSource
	Migration MigrationGate
	Identity  IdentitySource
	Sessions  repository.SessionRepository
	Cache     *store.Cache
	Gateway   gateway.Gateway
	Events    Recorder
}

// Machine is the checkout state machine. Transitions run one at a time.
type Machine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// revalidate is set when checkout waited on a migration; the cart is
	// re-read before an order is created.
	revalidate bool
}

// NewMachine creates a checkout state machine.
func NewMachine(cfg Config, deps Deps, logger *slog.Logger) *Machine {
	if cfg.CartAttempts < 1 {
		cfg.CartAttempts = 3
	}
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// Begin enters checkout. A non-terminal session owned by the current
// identity is resumed; otherwise a fresh session starts at the address step.
func (m *Machine) Begin(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.awaitMigration(ctx); err != nil {
		return nil, err
	}

	ident := m.deps.Identity.Identity()
	existing, err := m.stored(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.OwnerID == ident.ID && !existing.Step.IsTerminal() {
		return existing, nil
	}

	cart, err := m.currentCart(ctx)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, apperrors.ValidationFailure("cart is empty")
	}
	if err := m.deps.Remote.PrepareCheckout(ctx, cart); err != nil {
		return nil, fmt.Errorf("prepare checkout: %w", err)
	}

	now := m.now().UTC()
	s := &domain.CheckoutSession{
		ID:           uuid.NewString(),
		OwnerID:      ident.ID,
		Step:         domain.StepAddress,
		PaymentState: domain.PaymentNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.deps.Cache.Delete(store.KeyShippingQuote)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues("", string(domain.StepAddress)).Inc()
	m.stepChanged(ctx, s, "")

	m.logger.InfoContext(ctx, "checkout started",
		slog.String("session_id", s.ID),
		slog.Int("total_items", cart.TotalItems),
	)
	return s.Clone(), nil
}

// SubmitAddress validates addr, requests shipping quotes and advances to the
// shipping step with the first option selected. The address is kept even
// when the quote fails.
func (m *Machine) SubmitAddress(ctx context.Context, addr domain.Address) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepAddress)
	if err != nil {
		return nil, err
	}
	if err := validator.Check(addr); err != nil {
		return nil, err
	}

	s.ShippingAddress = &addr
	options, err := m.deps.Remote.EstimateShipping(ctx, addr)
	if err != nil {
		return nil, m.fail(ctx, s, fmt.Errorf("estimate shipping: %w", err))
	}
	if len(options) == 0 {
		return nil, m.fail(ctx, s, apperrors.ServerRejection("NO_SHIPPING_OPTIONS", "no shipping options for this address", 0))
	}

	s.ShippingOptions = options
	s.SelectedShipping = options[0].ID
	s.LastError = ""
	m.deps.Cache.Set(store.KeyShippingQuote, domain.ShippingQuote{Address: addr, Options: options})

	if err := m.advance(ctx, s, domain.StepShipping); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// SelectShipping changes the selected option without any remote call.
func (m *Machine) SelectShipping(ctx context.Context, optionID string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepShipping)
	if err != nil {
		return nil, err
	}
	if _, ok := s.FindShippingOption(optionID); !ok {
		return nil, apperrors.ValidationFailure(fmt.Sprintf("unknown shipping option %q", optionID))
	}
	s.SelectedShipping = optionID
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// ConfirmShipping creates the order for the selected option and advances to
// the payment step.
func (m *Machine) ConfirmShipping(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepShipping)
	if err != nil {
		return nil, err
	}
	if s.SelectedShipping == "" || s.ShippingAddress == nil {
		return nil, apperrors.ValidationFailure("no shipping option selected")
	}

	if err := m.awaitMigration(ctx); err != nil {
		return nil, err
	}
	if m.revalidate {
		if err := m.revalidateCart(ctx); err != nil {
			return nil, m.fail(ctx, s, err)
		}
		m.revalidate = false
	}

	handle, err := m.deps.Remote.CreateOrder(ctx, *s.ShippingAddress, s.SelectedShipping)
	if err != nil {
		return nil, m.fail(ctx, s, fmt.Errorf("create order: %w", err))
	}

	s.OrderHandle = &handle
	s.PaymentState = domain.PaymentNone
	s.PaymentAssertion = nil
	s.PaymentVerification = nil
	s.LastError = ""
	if err := m.advance(ctx, s, domain.StepPayment); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// OpenPayment hands the order to the gateway and returns the parameters it
// was opened with. The gateway reports back through HandleGatewayEvent.
func (m *Machine) OpenPayment(ctx context.Context) (gateway.Params, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepPayment)
	if err != nil {
		return gateway.Params{}, err
	}
	if s.PaymentState == domain.PaymentVerificationAmbiguous {
		return gateway.Params{}, apperrors.VerificationAmbiguous(errors.New("previous payment is unconfirmed"))
	}
	if s.OrderHandle == nil {
		return gateway.Params{}, apperrors.ValidationFailure("no order to pay for")
	}

	params := gateway.BuildParams(m.cfg.Gateway, *s.OrderHandle, s.ShippingAddress, m.deps.Identity.Identity().Email)

	// Handlers may fire after this request is gone.
	hctx := context.WithoutCancel(ctx)
	handlers := gateway.Handlers{
		OnSuccess: func(a domain.PaymentAssertion) {
			if _, err := m.HandleGatewayEvent(hctx, EventPaymentSucceeded{Assertion: a}); err != nil {
				m.logger.WarnContext(hctx, "gateway success not applied", slog.String("error", err.Error()))
			}
		},
		OnDismiss: func() {
			if _, err := m.HandleGatewayEvent(hctx, EventPaymentDismissed{}); err != nil {
				m.logger.WarnContext(hctx, "gateway dismissal not applied", slog.String("error", err.Error()))
			}
		},
	}
	if err := m.deps.Gateway.Open(ctx, params, handlers); err != nil {
		return gateway.Params{}, m.fail(ctx, s, fmt.Errorf("open gateway: %w", err))
	}

	s.PaymentState = domain.PaymentNone
	s.LastError = ""
	if err := m.save(ctx, s); err != nil {
		return gateway.Params{}, err
	}
	return params, nil
}

// HandleGatewayEvent applies a gateway callback. A success is verified with
// the backend before the session can reach the success step.
func (m *Machine) HandleGatewayEvent(ctx context.Context, ev Event) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepPayment)
	if err != nil {
		return nil, err
	}

	switch ev := ev.(type) {
	case EventPaymentDismissed:
		if s.PaymentState == domain.PaymentVerificationAmbiguous {
			return s.Clone(), nil
		}
		s.PaymentState = domain.PaymentDismissed
		if err := m.save(ctx, s); err != nil {
			return nil, err
		}
		m.logger.InfoContext(ctx, "payment dismissed", slog.String("session_id", s.ID))
		return s.Clone(), nil

	case EventPaymentSucceeded:
		if s.PaymentState == domain.PaymentVerificationAmbiguous {
			return nil, apperrors.VerificationAmbiguous(errors.New("previous payment is unconfirmed"))
		}
		if err := validator.Check(ev.Assertion); err != nil {
			return nil, err
		}
		if s.OrderHandle == nil || ev.Assertion.OrderHandle != s.OrderHandle.GatewayOrderID {
			return nil, apperrors.ValidationFailure("payment assertion does not match the current order")
		}
		a := ev.Assertion
		s.PaymentAssertion = &a
		return m.verify(ctx, s)

	default:
		return nil, apperrors.ValidationFailure(fmt.Sprintf("unsupported gateway event %T", ev))
	}
}

// ReverifyPayment re-sends the stored assertion once after an ambiguous
// verification. It is only ever user initiated.
func (m *Machine) ReverifyPayment(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, domain.StepPayment)
	if err != nil {
		return nil, err
	}
	if s.PaymentState != domain.PaymentVerificationAmbiguous || s.PaymentAssertion == nil {
		return nil, apperrors.ValidationFailure("no unconfirmed payment to verify")
	}
	return m.verify(ctx, s)
}

// Back moves one step back, keeping entered data. Leaving payment drops the
// order so a fresh one is created next time.
func (m *Machine) Back(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, "")
	if err != nil {
		return nil, err
	}

	var to domain.Step
	switch s.Step {
	case domain.StepShipping:
		to = domain.StepAddress
	case domain.StepPayment:
		if s.PaymentState == domain.PaymentVerificationAmbiguous {
			return nil, apperrors.VerificationAmbiguous(errors.New("previous payment is unconfirmed"))
		}
		to = domain.StepShipping
		s.OrderHandle = nil
		s.PaymentState = domain.PaymentNone
		s.PaymentAssertion = nil
		s.PaymentVerification = nil
	default:
		return nil, apperrors.ValidationFailure(fmt.Sprintf("cannot go back from %s", s.Step))
	}

	s.LastError = ""
	if err := m.advance(ctx, s, to); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Cancel abandons checkout and deletes the persisted session.
func (m *Machine) Cancel(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(ctx, "")
	if err != nil {
		return nil, err
	}
	from := s.Step
	if !canTransition(from, domain.StepAbandoned) {
		return nil, apperrors.ValidationFailure(fmt.Sprintf("cannot cancel from %s", from))
	}
	s.Step = domain.StepAbandoned
	s.UpdatedAt = m.now().UTC()

	if err := m.deps.Sessions.Delete(ctx); err != nil {
		return nil, fmt.Errorf("delete checkout session: %w", err)
	}
	m.deps.Cache.Delete(store.KeyShippingQuote)
	m.revalidate = false
	transitionsTotal.WithLabelValues(string(from), string(domain.StepAbandoned)).Inc()
	m.stepChanged(ctx, s, from)

	m.logger.InfoContext(ctx, "checkout abandoned",
		slog.String("session_id", s.ID),
		slog.String("from", string(from)),
	)
	return s.Clone(), nil
}

// ResetForIdentity deletes a persisted session not owned by identityID.
func (m *Machine) ResetForIdentity(ctx context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.stored(ctx)
	if err != nil {
		return err
	}
	if s == nil || s.OwnerID == identityID {
		return nil
	}
	if err := m.deps.Sessions.Delete(ctx); err != nil {
		return fmt.Errorf("delete checkout session: %w", err)
	}
	m.deps.Cache.Delete(store.KeyShippingQuote)
	m.revalidate = false
	m.logger.InfoContext(ctx, "checkout session reset for new identity", slog.String("session_id", s.ID))
	return nil
}

// Current returns the session as last persisted for the current identity.
func (m *Machine) Current(ctx context.Context) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, "")
}

// verify asks the backend to check the stored assertion. A transport
// failure leaves the payment ambiguous; it is never retried here.
func (m *Machine) verify(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	a := *s.PaymentAssertion
	log := m.logger.With(
		slog.String("session_id", s.ID),
		slog.String("payment_id", a.PaymentID),
	)

	verified, err := m.deps.Remote.VerifyPayment(ctx, a)
	switch {
	case err != nil:
		verificationsTotal.WithLabelValues("ambiguous").Inc()
		s.PaymentState = domain.PaymentVerificationAmbiguous
		s.LastError = err.Error()
		log.ErrorContext(ctx, "payment verification ambiguous", slog.String("error", err.Error()))
		if m.deps.Events != nil {
			m.deps.Events.VerificationAmbiguous(ctx, event.VerificationAmbiguousData{
				SessionID: s.ID,
				OrderID:   s.OrderHandle.OrderID,
				PaymentID: a.PaymentID,
				Error:     err.Error(),
			})
		}
		if serr := m.save(ctx, s); serr != nil {
			log.ErrorContext(ctx, "failed to persist ambiguous payment", slog.String("error", serr.Error()))
		}
		return nil, apperrors.VerificationAmbiguous(err)

	case !verified:
		verificationsTotal.WithLabelValues("rejected").Inc()
		s.PaymentState = domain.PaymentVerificationFailed
		s.PaymentVerification = &domain.PaymentVerification{PaymentID: a.PaymentID, Verified: false, VerifiedAt: m.now().UTC()}
		s.LastError = "payment could not be verified"
		log.WarnContext(ctx, "payment verification rejected")
		if err := m.save(ctx, s); err != nil {
			return nil, err
		}
		return nil, apperrors.VerificationFailed("payment could not be verified")
	}

	verificationsTotal.WithLabelValues("verified").Inc()
	s.PaymentState = domain.PaymentNone
	s.PaymentVerification = &domain.PaymentVerification{PaymentID: a.PaymentID, Verified: true, VerifiedAt: m.now().UTC()}
	s.SuccessOrderID = s.OrderHandle.OrderID
	s.LastError = ""
	if err := m.advance(ctx, s, domain.StepSuccess); err != nil {
		return nil, err
	}
	m.deps.Cache.Delete(store.KeyShippingQuote)

	if _, err := m.deps.Cart.ClearCart(ctx); err != nil {
		// The order is paid; a stale cart is recoverable by refresh.
		log.WarnContext(ctx, "failed to clear cart after payment", slog.String("error", err.Error()))
	}
	if m.deps.Events != nil {
		m.deps.Events.CheckoutCompleted(ctx, event.CheckoutCompletedData{
			SessionID: s.ID,
			OrderID:   s.SuccessOrderID,
			PaymentID: a.PaymentID,
			Amount:    s.OrderHandle.Amount,
		})
	}
	log.InfoContext(ctx, "checkout completed", slog.String("order_id", s.SuccessOrderID))
	return s.Clone(), nil
}

// awaitMigration blocks while a cart migration is outstanding and marks the
// cart for re-validation if it had to wait.
func (m *Machine) awaitMigration(ctx context.Context) error {
	if m.deps.Migration == nil || !m.deps.Migration.Pending() {
		return nil
	}
	m.logger.InfoContext(ctx, "checkout waiting for cart migration")
	if err := m.deps.Migration.Wait(ctx); err != nil {
		return fmt.Errorf("wait for cart migration: %w", err)
	}
	m.revalidate = true
	return nil
}

// revalidateCart re-reads the cart with a short bounded retry and requires
// it to be non-empty.
func (m *Machine) revalidateCart(ctx context.Context) error {
	policy := poll.Policy{MaxAttempts: m.cfg.CartAttempts, Step: m.cfg.CartStep}
	res, err := poll.Until(ctx, policy, m.deps.Cart.Reload, func(c domain.Cart) bool {
		return !c.IsEmpty()
	})
	if err != nil {
		return fmt.Errorf("revalidate cart: %w", err)
	}
	if res.Outcome == poll.Converged {
		return nil
	}
	if !res.Seen && res.LastErr != nil {
		return fmt.Errorf("revalidate cart: %w", res.LastErr)
	}
	return apperrors.ValidationFailure("cart is empty")
}

func (m *Machine) currentCart(ctx context.Context) (domain.Cart, error) {
	if m.revalidate {
		if err := m.revalidateCart(ctx); err != nil {
			return domain.Cart{}, err
		}
	}
	if c, ok := m.deps.Cart.Snapshot(); ok {
		return c, nil
	}
	c, err := m.deps.Cart.Reload(ctx)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return c, nil
}

// stored returns the persisted session or nil.
func (m *Machine) stored(ctx context.Context) (*domain.CheckoutSession, error) {
	s, err := m.deps.Sessions.Get(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkout session: %w", err)
	}
	return s, nil
}

// load returns the current identity's session, requiring step when set.
func (m *Machine) load(ctx context.Context, step domain.Step) (*domain.CheckoutSession, error) {
	s, err := m.stored(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil || s.OwnerID != m.deps.Identity.Identity().ID {
		return nil, apperrors.NotFound("checkout session", "current")
	}
	if step != "" && s.Step != step {
		return nil, apperrors.ValidationFailure(fmt.Sprintf("checkout is at %s, not %s", s.Step, step))
	}
	return s, nil
}

// advance moves s to the next step and persists it.
func (m *Machine) advance(ctx context.Context, s *domain.CheckoutSession, to domain.Step) error {
	from := s.Step
	if !canTransition(from, to) {
		return apperrors.ValidationFailure(fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	s.Step = to
	if err := m.save(ctx, s); err != nil {
		s.Step = from
		return err
	}
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.stepChanged(ctx, s, from)
	return nil
}

// fail records err on the session without changing its step and returns it.
func (m *Machine) fail(ctx context.Context, s *domain.CheckoutSession, err error) error {
	s.LastError = err.Error()
	if serr := m.save(ctx, s); serr != nil {
		m.logger.ErrorContext(ctx, "failed to persist checkout error",
			slog.String("session_id", s.ID),
			slog.String("error", serr.Error()),
		)
	}
	m.logger.WarnContext(ctx, "checkout step failed",
		slog.String("session_id", s.ID),
		slog.String("step", string(s.Step)),
		slog.String("error", err.Error()),
	)
	return err
}

func (m *Machine) save(ctx context.Context, s *domain.CheckoutSession) error {
	s.UpdatedAt = m.now().UTC()
	if err := m.deps.Sessions.Save(ctx, s); err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

func (m *Machine) stepChanged(ctx context.Context, s *domain.CheckoutSession, from domain.Step) {
	if m.deps.Events == nil {
		return
	}
	m.deps.Events.CheckoutStepChanged(ctx, event.CheckoutStepData{
		SessionID: s.ID,
		From:      string(from),
		To:        string(s.Step),
	})
}
