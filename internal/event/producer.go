// Package event publishes analytics events about the sync engine: rolled
// back mutations, migration outcomes and checkout milestones.
package event

import (
	"context"
	"log/slog"

	pkgkafka "github.com/utafrali/storefront-sync/pkg/kafka"
	"github.com/utafrali/storefront-sync/pkg/logger"
)

// Topics.
var (
	TopicMutationRolledBack    = pkgkafka.Topic("sync", "rolled-back")
	TopicMigrationFinished     = pkgkafka.Topic("migration", "finished")
	TopicCheckoutStepChanged   = pkgkafka.Topic("checkout", "step-changed")
	TopicCheckoutCompleted     = pkgkafka.Topic("checkout", "completed")
	TopicVerificationAmbiguous = pkgkafka.Topic("checkout", "verification-ambiguous")
)

// SourceSyncd identifies events from this sidecar.
const SourceSyncd = "storefront-syncd"

// Publisher is the subset of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// MutationRolledBackData is the payload for a rolled-back optimistic write.
type MutationRolledBackData struct {
	Entity string `json:"entity"`
	Op     string `json:"op"`
	Error  string `json:"error"`
}

// MigrationFinishedData is the payload for a finished cart migration.
type MigrationFinishedData struct {
	LoginID    string `json:"login_id"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	TotalItems int    `json:"total_items"`
}

// CheckoutStepData is the payload for a step change.
type CheckoutStepData struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// CheckoutCompletedData is the payload for a verified payment.
type CheckoutCompletedData struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

// VerificationAmbiguousData is the payload raised when payment may have
// been taken but could not be confirmed.
type VerificationAmbiguousData struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Error     string `json:"error"`
}

// Producer publishes engine events. A Producer with a nil Publisher drops
// everything; publish failures are logged and never returned.
type Producer struct {
	pub    Publisher
	logger *slog.Logger
}

// NewProducer creates an event producer. pub may be nil.
func NewProducer(pub Publisher, logger *slog.Logger) *Producer {
	return &Producer{pub: pub, logger: logger}
}

// MutationRolledBack records an optimistic write that was undone.
func (p *Producer) MutationRolledBack(ctx context.Context, entity, op string, err error) {
	p.publish(ctx, TopicMutationRolledBack, "sync.rolled_back", logger.UserIDFromContext(ctx), entity,
		MutationRolledBackData{Entity: entity, Op: op, Error: err.Error()})
}

// MigrationFinished records the outcome of a guest cart migration.
func (p *Producer) MigrationFinished(ctx context.Context, d MigrationFinishedData) {
	p.publish(ctx, TopicMigrationFinished, "migration.finished", d.LoginID, "cart", d)
}

// CheckoutStepChanged records a checkout transition.
func (p *Producer) CheckoutStepChanged(ctx context.Context, d CheckoutStepData) {
	p.publish(ctx, TopicCheckoutStepChanged, "checkout.step_changed", d.SessionID, "checkout", d)
}

// CheckoutCompleted records a verified payment.
func (p *Producer) CheckoutCompleted(ctx context.Context, d CheckoutCompletedData) {
	p.publish(ctx, TopicCheckoutCompleted, "checkout.completed", d.SessionID, "checkout", d)
}

// VerificationAmbiguous records a payment whose verification did not complete.
func (p *Producer) VerificationAmbiguous(ctx context.Context, d VerificationAmbiguousData) {
	p.publish(ctx, TopicVerificationAmbiguous, "checkout.verification_ambiguous", d.SessionID, "checkout", d)
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) {
	if p == nil || p.pub == nil {
		return
	}
	ev, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, SourceSyncd, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	ev.Annotate(logger.SessionIDFromContext(ctx), "user_id", logger.UserIDFromContext(ctx))

	if err := p.pub.Publish(ctx, topic, ev); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}
