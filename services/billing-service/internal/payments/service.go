// Package payments applies verified provider webhooks to the payment ledger and
// announces paid checkouts to the booking service.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/metrics"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

type Outcome string

const (
	Processed Outcome = "processed"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

type Store interface {
	InsertProviderEvent(ctx context.Context, conn db.DBTX, evt storage.ProviderEvent) error
	UpsertTransaction(ctx context.Context, conn db.DBTX, t storage.Transaction) (string, error)
	Enqueue(ctx context.Context, conn db.DBTX, evt outbox.Event) error
}

type Service struct {
	conn    db.DBTX
	store   Store
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

func NewService(conn db.DBTX, store Store, logger *slog.Logger, m *metrics.PipelineMetrics) *Service {
	return &Service{conn: conn, store: store, logger: logger, metrics: m}
}

// Apply records evt once. A paid session upserts the ledger row and enqueues
// billing.checkout.paid.v1 in the same transaction; replays are no-ops.
func (s *Service) Apply(ctx context.Context, evt paygateway.WebhookEvent) (Outcome, error) {
	outcome := Ignored
	err := db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		if err := s.store.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        evt.Provider,
			ProviderEventID: evt.ID,
			EventType:       evt.Type,
			Payload:         evt.Raw,
		}); err != nil {
			if errors.Is(err, storage.ErrDuplicateProviderEvent) {
				outcome = Duplicate
				return nil
			}
			return err
		}

		sess := evt.Session
		if sess.ID == "" {
			return nil
		}
		status, ok := ledgerStatus(evt)
		if !ok {
			return nil
		}

		t := storage.Transaction{
			Provider:      evt.Provider,
			SessionID:     sess.ID,
			Status:        status,
			AmountMinor:   sess.AmountMinor,
			Currency:      sess.Currency,
			PaymentMethod: sess.PaymentMethod,
			Metadata:      sess.Metadata,
		}
		if status == storage.StatusPaid {
			paidAt := evt.OccurredAt
			t.PaidAt = &paidAt
		}
		stored, err := s.store.UpsertTransaction(ctx, tx, t)
		if err != nil {
			return err
		}
		outcome = Processed
		if status != storage.StatusPaid || stored != storage.StatusPaid {
			return nil
		}

		paid, err := events.CheckoutPaidEvent(events.CheckoutPaid{
			Provider:      evt.Provider,
			SessionID:     sess.ID,
			AmountMinor:   sess.AmountMinor,
			Currency:      sess.Currency,
			PaymentMethod: sess.PaymentMethod,
			Metadata:      sess.Metadata,
			PaidAt:        evt.OccurredAt,
		})
		if err != nil {
			return err
		}
		return s.store.Enqueue(ctx, tx, paid)
	})
	if err != nil {
		s.metrics.Webhook(evt.Provider, evt.Type, "error")
		return "", err
	}
	s.metrics.Webhook(evt.Provider, evt.Type, string(outcome))
	s.logger.InfoContext(ctx, "provider event applied",
		"provider", evt.Provider,
		"provider_event_id", evt.ID,
		"event_type", evt.Type,
		"session_id", evt.Session.ID,
		"outcome", outcome,
		"occurred_at", evt.OccurredAt.Format(time.RFC3339),
	)
	return outcome, nil
}

// ledgerStatus maps a provider event to the status it records. Events that say
// nothing final about the session are not recorded.
func ledgerStatus(evt paygateway.WebhookEvent) (string, bool) {
	switch evt.Type {
	case paygateway.StripeSessionCompleted, paygateway.StripeSessionAsyncSucceeded, paygateway.PayMongoCheckoutPaid:
		if evt.Session.Status == paygateway.StatusPaid {
			return storage.StatusPaid, true
		}
		// Completed with an async method still clearing.
		return storage.StatusPending, true
	case paygateway.StripeSessionAsyncFailed:
		return storage.StatusUnpaid, true
	case paygateway.StripeSessionExpired:
		return storage.StatusExpired, true
	default:
		return "", false
	}
}
