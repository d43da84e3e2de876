package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/metrics"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

type Store interface {
	ListUnlinkedPaid(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]storage.Transaction, error)
	FindAppointmentByIntent(ctx context.Context, sessionID string) (string, error)
	LinkAppointment(ctx context.Context, sessionID, appointmentID string) error
	Requeue(ctx context.Context, sessionID string, evt outbox.Event) error
}

// Locker elects one reconciler across billing instances.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Config struct {
	Interval    time.Duration
	Grace       time.Duration
	BatchSize   int
	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Reconciler finds paid checkouts that never became appointments, usually because
// the patient closed the browser and the paid event was lost, and re-emits them.
type Reconciler struct {
	store   Store
	gateway paygateway.Gateway
	locker  Locker
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	cfg     Config
	now     func() time.Time
}

func New(store Store, gateway paygateway.Gateway, locker Locker, logger *slog.Logger, m *metrics.PipelineMetrics, cfg Config) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{store: store, gateway: gateway, locker: locker, logger: logger, metrics: m, cfg: cfg, now: time.Now}
}

type Summary struct {
	Linked   int
	Requeued int
	Skipped  int
}

func (r *Reconciler) Run(ctx context.Context) {
	// Only the instance holding the lock reconciles.
	var release func()
	for release == nil {
		unlock, ok, err := r.locker.TryLock(ctx)
		switch {
		case err != nil:
			r.logger.Error("reconcile: failed to acquire advisory lock", "err", err)
		case !ok:
			r.logger.Info("reconcile: advisory lock held by another instance")
		default:
			release = unlock
			continue
		}
		if !sleep(ctx, 30*time.Second) {
			return
		}
	}
	defer release()
	r.logger.Info("reconcile: advisory lock acquired", "interval", r.cfg.Interval.String())

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	sum, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("reconcile: pass failed", "err", err)
		return
	}
	if sum != (Summary{}) {
		r.logger.Info("reconcile: pass complete", "linked", sum.Linked, "requeued", sum.Requeued, "skipped", sum.Skipped)
	}
}

// RunOnce examines one batch of unlinked paid transactions.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	txns, err := r.store.ListUnlinkedPaid(ctx, r.now().Add(-r.cfg.Grace), r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return sum, err
	}
	for _, t := range txns {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		action := r.reconcile(ctx, t)
		r.metrics.Reconciled(action)
		switch action {
		case "linked":
			sum.Linked++
		case "requeued":
			sum.Requeued++
		default:
			sum.Skipped++
		}
	}
	return sum, nil
}

func (r *Reconciler) reconcile(ctx context.Context, t storage.Transaction) string {
	log := r.logger.With("session_id", t.SessionID, "provider", t.Provider)

	appointmentID, err := r.store.FindAppointmentByIntent(ctx, t.SessionID)
	switch {
	case err == nil:
		if err := r.store.LinkAppointment(ctx, t.SessionID, appointmentID); err != nil {
			log.Warn("reconcile: link failed", "err", err)
			return "link_failed"
		}
		return "linked"
	case !errors.Is(err, storage.ErrNotFound):
		log.Warn("reconcile: appointment lookup failed", "err", err)
		return "lookup_failed"
	}

	if t.Provider != r.gateway.Name() {
		return "other_provider"
	}
	sess, err := r.gateway.GetSession(ctx, t.SessionID)
	if err != nil {
		log.Warn("reconcile: session lookup failed", "err", err)
		return "gateway_failed"
	}
	if sess.Status != paygateway.StatusPaid {
		log.Warn("reconcile: ledger says paid but processor does not", "status", sess.Status)
		return "not_paid"
	}

	meta := sess.Metadata
	if len(meta) == 0 {
		meta = t.Metadata
	}
	paidAt := t.UpdatedAt
	if t.PaidAt != nil {
		paidAt = *t.PaidAt
	}
	evt, err := events.CheckoutPaidEvent(events.CheckoutPaid{
		Provider:      t.Provider,
		SessionID:     t.SessionID,
		AmountMinor:   sess.AmountMinor,
		Currency:      sess.Currency,
		PaymentMethod: sess.PaymentMethod,
		Metadata:      meta,
		PaidAt:        paidAt,
	})
	if err != nil {
		log.Error("reconcile: build event failed", "err", err)
		return "event_failed"
	}
	if err := r.store.Requeue(ctx, t.SessionID, evt); err != nil {
		log.Warn("reconcile: requeue failed", "err", err)
		return "requeue_failed"
	}
	log.Info("reconcile: paid checkout re-emitted", "attempt", t.ReconcileAttempts+1)
	return "requeued"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
