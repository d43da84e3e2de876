// Package jobs runs the appointment reminder scan.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/events"
	"github.com/igabaycare/carebook/libs/metrics"
	"github.com/igabaycare/carebook/libs/outbox"
)

const reminderTitle = "Appointment reminder"

type Worker struct {
	conn      db.DBTX
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics
	interval  time.Duration
	batchSize int
	lead      time.Duration
	loc       *time.Location
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Lead      time.Duration
	Location  *time.Location
}

func NewWorker(conn db.DBTX, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, m *metrics.PipelineMetrics, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Worker{
		conn:      conn,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		metrics:   m,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		lead:      cfg.Lead,
		loc:       cfg.Location,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.ScanOnce(ctx)
			if err != nil {
				w.metrics.Reminders("error", 1)
				w.logger.Error("reminder scan failed", "err", err)
				continue
			}
			if n > 0 {
				w.logger.Info("reminders queued", "count", n)
			}
		}
	}
}

// ScanOnce queues reminders for one batch in a single transaction and returns how many
// appointments were stamped.
func (w *Worker) ScanOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()
	var sent int
	err := db.WithTx(ctx, w.conn, func(tx pgx.Tx) error {
		due, err := w.repo.FetchDue(ctx, tx, w.loc.String(), now, now.Add(w.lead), w.batchSize)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(due))
		for _, rem := range due {
			msg := reminderMessage(rem)
			notificationID, err := w.repo.InsertNotification(ctx, tx, rem, reminderTitle, msg)
			if err != nil {
				return fmt.Errorf("insert reminder for %s: %w", rem.AppointmentID, err)
			}
			evts, err := events.DeliveryEvents(notificationID, reminderTitle, msg, rem.PatientEmail, rem.PatientPhone, now)
			if err != nil {
				return err
			}
			for _, evt := range evts {
				if err := w.outbox.Insert(ctx, tx, evt); err != nil {
					return err
				}
			}
			ids = append(ids, rem.AppointmentID)
		}
		if err := w.repo.MarkSent(ctx, tx, ids); err != nil {
			return err
		}
		sent = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	w.metrics.Reminders("queued", sent)
	return sent, nil
}

func reminderMessage(rem Reminder) string {
	where := "the clinic"
	if rem.ClinicName != "" {
		where = rem.ClinicName
	}
	msg := fmt.Sprintf("Reminder: you have an appointment at %s on %s at %s.", where, rem.Date, rem.Time)
	if rem.DoctorName != "" {
		msg += " Your doctor is " + rem.DoctorName + "."
	}
	return msg
}
