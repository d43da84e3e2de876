package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/outbox"
)

var (
	ErrNotFound               = errors.New("transaction not found")
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
)

// Transaction statuses. paid is final: later webhooks never move a paid row.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusUnpaid  = "unpaid"
	StatusExpired = "expired"
)

type Transaction struct {
	Provider          string            `json:"provider"`
	SessionID         string            `json:"checkout_session_id"`
	Status            string            `json:"status"`
	AmountMinor       int64             `json:"amount_minor"`
	Currency          string            `json:"currency"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	Metadata          map[string]string `json:"-"`
	AppointmentID     string            `json:"appointment_id,omitempty"`
	ReconcileAttempts int               `json:"-"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type Repository struct {
	conn   db.DBTX
	outbox *outbox.Repository
}

func NewRepository(conn db.DBTX, outboxRepo *outbox.Repository) *Repository {
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository()
	}
	return &Repository{conn: conn, outbox: outboxRepo}
}

// InsertProviderEvent records a webhook delivery. A replay of an event already seen
// returns ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, conn db.DBTX, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return errors.New("provider event payload is not valid json")
	}
	tag, err := conn.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, string(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

// UpsertTransaction records the latest known state of a checkout session and returns
// the stored status, which stays paid once paid.
func (r *Repository) UpsertTransaction(ctx context.Context, conn db.DBTX, t Transaction) (string, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	var status string
	err = conn.QueryRow(ctx, `
		INSERT INTO payment_transactions (provider, provider_session_id, status, amount_minor, currency, payment_method, metadata, paid_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7::jsonb, $8)
		ON CONFLICT (provider_session_id) DO UPDATE
		SET status = CASE WHEN payment_transactions.status = 'paid' THEN payment_transactions.status ELSE EXCLUDED.status END,
		    amount_minor = EXCLUDED.amount_minor,
		    currency = EXCLUDED.currency,
		    payment_method = COALESCE(EXCLUDED.payment_method, payment_transactions.payment_method),
		    metadata = payment_transactions.metadata || EXCLUDED.metadata,
		    paid_at = COALESCE(payment_transactions.paid_at, EXCLUDED.paid_at),
		    updated_at = now()
		RETURNING status
	`, t.Provider, t.SessionID, t.Status, t.AmountMinor, t.Currency, t.PaymentMethod, string(meta), t.PaidAt).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

const transactionColumns = `provider, provider_session_id, status, amount_minor, currency,
	COALESCE(payment_method, ''), metadata, COALESCE(appointment_id::text, ''), reconcile_attempts,
	paid_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t    Transaction
		meta []byte
	)
	if err := row.Scan(&t.Provider, &t.SessionID, &t.Status, &t.AmountMinor, &t.Currency,
		&t.PaymentMethod, &meta, &t.AppointmentID, &t.ReconcileAttempts,
		&t.PaidAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func (r *Repository) GetTransaction(ctx context.Context, sessionID string) (Transaction, error) {
	t, err := scanTransaction(r.conn.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE provider_session_id = $1
	`, sessionID))
	if err != nil {
		if db.IsNotFound(err) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

// ListUnlinkedPaid returns paid transactions with no appointment that were paid before
// olderThan and have been re-emitted fewer than maxAttempts times.
func (r *Repository) ListUnlinkedPaid(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE status = 'paid'
		  AND appointment_id IS NULL
		  AND COALESCE(paid_at, updated_at) < $1
		  AND reconcile_attempts < $2
		ORDER BY updated_at
		LIMIT $3
	`, olderThan, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindAppointmentByIntent looks up the appointment booked with a checkout session.
func (r *Repository) FindAppointmentByIntent(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := r.conn.QueryRow(ctx, `
		SELECT id::text FROM appointments WHERE payment_intent_id = $1
	`, sessionID).Scan(&id)
	if err != nil {
		if db.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (r *Repository) LinkAppointment(ctx context.Context, sessionID, appointmentID string) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE payment_transactions
		SET appointment_id = $2::uuid, updated_at = now()
		WHERE provider_session_id = $1
	`, sessionID, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue counts a reconcile attempt and enqueues evt in the same transaction.
func (r *Repository) Requeue(ctx context.Context, sessionID string, evt outbox.Event) error {
	return db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE payment_transactions
			SET reconcile_attempts = reconcile_attempts + 1, updated_at = now()
			WHERE provider_session_id = $1
		`, sessionID); err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

// Enqueue writes evt through conn, normally the webhook's open transaction.
func (r *Repository) Enqueue(ctx context.Context, conn db.DBTX, evt outbox.Event) error {
	return r.outbox.Insert(ctx, conn, evt)
}

// Conn exposes the repository's connection for callers that open transactions.
func (r *Repository) Conn() db.DBTX { return r.conn }
