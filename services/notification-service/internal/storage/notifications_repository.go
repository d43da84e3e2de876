package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/igabaycare/carebook/libs/db"
)

var ErrNotFound = errors.New("notification not found")

// Delivery statuses. failed sticks once any channel fails.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

type Notification struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	UserType       string    `json:"user_type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Type           string    `json:"type"`
	AppointmentID  string    `json:"appointment_id,omitempty"`
	IsRead         bool      `json:"is_read"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ListFilter struct {
	UnreadOnly bool
	Limit      int
}

type Repository struct {
	conn db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{conn: conn}
}

// List returns the user's notifications, newest first. Dismissed rows are hidden.
func (r *Repository) List(ctx context.Context, userID string, f ListFilter) ([]Notification, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT id::text, user_id::text, user_type, title, message, type,
		       COALESCE(appointment_id::text, ''), is_read, COALESCE(delivery_status, ''), created_at
		FROM notifications
		WHERE user_id = $1
		  AND dismissed_at IS NULL
		  AND (NOT $2 OR is_read = false)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, f.UnreadOnly, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.UserType, &n.Title, &n.Message, &n.Type,
			&n.AppointmentID, &n.IsRead, &n.DeliveryStatus, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one notification owned by userID. Someone else's id, or one that
// is not a UUID, is not found.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE id = $1 AND user_id = $2 AND dismissed_at IS NULL
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE user_id = $1 AND is_read = false AND dismissed_at IS NULL
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) Dismiss(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE notifications SET dismissed_at = now(), is_read = true
		WHERE id = $1 AND user_id = $2 AND dismissed_at IS NULL
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetDeliveryStatus(ctx context.Context, id, status string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = CASE WHEN delivery_status = 'failed' THEN delivery_status ELSE $2 END
		WHERE id = $1
	`, id, status)
	return err
}
