package storage

import (
	"context"

	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
)

type NotificationRepository struct{}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

// Insert writes n using conn, normally a transaction shared with its delivery outbox events.
func (r *NotificationRepository) Insert(ctx context.Context, conn db.DBTX, n model.Notification) (model.Notification, error) {
	err := conn.QueryRow(ctx, `
		INSERT INTO notifications (user_id, user_type, title, message, type, appointment_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid)
		RETURNING id::text, created_at
	`, n.UserID, string(n.UserType), n.Title, n.Message, string(n.Type), n.AppointmentID).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return model.Notification{}, err
	}
	return n, nil
}
