package inbox

import (
	"context"

	"github.com/igabaycare/carebook/libs/db"
)

// Repository remembers which events a consumer has already applied.
type Repository struct {
	conn     db.DBTX
	consumer string
}

func NewRepository(conn db.DBTX, consumer string) *Repository {
	return &Repository{conn: conn, consumer: consumer}
}

func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM inbox_events WHERE consumer = $1 AND event_id = $2)
	`, r.consumer, eventID).Scan(&seen)
	return seen, err
}

// Record marks eventID as applied. It returns false when another worker already did.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, r.consumer, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}
