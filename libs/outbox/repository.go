package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/igabaycare/carebook/libs/db"
	otelx "github.com/igabaycare/carebook/libs/otel"
)

type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes evt using conn, which is normally the caller's open transaction so the
// event commits atomically with the state change it describes.
func (r *Repository) Insert(ctx context.Context, conn db.DBTX, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	tc := otelx.CaptureTraceContext(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate)
	return err
}

func (r *Repository) FetchUnpublished(ctx context.Context, conn db.DBTX, limit int) ([]Record, error) {
	rows, err := conn.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, conn db.DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := conn.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}
