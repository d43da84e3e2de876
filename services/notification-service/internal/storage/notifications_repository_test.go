package storage

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListHidesDismissedAndCapsLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)FROM notifications.*dismissed_at IS NULL`).
		WithArgs("pat-1", true, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "user_type", "title", "message", "type", "appointment_id", "is_read", "delivery_status", "created_at"}).
			AddRow("n-1", "pat-1", "patient", "Appointment confirmed", "See you", "appointment_confirmed", "appt-1", false, "sent", now))

	got, err := NewRepository(mock).List(context.Background(), "pat-1", ListFilter{UnreadOnly: true, Limit: 500})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "appt-1", got[0].AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const notificationID = "6f1c2b1e-8d1a-4c55-9a43-2f0d3b7e9c10"

func TestOwnerGatedUpdatesReportNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE notifications SET is_read = true").
		WithArgs(notificationID, "pat-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE notifications SET dismissed_at").
		WithArgs(notificationID, "pat-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE notifications SET dismissed_at").
		WithArgs(notificationID, "pat-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewRepository(mock)
	assert.ErrorIs(t, repo.MarkRead(context.Background(), "pat-2", notificationID), ErrNotFound)
	assert.ErrorIs(t, repo.Dismiss(context.Background(), "pat-2", notificationID), ErrNotFound)
	assert.NoError(t, repo.Dismiss(context.Background(), "pat-1", notificationID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMalformedNotificationIDIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock)
	assert.ErrorIs(t, repo.MarkRead(context.Background(), "pat-1", "not-a-uuid"), ErrNotFound)
	assert.ErrorIs(t, repo.Dismiss(context.Background(), "pat-1", "n-1"), ErrNotFound)
	// No statement reaches the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}
