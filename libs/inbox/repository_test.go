package inbox

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTreatsUniqueViolationAsDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock, "booking-finalizer")

	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("booking-finalizer", "evt-1", "billing.checkout.paid.v1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("booking-finalizer", "evt-1", "billing.checkout.paid.v1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	ok, err := repo.Record(context.Background(), "evt-1", "billing.checkout.paid.v1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Record(context.Background(), "evt-1", "billing.checkout.paid.v1")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("booking-finalizer", "evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	seen, err := repo.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.NoError(t, mock.ExpectationsWereMet())
}
