package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_payment_intent_id_key"})
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsForeignKeyViolation(unique))
	assert.Equal(t, "appointments_payment_intent_id_key", ConstraintName(unique))

	fk := &pgconn.PgError{Code: "23503"}
	assert.True(t, IsForeignKeyViolation(fk))
	assert.False(t, IsUniqueViolation(fk))

	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)))
	assert.False(t, IsUniqueViolation(pgx.ErrNoRows))
	assert.Equal(t, "", ConstraintName(pgx.ErrNoRows))
}
