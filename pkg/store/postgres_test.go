package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsPostgresUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "installments_loan_id_sequence_index_key"}
	assert.True(t, isPostgresUniqueViolation(unique))
	assert.True(t, isPostgresUniqueViolation(fmt.Errorf("insert: %w", unique)))

	assert.False(t, isPostgresUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isPostgresUniqueViolation(errors.New("connection reset")))
	assert.False(t, isPostgresUniqueViolation(nil))
}

func TestWrapWriteErr(t *testing.T) {
	s := &SQLStore{dialect: dialect{isUniqueViolate: isPostgresUniqueViolation}}

	err := s.wrapWriteErr("failed to insert installment", &pgconn.PgError{Code: pgUniqueViolation})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = s.wrapWriteErr("failed to insert installment", errors.New("boom"))
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.EqualError(t, err, "failed to insert installment: boom")
}
