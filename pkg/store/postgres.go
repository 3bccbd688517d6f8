package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS loan_types (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	interest_rate NUMERIC(5, 2) NOT NULL,
	max_tenure_years INTEGER NOT NULL,
	max_loan_amount NUMERIC(15, 2) NOT NULL,
	max_loans_per_customer INTEGER NOT NULL DEFAULT 3,
	penalty_rate_percent NUMERIC(5, 2) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS loans (
	id UUID PRIMARY KEY,
	customer_key TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	loan_type_id UUID NOT NULL REFERENCES loan_types(id),
	principal NUMERIC(15, 2) NOT NULL,
	applied_interest_rate NUMERIC(5, 2) NOT NULL,
	tenure_years INTEGER NOT NULL,
	purpose TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	closed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_key);
CREATE TABLE IF NOT EXISTS installments (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	sequence_index INTEGER NOT NULL,
	amount NUMERIC(18, 2) NOT NULL,
	due_date DATE NOT NULL,
	status TEXT NOT NULL,
	remaining_balance NUMERIC(18, 2) NOT NULL,
	payment_date DATE,
	transaction_reference VARCHAR(100),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (loan_id, sequence_index)
);
CREATE INDEX IF NOT EXISTS idx_installments_status_due ON installments(status, due_date);
CREATE TABLE IF NOT EXISTS loan_status_history (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	status TEXT NOT NULL,
	comments VARCHAR(500) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	amount NUMERIC(18, 2) NOT NULL,
	type TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects through the pgx database/sql driver and initializes the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	s, err := newSQLStore(ctx, db, dialect{
		name:            "postgres",
		schema:          postgresSchema,
		numbered:        true,
		isUniqueViolate: isPostgresUniqueViolation,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
