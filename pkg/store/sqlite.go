package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS loan_types (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	interest_rate TEXT NOT NULL,
	max_tenure_years INTEGER NOT NULL,
	max_loan_amount TEXT NOT NULL,
	max_loans_per_customer INTEGER NOT NULL DEFAULT 3,
	penalty_rate_percent TEXT NOT NULL DEFAULT '0',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	customer_key TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	loan_type_id TEXT NOT NULL,
	principal TEXT NOT NULL,
	applied_interest_rate TEXT NOT NULL,
	tenure_years INTEGER NOT NULL,
	purpose TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	approved_at DATETIME,
	closed_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY(loan_type_id) REFERENCES loan_types(id)
);
CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_key);
CREATE TABLE IF NOT EXISTS installments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	amount TEXT NOT NULL,
	due_date DATE NOT NULL,
	status TEXT NOT NULL,
	remaining_balance TEXT NOT NULL,
	payment_date DATE,
	transaction_reference TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(loan_id, sequence_index),
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
CREATE INDEX IF NOT EXISTS idx_installments_status_due ON installments(status, due_date);
CREATE TABLE IF NOT EXISTS loan_status_history (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	status TEXT NOT NULL,
	comments TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	type TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL,
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
`

// NewSQLiteStore opens (or creates) a SQLite database and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// A single connection keeps the PRAGMAs and in-memory databases on one handle.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s, err := newSQLStore(context.Background(), db, dialect{
		name:            "sqlite3",
		schema:          sqliteSchema,
		isUniqueViolate: isSQLiteUniqueViolation,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
