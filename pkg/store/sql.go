package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/emiLoan/pkg/models"
)

// dialect captures what differs between the supported SQL backends.
type dialect struct {
	name            string
	schema          string
	numbered        bool // $1, $2 placeholders instead of ?
	isUniqueViolate func(error) bool
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLStore implements Storage on database/sql. A store handed out by WithTx runs every
// statement on that transaction.
type SQLStore struct {
	db      *sql.DB
	conn    querier
	tx      *sql.Tx
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	s := &SQLStore{db: db, conn: db, dialect: d}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// Driver names the database backend.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

// WithTx runs fn on a store bound to one transaction, committing when fn returns nil and
// rolling back otherwise. Calls on a store that is already transactional join it.
func (s *SQLStore) WithTx(ctx context.Context, fn func(Storage) error) error {
	return s.inTx(ctx, func(ts *SQLStore) error { return fn(ts) })
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*SQLStore) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLStore{db: s.db, conn: tx, tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// wrapWriteErr maps unique violations onto ErrDuplicate.
func (s *SQLStore) wrapWriteErr(op string, err error) error {
	if s.dialect.isUniqueViolate != nil && s.dialect.isUniqueViolate(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectOneRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Loan types

const loanTypeColumns = `id, name, interest_rate, max_tenure_years, max_loan_amount, max_loans_per_customer, penalty_rate_percent, created_at, updated_at`

func scanLoanType(row rowScanner) (*models.LoanType, error) {
	var lt models.LoanType
	if err := row.Scan(&lt.ID, &lt.Name, &lt.InterestRate, &lt.MaxTenureYears, &lt.MaxLoanAmount, &lt.MaxLoansPerCustomer, &lt.PenaltyRatePercent, &lt.CreatedAt, &lt.UpdatedAt); err != nil {
		return nil, err
	}
	lt.CreatedAt = lt.CreatedAt.UTC()
	lt.UpdatedAt = lt.UpdatedAt.UTC()
	return &lt, nil
}

// CreateLoanType inserts a new loan product.
func (s *SQLStore) CreateLoanType(ctx context.Context, lt *models.LoanType) error {
	_, err := s.exec(ctx,
		`INSERT INTO loan_types (`+loanTypeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lt.ID.String(), lt.Name, lt.InterestRate, lt.MaxTenureYears, lt.MaxLoanAmount, lt.MaxLoansPerCustomer, lt.PenaltyRatePercent, lt.CreatedAt, lt.UpdatedAt,
	)
	if err != nil {
		return s.wrapWriteErr("failed to create loan type", err)
	}
	return nil
}

// GetLoanType retrieves a loan product by its ID.
func (s *SQLStore) GetLoanType(ctx context.Context, id uuid.UUID) (*models.LoanType, error) {
	lt, err := scanLoanType(s.queryRow(ctx, `SELECT `+loanTypeColumns+` FROM loan_types WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan type %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan type: %w", err)
	}
	return lt, nil
}

// UpdateLoanType updates a loan product's terms.
func (s *SQLStore) UpdateLoanType(ctx context.Context, lt *models.LoanType) error {
	result, err := s.exec(ctx,
		`UPDATE loan_types SET name = ?, interest_rate = ?, max_tenure_years = ?, max_loan_amount = ?, max_loans_per_customer = ?, penalty_rate_percent = ?, updated_at = ? WHERE id = ?`,
		lt.Name, lt.InterestRate, lt.MaxTenureYears, lt.MaxLoanAmount, lt.MaxLoansPerCustomer, lt.PenaltyRatePercent, lt.UpdatedAt, lt.ID.String(),
	)
	if err != nil {
		return s.wrapWriteErr("failed to update loan type", err)
	}
	return expectOneRow(result, "loan type")
}

// GetAllLoanTypes retrieves all loan products ordered by name.
func (s *SQLStore) GetAllLoanTypes(ctx context.Context) ([]*models.LoanType, error) {
	rows, err := s.query(ctx, `SELECT `+loanTypeColumns+` FROM loan_types ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan types: %w", err)
	}
	defer rows.Close()

	var types []*models.LoanType
	for rows.Next() {
		lt, err := scanLoanType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan type row: %w", err)
		}
		types = append(types, lt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return types, nil
}

// Loans

const loanColumns = `id, customer_key, customer_email, loan_type_id, principal, applied_interest_rate, tenure_years, purpose, status, submitted_at, approved_at, closed_at, created_at, updated_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var approvedAt, closedAt sql.NullTime
	if err := row.Scan(&loan.ID, &loan.CustomerKey, &loan.CustomerEmail, &loan.LoanTypeID, &loan.Principal, &loan.AppliedInterestRate,
		&loan.TenureYears, &loan.Purpose, &loan.Status, &loan.SubmittedAt, &approvedAt, &closedAt, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.SubmittedAt = loan.SubmittedAt.UTC()
	loan.CreatedAt = loan.CreatedAt.UTC()
	loan.UpdatedAt = loan.UpdatedAt.UTC()
	loan.ApprovedAt = timePtr(approvedAt)
	loan.ClosedAt = timePtr(closedAt)
	return &loan, nil
}

func (s *SQLStore) scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// CreateLoan inserts a new loan into the database.
func (s *SQLStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.CustomerEmail, loan.LoanTypeID.String(), loan.Principal, loan.AppliedInterestRate,
		loan.TenureYears, loan.Purpose, string(loan.Status), loan.SubmittedAt, nullTime(loan.ApprovedAt), nullTime(loan.ClosedAt), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return s.wrapWriteErr("failed to create loan", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan. The applied interest rate is never rewritten.
func (s *SQLStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.exec(ctx,
		`UPDATE loans SET customer_email = ?, purpose = ?, status = ?, approved_at = ?, closed_at = ?, updated_at = ? WHERE id = ?`,
		loan.CustomerEmail, loan.Purpose, string(loan.Status), nullTime(loan.ApprovedAt), nullTime(loan.ClosedAt), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return expectOneRow(result, "loan")
}

// DeleteLoan removes a loan, its status history and its transactions within a transaction.
func (s *SQLStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ts *SQLStore) error {
		if _, err := ts.exec(ctx, `DELETE FROM transactions WHERE loan_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated transactions: %w", err)
		}
		if _, err := ts.exec(ctx, `DELETE FROM loan_status_history WHERE loan_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete status history: %w", err)
		}

		result, err := ts.exec(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return expectOneRow(result, "loan")
	})
}

// GetAllLoans retrieves all loans, newest first.
func (s *SQLStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

// GetLoansForCustomer retrieves the loans of one customer, newest first.
func (s *SQLStore) GetLoansForCustomer(ctx context.Context, customerKey string) ([]*models.Loan, error) {
	rows, err := s.query(ctx, `SELECT `+loanColumns+` FROM loans WHERE customer_key = ? ORDER BY submitted_at DESC`, customerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for customer %s: %w", customerKey, err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

// Installments

const installmentColumns = `id, loan_id, sequence_index, amount, due_date, status, remaining_balance, payment_date, transaction_reference, created_at, updated_at`

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var inst models.Installment
	var paymentDate sql.NullTime
	var reference sql.NullString
	if err := row.Scan(&inst.ID, &inst.LoanID, &inst.SequenceIndex, &inst.Amount, &inst.DueDate, &inst.Status,
		&inst.RemainingBalance, &paymentDate, &reference, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	inst.DueDate = inst.DueDate.UTC()
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	inst.PaymentDate = timePtr(paymentDate)
	inst.TransactionReference = reference.String
	return &inst, nil
}

func (s *SQLStore) scanInstallments(rows *sql.Rows) ([]*models.Installment, error) {
	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// CountInstallments returns how many installments a loan has.
func (s *SQLStore) CountInstallments(ctx context.Context, loanID uuid.UUID) (int, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM installments WHERE loan_id = ?`, loanID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count installments: %w", err)
	}
	return count, nil
}

// CountInstallmentsByStatus returns how many of a loan's installments are in one of the given statuses.
func (s *SQLStore) CountInstallmentsByStatus(ctx context.Context, loanID uuid.UUID, statuses ...models.InstallmentStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := []any{loanID.String()}
	marks := make([]string, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
		marks = append(marks, "?")
	}

	var count int
	q := `SELECT COUNT(*) FROM installments WHERE loan_id = ? AND status IN (` + strings.Join(marks, ", ") + `)`
	if err := s.queryRow(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count installments by status: %w", err)
	}
	return count, nil
}

// SaveInstallments inserts the whole schedule or nothing.
func (s *SQLStore) SaveInstallments(ctx context.Context, loanID uuid.UUID, installments []*models.Installment) error {
	return s.inTx(ctx, func(ts *SQLStore) error {
		stmt, err := ts.conn.PrepareContext(ctx, ts.rebind(`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare installment insert: %w", err)
		}
		defer stmt.Close()

		for _, inst := range installments {
			if inst.LoanID != loanID {
				return fmt.Errorf("installment %s belongs to loan %s, not %s", inst.ID, inst.LoanID, loanID)
			}
			var reference sql.NullString
			if inst.TransactionReference != "" {
				reference = sql.NullString{String: inst.TransactionReference, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				inst.ID.String(), loanID.String(), inst.SequenceIndex, inst.Amount, inst.DueDate, string(inst.Status),
				inst.RemainingBalance, nullTime(inst.PaymentDate), reference, inst.CreatedAt, inst.UpdatedAt,
			); err != nil {
				return ts.wrapWriteErr("failed to insert installment", err)
			}
		}
		return nil
	})
}

// GetInstallment retrieves an installment by its ID.
func (s *SQLStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, err := scanInstallment(s.queryRow(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("installment %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// GetInstallmentsForLoan retrieves a loan's schedule in due-date order.
func (s *SQLStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY sequence_index ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	return s.scanInstallments(rows)
}

// GetPendingInstallmentsDueBefore lists PENDING installments due strictly before day.
func (s *SQLStore) GetPendingInstallmentsDueBefore(ctx context.Context, day time.Time) ([]*models.Installment, error) {
	rows, err := s.query(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE status = ? AND due_date < ? ORDER BY due_date ASC`,
		string(models.InstallmentStatusPending), day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdue installments: %w", err)
	}
	defer rows.Close()

	return s.scanInstallments(rows)
}

// UpdateInstallment persists status and payment details of one installment.
func (s *SQLStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	var reference sql.NullString
	if inst.TransactionReference != "" {
		reference = sql.NullString{String: inst.TransactionReference, Valid: true}
	}
	result, err := s.exec(ctx,
		`UPDATE installments SET status = ?, payment_date = ?, transaction_reference = ?, updated_at = ? WHERE id = ?`,
		string(inst.Status), nullTime(inst.PaymentDate), reference, inst.UpdatedAt, inst.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return expectOneRow(result, "installment")
}

// DeleteInstallments removes a loan's whole schedule.
func (s *SQLStore) DeleteInstallments(ctx context.Context, loanID uuid.UUID) error {
	if _, err := s.exec(ctx, `DELETE FROM installments WHERE loan_id = ?`, loanID.String()); err != nil {
		return fmt.Errorf("failed to delete installments for loan %s: %w", loanID, err)
	}
	return nil
}

// Status history

// AddStatusHistory appends a status change record.
func (s *SQLStore) AddStatusHistory(ctx context.Context, h *models.StatusHistory) error {
	_, err := s.exec(ctx,
		`INSERT INTO loan_status_history (id, loan_id, status, comments, created_at) VALUES (?, ?, ?, ?, ?)`,
		h.ID.String(), h.LoanID.String(), string(h.Status), h.Comments, h.CreatedAt,
	)
	if err != nil {
		return s.wrapWriteErr("failed to add status history", err)
	}
	return nil
}

// GetStatusHistory lists a loan's status changes, oldest first.
func (s *SQLStore) GetStatusHistory(ctx context.Context, loanID uuid.UUID) ([]*models.StatusHistory, error) {
	rows, err := s.query(ctx, `SELECT id, loan_id, status, comments, created_at FROM loan_status_history WHERE loan_id = ? ORDER BY created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get status history for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var history []*models.StatusHistory
	for rows.Next() {
		var h models.StatusHistory
		if err := rows.Scan(&h.ID, &h.LoanID, &h.Status, &h.Comments, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history row: %w", err)
		}
		h.CreatedAt = h.CreatedAt.UTC()
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for status history: %w", err)
	}
	return history, nil
}

// Transactions

// CreateTransaction inserts a new transaction into the database.
func (s *SQLStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	_, err := s.exec(ctx,
		`INSERT INTO transactions (id, loan_id, amount, type, reference, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.LoanID.String(), transaction.Amount, string(transaction.Type), transaction.Reference, transaction.Timestamp,
	)
	if err != nil {
		return s.wrapWriteErr("failed to create transaction", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLStore) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.query(ctx, `SELECT id, loan_id, amount, type, reference, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		if err := rows.Scan(&transaction.ID, &transaction.LoanID, &transaction.Amount, &transaction.Type, &transaction.Reference, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.Timestamp = transaction.Timestamp.UTC()
		transactions = append(transactions, &transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.tx != nil {
		return errors.New("cannot close a store bound to a transaction")
	}
	return s.db.Close()
}
