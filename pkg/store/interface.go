package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/emiLoan/pkg/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// Storage defines the interface for database operations related to loans, their
// installment schedules and transactions.
type Storage interface {
	CreateLoanType(ctx context.Context, lt *models.LoanType) error
	GetLoanType(ctx context.Context, id uuid.UUID) (*models.LoanType, error)
	UpdateLoanType(ctx context.Context, lt *models.LoanType) error
	GetAllLoanTypes(ctx context.Context) ([]*models.LoanType, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	// DeleteLoan removes the loan with its history and transactions. Installments must
	// already be gone.
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetLoansForCustomer(ctx context.Context, customerKey string) ([]*models.Loan, error)

	CountInstallments(ctx context.Context, loanID uuid.UUID) (int, error)
	CountInstallmentsByStatus(ctx context.Context, loanID uuid.UUID, statuses ...models.InstallmentStatus) (int, error)
	// SaveInstallments inserts a whole schedule in one transaction.
	SaveInstallments(ctx context.Context, loanID uuid.UUID, installments []*models.Installment) error
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	// GetPendingInstallmentsDueBefore lists PENDING installments with a due date strictly before the given day.
	GetPendingInstallmentsDueBefore(ctx context.Context, day time.Time) ([]*models.Installment, error)
	UpdateInstallment(ctx context.Context, inst *models.Installment) error
	DeleteInstallments(ctx context.Context, loanID uuid.UUID) error

	AddStatusHistory(ctx context.Context, h *models.StatusHistory) error
	GetStatusHistory(ctx context.Context, loanID uuid.UUID) ([]*models.StatusHistory, error)

	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error)

	// WithTx runs fn against a Storage bound to a single transaction. Every write made
	// through it is committed when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(Storage) error) error

	Close() error
}
