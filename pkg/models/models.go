package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusSubmitted LoanStatus = "SUBMITTED"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusRejected  LoanStatus = "REJECTED"
	LoanStatusClosed    LoanStatus = "CLOSED"
)

// LoanType is a loan product. Its interest rate is copied onto each loan at application time.
type LoanType struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	InterestRate        decimal.Decimal `json:"interest_rate"` // annual percent, e.g. 7.5
	MaxTenureYears      int             `json:"max_tenure_years"`
	MaxLoanAmount       decimal.Decimal `json:"max_loan_amount"`
	MaxLoansPerCustomer int             `json:"max_loans_per_customer"`
	PenaltyRatePercent  decimal.Decimal `json:"penalty_rate_percent"` // Stored with the product; no charge is computed from it
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type Loan struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerKey         string          `json:"customer_key"`   // Link to external customer system
	CustomerEmail       string          `json:"customer_email"` // Notices are skipped when blank
	LoanTypeID          uuid.UUID       `json:"loan_type_id"`
	Principal           decimal.Decimal `json:"principal"`
	AppliedInterestRate decimal.Decimal `json:"applied_interest_rate"` // Annual percent locked in at application
	TenureYears         int             `json:"tenure_years"`
	Purpose             string          `json:"purpose"`
	Status              LoanStatus      `json:"status"`
	SubmittedAt         time.Time       `json:"submitted_at"`
	ApprovedAt          *time.Time      `json:"approved_at,omitempty"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "PENDING"
	InstallmentStatusPaid    InstallmentStatus = "PAID"
	InstallmentStatusLate    InstallmentStatus = "LATE"
)

// Installment is one EMI of a loan's schedule.
type Installment struct {
	ID                   uuid.UUID         `json:"id"`
	LoanID               uuid.UUID         `json:"loan_id"`
	SequenceIndex        int               `json:"sequence_index"`
	Amount               decimal.Decimal   `json:"amount"`
	DueDate              time.Time         `json:"due_date"`
	Status               InstallmentStatus `json:"status"`
	RemainingBalance     decimal.Decimal   `json:"remaining_balance"` // Outstanding total repayable after this installment
	PaymentDate          *time.Time        `json:"payment_date,omitempty"`
	TransactionReference string            `json:"transaction_reference,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Outstanding reports whether the installment still has to be paid.
func (i *Installment) Outstanding() bool {
	return i.Status == InstallmentStatusPending || i.Status == InstallmentStatusLate
}

// StatusHistory records every accepted loan status change.
type StatusHistory struct {
	ID        uuid.UUID  `json:"id"`
	LoanID    uuid.UUID  `json:"loan_id"`
	Status    LoanStatus `json:"status"`
	Comments  string     `json:"comments,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypePayment      TransactionType = "payment"
)

type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Reference string          `json:"reference,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
