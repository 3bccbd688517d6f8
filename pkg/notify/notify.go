// Package notify tells customers about payments and loan closure.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt describes one paid installment.
type Receipt struct {
	LoanID        uuid.UUID
	CustomerKey   string
	Email         string
	SequenceIndex int
	Amount        decimal.Decimal
	PaidOn        time.Time
	Reference     string
	// Remaining is the number of installments still unpaid after this payment.
	Remaining int
}

// Closure describes a loan that has been fully settled.
type Closure struct {
	LoanID         uuid.UUID
	CustomerKey    string
	Email          string
	Principal      decimal.Decimal
	TotalRepayable decimal.Decimal
	ClosedOn       time.Time
}

// Notifier delivers customer notices. Implementations should not block for long;
// callers log failures and carry on.
type Notifier interface {
	InstallmentPaid(ctx context.Context, r Receipt) error
	LoanClosed(ctx context.Context, c Closure) error
}
