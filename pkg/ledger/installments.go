package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/models"
	"github.com/mcclellann/emiLoan/pkg/notify"
	"github.com/mcclellann/emiLoan/pkg/store"
)

// PayInstallment records a customer's payment of one installment. When it was the last
// unpaid installment the loan is closed. The payment, its transaction and the closure are
// written in one transaction.
func (l *Ledger) PayInstallment(ctx context.Context, installmentID uuid.UUID, customerKey string) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}

	var (
		receipt notify.Receipt
		closure *notify.Closure
	)
	err = l.withLoanLock(ctx, inst.LoanID, func() error {
		return l.storage.WithTx(ctx, func(s store.Storage) error {
			// Re-read under the lock; a concurrent payment may have won.
			inst, err = s.GetInstallment(ctx, installmentID)
			if err != nil {
				return err
			}
			loan, err := s.GetLoan(ctx, inst.LoanID)
			if err != nil {
				return err
			}
			if loan.CustomerKey != customerKey {
				return ErrForbidden
			}
			if !inst.Outstanding() {
				return fmt.Errorf("%w: status is %s", ErrInstallmentNotPayable, inst.Status)
			}
			if loan.Status != models.LoanStatusApproved {
				return fmt.Errorf("%w: status is %s", ErrLoanNotActive, loan.Status)
			}

			now := l.now().UTC()
			day := l.today()
			inst.Status = models.InstallmentStatusPaid
			inst.PaymentDate = &day
			inst.TransactionReference = uuid.NewString()
			inst.UpdatedAt = now
			if err := s.UpdateInstallment(ctx, inst); err != nil {
				return fmt.Errorf("failed to mark installment paid: %w", err)
			}

			payment := &models.Transaction{
				ID:        uuid.New(),
				LoanID:    loan.ID,
				Amount:    inst.Amount,
				Type:      models.TransactionTypePayment,
				Reference: inst.TransactionReference,
				Timestamp: now,
			}
			if err := s.CreateTransaction(ctx, payment); err != nil {
				return fmt.Errorf("failed to store payment transaction: %w", err)
			}

			remaining, err := s.CountInstallmentsByStatus(ctx, loan.ID, models.InstallmentStatusPending, models.InstallmentStatusLate)
			if err != nil {
				return err
			}
			receipt = notify.Receipt{
				LoanID:        loan.ID,
				CustomerKey:   loan.CustomerKey,
				Email:         loan.CustomerEmail,
				SequenceIndex: inst.SequenceIndex,
				Amount:        inst.Amount,
				PaidOn:        day,
				Reference:     inst.TransactionReference,
				Remaining:     remaining,
			}
			if remaining > 0 {
				return nil
			}

			loan.Status = models.LoanStatusClosed
			loan.ClosedAt = &now
			loan.UpdatedAt = now
			if err := s.UpdateLoan(ctx, loan); err != nil {
				return fmt.Errorf("failed to close loan: %w", err)
			}
			if err := l.addHistory(ctx, s, loan, "All installments paid"); err != nil {
				return err
			}
			installments, err := s.GetInstallmentsForLoan(ctx, loan.ID)
			if err != nil {
				return err
			}
			closure = l.closureFor(loan, installments)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("installment paid",
		zap.Stringer("loan_id", inst.LoanID),
		zap.Int("sequence_index", inst.SequenceIndex),
		zap.String("reference", inst.TransactionReference),
	)
	if err := l.notifier.InstallmentPaid(ctx, receipt); err != nil {
		l.logger.Warn("failed to send payment receipt", zap.Stringer("loan_id", inst.LoanID), zap.Error(err))
	}
	if closure != nil {
		l.logger.Info("loan closed after final payment", zap.Stringer("loan_id", inst.LoanID))
		l.sendClosure(ctx, *closure)
	}
	return inst, nil
}

// MarkOverdue moves every PENDING installment due before today to LATE and reports how
// many changed. Failures on single installments are collected and do not stop the sweep.
func (l *Ledger) MarkOverdue(ctx context.Context) (int, error) {
	today := l.today()
	due, err := l.storage.GetPendingInstallmentsDueBefore(ctx, today)
	if err != nil {
		return 0, err
	}

	marked := 0
	var errs []error
	for _, candidate := range due {
		id := candidate.ID
		err := l.withLoanLock(ctx, candidate.LoanID, func() error {
			inst, err := l.storage.GetInstallment(ctx, id)
			if err != nil {
				return err
			}
			if inst.Status != models.InstallmentStatusPending {
				return nil
			}
			inst.Status = models.InstallmentStatusLate
			inst.UpdatedAt = l.now().UTC()
			if err := l.storage.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
			marked++
			return nil
		})
		if err != nil {
			l.logger.Warn("failed to mark installment late", zap.Stringer("installment_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("installment %s: %w", id, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return marked, errors.Join(errs...)
}
