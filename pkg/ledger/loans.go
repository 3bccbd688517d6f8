package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/amortization"
	"github.com/mcclellann/emiLoan/pkg/models"
	"github.com/mcclellann/emiLoan/pkg/notify"
	"github.com/mcclellann/emiLoan/pkg/store"
)

// transitions lists the status changes an administrator may make.
var transitions = map[models.LoanStatus][]models.LoanStatus{
	models.LoanStatusSubmitted: {models.LoanStatusApproved, models.LoanStatusRejected},
	models.LoanStatusApproved:  {models.LoanStatusApproved, models.LoanStatusClosed},
}

func canTransition(from, to models.LoanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func isActive(status models.LoanStatus) bool {
	return status == models.LoanStatusSubmitted || status == models.LoanStatusApproved
}

// LoanOverview is a loan together with its schedule and repayment progress.
type LoanOverview struct {
	Loan               *models.Loan          `json:"loan"`
	Installments       []*models.Installment `json:"installments"`
	MonthlyInstallment decimal.Decimal       `json:"monthly_installment"`
	TotalRepayable     decimal.Decimal       `json:"total_repayable"`
	PaidCount          int                   `json:"paid_count"`
	RemainingCount     int                   `json:"remaining_count"`
	RemainingAmount    decimal.Decimal       `json:"remaining_amount"`
}

// ActiveLoanCount is the number of SUBMITTED or APPROVED loans a customer holds of one type.
type ActiveLoanCount struct {
	LoanTypeID   uuid.UUID `json:"loan_type_id"`
	LoanTypeName string    `json:"loan_type_name"`
	Count        int       `json:"count"`
}

// ApplyLoan records a customer's loan application at the product's current rate.
func (l *Ledger) ApplyLoan(ctx context.Context, req LoanApplication) (*models.Loan, error) {
	if err := l.validateApplication(&req); err != nil {
		return nil, err
	}

	lt, err := l.storage.GetLoanType(ctx, req.LoanTypeID)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if req.Principal.GreaterThan(lt.MaxLoanAmount) {
		verr.add("principal", fmt.Sprintf("exceeds the maximum of %s for this loan type", lt.MaxLoanAmount.StringFixed(2)))
	}
	if req.TenureYears > lt.MaxTenureYears {
		verr.add("tenure_years", fmt.Sprintf("exceeds the maximum of %d years for this loan type", lt.MaxTenureYears))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err = l.withLock(ctx, "customer:"+req.CustomerKey+":"+lt.ID.String(), func() error {
		existing, err := l.storage.GetLoansForCustomer(ctx, req.CustomerKey)
		if err != nil {
			return err
		}
		active := 0
		for _, e := range existing {
			if e.LoanTypeID == lt.ID && isActive(e.Status) {
				active++
			}
		}
		if active >= lt.MaxLoansPerCustomer {
			return fmt.Errorf("%w: %d of %d", ErrLoanLimitReached, active, lt.MaxLoansPerCustomer)
		}

		now := l.now().UTC()
		loan = &models.Loan{
			ID:                  uuid.New(),
			CustomerKey:         req.CustomerKey,
			CustomerEmail:       req.CustomerEmail,
			LoanTypeID:          lt.ID,
			Principal:           req.Principal,
			AppliedInterestRate: lt.InterestRate,
			TenureYears:         req.TenureYears,
			Purpose:             req.Purpose,
			Status:              models.LoanStatusSubmitted,
			SubmittedAt:         now,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return l.storage.WithTx(ctx, func(s store.Storage) error {
			if err := s.CreateLoan(ctx, loan); err != nil {
				return fmt.Errorf("failed to store loan: %w", err)
			}
			return l.addHistory(ctx, s, loan, "Loan application submitted")
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loan application submitted",
		zap.Stringer("loan_id", loan.ID),
		zap.String("customer_key", loan.CustomerKey),
		zap.String("principal", loan.Principal.StringFixed(2)),
		zap.String("applied_interest_rate", loan.AppliedInterestRate.String()),
	)
	return loan, nil
}

// UpdateLoanStatus applies an administrator's decision. Approving a loan generates its
// installment schedule; approving it again retries generation without duplicating it.
// Closing a loan settles every unpaid installment.
func (l *Ledger) UpdateLoanStatus(ctx context.Context, loanID uuid.UUID, status models.LoanStatus, comments string) (*models.Loan, error) {
	var (
		loan    *models.Loan
		closure *notify.Closure
	)
	err := l.withLoanLock(ctx, loanID, func() error {
		return l.storage.WithTx(ctx, func(s store.Storage) error {
			var err error
			loan, err = s.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if !canTransition(loan.Status, status) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, loan.Status, status)
			}

			now := l.now().UTC()
			switch status {
			case models.LoanStatusApproved:
				if loan.ApprovedAt == nil {
					loan.ApprovedAt = &now
				}
			case models.LoanStatusClosed:
				closure, err = l.settle(ctx, s, loan)
				if err != nil {
					return err
				}
			}
			loan.Status = status
			loan.UpdatedAt = now

			if err := s.UpdateLoan(ctx, loan); err != nil {
				return fmt.Errorf("failed to update loan status: %w", err)
			}
			return l.addHistory(ctx, s, loan, comments)
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loan status updated", zap.Stringer("loan_id", loanID), zap.String("status", string(status)))

	if status == models.LoanStatusApproved {
		if _, err := l.ensureSchedule(ctx, loanID); err != nil {
			return nil, err
		}
	}
	if closure != nil {
		l.sendClosure(ctx, *closure)
	}
	return loan, nil
}

// ensureSchedule generates the schedule of an approved loan once and records the
// disbursement when it does. Concurrent callers for the same loan share one run.
func (l *Ledger) ensureSchedule(ctx context.Context, loanID uuid.UUID) (int, error) {
	v, err, _ := l.group.Do(loanID.String(), func() (any, error) {
		created := 0
		err := l.withLoanLock(ctx, loanID, func() error {
			loan, err := l.storage.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if loan.Status != models.LoanStatusApproved {
				return nil
			}

			if err := amortization.ValidateTerms(amortization.Terms{
				Principal:         loan.Principal,
				AnnualRatePercent: loan.AppliedInterestRate,
				TenureYears:       loan.TenureYears,
			}); err != nil {
				return err
			}

			// The schedule and its disbursement commit together, so a retry after a
			// failure starts from an empty schedule.
			err = l.storage.WithTx(ctx, func(s store.Storage) error {
				installments, err := l.engine.Using(s).GenerateSchedule(ctx, loan)
				if err != nil {
					return err
				}
				if len(installments) == 0 {
					return nil
				}

				disbursement := &models.Transaction{
					ID:        uuid.New(),
					LoanID:    loan.ID,
					Amount:    loan.Principal,
					Type:      models.TransactionTypeDisbursement,
					Reference: uuid.NewString(),
					Timestamp: l.now().UTC(),
				}
				if err := s.CreateTransaction(ctx, disbursement); err != nil {
					return fmt.Errorf("failed to store disbursement transaction: %w", err)
				}
				created = len(installments)
				return nil
			})
			if errors.Is(err, store.ErrDuplicate) {
				l.logger.Warn("schedule already stored by another writer", zap.Stringer("loan_id", loanID))
				return nil
			}
			return err
		})
		return created, err
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// settle marks every unpaid installment of loan as paid today and closes it.
func (l *Ledger) settle(ctx context.Context, s store.Storage, loan *models.Loan) (*notify.Closure, error) {
	installments, err := s.GetInstallmentsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	day := l.today()
	for _, inst := range installments {
		if inst.Status == models.InstallmentStatusPaid {
			continue
		}
		inst.Status = models.InstallmentStatusPaid
		inst.PaymentDate = &day
		inst.TransactionReference = uuid.NewString()
		inst.UpdatedAt = now
		if err := s.UpdateInstallment(ctx, inst); err != nil {
			return nil, fmt.Errorf("failed to settle installment %d: %w", inst.SequenceIndex, err)
		}
	}
	loan.ClosedAt = &now
	return l.closureFor(loan, installments), nil
}

func (l *Ledger) closureFor(loan *models.Loan, installments []*models.Installment) *notify.Closure {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.Amount)
	}
	closedOn := l.now().UTC()
	if loan.ClosedAt != nil {
		closedOn = *loan.ClosedAt
	}
	return &notify.Closure{
		LoanID:         loan.ID,
		CustomerKey:    loan.CustomerKey,
		Email:          loan.CustomerEmail,
		Principal:      loan.Principal,
		TotalRepayable: total.Round(2),
		ClosedOn:       closedOn,
	}
}

func (l *Ledger) sendClosure(ctx context.Context, c notify.Closure) {
	if err := l.notifier.LoanClosed(ctx, c); err != nil {
		l.logger.Warn("failed to send closure notice", zap.Stringer("loan_id", c.LoanID), zap.Error(err))
	}
}

func (l *Ledger) addHistory(ctx context.Context, s store.Storage, loan *models.Loan, comments string) error {
	h := &models.StatusHistory{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Status:    loan.Status,
		Comments:  comments,
		CreatedAt: l.now().UTC(),
	}
	if err := s.AddStatusHistory(ctx, h); err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

// DeleteLoan removes a rejected or closed loan with its schedule, history and transactions.
func (l *Ledger) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	return l.withLoanLock(ctx, loanID, func() error {
		loan, err := l.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusRejected && loan.Status != models.LoanStatusClosed {
			return fmt.Errorf("%w: status is %s", ErrLoanNotDeletable, loan.Status)
		}
		err = l.storage.WithTx(ctx, func(s store.Storage) error {
			if err := s.DeleteInstallments(ctx, loanID); err != nil {
				return err
			}
			return s.DeleteLoan(ctx, loanID)
		})
		if err != nil {
			return err
		}
		l.logger.Info("loan deleted", zap.Stringer("loan_id", loanID))
		return nil
	})
}

// ownedLoan fetches a loan and, when customerKey is not empty, checks it belongs to that customer.
func (l *Ledger) ownedLoan(ctx context.Context, loanID uuid.UUID, customerKey string) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if customerKey != "" && loan.CustomerKey != customerKey {
		return nil, ErrForbidden
	}
	return loan, nil
}

// GetLoan retrieves a loan by its ID. A non-empty customerKey restricts access to its owner.
func (l *Ledger) GetLoan(ctx context.Context, loanID uuid.UUID, customerKey string) (*models.Loan, error) {
	return l.ownedLoan(ctx, loanID, customerKey)
}

// GetLoanOverview returns a loan with its installments and repayment totals.
func (l *Ledger) GetLoanOverview(ctx context.Context, loanID uuid.UUID, customerKey string) (*LoanOverview, error) {
	loan, err := l.ownedLoan(ctx, loanID, customerKey)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallmentsForLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	ov := &LoanOverview{
		Loan:               loan,
		Installments:       installments,
		MonthlyInstallment: decimal.Zero,
		TotalRepayable:     decimal.Zero,
		RemainingAmount:    decimal.Zero,
	}
	if ov.Installments == nil {
		ov.Installments = []*models.Installment{}
	}
	if len(installments) > 0 {
		ov.MonthlyInstallment = installments[0].Amount
	}
	for _, inst := range installments {
		ov.TotalRepayable = ov.TotalRepayable.Add(inst.Amount)
		if inst.Outstanding() {
			ov.RemainingCount++
			ov.RemainingAmount = ov.RemainingAmount.Add(inst.Amount)
		} else {
			ov.PaidCount++
		}
	}
	ov.TotalRepayable = ov.TotalRepayable.Round(2)
	ov.RemainingAmount = ov.RemainingAmount.Round(2)
	return ov, nil
}

// ListLoans returns every loan, newest first.
func (l *Ledger) ListLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// ListCustomerLoans returns one customer's loans, newest first.
func (l *Ledger) ListCustomerLoans(ctx context.Context, customerKey string) ([]*models.Loan, error) {
	return l.storage.GetLoansForCustomer(ctx, customerKey)
}

// GetStatusHistory lists a loan's status changes, oldest first.
func (l *Ledger) GetStatusHistory(ctx context.Context, loanID uuid.UUID, customerKey string) ([]*models.StatusHistory, error) {
	if _, err := l.ownedLoan(ctx, loanID, customerKey); err != nil {
		return nil, err
	}
	return l.storage.GetStatusHistory(ctx, loanID)
}

// GetTransactions lists a loan's disbursement and payment transactions.
func (l *Ledger) GetTransactions(ctx context.Context, loanID uuid.UUID, customerKey string) ([]*models.Transaction, error) {
	if _, err := l.ownedLoan(ctx, loanID, customerKey); err != nil {
		return nil, err
	}
	return l.storage.GetTransactionsForLoan(ctx, loanID)
}

// ActiveLoanCounts counts a customer's SUBMITTED or APPROVED loans per loan type.
func (l *Ledger) ActiveLoanCounts(ctx context.Context, customerKey string) ([]ActiveLoanCount, error) {
	loans, err := l.storage.GetLoansForCustomer(ctx, customerKey)
	if err != nil {
		return nil, err
	}
	types, err := l.storage.GetAllLoanTypes(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(types))
	for _, lt := range types {
		names[lt.ID] = lt.Name
	}

	counts := make(map[uuid.UUID]int)
	for _, loan := range loans {
		if isActive(loan.Status) {
			counts[loan.LoanTypeID]++
		}
	}

	out := make([]ActiveLoanCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, ActiveLoanCount{LoanTypeID: id, LoanTypeName: names[id], Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanTypeName < out[j].LoanTypeName })
	return out, nil
}
