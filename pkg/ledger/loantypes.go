package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/models"
)

// CreateLoanType adds a loan product.
func (l *Ledger) CreateLoanType(ctx context.Context, req LoanTypeRequest) (*models.LoanType, error) {
	if err := l.validateLoanType(&req); err != nil {
		return nil, err
	}
	if req.MaxLoansPerCustomer == 0 {
		req.MaxLoansPerCustomer = defaultLoansPerType
	}

	now := l.now().UTC()
	lt := &models.LoanType{
		ID:                  uuid.New(),
		Name:                req.Name,
		InterestRate:        req.InterestRate,
		MaxTenureYears:      req.MaxTenureYears,
		MaxLoanAmount:       req.MaxLoanAmount,
		MaxLoansPerCustomer: req.MaxLoansPerCustomer,
		PenaltyRatePercent:  req.PenaltyRatePercent,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := l.storage.CreateLoanType(ctx, lt); err != nil {
		return nil, fmt.Errorf("failed to store loan type: %w", err)
	}

	l.logger.Info("loan type created", zap.Stringer("loan_type_id", lt.ID), zap.String("name", lt.Name))
	return lt, nil
}

// UpdateLoanType changes a product's terms. Loans already applied for keep the
// rate they were given.
func (l *Ledger) UpdateLoanType(ctx context.Context, id uuid.UUID, req LoanTypeRequest) (*models.LoanType, error) {
	if err := l.validateLoanType(&req); err != nil {
		return nil, err
	}

	lt, err := l.storage.GetLoanType(ctx, id)
	if err != nil {
		return nil, err
	}
	lt.Name = req.Name
	lt.InterestRate = req.InterestRate
	lt.MaxTenureYears = req.MaxTenureYears
	lt.MaxLoanAmount = req.MaxLoanAmount
	lt.PenaltyRatePercent = req.PenaltyRatePercent
	if req.MaxLoansPerCustomer != 0 {
		lt.MaxLoansPerCustomer = req.MaxLoansPerCustomer
	}
	lt.UpdatedAt = l.now().UTC()

	if err := l.storage.UpdateLoanType(ctx, lt); err != nil {
		return nil, fmt.Errorf("failed to update loan type: %w", err)
	}
	return lt, nil
}

// ListLoanTypes returns every loan product.
func (l *Ledger) ListLoanTypes(ctx context.Context) ([]*models.LoanType, error) {
	return l.storage.GetAllLoanTypes(ctx)
}
