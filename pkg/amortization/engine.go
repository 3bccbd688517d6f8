package amortization

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/emiLoan/pkg/models"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs. SaveInstallments must be all-or-nothing.
type Store interface {
	CountInstallments(ctx context.Context, loanID uuid.UUID) (int, error)
	SaveInstallments(ctx context.Context, loanID uuid.UUID, installments []*models.Installment) error
}

// Engine materializes installment schedules for approved loans. It keeps no state between
// calls; callers serialize GenerateSchedule per loan so the count check and the insert
// cannot interleave with a duplicate trigger.
type Engine struct {
	store  Store
	mc     MathContext
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Engine)

// WithMathContext overrides the precision used for intermediate arithmetic.
func WithMathContext(mc MathContext) Option {
	return func(e *Engine) { e.mc = mc }
}

// WithClock overrides the generation time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine over the given Store.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		mc:     DefaultContext,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Using returns a copy of the engine that persists through s, e.g. a transaction-scoped store.
func (e *Engine) Using(s Store) *Engine {
	c := *e
	c.store = s
	return &c
}

// MathContext returns the precision settings the engine computes with.
func (e *Engine) MathContext() MathContext {
	return e.mc
}

// GenerateSchedule builds and persists the installment schedule of a loan. When the loan
// already has installments nothing is written and an empty slice is returned.
func (e *Engine) GenerateSchedule(ctx context.Context, loan *models.Loan) ([]*models.Installment, error) {
	existing, err := e.store.CountInstallments(ctx, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count installments for loan %s: %w", loan.ID, err)
	}
	if existing > 0 {
		e.logger.Debug("schedule already generated", zap.Stringer("loan_id", loan.ID), zap.Int("installments", existing))
		return []*models.Installment{}, nil
	}

	generatedAt := e.now()
	schedule := BuildSchedule(e.mc, Terms{
		Principal:         loan.Principal,
		AnnualRatePercent: loan.AppliedInterestRate,
		TenureYears:       loan.TenureYears,
	}, generatedAt)
	if len(schedule.Entries) == 0 {
		return []*models.Installment{}, nil
	}

	installments := make([]*models.Installment, 0, len(schedule.Entries))
	for _, entry := range schedule.Entries {
		installments = append(installments, &models.Installment{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			SequenceIndex:    entry.SequenceIndex,
			Amount:           entry.Amount,
			DueDate:          entry.DueDate,
			Status:           models.InstallmentStatusPending,
			RemainingBalance: entry.RemainingBalance,
			CreatedAt:        generatedAt,
			UpdatedAt:        generatedAt,
		})
	}

	if err := e.store.SaveInstallments(ctx, loan.ID, installments); err != nil {
		return nil, fmt.Errorf("failed to save schedule for loan %s: %w", loan.ID, err)
	}

	e.logger.Info("generated EMI schedule",
		zap.Stringer("loan_id", loan.ID),
		zap.Int("installments", len(installments)),
		zap.String("installment", schedule.Installment.StringFixed(2)),
		zap.String("total_repayable", schedule.TotalRepayable.StringFixed(2)),
	)
	return installments, nil
}
