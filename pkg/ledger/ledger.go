package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mcclellann/emiLoan/pkg/amortization"
	"github.com/mcclellann/emiLoan/pkg/lock"
	"github.com/mcclellann/emiLoan/pkg/notify"
	"github.com/mcclellann/emiLoan/pkg/store"
)

var (
	ErrInvalidTransition     = errors.New("invalid loan status transition")
	ErrForbidden             = errors.New("resource does not belong to customer")
	ErrInstallmentNotPayable = errors.New("installment is not pending or late")
	ErrLoanNotActive         = errors.New("loan is not approved")
	ErrLoanNotDeletable      = errors.New("loan can only be deleted if it is rejected or closed")
	ErrLoanLimitReached      = errors.New("active loan limit reached for this loan type")
)

// Ledger handles the business logic for loan products, loans and their installments.
type Ledger struct {
	storage  store.Storage
	engine   *amortization.Engine
	locker   lock.Locker
	notifier notify.Notifier
	validate *validator.Validate
	group    singleflight.Group
	mc       amortization.MathContext
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Ledger)

// WithLocker sets the per-loan locker. Defaults to an in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(led *Ledger) { led.locker = l }
}

// WithNotifier sets where payment receipts and closure notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(led *Ledger) { led.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(led *Ledger) { led.logger = logger }
}

// WithMathContext sets the precision used for schedule generation.
func WithMathContext(mc amortization.MathContext) Option {
	return func(led *Ledger) { led.mc = mc }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		validate: newValidator(),
		mc:       amortization.DefaultContext,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.locker == nil {
		l.locker = lock.NewLocalLocker()
	}
	if l.notifier == nil {
		l.notifier = notify.NewLogNotifier(l.logger)
	}
	l.engine = amortization.NewEngine(s,
		amortization.WithMathContext(l.mc),
		amortization.WithClock(l.now),
		amortization.WithLogger(l.logger.Named("amortization")),
	)
	return l
}

// withLoanLock runs fn while holding the lock for one loan.
func (l *Ledger) withLoanLock(ctx context.Context, loanID uuid.UUID, fn func() error) error {
	return l.withLock(ctx, "loan:"+loanID.String(), fn)
}

func (l *Ledger) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := l.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

// today is the current UTC calendar day at midnight.
func (l *Ledger) today() time.Time {
	return amortization.DateOf(l.now())
}
