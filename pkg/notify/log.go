package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier records notices in the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// InstallmentPaid implements Notifier.
func (n *LogNotifier) InstallmentPaid(_ context.Context, r Receipt) error {
	n.logger.Info("installment paid",
		zap.Stringer("loan_id", r.LoanID),
		zap.String("customer_key", r.CustomerKey),
		zap.Int("sequence_index", r.SequenceIndex),
		zap.String("amount", r.Amount.StringFixed(2)),
		zap.String("reference", r.Reference),
		zap.Int("remaining", r.Remaining),
	)
	return nil
}

// LoanClosed implements Notifier.
func (n *LogNotifier) LoanClosed(_ context.Context, c Closure) error {
	n.logger.Info("loan closed",
		zap.Stringer("loan_id", c.LoanID),
		zap.String("customer_key", c.CustomerKey),
		zap.String("total_repayable", c.TotalRepayable.StringFixed(2)),
		zap.Time("closed_on", c.ClosedOn),
	)
	return nil
}
