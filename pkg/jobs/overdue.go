// Package jobs runs periodic maintenance on the loan book.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepTimeout = 5 * time.Minute

// Sweeper marks installments past their due date as late.
type Sweeper interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// OverdueSweep runs a Sweeper on a cron schedule.
type OverdueSweep struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
}

// NewOverdueSweep registers the sweep under spec (standard five-field cron or a
// descriptor such as @daily).
func NewOverdueSweep(spec string, sweeper Sweeper, logger *zap.Logger) (*OverdueSweep, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OverdueSweep{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		sweeper: sweeper,
		logger:  logger.Named("jobs"),
	}
	if _, err := s.cron.AddFunc(spec, s.Run); err != nil {
		return nil, fmt.Errorf("jobs: invalid overdue sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run performs one sweep.
func (s *OverdueSweep) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.sweeper.MarkOverdue(ctx)
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("overdue sweep finished", zap.Int("marked_late", n), zap.Duration("took", time.Since(start)))
}

// Start begins running the schedule in the background.
func (s *OverdueSweep) Start() {
	s.cron.Start()
	s.logger.Info("overdue sweep scheduled")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *OverdueSweep) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
