package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the reconciler on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	rec     *Reconciler
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler registers the sweep under spec (standard five-field cron
// syntax, or descriptors such as "@every 15m").
func NewScheduler(rec *Reconciler, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		rec:     rec,
		logger:  logger,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.logger.Info("running job: ledger reconciliation")
	rep, err := s.rec.Run(ctx)
	if err != nil {
		s.logger.Error("ledger reconciliation failed", "error", err)
		return
	}
	s.logger.Info("ledger reconciliation finished",
		"checked", rep.Checked, "resumed", rep.Resumed, "drifts", len(rep.Drifts), "duration", rep.Duration)
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
