package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewScheduler(engine *Engine, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		timeout:  interval,
		log:      log.Named("reconcile-scheduler"),
	}
}

// Start runs reconciliation every interval until ctx is done. A failed run
// is logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		s.log.Info("reconciliation scheduler disabled")
		<-ctx.Done()
		return nil
	}
	s.log.Info("reconciliation scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	run, err := s.engine.Run(ctx)
	if err != nil {
		if parent.Err() == nil {
			s.log.Error("scheduled reconciliation failed", zap.Error(err))
		}
		return
	}
	s.log.Debug("scheduled reconciliation",
		zap.Bool("match", run.Match),
		zap.Duration("took", time.Since(start)))
}
