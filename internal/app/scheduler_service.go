package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/config"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/scheduler"
	"github.com/dokzlo13/lightpd/internal/store"
)

// SchedulerService wraps the scheduler and related periodic tasks.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
	done      chan struct{}
	started   bool
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(
	cfg *config.Config,
	st *store.Store,
	exec scheduler.Executor,
	wall *clock.Wall,
	bus *eventbus.Bus,
	l *ledger.Ledger,
) *SchedulerService {
	sched := scheduler.New(st, exec, wall, scheduler.Options{
		Interval: cfg.Scheduler.PollInterval.Duration(),
		Bus:      bus,
		Ledger:   l,
		Timezone: cfg.Timezone,
	})

	return &SchedulerService{
		cfg:       cfg,
		Scheduler: sched,
		ledger:    l,
		done:      make(chan struct{}),
	}
}

// Start begins the scheduler and related periodic tasks.
func (s *SchedulerService) Start(ctx context.Context) {
	s.started = true
	go func() {
		defer close(s.done)
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()

	// Ledger cleanup (if ledger is enabled)
	if s.ledger != nil {
		go s.runLedgerCleanup(ctx)
	}
}

// Wait blocks until the scheduler loop has returned or the timeout expires.
// A program interrupted by shutdown finishes its restore write before Run returns.
func (s *SchedulerService) Wait(timeout time.Duration) {
	if !s.started {
		return
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Scheduler did not stop in time")
	}
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
