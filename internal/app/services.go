package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/config"
	"github.com/dokzlo13/lightpd/internal/db"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/executor"
	"github.com/dokzlo13/lightpd/internal/intake"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/store"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when disabled
	Bus    *eventbus.Bus
	Clock  *clock.Wall

	// Program pipeline
	Store    *store.Store
	Channel  *ChannelService
	Executor *executor.Executor
	Intake   *intake.Intake

	// High-level services
	Scheduler *SchedulerService
	HTTP      *HTTPService
	Notify    *NotifyService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database and ledger
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
	} else {
		log.Info().Msg("Event ledger disabled")
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Wall clock follows the host until the first time sync
	s.Clock = clock.NewWall(nil)
	s.Store = store.New()

	var err error
	s.Channel, err = NewChannelService(cfg, s.Bus)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Executor = executor.New(s.Channel.Output, cfg.Executor.RampStep.Duration())
	s.Intake = intake.New(s.Store, s.Clock, intake.Options{Bus: s.Bus, Ledger: s.Ledger})

	s.Scheduler = NewSchedulerService(cfg, s.Store, s.Executor, s.Clock, s.Bus, s.Ledger)
	s.HTTP = NewHTTPService(cfg, s.Intake, s.Channel.Output, s.Scheduler.Scheduler, s.Ledger)
	s.Notify = NewNotifyService(cfg, s.Bus)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the HTTP listener fails).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Observers subscribe before anything can publish
	if err := s.Notify.Start(ctx); err != nil {
		return err
	}

	s.Scheduler.Start(ctx)
	s.HTTP.Start(ctx, onFatalError)

	return nil
}

// Stop gracefully stops all services. The context passed to Start must
// already be cancelled.
func (s *Services) Stop() error {
	timeout := s.cfg.GetShutdownTimeout()

	s.HTTP.Wait(timeout)
	s.Scheduler.Wait(timeout)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Notify != nil {
		s.Notify.Close()
	}
	if s.Channel != nil {
		s.Channel.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
