package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/config"
)

// App owns the device services and drives their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires every service from cfg without starting anything.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Services exposes the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start brings the device up. Cancelling ctx, or a fatal error from any
// service, ends the app context.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	fatal := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}
	if err := a.services.Start(a.ctx, fatal); err != nil {
		a.cancel()
		return err
	}

	ev := log.Info().
		Str("driver", a.cfg.Channel.Driver).
		Bool("ledger", a.services.Ledger != nil).
		Str("timezone", a.services.Scheduler.Scheduler.Timezone().String())
	if a.cfg.HTTP.IsEnabled() {
		ev = ev.Str("http", a.cfg.HTTP.Addr())
	}
	ev.Msg("lightpd started")

	if !a.services.Clock.Synced() {
		log.Warn().Msg("Wall clock not synced yet; timed programs wait for PUT /time")
	}
	return nil
}

// Stop cancels the app context and waits for the services to drain.
func (a *App) Stop() error {
	log.Info().Int("pending", a.services.Store.Len()).Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	return a.services.Stop()
}

// Wait blocks until the app context ends.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Run starts the app, blocks until ctx is cancelled or a service fails, and
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.services.Close()
		return err
	}
	a.Wait()
	return a.Stop()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		signal.Stop(sig)
		log.Warn().Str("signal", s.String()).Msg("Received shutdown signal")
		cancel()
	}()
	return ctx
}
