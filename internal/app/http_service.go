package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/config"
	"github.com/dokzlo13/lightpd/internal/httpapi"
	"github.com/dokzlo13/lightpd/internal/intake"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/scheduler"
)

// HTTPService wraps the device HTTP server.
type HTTPService struct {
	cfg    *config.Config
	Server *httpapi.Server
	done   chan struct{}
}

// NewHTTPService creates a new HTTPService.
func NewHTTPService(cfg *config.Config, in *intake.Intake, out *channel.Output, sched *scheduler.Scheduler, l *ledger.Ledger) *HTTPService {
	opts := httpapi.Options{
		UploadRPS:   cfg.HTTP.UploadRPS,
		UploadBurst: cfg.HTTP.UploadBurst,
	}
	// A nil *Ledger must not become a non-nil interface.
	if l != nil {
		opts.History = l
	}
	server := httpapi.NewServer(cfg.HTTP.Addr(), in, out, sched, opts)
	return &HTTPService{
		cfg:    cfg,
		Server: server,
	}
}

// Start begins the HTTP server if enabled. A listen failure is fatal.
func (s *HTTPService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.HTTP.IsEnabled() {
		log.Info().Msg("HTTP server disabled")
		return
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.Server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}

// Wait blocks until the server has shut down or the timeout expires.
func (s *HTTPService) Wait(timeout time.Duration) {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("HTTP server did not stop in time")
	}
}
