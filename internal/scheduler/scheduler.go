// Package scheduler polls the program store and runs programs whose trigger
// time has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/program"
	"github.com/dokzlo13/lightpd/internal/store"
)

// DefaultPollInterval is the tick cadence used when none is configured.
const DefaultPollInterval = time.Second

// ErrExecutionPanicked wraps a panic recovered from a program run.
var ErrExecutionPanicked = errors.New("program execution panicked")

// Executor runs one program's actions to completion.
type Executor interface {
	Execute(ctx context.Context, actions []program.Action) error
}

// Options configures optional scheduler collaborators. Zero values are valid.
type Options struct {
	Interval time.Duration
	Bus      *eventbus.Bus
	Ledger   *ledger.Ledger
	Timezone string
}

// Scheduler evaluates stored programs against the wall clock.
// Due programs run sequentially on the ticking goroutine.
type Scheduler struct {
	store    *store.Store
	exec     Executor
	clock    clock.Clock
	interval time.Duration

	bus    *eventbus.Bus
	ledger *ledger.Ledger
	tz     *time.Location

	mu    sync.Mutex
	inert map[string]struct{} // weekday entries already reported
}

// New creates a scheduler.
func New(st *store.Store, exec Executor, c clock.Clock, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}

	tz := time.UTC
	if opts.Timezone != "" {
		loc, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			log.Warn().Err(err).Str("timezone", opts.Timezone).Msg("Failed to load timezone, using UTC")
		} else {
			tz = loc
		}
	}

	return &Scheduler{
		store:    st,
		exec:     exec,
		clock:    c,
		interval: opts.Interval,
		bus:      opts.Bus,
		ledger:   opts.Ledger,
		tz:       tz,
		inert:    make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("poll_interval", s.interval).Msg("Scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick evaluates every stored program once and returns how many were run.
// Programs are visited in insertion order; all due ones run on this tick.
func (s *Scheduler) Tick(ctx context.Context) int {
	entries := s.store.All()
	if len(entries) == 0 {
		return 0
	}
	now := s.clock.Now()

	ran := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return ran
		}

		switch e.Program.Schedule.Kind {
		case program.ScheduleMoment:
			at := e.Program.Schedule.Moment.Time()
			if at.After(now) {
				continue
			}
			if !s.runEntry(ctx, e, at) {
				return ran
			}
			ran++

		case program.ScheduleWeekdays:
			s.reportInert(e)

		default:
			log.Warn().Str("program_id", e.ID).Str("schedule", e.Program.Schedule.Kind.String()).Msg("Unknown schedule kind")
		}
	}

	s.forgetRemoved(entries)
	return ran
}

// runEntry executes a due program and removes it. It returns false when the
// run was cancelled, in which case the program stays stored.
func (s *Scheduler) runEntry(ctx context.Context, e store.Entry, at time.Time) bool {
	log.Info().
		Str("program_id", e.ID).
		Time("trigger", at.In(s.tz)).
		Int("actions", len(e.Program.Actions)).
		Msg("Executing program")

	start := time.Now()
	err := s.execute(ctx, e)
	elapsed := time.Since(start)

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Info().Str("program_id", e.ID).Dur("elapsed", elapsed).Msg("Program interrupted, keeping it stored")
		return false
	}

	eventType := ledger.EventProgramExecuted
	payload := map[string]any{"elapsed_ms": elapsed.Milliseconds(), "trigger": at.Unix()}
	if err != nil {
		eventType = ledger.EventProgramFailed
		payload["error"] = err.Error()
		log.Error().Err(err).Str("program_id", e.ID).Dur("elapsed", elapsed).Msg("Program finished with errors")
	} else {
		log.Info().Str("program_id", e.ID).Dur("elapsed", elapsed).Msg("Program completed")
	}

	if lerr := s.ledger.AppendWithSource(eventType, e.ID, "scheduler", payload); lerr != nil {
		log.Warn().Err(lerr).Str("program_id", e.ID).Msg("Failed to record execution in ledger")
	}
	s.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeProgramExecuted,
		Payload: eventbus.ProgramExecuted{ID: e.ID, Err: err},
	})

	s.store.Remove(e.Program)
	return true
}

func (s *Scheduler) execute(ctx context.Context, e store.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutionPanicked, r)
		}
	}()
	return s.exec.Execute(ctx, e.Program.Actions)
}

// reportInert logs a weekday program once. Recurring schedules are kept but
// never evaluated.
func (s *Scheduler) reportInert(e store.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.inert[e.ID]; seen {
		return
	}
	s.inert[e.ID] = struct{}{}
	log.Debug().
		Str("program_id", e.ID).
		Str("schedule", e.Program.Schedule.String()).
		Msg("Weekday schedule not evaluated")
}

func (s *Scheduler) forgetRemoved(entries []store.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inert) == 0 {
		return
	}
	live := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		live[e.ID] = struct{}{}
	}
	for id := range s.inert {
		if _, ok := live[id]; !ok {
			delete(s.inert, id)
		}
	}
}

// Timezone returns the zone used to render trigger times.
func (s *Scheduler) Timezone() *time.Location {
	return s.tz
}
