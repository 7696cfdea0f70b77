package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/program"
)

// DefaultRampStep is the write interval during a ramp: fast enough to look
// continuous, slow enough to leave the output driver idle most of the time.
const DefaultRampStep = 20 * time.Millisecond

// abortTimeout bounds the restore write made after cancellation.
const abortTimeout = 2 * time.Second

// Executor runs action sequences to completion in real time.
type Executor struct {
	light    Light
	clock    clock.Clock
	rampStep time.Duration
}

// New creates an executor. Timing uses the host clock, not the synced wall
// clock, so a time sync during an action does not distort it.
func New(light Light, rampStep time.Duration) *Executor {
	return NewWithClock(light, rampStep, clock.System{})
}

// NewWithClock creates an executor with a custom time source.
func NewWithClock(light Light, rampStep time.Duration, c clock.Clock) *Executor {
	if rampStep <= 0 {
		rampStep = DefaultRampStep
	}
	return &Executor{light: light, clock: c, rampStep: rampStep}
}

// Execute blocks until every action has completed or ctx is cancelled.
// On cancellation a running blink restores its starting level before
// Execute returns ctx.Err(). Otherwise the first output write error, if
// any, is returned after all actions ran.
func (e *Executor) Execute(ctx context.Context, actions []program.Action) error {
	run := NewRun(actions, e.light, e.rampStep)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wake, done := run.Step(ctx, e.clock.Now())
		if done {
			if n := run.WriteErrors(); n > 0 {
				log.Warn().Int("write_errors", n).Msg("Program finished with output errors")
			}
			return run.Err()
		}

		wait := wake.Sub(e.clock.Now())
		if wait <= 0 {
			if err := ctx.Err(); err != nil {
				e.abort(ctx, run)
				return err
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			e.abort(ctx, run)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Executor) abort(ctx context.Context, run *Run) {
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	run.Abort(restoreCtx)
	log.Info().Msg("Program execution cancelled")
}
