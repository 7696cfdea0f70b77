// Package executor interprets light program actions against the channel
// output.
//
// A Run is an explicit step machine: Step takes the current time, performs
// every write that is due and returns when it next needs to be called. The
// Executor drives a Run in real time; tests drive it with synthetic times.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/program"
)

// Light is the output the actions write to.
type Light interface {
	Get() channel.Level
	Set(ctx context.Context, l channel.Level) (bool, error)
}

// minBlinkHold keeps a blink with zero-length phases from spinning.
const minBlinkHold = time.Millisecond

type blinkPhase int

const (
	blinkLoop blinkPhase = iota
	blinkHigh
	blinkLow
)

// Run is the execution state of one action sequence.
type Run struct {
	actions  []program.Action
	light    Light
	rampStep time.Duration

	idx     int
	entered bool

	// current action state
	startAt  time.Time
	deadline time.Time
	from     channel.Level
	phase    blinkPhase
	wake     time.Time

	writeErrs int
	err       error
}

// NewRun prepares actions for stepping. rampStep is the interval between
// ramp writes.
func NewRun(actions []program.Action, light Light, rampStep time.Duration) *Run {
	if rampStep <= 0 {
		rampStep = DefaultRampStep
	}
	return &Run{actions: actions, light: light, rampStep: rampStep}
}

// Done reports whether every action has completed.
func (r *Run) Done() bool {
	return r.idx >= len(r.actions)
}

// Err returns the first output write failure, if any. Write failures do not
// stop the run.
func (r *Run) Err() error {
	return r.err
}

// WriteErrors returns the number of failed output writes.
func (r *Run) WriteErrors() int {
	return r.writeErrs
}

// Step performs all writes due at now. It returns the time the next write is
// due, or done once the last action has finished.
func (r *Run) Step(ctx context.Context, now time.Time) (wake time.Time, done bool) {
	for r.idx < len(r.actions) {
		a := r.actions[r.idx]

		if !r.entered {
			log.Debug().Int("index", r.idx).Str("action", a.String()).Msg("Starting action")
			r.enter(ctx, a, now)
			r.entered = true
		}

		var finished bool
		switch a.Kind {
		case program.KindFixed:
			wake, finished = r.stepFixed(now)
		case program.KindRamp:
			wake, finished = r.stepRamp(ctx, a.Ramp, now)
		case program.KindBlink:
			wake, finished = r.stepBlink(ctx, a.Blink, now)
		default:
			log.Warn().Int("index", r.idx).Str("kind", a.Kind.String()).Msg("Skipping unknown action")
			finished = true
		}

		if !finished {
			return wake, false
		}
		r.idx++
		r.entered = false
	}
	return now, true
}

// Abort ends the run early. An interrupted blink restores the level it
// started from.
func (r *Run) Abort(ctx context.Context) {
	if r.Done() {
		return
	}
	if r.entered && r.actions[r.idx].Kind == program.KindBlink {
		r.set(ctx, r.from)
	}
	r.idx = len(r.actions)
	r.entered = false
}

func (r *Run) enter(ctx context.Context, a program.Action, now time.Time) {
	r.startAt = now
	switch a.Kind {
	case program.KindFixed:
		r.set(ctx, channel.Level{CW: a.Fixed.CW, WW: a.Fixed.WW})
		r.deadline = now.Add(a.Duration())
	case program.KindRamp:
		r.from = r.light.Get()
		r.deadline = now.Add(a.Duration())
	case program.KindBlink:
		r.from = r.light.Get()
		r.deadline = now.Add(a.Duration())
		r.phase = blinkLoop
	}
}

func (r *Run) stepFixed(now time.Time) (time.Time, bool) {
	if now.Before(r.deadline) {
		return r.deadline, false
	}
	return now, true
}

func (r *Run) stepRamp(ctx context.Context, a program.Ramp, now time.Time) (time.Time, bool) {
	elapsed := now.Sub(r.startAt)
	r.set(ctx, RampLevel(r.from, channel.Level{CW: a.TargetCW, WW: a.TargetWW}, elapsed, time.Duration(a.DurationMs)*time.Millisecond))

	if !now.Before(r.deadline) {
		return now, true
	}

	// The last sample is the first one taken at or after the deadline.
	return now.Add(r.rampStep), false
}

func (r *Run) stepBlink(ctx context.Context, a program.Blink, now time.Time) (time.Time, bool) {
	for {
		switch r.phase {
		case blinkLoop:
			if !now.Before(r.deadline) {
				r.set(ctx, r.from)
				return now, true
			}
			r.set(ctx, channel.Level{CW: a.HighCW, WW: a.HighWW})
			r.wake = now.Add(r.blinkHold(a.HighDurationMs, a.LowDurationMs, now))
			r.phase = blinkHigh

		case blinkHigh:
			if now.Before(r.wake) {
				return r.wake, false
			}
			r.set(ctx, channel.Level{CW: a.LowCW, WW: a.LowWW})
			r.wake = now.Add(r.blinkHold(a.LowDurationMs, a.HighDurationMs, now))
			r.phase = blinkLow

		case blinkLow:
			if now.Before(r.wake) {
				return r.wake, false
			}
			r.phase = blinkLoop
		}
	}
}

// blinkHold is min(phase, remaining). When both phases are zero it is
// floored so the loop still advances.
func (r *Run) blinkHold(phaseMs, otherMs uint16, now time.Time) time.Duration {
	hold := time.Duration(phaseMs) * time.Millisecond
	if remaining := r.deadline.Sub(now); remaining < hold {
		hold = remaining
	}
	if hold < 0 {
		hold = 0
	}
	if phaseMs == 0 && otherMs == 0 && hold == 0 && now.Before(r.deadline) {
		hold = minBlinkHold
	}
	return hold
}

func (r *Run) set(ctx context.Context, l channel.Level) {
	if _, err := r.light.Set(ctx, l); err != nil {
		r.writeErrs++
		if r.err == nil {
			r.err = err
		}
		log.Warn().Err(err).Int("index", r.idx).Str("level", l.String()).Msg("Light write failed")
	}
}

// RampLevel interpolates linearly between from and to. Values are truncated
// toward zero and never leave the from..to range.
func RampLevel(from, to channel.Level, elapsed, duration time.Duration) channel.Level {
	p := 1.0
	if duration > 0 {
		p = float64(elapsed.Microseconds()) / float64(duration.Microseconds())
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return channel.Level{
		CW: lerp(from.CW, to.CW, p),
		WW: lerp(from.WW, to.WW, p),
	}
}

func lerp(from, to uint8, p float64) uint8 {
	v := float64(from) + p*float64(int(to)-int(from))
	lo, hi := float64(from), float64(to)
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return uint8(v)
}
