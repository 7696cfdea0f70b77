// Package program defines light programs: a schedule paired with an ordered
// sequence of output actions for the cool-white and warm-white channels.
package program

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the variant held by an Action. The numeric values are the
// wire tags used by the codec.
type Kind uint8

const (
	KindFixed Kind = 0
	KindRamp  Kind = 1
	KindBlink Kind = 2
)

// ErrInvalidRampDuration is returned for a ramp with zero duration.
var ErrInvalidRampDuration = errors.New("ramp duration must be greater than zero")

// Ramp defaults applied when a ramp is created without explicit values.
const (
	DefaultRampDurationMs uint64 = 30000
	DefaultRampTarget     uint8  = 255
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindRamp:
		return "ramp"
	case KindBlink:
		return "blink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Fixed holds a constant level for DurationMs.
type Fixed struct {
	DurationMs uint64
	CW         uint8
	WW         uint8
}

// Ramp moves linearly from the current level to the target over DurationMs.
type Ramp struct {
	DurationMs uint64
	TargetCW   uint8
	TargetWW   uint8
}

// Blink alternates between a high and a low level for BlinkDurationMs in total.
type Blink struct {
	BlinkDurationMs uint64
	HighDurationMs  uint16
	LowDurationMs   uint16
	HighCW          uint8
	HighWW          uint8
	LowCW           uint8
	LowWW           uint8
}

// Action is a closed variant over Fixed, Ramp and Blink. Only the payload
// matching Kind is meaningful; the others stay zero so that == compares
// actions structurally.
type Action struct {
	Kind  Kind
	Fixed Fixed
	Ramp  Ramp
	Blink Blink
}

// NewFixed returns an action that writes (cw, ww) and holds it for durationMs.
func NewFixed(durationMs uint64, cw, ww uint8) Action {
	return Action{Kind: KindFixed, Fixed: Fixed{DurationMs: durationMs, CW: cw, WW: ww}}
}

// NewRamp returns an action that moves linearly from the current level to the
// target over durationMs.
func NewRamp(durationMs uint64, targetCW, targetWW uint8) Action {
	return Action{Kind: KindRamp, Ramp: Ramp{DurationMs: durationMs, TargetCW: targetCW, TargetWW: targetWW}}
}

// DefaultRamp returns a 30 second ramp to full output on both channels.
func DefaultRamp() Action {
	return NewRamp(DefaultRampDurationMs, DefaultRampTarget, DefaultRampTarget)
}

// NewBlink returns an action that alternates between the high and low levels
// for blinkDurationMs, then restores the level it started from.
func NewBlink(blinkDurationMs uint64, highMs, lowMs uint16, highCW, highWW, lowCW, lowWW uint8) Action {
	return Action{Kind: KindBlink, Blink: Blink{
		BlinkDurationMs: blinkDurationMs,
		HighDurationMs:  highMs,
		LowDurationMs:   lowMs,
		HighCW:          highCW,
		HighWW:          highWW,
		LowCW:           lowCW,
		LowWW:           lowWW,
	}}
}

// Validate reports whether the action may be stored. Zero-length fixed and
// blink actions are accepted as no-ops.
func (a Action) Validate() error {
	switch a.Kind {
	case KindFixed, KindBlink:
		return nil
	case KindRamp:
		if a.Ramp.DurationMs == 0 {
			return ErrInvalidRampDuration
		}
		return nil
	default:
		return fmt.Errorf("unknown action kind %d", uint8(a.Kind))
	}
}

// Duration returns the nominal running time of the action.
func (a Action) Duration() time.Duration {
	switch a.Kind {
	case KindFixed:
		return time.Duration(a.Fixed.DurationMs) * time.Millisecond
	case KindRamp:
		return time.Duration(a.Ramp.DurationMs) * time.Millisecond
	case KindBlink:
		return time.Duration(a.Blink.BlinkDurationMs) * time.Millisecond
	default:
		return 0
	}
}

func (a Action) String() string {
	switch a.Kind {
	case KindFixed:
		return fmt.Sprintf("fixed %d/%d for %dms", a.Fixed.CW, a.Fixed.WW, a.Fixed.DurationMs)
	case KindRamp:
		return fmt.Sprintf("ramp to %d/%d over %dms", a.Ramp.TargetCW, a.Ramp.TargetWW, a.Ramp.DurationMs)
	case KindBlink:
		b := a.Blink
		return fmt.Sprintf("blink %d/%d (%dms) <-> %d/%d (%dms) for %dms",
			b.HighCW, b.HighWW, b.HighDurationMs, b.LowCW, b.LowWW, b.LowDurationMs, b.BlinkDurationMs)
	default:
		return a.Kind.String()
	}
}
