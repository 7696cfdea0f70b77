// Package channel owns the cool-white/warm-white output state and applies it
// to a hardware driver.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/eventbus"
)

// ErrChannelUnavailable is reported when an output is used before it exists.
// Reads degrade to (0,0).
var ErrChannelUnavailable = errors.New("channel output unavailable")

// Level is an 8-bit intensity per channel.
type Level struct {
	CW uint8
	WW uint8
}

func (l Level) String() string {
	return fmt.Sprintf("%d/%d", l.CW, l.WW)
}

// Bytes renders the level as the 2 byte light state payload.
func (l Level) Bytes() []byte {
	return []byte{l.CW, l.WW}
}

// LevelFromBytes parses a light state payload.
func LevelFromBytes(b []byte) (Level, error) {
	if len(b) < 2 {
		return Level{}, fmt.Errorf("light state needs 2 bytes, got %d", len(b))
	}
	return Level{CW: b[0], WW: b[1]}, nil
}

// Driver applies a level to hardware.
type Driver interface {
	Apply(ctx context.Context, l Level) error
}

// Output holds the last committed level. Writes equal to it are suppressed;
// every committed change is published as a light_state event.
type Output struct {
	mu        sync.Mutex
	driver    Driver
	bus       *eventbus.Bus
	committed Level
}

// NewOutput creates an output starting at (0,0). bus may be nil.
func NewOutput(driver Driver, bus *eventbus.Bus) *Output {
	return &Output{driver: driver, bus: bus}
}

// Get returns the last committed level.
func (o *Output) Get() Level {
	if o == nil {
		log.Error().Err(ErrChannelUnavailable).Msg("Reading light state")
		return Level{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed
}

// Set applies l unless it equals the committed level. It reports whether the
// driver was written. On driver failure the committed level is unchanged.
func (o *Output) Set(ctx context.Context, l Level) (bool, error) {
	if o == nil || o.driver == nil {
		return false, ErrChannelUnavailable
	}

	o.mu.Lock()
	if l == o.committed {
		o.mu.Unlock()
		return false, nil
	}
	if err := o.driver.Apply(ctx, l); err != nil {
		o.mu.Unlock()
		return false, fmt.Errorf("apply %s: %w", l, err)
	}
	o.committed = l
	o.mu.Unlock()

	o.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeLightState,
		Payload: eventbus.LightState{CW: l.CW, WW: l.WW},
	})
	return true, nil
}
