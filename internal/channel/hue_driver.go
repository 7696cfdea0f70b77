package channel

import (
	"context"
	"fmt"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Hue colour temperature range in mireds.
const (
	hueCoolMired = 153
	hueWarmMired = 500
)

// HueLightSetter is the part of *huego.Bridge the driver uses.
type HueLightSetter interface {
	SetLightState(id int, state huego.State) (*huego.Response, error)
}

// HueDriver mirrors the output onto a single Hue light: brightness follows
// the brighter channel, colour temperature follows the cw/ww balance.
type HueDriver struct {
	bridge  HueLightSetter
	lightID int
	limiter *rate.Limiter
}

// NewHueDriver connects to a bridge by address and application key.
// rps limits bridge requests; the bridge drops commands above ~10/s.
func NewHueDriver(address, token string, lightID int, rps float64) *HueDriver {
	return NewHueDriverWithBridge(huego.New(address, token), lightID, rps)
}

// NewHueDriverWithBridge wraps an existing bridge client.
func NewHueDriverWithBridge(bridge HueLightSetter, lightID int, rps float64) *HueDriver {
	if rps <= 0 {
		rps = 10
	}
	return &HueDriver{
		bridge:  bridge,
		lightID: lightID,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Apply waits for the rate limiter and then updates the light.
func (d *HueDriver) Apply(ctx context.Context, l Level) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	state := HueState(l)
	if _, err := d.bridge.SetLightState(d.lightID, state); err != nil {
		return fmt.Errorf("hue light %d: %w", d.lightID, err)
	}

	log.Debug().
		Int("light", d.lightID).
		Bool("on", state.On).
		Uint8("bri", state.Bri).
		Uint16("ct", state.Ct).
		Msg("Hue light updated")
	return nil
}

// HueState converts a channel level into a Hue light state.
func HueState(l Level) huego.State {
	if l.CW == 0 && l.WW == 0 {
		return huego.State{On: false}
	}

	peak := l.CW
	if l.WW > peak {
		peak = l.WW
	}
	// 1..255 onto Hue's 1..254
	bri := 1 + int(peak-1)*253/254

	warmth := int(l.WW) * (hueWarmMired - hueCoolMired) / (int(l.CW) + int(l.WW))

	return huego.State{
		On:  true,
		Bri: uint8(bri),
		Ct:  uint16(hueCoolMired + warmth),
	}
}
