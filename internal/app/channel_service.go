package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/config"
	"github.com/dokzlo13/lightpd/internal/eventbus"
)

// ChannelService owns the output and its driver.
type ChannelService struct {
	Output *channel.Output
	driver channel.Driver
}

// NewChannelService builds the configured driver and wraps it in an Output.
func NewChannelService(cfg *config.Config, bus *eventbus.Bus) (*ChannelService, error) {
	driver, err := newDriver(cfg.Channel)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Channel.Driver).Msg("Channel output ready")

	return &ChannelService{
		Output: channel.NewOutput(driver, bus),
		driver: driver,
	}, nil
}

func newDriver(cfg config.ChannelConfig) (channel.Driver, error) {
	switch cfg.Driver {
	case config.DriverLog:
		return channel.LogDriver{}, nil
	case config.DriverHue:
		log.Info().Str("bridge", cfg.Hue.Bridge).Int("light_id", cfg.Hue.LightID).Msg("Using Hue light as output")
		return channel.NewHueDriver(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.LightID, cfg.Hue.RateLimitRPS), nil
	case config.DriverLua:
		d, err := channel.NewLuaDriver(cfg.Lua.Script)
		if err != nil {
			return nil, fmt.Errorf("load channel script: %w", err)
		}
		log.Info().Str("script", cfg.Lua.Script).Msg("Using Lua channel script")
		return d, nil
	default:
		return nil, fmt.Errorf("unknown channel driver %q", cfg.Driver)
	}
}

// Close releases driver resources.
func (s *ChannelService) Close() {
	if d, ok := s.driver.(*channel.LuaDriver); ok {
		d.Close()
	}
}
