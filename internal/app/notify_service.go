package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/config"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/notify"
)

// NotifyService broadcasts bus events to Redis when enabled.
type NotifyService struct {
	cfg    *config.Config
	bus    *eventbus.Bus
	client *notify.RedisClient
}

// NewNotifyService creates a new NotifyService. It does not connect.
func NewNotifyService(cfg *config.Config, bus *eventbus.Bus) *NotifyService {
	return &NotifyService{cfg: cfg, bus: bus}
}

// Start connects to Redis and subscribes the broadcaster.
func (s *NotifyService) Start(ctx context.Context) error {
	if !s.cfg.Redis.Enabled {
		log.Debug().Msg("Redis broadcast disabled")
		return nil
	}

	client, err := notify.NewRedisClient(ctx, notify.RedisOptions{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	s.client = client

	b := notify.NewBroadcaster(client, s.cfg.Redis.ChannelPrefix)
	b.Register(s.bus)
	log.Info().
		Str("light_channel", b.LightChannel()).
		Str("programs_channel", b.ProgramsChannel()).
		Msg("Broadcasting device events")
	return nil
}

// Close releases the Redis connection.
func (s *NotifyService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}
