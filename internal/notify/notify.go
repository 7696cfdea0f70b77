// Package notify broadcasts device events to remote observers over Redis
// pub/sub.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/eventbus"
)

const publishTimeout = 3 * time.Second

// Publisher sends a message on a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisClient publishes through a Redis server.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return &RedisClient{client: rdb}, nil
}

// Publish implements Publisher.
func (c *RedisClient) Publish(ctx context.Context, channel string, message []byte) error {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Broadcaster forwards light state changes and accepted uploads.
// Light levels go to <prefix>:light as 2 bytes, accepted uploads go to
// <prefix>:programs as the raw upload bytes.
type Broadcaster struct {
	pub    Publisher
	prefix string
}

// NewBroadcaster creates a broadcaster publishing under prefix.
func NewBroadcaster(pub Publisher, prefix string) *Broadcaster {
	return &Broadcaster{pub: pub, prefix: prefix}
}

// LightChannel returns the channel light levels are published on.
func (b *Broadcaster) LightChannel() string {
	return b.prefix + ":light"
}

// ProgramsChannel returns the channel accepted uploads are published on.
func (b *Broadcaster) ProgramsChannel() string {
	return b.prefix + ":programs"
}

// Register subscribes the broadcaster to bus events.
func (b *Broadcaster) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeLightState, b.handleLightState)
	bus.Subscribe(eventbus.EventTypeProgramAccepted, b.handleProgramAccepted)
}

func (b *Broadcaster) handleLightState(e eventbus.Event) {
	state, ok := e.Payload.(eventbus.LightState)
	if !ok {
		return
	}
	b.send(b.LightChannel(), []byte{state.CW, state.WW})
}

func (b *Broadcaster) handleProgramAccepted(e eventbus.Event) {
	accepted, ok := e.Payload.(eventbus.ProgramAccepted)
	if !ok {
		return
	}
	b.send(b.ProgramsChannel(), accepted.Raw)
}

func (b *Broadcaster) send(channel string, msg []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.pub.Publish(ctx, channel, msg); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("Broadcast failed")
		return
	}
	log.Debug().Str("channel", channel).Int("size", len(msg)).Msg("Broadcast sent")
}
