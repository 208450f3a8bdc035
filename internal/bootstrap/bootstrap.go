// Package bootstrap assembles a worker host from configuration.
package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-agent-worker/internal/codec"
	"go-agent-worker/internal/config"
	"go-agent-worker/internal/eventbus"
	"go-agent-worker/internal/registry"
	"go-agent-worker/internal/statestore"
	"go-agent-worker/internal/worker"
)

// NewHost builds the bus, the store and the host described by cfg. Agent
// types must be registered in reg before the host is started.
func NewHost(cfg *config.AppConfig, reg *registry.Registry, logger zerolog.Logger) (*worker.Host, error) {
	c, err := codec.ByName(cfg.Worker.Codec)
	if err != nil {
		return nil, err
	}
	bus, err := newBus(cfg.Transport, c, logger)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg.State, logger)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	opts := []worker.Option{worker.WithRequestTimeout(cfg.Worker.RequestTimeout)}
	if cfg.Worker.TopicPrefix != "" {
		opts = append(opts, worker.WithTopicPrefix(cfg.Worker.TopicPrefix))
	}
	for _, s := range cfg.Worker.Subscriptions {
		opts = append(opts, worker.WithSubscription(s.TopicType, s.AgentType))
	}
	logger.Info().
		Str("transport", cfg.Transport.Driver).
		Str("state", cfg.State.Driver).
		Str("codec", c.Name()).
		Msg("worker host assembled")
	return worker.NewHost(bus, store, reg, logger, opts...), nil
}

func redisOptions(r config.RedisConfig) *redis.Options {
	return &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

func newBus(cfg config.TransportConfig, c codec.Codec, logger zerolog.Logger) (eventbus.Bus, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return eventbus.NewMemoryBus(), nil
	case config.DriverRedis:
		return eventbus.NewRedisBus(redisOptions(cfg.Redis), c, logger), nil
	case config.DriverAMQP:
		bus, err := eventbus.NewAMQPBus(eventbus.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Prefetch: cfg.AMQP.Prefetch,
		}, c, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.Driver)
	}
}

func newStore(cfg config.StateConfig, logger zerolog.Logger) (statestore.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return statestore.NewMemoryStore(), nil
	case config.DriverRedis:
		return statestore.NewRedisStore(redisOptions(cfg.Redis), cfg.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}
