package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-agent-worker/internal/codec"
	"go-agent-worker/internal/core"
)

// RedisBus implements Bus using Redis Pub/Sub with automatic reconnection.
type RedisBus struct {
	mu            sync.Mutex
	client        *redis.Client
	options       *redis.Options
	codec         codec.Codec
	subscriptions map[string]*redis.PubSub
	logger        zerolog.Logger
	closed        bool
}

// NewRedisBus creates a new Redis-backed event bus using the given options.
// A nil codec selects JSON.
func NewRedisBus(opts *redis.Options, c codec.Codec, logger zerolog.Logger) *RedisBus {
	if c == nil {
		c = codec.JSON{}
	}
	return &RedisBus{
		client:        redis.NewClient(opts),
		options:       opts,
		codec:         c,
		subscriptions: make(map[string]*redis.PubSub),
		logger:        logger.With().Str("component", "eventbus.redis").Logger(),
	}
}

// conn pings the server and reconnects if necessary.
func (b *RedisBus) conn(ctx context.Context) (*redis.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrClosed
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn().Err(err).Msg("reconnecting to redis")
		_ = b.client.Close()
		b.client = redis.NewClient(b.options)
	}
	return b.client, nil
}

// Publish sends an envelope to a topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg core.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	client, err := b.conn(ctx)
	if err != nil {
		return 0, err
	}
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	n, err := client.Publish(ctx, topic, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", topic, err)
	}
	return int(n), nil
}

// receive confirms the subscription and pumps decoded envelopes into a channel.
func (b *RedisBus) receive(ctx context.Context, name string, pubsub *redis.PubSub) (<-chan core.Message, error) {
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	ch := make(chan core.Message, 16)
	go func() {
		defer close(ch)
		for {
			m, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Error().Err(err).Str("topic", name).Msg("receive error")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			var msg core.Message
			if err := b.codec.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn().Err(err).Str("channel", m.Channel).Msg("dropping undecodable message")
				continue
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Subscribe listens for envelopes on a topic.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan core.Message, error) {
	client, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	ps := client.Subscribe(ctx, topic)
	b.track(topic, ps)
	return b.receive(ctx, topic, ps)
}

// SubscribePattern listens for envelopes using a glob pattern.
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error) {
	client, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	ps := client.PSubscribe(ctx, pattern)
	b.track(pattern, ps)
	return b.receive(ctx, pattern, ps)
}

func (b *RedisBus) track(name string, ps *redis.PubSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subscriptions[name]; ok {
		_ = old.Close()
	}
	b.subscriptions[name] = ps
}

// Unsubscribe stops listening on a topic or pattern.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.subscriptions[topic]
	if !ok {
		return nil
	}
	delete(b.subscriptions, topic)
	return ps.Close()
}

// Close terminates all subscriptions and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ps := range b.subscriptions {
		_ = ps.Close()
	}
	b.subscriptions = make(map[string]*redis.PubSub)
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
