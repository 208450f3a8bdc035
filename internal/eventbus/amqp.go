package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"go-agent-worker/internal/codec"
	"go-agent-worker/internal/core"
)

// AMQPConfig describes the RabbitMQ connection used by AMQPBus.
type AMQPConfig struct {
	URL      string
	Exchange string
	Prefetch int
}

// AMQPBus implements Bus on a RabbitMQ topic exchange. Each subscription
// owns an exclusive auto-delete queue bound to the exchange.
type AMQPBus struct {
	mu            sync.Mutex
	conn          *amqp.Connection
	pub           *amqp.Channel
	exchange      string
	prefetch      int
	codec         codec.Codec
	subscriptions map[string]*amqp.Channel
	logger        zerolog.Logger
}

// NewAMQPBus dials RabbitMQ and declares the exchange.
func NewAMQPBus(cfg AMQPConfig, c codec.Codec, logger zerolog.Logger) (*AMQPBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if c == nil {
		c = codec.JSON{}
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agentworker"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPBus{
		conn:          conn,
		pub:           ch,
		exchange:      exchange,
		prefetch:      cfg.Prefetch,
		codec:         c,
		subscriptions: make(map[string]*amqp.Channel),
		logger:        logger.With().Str("component", "eventbus.amqp").Logger(),
	}, nil
}

// Publish routes msg through the exchange. RabbitMQ does not report the
// number of receivers synchronously, so ReceiversUnknown is returned.
func (b *AMQPBus) Publish(ctx context.Context, topic string, msg core.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	body, err := b.codec.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pub == nil {
		return 0, core.ErrClosed
	}
	err = b.pub.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/" + b.codec.Name(),
		MessageId:   msg.ID,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", topic, err)
	}
	return ReceiversUnknown, nil
}

// Subscribe binds a private queue to topic.
func (b *AMQPBus) Subscribe(ctx context.Context, topic string) (<-chan core.Message, error) {
	return b.subscribe(ctx, topic, topic)
}

// SubscribePattern binds a private queue with the glob pattern translated
// to an AMQP binding key.
func (b *AMQPBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error) {
	return b.subscribe(ctx, pattern, bindingKey(pattern))
}

// bindingKey maps a glob to an AMQP topic key. Glob "*" spans dots, which
// is what AMQP "#" does.
func bindingKey(pattern string) string {
	return strings.ReplaceAll(pattern, "*", "#")
}

func (b *AMQPBus) subscribe(ctx context.Context, name, key string) (<-chan core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, core.ErrClosed
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if b.prefetch > 0 {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind %s: %w", key, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	if old, ok := b.subscriptions[name]; ok {
		_ = old.Close()
	}
	b.subscriptions[name] = ch

	out := make(chan core.Message, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var msg core.Message
				if err := b.codec.Unmarshal(d.Body, &msg); err != nil {
					b.logger.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("dropping undecodable message")
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Unsubscribe closes the subscription's channel, which deletes its queue.
func (b *AMQPBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subscriptions[topic]
	if !ok {
		return nil
	}
	delete(b.subscriptions, topic)
	return ch.Close()
}

// Close closes every channel and the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	for _, ch := range b.subscriptions {
		_ = ch.Close()
	}
	b.subscriptions = make(map[string]*amqp.Channel)
	_ = b.pub.Close()
	b.pub = nil
	err := b.conn.Close()
	b.conn = nil
	return err
}

var _ Bus = (*AMQPBus)(nil)
