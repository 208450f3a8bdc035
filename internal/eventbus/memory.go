package eventbus

import (
	"context"
	"sync"

	"go-agent-worker/internal/core"
)

type memorySub struct {
	name string
	glob *core.Glob
	in   chan core.Message
	done chan struct{}
	once sync.Once
}

func (s *memorySub) matches(topic string) bool {
	if s.glob == nil {
		return s.name == topic
	}
	return s.glob.Match(topic)
}

func (s *memorySub) stop() { s.once.Do(func() { close(s.done) }) }

// MemoryBus is an in-process Bus. Patterns follow Redis glob rules.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*memorySub
	closed        bool
	buffer        int
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscriptions: make(map[string]*memorySub), buffer: 64}
}

// Publish delivers msg to every matching subscription. It blocks while a
// subscriber's buffer is full, until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg core.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, core.ErrClosed
	}
	var targets []*memorySub
	for _, s := range b.subscriptions {
		if s.matches(topic) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	n := 0
	for _, s := range targets {
		select {
		case s.in <- msg:
			n++
		case <-s.done:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

func (b *MemoryBus) subscribe(ctx context.Context, name string, glob *core.Glob) (<-chan core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memorySub{
		name: name,
		glob: glob,
		in:   make(chan core.Message, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, core.ErrClosed
	}
	if old, ok := b.subscriptions[name]; ok {
		old.stop()
	}
	b.subscriptions[name] = s
	b.mu.Unlock()

	out := make(chan core.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg := <-s.in:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Subscribe listens on an exact topic.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan core.Message, error) {
	return b.subscribe(ctx, topic, nil)
}

// SubscribePattern listens on every topic matching pattern.
func (b *MemoryBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error) {
	glob, err := core.CompileGlob(pattern)
	if err != nil {
		return nil, err
	}
	return b.subscribe(ctx, pattern, &glob)
}

// Unsubscribe stops a subscription.
func (b *MemoryBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscriptions[topic]; ok {
		s.stop()
		delete(b.subscriptions, topic)
	}
	return nil
}

// Close stops all subscriptions. Later calls fail with core.ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscriptions {
		s.stop()
	}
	b.subscriptions = make(map[string]*memorySub)
	b.closed = true
	return nil
}

var _ Bus = (*MemoryBus)(nil)
