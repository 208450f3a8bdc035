package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-agent-worker/internal/core"
)

func TestMemoryBusTopicAndPattern(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	exact, err := bus.Subscribe(ctx, "event.ping")
	require.NoError(t, err)
	glob, err := bus.SubscribePattern(ctx, "event.*")
	require.NoError(t, err)

	n, err := bus.Publish(ctx, "event.ping", pingMessage("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = bus.Publish(ctx, "event.pong", pingMessage("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, want := range []string{"a", "b"} {
		select {
		case got := <-glob:
			assert.Equal(t, want, got.ID)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s on pattern", want)
		}
	}
	select {
	case got := <-exact:
		assert.Equal(t, "a", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting on exact topic")
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "agent.x")
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(ctx, "agent.x"))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	n, err := bus.Publish(ctx, "agent.x", pingMessage("c"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryBusPublishHonorsCancellation(t *testing.T) {
	bus := NewMemoryBus()
	bus.buffer = 0
	defer bus.Close()

	_, err := bus.Subscribe(context.Background(), "agent.slow")
	require.NoError(t, err)

	// Nobody reads the subscription, so the second publish blocks.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = bus.Publish(ctx, "agent.slow", pingMessage("1"))
	_, err = bus.Publish(ctx, "agent.slow", pingMessage("2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	_, err := bus.Publish(context.Background(), "x", pingMessage("1"))
	assert.ErrorIs(t, err, core.ErrClosed)
	_, err = bus.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestAMQPBindingKey(t *testing.T) {
	assert.Equal(t, "event.#", bindingKey("event.*"))
	assert.Equal(t, "agent.coder", bindingKey("agent.coder"))
}

func TestNewAMQPBusRequiresURL(t *testing.T) {
	_, err := NewAMQPBus(AMQPConfig{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestMemoryBusPatternCrossesSlash(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	ch, err := bus.SubscribePattern(ctx, "agentstate:*")
	require.NoError(t, err)
	n, err := bus.Publish(ctx, "agentstate:planner/a", pingMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	select {
	case got := <-ch:
		assert.Equal(t, "x", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting on pattern")
	}
}
