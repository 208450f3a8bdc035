package eventbus

import (
	"context"

	"go-agent-worker/internal/core"
)

// ReceiversUnknown is returned by Publish when the transport cannot tell
// how many subscribers received the message.
const ReceiversUnknown = -1

// Bus defines publish/subscribe semantics for worker envelopes.
type Bus interface {
	// Publish sends msg to topic and reports how many subscribers got it.
	Publish(ctx context.Context, topic string, msg core.Message) (int, error)
	Subscribe(ctx context.Context, topic string) (<-chan core.Message, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error)
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
