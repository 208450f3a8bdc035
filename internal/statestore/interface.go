package statestore

import (
	"context"

	"go-agent-worker/internal/core"
)

// Store persists agent state snapshots, one per AgentID. Writes overwrite
// unconditionally; the returned state carries the ETag assigned to it.
type Store interface {
	Put(ctx context.Context, state core.AgentState) (core.AgentState, error)
	// Get returns core.ErrStateNotFound when nothing is stored for id.
	Get(ctx context.Context, id core.AgentID) (core.AgentState, error)
	Delete(ctx context.Context, id core.AgentID) error
	// Watch streams updates for agents whose "type/key" matches pattern.
	Watch(ctx context.Context, pattern string) (<-chan core.StateUpdate, error)
	Close() error
}
