// Package worker defines the capability set a runtime exposes to its
// agents and the Host that implements it over an event bus and a state
// store.
//
// Every operation takes a context as its cancellation token. A context
// that is already done makes the operation return ctx.Err() without doing
// any work; a context cancelled mid-flight surfaces as an error wrapping
// it, never as success.
package worker

import (
	"context"

	"go-agent-worker/internal/core"
)

// Worker is implemented by Host. Agents receive it from their factory.
type Worker interface {
	// PublishEvent broadcasts event to every subscriber of its type.
	// Having no subscribers is not an error.
	PublishEvent(ctx context.Context, event core.CloudEvent) error
	// SendRequest dispatches req to target. The response is delivered
	// separately to req.Source, which must be set for a reply to be
	// possible.
	SendRequest(ctx context.Context, target core.AgentID, req core.RPCRequest) error
	// SendResponse answers a request previously delivered to this worker.
	// It fails with core.ErrNoPendingRequest when no such request exists.
	SendResponse(ctx context.Context, resp core.RPCResponse) error
	// SendMessage routes an envelope according to what it carries.
	SendMessage(ctx context.Context, msg core.Message) error
	// Store overwrites the snapshot for state.AgentID.
	Store(ctx context.Context, state core.AgentState) error
	// Read returns the latest snapshot or core.ErrStateNotFound.
	Read(ctx context.Context, id core.AgentID) (core.AgentState, error)
}
