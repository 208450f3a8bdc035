// Package echo provides the built-in agent type served by the daemon.
package echo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/registry"
	"go-agent-worker/internal/worker"
)

// AgentType is the type name the echo agent registers under.
const AgentType = "echo"

// Agent replies to "echo" requests with the request payload and keeps the
// type of the last event it saw as its state.
type Agent struct {
	id     core.AgentID
	worker worker.Worker
	logger zerolog.Logger
}

// Factory returns a registry factory bound to w.
func Factory(w worker.Worker, logger zerolog.Logger) registry.Factory {
	return registry.FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		return &Agent{id: id, worker: w, logger: logger.With().Stringer("agent", id).Logger()}, nil
	})
}

func (a *Agent) ID() core.AgentID                { return a.id }
func (a *Agent) Start(ctx context.Context) error { return nil }
func (a *Agent) Stop(ctx context.Context) error  { return nil }

// HandleEvent records the last event type seen.
func (a *Agent) HandleEvent(ctx context.Context, ev core.CloudEvent) error {
	a.logger.Info().Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("event received")
	return a.worker.Store(ctx, core.AgentState{
		AgentID:     a.id,
		ContentType: "text/plain",
		Data:        []byte(ev.Type),
	})
}

func (a *Agent) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	if req.Method != "echo" {
		return fmt.Errorf("unknown method %q", req.Method)
	}
	return a.worker.SendResponse(ctx, req.Reply(req.Payload))
}

var (
	_ core.Agent          = (*Agent)(nil)
	_ core.RequestHandler = (*Agent)(nil)
)
