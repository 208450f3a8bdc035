package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/registry"
)

// baseAgent satisfies core.Agent with no-op lifecycle.
type baseAgent struct{ id core.AgentID }

func (a *baseAgent) ID() core.AgentID                                          { return a.id }
func (a *baseAgent) Start(ctx context.Context) error                           { return nil }
func (a *baseAgent) Stop(ctx context.Context) error                            { return nil }
func (a *baseAgent) HandleEvent(ctx context.Context, ev core.CloudEvent) error { return nil }

// echoAgent answers every request with its own payload.
type echoAgent struct {
	baseAgent
	w Worker
}

func (a *echoAgent) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	return a.w.SendResponse(ctx, req.Reply(req.Payload))
}

// failingAgent rejects every request.
type failingAgent struct{ baseAgent }

func (a *failingAgent) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	return errors.New("refused")
}

// silentAgent accepts requests and never answers.
type silentAgent struct{ baseAgent }

func (a *silentAgent) HandleRequest(ctx context.Context, req core.RPCRequest) error { return nil }

// askerAgent collects responses to the requests it sent.
type askerAgent struct {
	baseAgent
	responses chan core.RPCResponse
}

func (a *askerAgent) HandleResponse(ctx context.Context, resp core.RPCResponse) error {
	a.responses <- resp
	return nil
}

// listenerAgent records events.
type listenerAgent struct {
	baseAgent
	events chan<- received
}

type received struct {
	agent core.AgentID
	event core.CloudEvent
}

func (a *listenerAgent) HandleEvent(ctx context.Context, ev core.CloudEvent) error {
	a.events <- received{agent: a.id, event: ev}
	return nil
}

// relayAgent forwards each request to the echo agent with Call and
// answers with the echoed payload.
type relayAgent struct {
	baseAgent
	h *Host
}

func (a *relayAgent) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	resp, err := a.h.Call(ctx, core.NewAgentID("echo", req.Target.Key), core.RPCRequest{Method: "echo", Payload: req.Payload})
	if err != nil {
		return err
	}
	return a.h.SendResponse(ctx, req.Reply(resp.Payload))
}

type fixture struct {
	host    *Host
	askers  map[core.AgentID]*askerAgent
	events  chan received
	askerCh chan core.RPCResponse
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := registry.New()
	f := &fixture{
		askers:  make(map[core.AgentID]*askerAgent),
		events:  make(chan received, 16),
		askerCh: make(chan core.RPCResponse, 16),
	}
	f.host = NewLocal(reg, zerolog.Nop(), opts...)
	registerTestAgents(t, reg, f.host, f.events, f.askerCh)

	ctx := context.Background()
	require.NoError(t, f.host.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, f.host.Stop(context.Background()))
		require.NoError(t, f.host.Close())
	})
	return f
}

func registerTestAgents(t *testing.T, reg *registry.Registry, h *Host, events chan received, askerCh chan core.RPCResponse) {
	t.Helper()
	factories := map[string]registry.FactoryFunc{
		"echo": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &echoAgent{baseAgent{id}, h}, nil
		},
		"failing": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &failingAgent{baseAgent{id}}, nil
		},
		"silent": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &silentAgent{baseAgent{id}}, nil
		},
		"plain": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &baseAgent{id}, nil
		},
		"asker": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &askerAgent{baseAgent{id}, askerCh}, nil
		},
		"listener": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &listenerAgent{baseAgent{id}, events}, nil
		},
		"relay": func(ctx context.Context, id core.AgentID) (core.Agent, error) {
			return &relayAgent{baseAgent{id}, h}, nil
		},
	}
	for typ, f := range factories {
		require.NoError(t, reg.Register(typ, f))
	}
}
