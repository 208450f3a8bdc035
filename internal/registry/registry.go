// Package registry creates and tracks agent instances by AgentID.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"go-agent-worker/internal/core"
)

// Factory builds the agent for id. Start is called by the registry.
type Factory interface {
	Create(ctx context.Context, id core.AgentID) (core.Agent, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, id core.AgentID) (core.Agent, error)

func (f FactoryFunc) Create(ctx context.Context, id core.AgentID) (core.Agent, error) {
	return f(ctx, id)
}

// creation guards the construction of one agent id.
type creation struct {
	mu   sync.Mutex
	refs int
}

// Registry manages the lifecycle of agents hosted by one worker.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	agents    map[core.AgentID]core.Agent
	creating  map[core.AgentID]*creation
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		agents:    make(map[core.AgentID]core.Agent),
		creating:  make(map[core.AgentID]*creation),
	}
}

// Register binds a factory to an agent type.
func (r *Registry) Register(agentType string, f Factory) error {
	if err := core.NewAgentID(agentType, "").Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[agentType]; ok {
		return fmt.Errorf("agent type %q already registered", agentType)
	}
	r.factories[agentType] = f
	return nil
}

// Types returns the registered agent types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := lo.Keys(r.factories)
	sort.Strings(types)
	return types
}

// Has reports whether a factory exists for agentType.
func (r *Registry) Has(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[agentType]
	return ok
}

// Get returns the agent for id, creating and starting it on first use.
func (r *Registry) Get(ctx context.Context, id core.AgentID) (core.Agent, error) {
	r.mu.RLock()
	ag, ok := r.agents[id]
	f, known := r.factories[id.Type]
	r.mu.RUnlock()
	if ok {
		return ag, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAgentType, id.Type)
	}

	// Serialize creation per id so two deliveries cannot build twins. The
	// entry lives while any caller still holds it.
	r.mu.Lock()
	c, ok := r.creating[id]
	if !ok {
		c = &creation{}
		r.creating[id] = c
	}
	c.refs++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if c.refs--; c.refs == 0 {
			delete(r.creating, id)
		}
		r.mu.Unlock()
	}()
	c.mu.Lock()
	defer c.mu.Unlock()

	r.mu.RLock()
	ag, ok = r.agents[id]
	r.mu.RUnlock()
	if ok {
		return ag, nil
	}

	ag, err := r.build(ctx, f, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.agents[id] = ag
	r.mu.Unlock()
	return ag, nil
}

func (r *Registry) build(ctx context.Context, f Factory, id core.AgentID) (core.Agent, error) {
	ag, err := f.Create(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", id, err)
	}
	if err := ag.Start(ctx); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", id, err)
	}
	return ag, nil
}

// IDs returns the identifiers of live agents.
func (r *Registry) IDs() []core.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.agents)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// StopAll stops every live agent and forgets it.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	agents := r.agents
	r.agents = make(map[core.AgentID]core.Agent)
	r.mu.Unlock()

	var errs []error
	for id, ag := range agents {
		if err := ag.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop agent %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
