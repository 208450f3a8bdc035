package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-agent-worker/internal/core"
)

type dummyAgent struct {
	id      core.AgentID
	started bool
	stopErr error
}

func (d *dummyAgent) ID() core.AgentID                                          { return d.id }
func (d *dummyAgent) Start(ctx context.Context) error                           { d.started = true; return nil }
func (d *dummyAgent) Stop(ctx context.Context) error                            { d.started = false; return d.stopErr }
func (d *dummyAgent) HandleEvent(ctx context.Context, ev core.CloudEvent) error { return nil }

func TestGetCreatesOnce(t *testing.T) {
	var created int32
	r := New()
	err := r.Register("dummy", FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		atomic.AddInt32(&created, 1)
		return &dummyAgent{id: id}, nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	id := core.NewAgentID("dummy", "a1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get(ctx, id); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&created); n != 1 {
		t.Fatalf("expected 1 creation, got %d", n)
	}
	ag, _ := r.Get(ctx, id)
	if !ag.(*dummyAgent).started {
		t.Fatal("agent should be started")
	}
	if len(r.IDs()) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(r.IDs()))
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if ag.(*dummyAgent).started {
		t.Fatal("agent should be stopped")
	}
	if len(r.IDs()) != 0 {
		t.Fatal("registry should be empty after StopAll")
	}
}

func TestUnknownTypeAndDuplicates(t *testing.T) {
	r := New()
	f := FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		return &dummyAgent{id: id}, nil
	})
	if err := r.Register("dummy", f); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("dummy", f); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Register("bad/type", f); !errors.Is(err, core.ErrInvalidAgentID) {
		t.Fatalf("expected ErrInvalidAgentID, got %v", err)
	}
	if _, err := r.Get(context.Background(), core.NewAgentID("other", "")); !errors.Is(err, core.ErrUnknownAgentType) {
		t.Fatalf("expected ErrUnknownAgentType, got %v", err)
	}
	if got := r.Types(); len(got) != 1 || got[0] != "dummy" {
		t.Fatalf("unexpected types %v", got)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	r := New()
	_ = r.Register("dummy", FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		return &dummyAgent{id: id, stopErr: boom}, nil
	}))
	ctx := context.Background()
	_, _ = r.Get(ctx, core.NewAgentID("dummy", "a"))
	_, _ = r.Get(ctx, core.NewAgentID("dummy", "b"))
	if err := r.StopAll(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected joined boom error, got %v", err)
	}
}

func TestFailedCreationKeepsSerializing(t *testing.T) {
	var calls, active, maxActive, built int32
	r := New()
	err := r.Register("flaky", FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("first attempt fails")
		}
		atomic.AddInt32(&built, 1)
		return &dummyAgent{id: id}, nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	id := core.NewAgentID("flaky", "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get(ctx, id)
		}()
	}
	wg.Wait()

	if m := atomic.LoadInt32(&maxActive); m != 1 {
		t.Fatalf("expected creations to be serialized, saw %d at once", m)
	}
	if n := atomic.LoadInt32(&built); n != 1 {
		t.Fatalf("expected exactly one agent built, got %d", n)
	}
	if _, err := r.Get(ctx, id); err != nil {
		t.Fatalf("get after recovery: %v", err)
	}
	r.mu.RLock()
	pending := len(r.creating)
	r.mu.RUnlock()
	if pending != 0 {
		t.Fatalf("expected no creation entries left, got %d", pending)
	}
}
