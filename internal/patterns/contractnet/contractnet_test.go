package contractnet

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/registry"
	"go-agent-worker/internal/worker"
)

type cheapestEvaluator struct{}

func (cheapestEvaluator) Evaluate(props []*Proposal) *Proposal {
	var best *Proposal
	for _, p := range props {
		if best == nil || p.Cost < best.Cost {
			best = p
		}
	}
	return best
}

// costBid bids the capability "cost" of the contractor.
type costBid struct{}

func (costBid) ShouldBid(task *TaskSpec, caps map[string]float64) bool { return caps["cost"] > 0 }
func (costBid) GenerateProposal(task *TaskSpec, contractorID core.AgentID) *Proposal {
	return &Proposal{TaskID: task.ID, ContractorID: contractorID}
}

type dummyExec struct{ err error }

func (d dummyExec) Execute(ctx context.Context, t *TaskSpec) (interface{}, error) {
	if d.err != nil {
		return nil, d.err
	}
	return "done:" + t.ID, nil
}

func newHost(t *testing.T, costs map[string]float64, exec TaskExecutor) *worker.Host {
	t.Helper()
	reg := registry.New()
	h := worker.NewLocal(reg, zerolog.Nop())
	err := reg.Register("contractor", registry.FactoryFunc(func(ctx context.Context, id core.AgentID) (core.Agent, error) {
		return NewContractor(id, map[string]float64{"cost": costs[id.Key]}, h, costStrategy{costs}, exec, zerolog.Nop()), nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = h.Stop(context.Background())
		_ = h.Close()
	})
	return h
}

// costStrategy bids with the configured cost per contractor key.
type costStrategy struct{ costs map[string]float64 }

func (s costStrategy) ShouldBid(task *TaskSpec, caps map[string]float64) bool {
	return costBid{}.ShouldBid(task, caps)
}

func (s costStrategy) GenerateProposal(task *TaskSpec, id core.AgentID) *Proposal {
	p := costBid{}.GenerateProposal(task, id)
	p.Cost = s.costs[id.Key]
	return p
}

func contractors(keys ...string) []core.AgentID {
	ids := make([]core.AgentID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, core.NewAgentID("contractor", k))
	}
	return ids
}

func TestContractNetCycle(t *testing.T) {
	h := newHost(t, map[string]float64{"c1": 5, "c2": 2, "c3": 0}, dummyExec{})
	mgr := NewManager(core.NewAgentID("manager", "m1"), h, contractors("c1", "c2", "c3"), cheapestEvaluator{}, zerolog.Nop())
	mgr.proposalTimeout = 500 * time.Millisecond

	ctx := context.Background()
	task := TaskSpec{ID: "t1", Description: "demo", Deadline: time.Now().Add(time.Minute)}
	contract, err := mgr.AnnounceTask(ctx, task)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if contract.Contractor != core.NewAgentID("contractor", "c2") {
		t.Fatalf("expected c2 to win, got %s", contract.Contractor)
	}
	var result string
	if err := json.Unmarshal(contract.Result, &result); err != nil || result != "done:t1" {
		t.Fatalf("unexpected result %s (%v)", contract.Result, err)
	}

	st, err := h.Read(ctx, core.NewAgentID(ContractAgentType, "t1"))
	if err != nil {
		t.Fatalf("read contract: %v", err)
	}
	var stored Contract
	if err := json.Unmarshal(st.Data, &stored); err != nil {
		t.Fatalf("decode contract: %v", err)
	}
	if stored.Task.ID != "t1" || stored.Contractor != contract.Contractor {
		t.Fatalf("unexpected stored contract %+v", stored)
	}
}

func TestExecutionFailureIsRecorded(t *testing.T) {
	h := newHost(t, map[string]float64{"c1": 1}, dummyExec{err: errors.New("tool crashed")})
	mgr := NewManager(core.NewAgentID("manager", "m2"), h, contractors("c1"), cheapestEvaluator{}, zerolog.Nop())
	mgr.proposalTimeout = 500 * time.Millisecond

	contract, err := mgr.AnnounceTask(context.Background(), TaskSpec{ID: "t2", Deadline: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if contract.Error != "tool crashed" {
		t.Fatalf("expected recorded execution error, got %q", contract.Error)
	}
}

func TestNoProposals(t *testing.T) {
	h := newHost(t, map[string]float64{"c1": 0}, dummyExec{})
	mgr := NewManager(core.NewAgentID("manager", "m3"), h, contractors("c1", "ghost"), cheapestEvaluator{}, zerolog.Nop())
	mgr.proposalTimeout = 200 * time.Millisecond

	if _, err := mgr.AnnounceTask(context.Background(), TaskSpec{ID: "t3", Deadline: time.Now().Add(time.Minute)}); err == nil {
		t.Fatal("expected error without proposals")
	}
}

func TestAnnounceTaskDeadline(t *testing.T) {
	h := newHost(t, nil, dummyExec{})
	mgr := NewManager(core.NewAgentID("manager", "m4"), h, contractors("c1"), cheapestEvaluator{}, zerolog.Nop())

	task := TaskSpec{ID: "t4", Description: "late", Deadline: time.Now().Add(-time.Second)}
	if _, err := mgr.AnnounceTask(context.Background(), task); err == nil {
		t.Fatal("expected error for expired deadline")
	}
}
