package contractnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/worker"
)

// Method names used on the RPC channel between manager and contractors.
const (
	MethodCallForProposal = "cfp"
	MethodAccept          = "accept"
	MethodReject          = "reject"

	// AwardedEventType is published when a task has been executed.
	AwardedEventType = "contractnet.awarded"
	// ContractAgentType keys the stored outcome of each task.
	ContractAgentType = "contract"
)

// TaskSpec describes a task offered by the manager.
type TaskSpec struct {
	ID           string                 `json:"id"`
	Description  string                 `json:"description"`
	Deadline     time.Time              `json:"deadline"`
	Requirements map[string]interface{} `json:"requirements"`
}

// Proposal submitted by a contractor.
type Proposal struct {
	TaskID       string        `json:"task_id"`
	ContractorID core.AgentID  `json:"contractor_id"`
	Cost         float64       `json:"cost"`
	Duration     time.Duration `json:"duration"`
	Confidence   float64       `json:"confidence"`
}

// Contract is the stored outcome of an awarded task.
type Contract struct {
	Task       TaskSpec        `json:"task"`
	Contractor core.AgentID    `json:"contractor"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Caller is a worker that can wait for responses.
type Caller interface {
	worker.Worker
	Call(ctx context.Context, target core.AgentID, req core.RPCRequest) (core.RPCResponse, error)
}

func jsonPayload(dataType string, v interface{}) (core.Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return core.Payload{}, err
	}
	return core.Payload{DataType: dataType, DataContentType: "application/json", Data: data}, nil
}

// ----------------------------------------------------------------------------
// Manager
// ----------------------------------------------------------------------------

type ProposalEvaluator interface {
	Evaluate(proposals []*Proposal) *Proposal
}

// Manager runs the contract-net protocol against a fixed set of
// contractors.
type Manager struct {
	id              core.AgentID
	worker          Caller
	contractors     []core.AgentID
	proposalTimeout time.Duration
	evaluator       ProposalEvaluator
	logger          zerolog.Logger
}

func NewManager(id core.AgentID, w Caller, contractors []core.AgentID, evaluator ProposalEvaluator, logger zerolog.Logger) *Manager {
	return &Manager{
		id:              id,
		worker:          w,
		contractors:     contractors,
		evaluator:       evaluator,
		proposalTimeout: time.Second,
		logger:          logger.With().Str("component", "contractnet.manager").Stringer("agent", id).Logger(),
	}
}

func (m *Manager) ID() core.AgentID                                          { return m.id }
func (m *Manager) Start(ctx context.Context) error                           { return nil }
func (m *Manager) Stop(ctx context.Context) error                            { return nil }
func (m *Manager) HandleEvent(ctx context.Context, ev core.CloudEvent) error { return nil }

// AnnounceTask collects proposals, awards the task to the winner, waits
// for the result and stores the contract.
func (m *Manager) AnnounceTask(ctx context.Context, spec TaskSpec) (Contract, error) {
	if time.Now().After(spec.Deadline) {
		return Contract{}, fmt.Errorf("task %s deadline exceeded", spec.ID)
	}
	proposals := m.collect(ctx, spec)
	if len(proposals) == 0 {
		return Contract{}, fmt.Errorf("no proposals for %s", spec.ID)
	}
	win := m.evaluator.Evaluate(proposals)
	if win == nil {
		return Contract{}, fmt.Errorf("no acceptable proposal for %s", spec.ID)
	}

	for _, p := range proposals {
		if p.ContractorID == win.ContractorID {
			continue
		}
		// Rejections are one-way; the contractor does not answer.
		if err := m.worker.SendRequest(ctx, p.ContractorID, core.RPCRequest{Method: MethodReject, Payload: core.Payload{Data: []byte(spec.ID)}}); err != nil {
			m.logger.Warn().Err(err).Stringer("contractor", p.ContractorID).Msg("reject not delivered")
		}
	}

	payload, err := jsonPayload("contractnet.task", spec)
	if err != nil {
		return Contract{}, err
	}
	contract := Contract{Task: spec, Contractor: win.ContractorID}
	resp, err := m.worker.Call(ctx, win.ContractorID, core.RPCRequest{Method: MethodAccept, Payload: payload})
	switch {
	case errors.Is(err, core.ErrRemote):
		contract.Error = resp.Error
	case err != nil:
		return Contract{}, fmt.Errorf("award %s to %s: %w", spec.ID, win.ContractorID, err)
	default:
		contract.Result = resp.Payload.Data
	}

	if err := m.record(ctx, contract); err != nil {
		return contract, err
	}
	return contract, nil
}

// collect calls every contractor with the task and gathers the bids that
// arrive within the proposal timeout.
func (m *Manager) collect(ctx context.Context, spec TaskSpec) []*Proposal {
	ctx, cancel := context.WithTimeout(ctx, m.proposalTimeout)
	defer cancel()

	payload, err := jsonPayload("contractnet.task", spec)
	if err != nil {
		return nil
	}
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		proposals []*Proposal
	)
	for _, c := range m.contractors {
		wg.Add(1)
		go func(c core.AgentID) {
			defer wg.Done()
			resp, err := m.worker.Call(ctx, c, core.RPCRequest{Method: MethodCallForProposal, Payload: payload})
			if err != nil {
				m.logger.Debug().Err(err).Stringer("contractor", c).Msg("no proposal")
				return
			}
			if len(resp.Payload.Data) == 0 {
				return
			}
			var p Proposal
			if err := json.Unmarshal(resp.Payload.Data, &p); err != nil {
				m.logger.Warn().Err(err).Stringer("contractor", c).Msg("undecodable proposal")
				return
			}
			p.ContractorID = c
			mu.Lock()
			proposals = append(proposals, &p)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return proposals
}

func (m *Manager) record(ctx context.Context, c Contract) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	id := core.NewAgentID(ContractAgentType, c.Task.ID)
	if err := m.worker.Store(ctx, core.AgentState{AgentID: id, ContentType: "application/json", Data: data}); err != nil {
		return fmt.Errorf("record contract %s: %w", c.Task.ID, err)
	}
	ev := core.NewCloudEvent(AwardedEventType, m.id.String(), data)
	ev.Subject = c.Task.ID
	if err := m.worker.PublishEvent(ctx, ev); err != nil {
		m.logger.Warn().Err(err).Str("task", c.Task.ID).Msg("award not announced")
	}
	return nil
}

// ----------------------------------------------------------------------------
// Contractor
// ----------------------------------------------------------------------------

type BidStrategy interface {
	ShouldBid(task *TaskSpec, cap map[string]float64) bool
	GenerateProposal(task *TaskSpec, contractorID core.AgentID) *Proposal
}

type TaskExecutor interface {
	Execute(ctx context.Context, task *TaskSpec) (interface{}, error)
}

// Contractor bids on calls for proposals and executes awarded tasks.
type Contractor struct {
	id           core.AgentID
	capabilities map[string]float64
	currentTasks map[string]*TaskSpec
	maxTasks     int
	bidStrategy  BidStrategy
	executor     TaskExecutor
	worker       worker.Worker

	mu     sync.Mutex
	logger zerolog.Logger
}

func NewContractor(id core.AgentID, caps map[string]float64, w worker.Worker, strat BidStrategy, exec TaskExecutor, logger zerolog.Logger) *Contractor {
	return &Contractor{
		id:           id,
		capabilities: caps,
		maxTasks:     1,
		bidStrategy:  strat,
		executor:     exec,
		worker:       w,
		currentTasks: make(map[string]*TaskSpec),
		logger:       logger.With().Str("component", "contractnet.contractor").Stringer("agent", id).Logger(),
	}
}

func (c *Contractor) ID() core.AgentID                                          { return c.id }
func (c *Contractor) Start(ctx context.Context) error                           { return nil }
func (c *Contractor) Stop(ctx context.Context) error                            { return nil }
func (c *Contractor) HandleEvent(ctx context.Context, ev core.CloudEvent) error { return nil }

// HandleRequest answers cfp with a proposal (an empty payload declines)
// and accept with the execution result.
func (c *Contractor) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	switch req.Method {
	case MethodReject:
		c.logger.Debug().Str("task", string(req.Payload.Data)).Msg("proposal rejected")
		return nil
	case MethodCallForProposal:
		var task TaskSpec
		if err := json.Unmarshal(req.Payload.Data, &task); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		if c.bidStrategy == nil || !c.bidStrategy.ShouldBid(&task, c.capabilities) {
			return c.worker.SendResponse(ctx, req.Reply(core.Payload{}))
		}
		p, err := jsonPayload("contractnet.proposal", c.bidStrategy.GenerateProposal(&task, c.id))
		if err != nil {
			return err
		}
		return c.worker.SendResponse(ctx, req.Reply(p))
	case MethodAccept:
		var task TaskSpec
		if err := json.Unmarshal(req.Payload.Data, &task); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		result, err := c.execute(ctx, &task)
		if err != nil {
			return err
		}
		p, err := jsonPayload("contractnet.result", result)
		if err != nil {
			return err
		}
		return c.worker.SendResponse(ctx, req.Reply(p))
	default:
		return fmt.Errorf("unknown method %q", req.Method)
	}
}

func (c *Contractor) execute(ctx context.Context, task *TaskSpec) (interface{}, error) {
	c.mu.Lock()
	if len(c.currentTasks) >= c.maxTasks {
		c.mu.Unlock()
		return nil, fmt.Errorf("contractor %s at capacity", c.id)
	}
	c.currentTasks[task.ID] = task
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.currentTasks, task.ID)
		c.mu.Unlock()
	}()

	if time.Now().After(task.Deadline) {
		return nil, errors.New("deadline exceeded")
	}
	return c.executor.Execute(ctx, task)
}

var (
	_ core.Agent          = (*Manager)(nil)
	_ core.Agent          = (*Contractor)(nil)
	_ core.RequestHandler = (*Contractor)(nil)
)
