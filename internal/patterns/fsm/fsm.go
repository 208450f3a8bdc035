package fsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/worker"
)

const (
	// TriggerEventType events carry the FSM event name in Data.
	TriggerEventType = "fsm.trigger"
	// TransitionEventType is published after every state change.
	TransitionEventType = "fsm.transition"

	snapshotContentType = "application/json"
)

// State represents a state identifier.
type State string

// Event represents a transition trigger.
type Event string

// Transition defines a state change caused by an event.
type Transition struct {
	From   State
	Event  Event
	To     State
	Action func(ctx context.Context) error
}

// StateActions groups callbacks for a state lifecycle.
type StateActions struct {
	OnEnter func(ctx context.Context) error
	OnExit  func(ctx context.Context) error
}

type snapshot struct {
	State State `json:"state"`
}

// FSM is a finite state machine agent. Its current state is persisted
// through the worker after each transition and restored on Start.
type FSM struct {
	id           core.AgentID
	initialState State
	currentState State
	transitions  map[State]map[Event]Transition
	stateActions map[State]StateActions
	worker       worker.Worker
	mu           sync.RWMutex
	logger       zerolog.Logger
}

// NewFSM creates a new FSM.
func NewFSM(id core.AgentID, initialState State, w worker.Worker, logger zerolog.Logger) *FSM {
	return &FSM{
		id:           id,
		initialState: initialState,
		currentState: initialState,
		transitions:  make(map[State]map[Event]Transition),
		stateActions: make(map[State]StateActions),
		worker:       w,
		logger:       logger.With().Str("component", "fsm").Stringer("agent", id).Logger(),
	}
}

// ID returns the FSM identifier.
func (f *FSM) ID() core.AgentID { return f.id }

// Start restores the persisted state, falling back to the initial state.
func (f *FSM) Start(ctx context.Context) error {
	st, err := f.worker.Read(ctx, f.id)
	if errors.Is(err, core.ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore fsm: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(st.Data, &snap); err != nil {
		return fmt.Errorf("decode fsm snapshot: %w", err)
	}
	f.mu.Lock()
	f.currentState = snap.State
	f.mu.Unlock()
	f.logger.Debug().Str("state", string(snap.State)).Msg("state restored")
	return nil
}

// Stop implements the Agent interface. State is already persisted.
func (f *FSM) Stop(ctx context.Context) error { return nil }

// HandleEvent triggers transitions from fsm.trigger events.
func (f *FSM) HandleEvent(ctx context.Context, ev core.CloudEvent) error {
	if ev.Type != TriggerEventType {
		return nil
	}
	return f.Trigger(ctx, Event(ev.Data))
}

// HandleRequest answers "state" with the current state and applies
// "trigger" requests, replying with the resulting state.
func (f *FSM) HandleRequest(ctx context.Context, req core.RPCRequest) error {
	switch req.Method {
	case "state":
	case "trigger":
		if err := f.Trigger(ctx, Event(req.Payload.Data)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown method %q", req.Method)
	}
	return f.worker.SendResponse(ctx, req.Reply(core.Payload{
		DataType: "fsm.state",
		Data:     []byte(f.GetState()),
	}))
}

// AddTransition registers a transition.
func (f *FSM) AddTransition(t Transition) {
	if _, ok := f.transitions[t.From]; !ok {
		f.transitions[t.From] = make(map[Event]Transition)
	}
	f.transitions[t.From][t.Event] = t
}

// AddStateActions sets callbacks for a state.
func (f *FSM) AddStateActions(s State, actions StateActions) { f.stateActions[s] = actions }

// ValidateTransitions checks that all states are reachable from the initial state.
func (f *FSM) ValidateTransitions() error {
	reachable := map[State]bool{f.initialState: true}
	for from, evs := range f.transitions {
		for _, t := range evs {
			if from == "" || t.To == "" {
				return fmt.Errorf("invalid transition %v", t)
			}
			reachable[t.To] = true
		}
		reachable[from] = true
	}
	for s := range f.stateActions {
		if !reachable[s] {
			return fmt.Errorf("state %s unreachable", s)
		}
	}
	return nil
}

// Trigger moves the FSM according to an event. Unknown events are ignored.
func (f *FSM) Trigger(ctx context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.currentState
	trans, ok := f.transitions[from][e]
	if !ok {
		return nil
	}
	if act, ok := f.stateActions[from]; ok && act.OnExit != nil {
		_ = act.OnExit(ctx)
	}
	if trans.Action != nil {
		if err := trans.Action(ctx); err != nil {
			return err
		}
	}
	data, err := json.Marshal(snapshot{State: trans.To})
	if err != nil {
		return err
	}
	if err := f.worker.Store(ctx, core.AgentState{AgentID: f.id, ContentType: snapshotContentType, Data: data}); err != nil {
		return fmt.Errorf("persist fsm: %w", err)
	}
	f.currentState = trans.To
	if act, ok := f.stateActions[f.currentState]; ok && act.OnEnter != nil {
		_ = act.OnEnter(ctx)
	}

	ev := core.NewCloudEvent(TransitionEventType, f.id.String(), []byte(trans.To))
	ev.Attributes = map[string]string{"from": string(from), "event": string(e)}
	if err := f.worker.PublishEvent(ctx, ev); err != nil {
		f.logger.Warn().Err(err).Msg("transition not announced")
	}
	return nil
}

// GetState returns the current state.
func (f *FSM) GetState() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentState
}

var (
	_ core.Agent          = (*FSM)(nil)
	_ core.RequestHandler = (*FSM)(nil)
)
