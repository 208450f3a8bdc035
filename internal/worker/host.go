package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
	"go-agent-worker/internal/eventbus"
	"go-agent-worker/internal/registry"
	"go-agent-worker/internal/statestore"
)

// pendingRequest is a request sent from this host.
type pendingRequest struct {
	reply   chan core.RPCResponse
	expires time.Time
}

// requestContext is a request delivered to an agent on this host that has
// not been answered yet.
type requestContext struct {
	source  core.AgentID
	expires time.Time
}

// Host implements Worker over a Bus and a Store and hosts the agent types
// registered in its Registry. Each agent type has an inbox topic; events
// travel on one topic per event type.
type Host struct {
	id            string
	client        core.AgentID
	bus           eventbus.Bus
	store         statestore.Store
	registry      *registry.Registry
	logger        zerolog.Logger
	prefix        string
	timeout       time.Duration
	subscriptions []Subscription

	mu       sync.Mutex
	pending  map[string]pendingRequest
	inflight map[string]requestContext
	topics   []string
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ Worker = (*Host)(nil)

// NewHost returns a Host. The host owns bus and store and closes them in
// Close.
func NewHost(bus eventbus.Bus, store statestore.Store, reg *registry.Registry, logger zerolog.Logger, opts ...Option) *Host {
	id := uuid.NewString()
	h := &Host{
		id:       id,
		client:   core.NewAgentID("client."+id, ""),
		bus:      bus,
		store:    store,
		registry: reg,
		prefix:   defaultTopicPrefix,
		timeout:  defaultRequestTimeout,
		pending:  make(map[string]pendingRequest),
		inflight: make(map[string]requestContext),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.With().Str("component", "worker").Str("host", id).Logger()
	return h
}

// NewLocal returns a Host over an in-process bus and store.
func NewLocal(reg *registry.Registry, logger zerolog.Logger, opts ...Option) *Host {
	return NewHost(eventbus.NewMemoryBus(), statestore.NewMemoryStore(), reg, logger, opts...)
}

// ID identifies this host on the bus.
func (h *Host) ID() string { return h.id }

func (h *Host) inbox(agentType string) string { return h.prefix + "agent." + agentType }

func (h *Host) eventTopic(eventType string) string { return h.prefix + "event." + eventType }

func (h *Host) deadline() time.Time {
	if h.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(h.timeout)
}

// Start subscribes to the inbox of every registered agent type, to the
// host's own reply inbox and to every subscribed event type.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return errors.New("worker already started")
	}
	runCtx, cancel := context.WithCancel(ctx)

	topics := []string{h.inbox(h.client.Type)}
	for _, t := range h.registry.Types() {
		topics = append(topics, h.inbox(t))
	}
	seen := make(map[string]bool)
	for _, s := range h.subscriptions {
		if !seen[s.TopicType] {
			seen[s.TopicType] = true
			topics = append(topics, h.eventTopic(s.TopicType))
		}
	}

	subscribed := make([]string, 0, len(topics))
	for _, topic := range topics {
		ch, err := h.bus.Subscribe(runCtx, topic)
		if err != nil {
			cancel()
			for _, t := range subscribed {
				_ = h.bus.Unsubscribe(context.Background(), t)
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subscribed = append(subscribed, topic)
		h.wg.Add(1)
		go h.pump(runCtx, ch)
	}
	if h.timeout > 0 {
		h.wg.Add(1)
		go h.sweep(runCtx)
	}

	h.topics = subscribed
	h.cancel = cancel
	h.running = true
	h.logger.Info().Strs("topics", subscribed).Msg("worker started")
	return nil
}

// Stop unsubscribes, waits for in-flight handlers and stops all agents.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	topics := h.topics
	h.topics = nil
	h.cancel()
	h.mu.Unlock()

	var errs []error
	for _, t := range topics {
		if err := h.bus.Unsubscribe(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", t, err))
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for handlers: %w", ctx.Err()))
	}

	if err := h.registry.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	h.logger.Info().Msg("worker stopped")
	return errors.Join(errs...)
}

// Close releases the bus and the store.
func (h *Host) Close() error {
	return errors.Join(h.bus.Close(), h.store.Close())
}

// pump hands every inbound envelope to its own goroutine so a handler can
// call back into the worker, and even wait on Call, without blocking
// delivery.
func (h *Host) pump(ctx context.Context, ch <-chan core.Message) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.dispatch(ctx, msg)
			}()
		}
	}
}

func (h *Host) sweep(ctx context.Context) {
	defer h.wg.Done()
	interval := h.timeout / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.mu.Lock()
			for id, p := range h.pending {
				if p.reply == nil && !p.expires.IsZero() && now.After(p.expires) {
					delete(h.pending, id)
				}
			}
			for id, rc := range h.inflight {
				if !rc.expires.IsZero() && now.After(rc.expires) {
					h.logger.Warn().Str("request_id", id).Stringer("source", rc.source).Msg("request never answered")
					delete(h.inflight, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg core.Message) {
	switch msg.Kind() {
	case core.KindRequest:
		h.deliverRequest(ctx, *msg.Request)
	case core.KindResponse:
		h.deliverResponse(ctx, *msg.Response)
	case core.KindEvent:
		h.deliverEvent(ctx, *msg.Event)
	default:
		h.logger.Warn().Str("message_id", msg.ID).Msg("dropping empty envelope")
	}
}

func (h *Host) deliverRequest(ctx context.Context, req core.RPCRequest) {
	log := h.logger.With().Str("request_id", req.RequestID).Stringer("target", req.Target).Logger()
	if req.Source != nil {
		h.mu.Lock()
		h.inflight[req.RequestID] = requestContext{source: *req.Source, expires: h.deadline()}
		h.mu.Unlock()
	}

	ag, err := h.registry.Get(ctx, req.Target)
	if err != nil {
		h.fail(ctx, req, err)
		return
	}
	handler, ok := ag.(core.RequestHandler)
	if !ok {
		h.fail(ctx, req, fmt.Errorf("agent %s does not handle requests", req.Target))
		return
	}
	log.Debug().Str("method", req.Method).Msg("delivering request")
	if err := handler.HandleRequest(ctx, req); err != nil {
		h.fail(ctx, req, err)
	}
}

// fail answers req with err when the request context is still open.
func (h *Host) fail(ctx context.Context, req core.RPCRequest, cause error) {
	log := h.logger.With().Str("request_id", req.RequestID).Stringer("target", req.Target).Logger()
	log.Warn().Err(cause).Msg("request failed")
	if req.Source == nil {
		return
	}
	if err := h.SendResponse(ctx, req.Fail(cause)); err != nil && !errors.Is(err, core.ErrNoPendingRequest) {
		log.Error().Err(err).Msg("error response not delivered")
	}
}

func (h *Host) deliverResponse(ctx context.Context, resp core.RPCResponse) {
	h.mu.Lock()
	p, ok := h.pending[resp.RequestID]
	delete(h.pending, resp.RequestID)
	h.mu.Unlock()

	if ok && p.reply != nil {
		p.reply <- resp
		return
	}
	if resp.Target.Type == h.client.Type {
		h.logger.Debug().Str("request_id", resp.RequestID).Msg("late response dropped")
		return
	}
	ag, err := h.registry.Get(ctx, resp.Target)
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", resp.RequestID).Msg("response not delivered")
		return
	}
	handler, isHandler := ag.(core.ResponseHandler)
	if !isHandler {
		h.logger.Debug().Stringer("agent", resp.Target).Msg("agent ignores responses")
		return
	}
	if err := handler.HandleResponse(ctx, resp); err != nil {
		h.logger.Warn().Err(err).Stringer("agent", resp.Target).Str("request_id", resp.RequestID).Msg("response handler failed")
	}
}

func (h *Host) deliverEvent(ctx context.Context, ev core.CloudEvent) {
	for _, s := range h.subscriptions {
		if s.TopicType != ev.Type {
			continue
		}
		id := core.NewAgentID(s.AgentType, ev.Source)
		ag, err := h.registry.Get(ctx, id)
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", ev.Type).Stringer("agent", id).Msg("event not delivered")
			continue
		}
		if err := ag.HandleEvent(ctx, ev); err != nil {
			h.logger.Warn().Err(err).Str("event_id", ev.ID).Stringer("agent", id).Msg("event handler failed")
		}
	}
}

// PublishEvent implements Worker. Missing ID, spec version and time are
// filled in.
func (h *Host) PublishEvent(ctx context.Context, event core.CloudEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.SpecVersion == "" {
		event.SpecVersion = core.CloudEventsSpecVersion
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	n, err := h.bus.Publish(ctx, h.eventTopic(event.Type), core.Message{ID: event.ID, Event: &event})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	h.logger.Debug().Str("event_type", event.Type).Str("event_id", event.ID).Int("receivers", n).Msg("event published")
	return nil
}

// SendRequest implements Worker. An empty RequestID is replaced by a UUID.
func (h *Host) SendRequest(ctx context.Context, target core.AgentID, req core.RPCRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	req.Target = target
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return h.send(ctx, req, nil)
}

func (h *Host) send(ctx context.Context, req core.RPCRequest, reply chan core.RPCResponse) error {
	if req.Source != nil || reply != nil {
		h.mu.Lock()
		h.pending[req.RequestID] = pendingRequest{reply: reply, expires: h.deadline()}
		h.mu.Unlock()
	}
	n, err := h.bus.Publish(ctx, h.inbox(req.Target.Type), core.Message{ID: uuid.NewString(), Request: &req})
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: %s", core.ErrAgentUnreachable, req.Target)
	}
	if err != nil {
		h.mu.Lock()
		delete(h.pending, req.RequestID)
		h.mu.Unlock()
		return fmt.Errorf("send request %s to %s: %w", req.RequestID, req.Target, err)
	}
	h.logger.Debug().Str("request_id", req.RequestID).Stringer("target", req.Target).Str("method", req.Method).Msg("request sent")
	return nil
}

// SendResponse implements Worker. The response is routed to the source of
// the request with the same RequestID.
func (h *Host) SendResponse(ctx context.Context, resp core.RPCResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	rc, ok := h.inflight[resp.RequestID]
	delete(h.inflight, resp.RequestID)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNoPendingRequest, resp.RequestID)
	}

	resp.Target = rc.source
	n, err := h.bus.Publish(ctx, h.inbox(rc.source.Type), core.Message{ID: uuid.NewString(), Response: &resp})
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: %s", core.ErrAgentUnreachable, rc.source)
	}
	if err != nil {
		// Keep the context so the caller may retry.
		h.mu.Lock()
		h.inflight[resp.RequestID] = rc
		h.mu.Unlock()
		return fmt.Errorf("send response %s: %w", resp.RequestID, err)
	}
	return nil
}

// SendMessage implements Worker.
func (h *Host) SendMessage(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	switch msg.Kind() {
	case core.KindEvent:
		return h.PublishEvent(ctx, *msg.Event)
	case core.KindRequest:
		if msg.Request.Target.IsZero() {
			return fmt.Errorf("%w: request %s has no target", core.ErrInvalidMessage, msg.Request.RequestID)
		}
		return h.SendRequest(ctx, msg.Request.Target, *msg.Request)
	default:
		return h.SendResponse(ctx, *msg.Response)
	}
}

// Store implements Worker.
func (h *Host) Store(ctx context.Context, state core.AgentState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	saved, err := h.store.Put(ctx, state)
	if err != nil {
		return fmt.Errorf("store state %s: %w", state.AgentID, err)
	}
	h.logger.Debug().Stringer("agent", saved.AgentID).Str("etag", saved.ETag).Msg("state stored")
	return nil
}

// Read implements Worker.
func (h *Host) Read(ctx context.Context, id core.AgentID) (core.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentState{}, err
	}
	if err := id.Validate(); err != nil {
		return core.AgentState{}, err
	}
	state, err := h.store.Get(ctx, id)
	if err != nil {
		return core.AgentState{}, fmt.Errorf("read state %s: %w", id, err)
	}
	return state, nil
}

// Call sends req to target and waits for the correlated response, bounded
// by ctx and the request timeout. A response carrying an error is returned
// together with that error.
func (h *Host) Call(ctx context.Context, target core.AgentID, req core.RPCRequest) (core.RPCResponse, error) {
	if err := ctx.Err(); err != nil {
		return core.RPCResponse{}, err
	}
	if err := target.Validate(); err != nil {
		return core.RPCResponse{}, err
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	req.Target = target
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Source == nil {
		src := h.client
		req.Source = &src
	}

	reply := make(chan core.RPCResponse, 1)
	if err := h.send(ctx, req, reply); err != nil {
		return core.RPCResponse{}, err
	}
	select {
	case resp := <-reply:
		return resp, resp.Err()
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, req.RequestID)
		h.mu.Unlock()
		return core.RPCResponse{}, fmt.Errorf("call %s on %s: %w", req.Method, target, ctx.Err())
	}
}
