package core

import "context"

// Agent defines the minimal behaviour expected from any agent.
type Agent interface {
	ID() AgentID
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HandleEvent(ctx context.Context, event CloudEvent) error
}

// RequestHandler is implemented by agents that answer RPC requests.
// The answer is sent separately through the worker.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req RPCRequest) error
}

// ResponseHandler is implemented by agents that consume responses to
// requests they issued.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, resp RPCResponse) error
}
