package core

import "errors"

var (
	// ErrStateNotFound is returned when no snapshot exists for an agent.
	ErrStateNotFound = errors.New("agent state not found")
	// ErrNoPendingRequest is returned when a response has no matching
	// request context.
	ErrNoPendingRequest = errors.New("no pending request")
	// ErrAgentUnreachable is returned when nothing receives a message
	// addressed to an agent.
	ErrAgentUnreachable = errors.New("agent unreachable")
	// ErrUnknownAgentType is returned when no factory is registered for a type.
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrInvalidAgentID   = errors.New("invalid agent id")
	ErrInvalidMessage   = errors.New("invalid message")
	// ErrRemote wraps the error string carried by an RPCResponse.
	ErrRemote = errors.New("remote error")
	ErrClosed = errors.New("closed")
)
