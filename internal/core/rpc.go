package core

import "fmt"

// Payload is an opaque RPC body. DataType names the schema of Data.
type Payload struct {
	DataType        string `json:"data_type,omitempty" cbor:"data_type,omitempty"`
	DataContentType string `json:"data_content_type,omitempty" cbor:"data_content_type,omitempty"`
	Data            []byte `json:"data,omitempty" cbor:"data,omitempty"`
}

// RPCRequest asks Target to run Method. The answer travels back as an
// RPCResponse carrying the same RequestID.
type RPCRequest struct {
	RequestID string            `json:"request_id" cbor:"request_id"`
	Source    *AgentID          `json:"source,omitempty" cbor:"source,omitempty"`
	Target    AgentID           `json:"target" cbor:"target"`
	Method    string            `json:"method" cbor:"method"`
	Payload   Payload           `json:"payload" cbor:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// RPCResponse answers the request with the same RequestID. Target is the
// requester and is filled in by the worker from the request context.
type RPCResponse struct {
	RequestID string            `json:"request_id" cbor:"request_id"`
	Target    AgentID           `json:"target" cbor:"target"`
	Payload   Payload           `json:"payload" cbor:"payload"`
	Error     string            `json:"error,omitempty" cbor:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// Reply builds a successful response to r.
func (r RPCRequest) Reply(p Payload) RPCResponse {
	return RPCResponse{RequestID: r.RequestID, Payload: p}
}

// Fail builds an error response to r.
func (r RPCRequest) Fail(err error) RPCResponse {
	return RPCResponse{RequestID: r.RequestID, Error: err.Error()}
}

// Err returns the remote error carried by the response, if any.
func (r RPCResponse) Err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRemote, r.Error)
}
