package core

// AgentState is a persisted snapshot of an agent. ETag is assigned by the
// store on every write.
type AgentState struct {
	AgentID     AgentID `json:"agent_id" cbor:"agent_id"`
	ETag        string  `json:"etag,omitempty" cbor:"etag,omitempty"`
	ContentType string  `json:"content_type,omitempty" cbor:"content_type,omitempty"`
	Data        []byte  `json:"data,omitempty" cbor:"data,omitempty"`
}
