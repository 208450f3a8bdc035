package core

import (
	"fmt"
	"strings"
)

// DefaultAgentKey is used when an AgentID is created without a key.
const DefaultAgentKey = "default"

// AgentID identifies one agent instance. Type selects the factory that
// builds it, Key selects the instance.
type AgentID struct {
	Type string `json:"type" cbor:"type"`
	Key  string `json:"key" cbor:"key"`
}

// NewAgentID returns an AgentID, substituting DefaultAgentKey for an
// empty key.
func NewAgentID(agentType, key string) AgentID {
	if key == "" {
		key = DefaultAgentKey
	}
	return AgentID{Type: agentType, Key: key}
}

// ParseAgentID parses the "type/key" form produced by String.
func ParseAgentID(s string) (AgentID, error) {
	typ, key, ok := strings.Cut(s, "/")
	if !ok {
		key = DefaultAgentKey
	}
	id := NewAgentID(typ, key)
	if err := id.Validate(); err != nil {
		return AgentID{}, err
	}
	return id, nil
}

// String renders the id as "type/key".
func (id AgentID) String() string { return id.Type + "/" + id.Key }

// IsZero reports whether the id is unset.
func (id AgentID) IsZero() bool { return id.Type == "" && id.Key == "" }

// Validate checks that the id can be routed.
func (id AgentID) Validate() error {
	if id.Type == "" {
		return fmt.Errorf("%w: agent type is empty", ErrInvalidAgentID)
	}
	if strings.ContainsAny(id.Type, "/*?[] ") {
		return fmt.Errorf("%w: agent type %q contains reserved characters", ErrInvalidAgentID, id.Type)
	}
	if id.Key == "" {
		return fmt.Errorf("%w: agent key is empty", ErrInvalidAgentID)
	}
	return nil
}

// MarshalText encodes the id as "type/key"; the zero id encodes as "".
func (id AgentID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *AgentID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = AgentID{}
		return nil
	}
	parsed, err := ParseAgentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
