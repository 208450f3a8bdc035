package core

import "fmt"

// MessageKind tells which field of a Message is populated.
type MessageKind string

const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
	KindEvent    MessageKind = "event"
)

// Message is the envelope moved between workers. Exactly one of Request,
// Response or Event is set.
type Message struct {
	ID       string       `json:"id,omitempty" cbor:"id,omitempty"`
	Request  *RPCRequest  `json:"request,omitempty" cbor:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty" cbor:"response,omitempty"`
	Event    *CloudEvent  `json:"event,omitempty" cbor:"event,omitempty"`
}

// Kind reports the populated field, or "" for an empty envelope.
func (m Message) Kind() MessageKind {
	switch {
	case m.Request != nil:
		return KindRequest
	case m.Response != nil:
		return KindResponse
	case m.Event != nil:
		return KindEvent
	}
	return ""
}

// Validate rejects empty and ambiguous envelopes.
func (m Message) Validate() error {
	n := 0
	if m.Request != nil {
		n++
	}
	if m.Response != nil {
		n++
	}
	if m.Event != nil {
		n++
	}
	switch n {
	case 0:
		return fmt.Errorf("%w: empty envelope", ErrInvalidMessage)
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: envelope carries %d payloads", ErrInvalidMessage, n)
	}
}
