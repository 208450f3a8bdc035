package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CloudEventsSpecVersion is the envelope version written by NewCloudEvent.
const CloudEventsSpecVersion = "1.0"

// CloudEvent is a CloudEvents 1.0 envelope broadcast to subscribers.
type CloudEvent struct {
	ID              string            `json:"id" cbor:"id"`
	Source          string            `json:"source" cbor:"source"`
	SpecVersion     string            `json:"specversion" cbor:"specversion"`
	Type            string            `json:"type" cbor:"type"`
	Subject         string            `json:"subject,omitempty" cbor:"subject,omitempty"`
	Time            time.Time         `json:"time" cbor:"time"`
	DataContentType string            `json:"datacontenttype,omitempty" cbor:"datacontenttype,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty" cbor:"attributes,omitempty"`
	Data            []byte            `json:"data,omitempty" cbor:"data,omitempty"`
}

// NewCloudEvent builds an event with a fresh ID and the current time.
func NewCloudEvent(eventType, source string, data []byte) CloudEvent {
	return CloudEvent{
		ID:          uuid.NewString(),
		Source:      source,
		SpecVersion: CloudEventsSpecVersion,
		Type:        eventType,
		Time:        time.Now().UTC(),
		Data:        data,
	}
}

// Validate checks the attributes required for routing.
func (e CloudEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: event type is empty", ErrInvalidMessage)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: event %s has no source", ErrInvalidMessage, e.Type)
	}
	return nil
}

// StateUpdate is emitted when an agent state snapshot changes.
type StateUpdate struct {
	AgentID AgentID `json:"agent_id" cbor:"agent_id"`
	ETag    string  `json:"etag" cbor:"etag"`
	Deleted bool    `json:"deleted,omitempty" cbor:"deleted,omitempty"`
}
