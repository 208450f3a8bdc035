package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentID(t *testing.T) {
	id, err := ParseAgentID("planner/session-1")
	require.NoError(t, err)
	assert.Equal(t, AgentID{Type: "planner", Key: "session-1"}, id)
	assert.Equal(t, "planner/session-1", id.String())

	id, err = ParseAgentID("planner")
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentKey, id.Key)

	_, err = ParseAgentID("/key")
	assert.ErrorIs(t, err, ErrInvalidAgentID)
}

func TestAgentIDText(t *testing.T) {
	in := NewAgentID("coder", "a/b")
	b, err := in.MarshalText()
	require.NoError(t, err)

	var out AgentID
	require.NoError(t, out.UnmarshalText(b))
	assert.Equal(t, in, out)
}

func TestMessageValidate(t *testing.T) {
	ev := NewCloudEvent("ping", "tester", nil)
	req := &RPCRequest{RequestID: "1"}

	tests := []struct {
		name    string
		msg     Message
		kind    MessageKind
		wantErr bool
	}{
		{name: "empty", msg: Message{}, wantErr: true},
		{name: "event", msg: Message{Event: &ev}, kind: KindEvent},
		{name: "request", msg: Message{Request: req}, kind: KindRequest},
		{name: "ambiguous", msg: Message{Event: &ev, Request: req}, kind: KindRequest, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.kind, tt.msg.Kind())
		})
	}
}

func TestResponseErr(t *testing.T) {
	req := RPCRequest{RequestID: "r1"}
	assert.NoError(t, req.Reply(Payload{Data: []byte("ok")}).Err())

	err := req.Fail(errors.New("boom")).Err()
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "boom")
}

func TestCloudEventValidate(t *testing.T) {
	ev := NewCloudEvent("ping", "tester", []byte("x"))
	assert.NoError(t, ev.Validate())
	assert.Equal(t, CloudEventsSpecVersion, ev.SpecVersion)
	assert.NotEmpty(t, ev.ID)

	ev.Type = ""
	assert.ErrorIs(t, ev.Validate(), ErrInvalidMessage)
}

func TestGlob(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"planner/*", "planner/a", true},
		{"planner/*", "planner/a/b", true},
		{"planner/*", "coder/a", false},
		{"event.*", "event.fsm.trigger", true},
		{"agent.?", "agent.x", true},
		{"agent.?", "agent.xy", false},
		{"a[bc]d", "acd", true},
		{"a[^bc]d", "abd", false},
		{`a\*b`, "a*b", true},
		{`a\*b`, "axb", false},
		{"a.b", "axb", false},
	}
	for _, tt := range tests {
		g, err := CompileGlob(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, g.Match(tt.name), "%s ~ %s", tt.pattern, tt.name)
	}

	_, err := CompileGlob("a[bc")
	assert.Error(t, err)
}
