package worker

import "time"

const (
	defaultTopicPrefix    = "agentworker."
	defaultRequestTimeout = 30 * time.Second
)

// Subscription routes events of TopicType to agents of AgentType. The
// receiving agent's key is the event source.
type Subscription struct {
	TopicType string
	AgentType string
}

// Option configures a Host.
type Option func(*Host)

// WithTopicPrefix namespaces every bus topic used by the host.
func WithTopicPrefix(prefix string) Option {
	return func(h *Host) { h.prefix = prefix }
}

// WithSubscription delivers events of topicType to agents of agentType.
func WithSubscription(topicType, agentType string) Option {
	return func(h *Host) {
		h.subscriptions = append(h.subscriptions, Subscription{TopicType: topicType, AgentType: agentType})
	}
}

// WithRequestTimeout bounds Call and how long unanswered request contexts
// are kept. Zero disables expiry.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}
