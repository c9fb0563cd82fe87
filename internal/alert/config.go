// Package alert posts approval lifecycle events to webhooks.
package alert

// Config defines one webhook destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["pending", "approved", "rejected", "expired"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload describing one state change of an intercepted call.
type Event struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	CallID    string `json:"call_id"`
	Method    string `json:"method"`
	Origin    string `json:"origin"`
	TabID     string `json:"tab_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Pending   int    `json:"pending"`
}
