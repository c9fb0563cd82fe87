// Package relay carries intercepted calls from a page context to the
// coordinator and decisions back, correlated only by call id.
package relay

import (
	"encoding/json"

	"github.com/ppiankov/txwatch/internal/model"
)

// Source tags every envelope so foreign traffic on a shared channel is ignored.
const Source = "txwatch"

// ProtocolVersion is announced in hello and welcome envelopes.
const ProtocolVersion = 1

// Envelope types.
const (
	TypeHello           = "hello"
	TypeWelcome         = "welcome"
	TypeCallIntercepted = "call_intercepted"
	TypeDecision        = "decision"
	TypeRetire          = "retire"
)

// Envelope is the single wire shape exchanged across the relay.
type Envelope struct {
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Call      *model.InterceptedCall `json:"call,omitempty"`
	Decision  *model.Decision        `json:"decision,omitempty"`
	ID        string                 `json:"id,omitempty"`
	ContextID string                 `json:"contextId,omitempty"`
	Token     string                 `json:"token,omitempty"`
	Version   int                    `json:"version,omitempty"`
}

// CallEnvelope wraps an intercepted call.
func CallEnvelope(call model.InterceptedCall) Envelope {
	return Envelope{Source: Source, Type: TypeCallIntercepted, Call: &call}
}

// DecisionEnvelope wraps a decision.
func DecisionEnvelope(d model.Decision) Envelope {
	return Envelope{Source: Source, Type: TypeDecision, Decision: &d}
}

// RetireEnvelope asks the coordinator to drop a call the page gave up on.
func RetireEnvelope(id string) Envelope {
	return Envelope{Source: Source, Type: TypeRetire, ID: id}
}

// Encode marshals env, stamping the source tag.
func Encode(env Envelope) ([]byte, error) {
	env.Source = Source
	return json.Marshal(env)
}

// Decode parses data and reports whether it is a recognized envelope.
// Anything else on the channel belongs to someone else and is ignored.
func Decode(data []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if env.Source != Source {
		return Envelope{}, false
	}
	switch env.Type {
	case TypeHello, TypeWelcome:
		return env, true
	case TypeCallIntercepted:
		return env, env.Call != nil && env.Call.ID != ""
	case TypeDecision:
		return env, env.Decision != nil && env.Decision.ID != ""
	case TypeRetire:
		return env, env.ID != ""
	}
	return Envelope{}, false
}
