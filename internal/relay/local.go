package relay

import (
	"context"
	"sync"
)

// Local is an in-process link to a hub, used when the page context and the
// coordinator share one process.
type Local struct {
	hub       *Hub
	contextID string

	mu   sync.Mutex
	fn   func([]byte)
	self *peer
}

// Local attaches an in-process page context to the hub.
func (h *Hub) Local(contextID string) *Local {
	l := &Local{hub: h, contextID: contextID}
	l.self = &peer{deliver: l.deliver, close: func() {}}
	h.register(contextID, l.self)
	return l
}

// Send hands env to the hub synchronously.
func (l *Local) Send(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	decoded, ok := Decode(data)
	if !ok {
		return nil
	}
	return l.hub.handle(ctx, l.contextID, decoded)
}

// OnMessage registers the inbound handler.
func (l *Local) OnMessage(fn func([]byte)) {
	l.mu.Lock()
	l.fn = fn
	l.mu.Unlock()
}

// Close detaches the link from the hub.
func (l *Local) Close() {
	l.hub.unregister(l.contextID, l.self)
}

func (l *Local) deliver(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn == nil {
		return ErrNotConnected
	}
	fn(data)
	return nil
}
