package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
)

// ErrNotConnected is returned by links with no live peer.
var ErrNotConnected = errors.New("relay is not connected")

// Link is one transport between a page context and the coordinator.
type Link interface {
	Send(ctx context.Context, env Envelope) error
	// OnMessage registers the handler for raw inbound messages.
	OnMessage(fn func(data []byte))
}

// Relay is the page-side half of the relay. It keeps no per-call state:
// outbound calls go to the link, inbound decisions go to the sink.
type Relay struct {
	link Link
	sink func(model.Decision) bool
	log  *slog.Logger
}

// New connects link to sink. The sink is typically Interceptor.Deliver.
func New(link Link, sink func(model.Decision) bool, logger *slog.Logger) *Relay {
	r := &Relay{link: link, sink: sink, log: logging.OrDiscard(logger)}
	if link != nil {
		link.OnMessage(r.handle)
	}
	return r
}

// Forward delivers call to the coordinator. On failure a rejection for the
// call is pushed into the sink right away and ErrRelayUnavailable is returned.
func (r *Relay) Forward(ctx context.Context, call model.InterceptedCall) error {
	if r.link == nil {
		r.OnDecision(model.Decision{ID: call.ID, Approved: false})
		return model.ErrRelayUnavailable
	}
	if err := r.link.Send(ctx, CallEnvelope(call)); err != nil {
		r.log.Warn("forward failed", "id", call.ID, "error", err)
		r.OnDecision(model.Decision{ID: call.ID, Approved: false})
		return errors.Join(model.ErrRelayUnavailable, err)
	}
	return nil
}

// OnDecision hands a decision to the page context.
func (r *Relay) OnDecision(d model.Decision) {
	if r.sink != nil {
		r.sink(d)
	}
}

// Retire tells the coordinator the page no longer waits for id.
func (r *Relay) Retire(ctx context.Context, id string) error {
	if r.link == nil {
		return ErrNotConnected
	}
	return r.link.Send(ctx, RetireEnvelope(id))
}

func (r *Relay) handle(data []byte) {
	env, ok := Decode(data)
	if !ok {
		return
	}
	if env.Type == TypeDecision {
		r.OnDecision(*env.Decision)
	}
}
