// Package intercept wraps wallet providers so that state-changing calls are
// held until a human decision arrives through the relay.
package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/provider"
)

// DefaultTimeout is how long a reviewable call waits for a decision.
const DefaultTimeout = 5 * time.Minute

// Publisher carries intercepted calls across the trust boundary.
type Publisher interface {
	Forward(ctx context.Context, call model.InterceptedCall) error
}

// Retirer is implemented by publishers that can withdraw an expired call.
type Retirer interface {
	Retire(ctx context.Context, id string) error
}

// Config configures an Interceptor.
type Config struct {
	Publisher  Publisher
	ContextID  string // identifies this interceptor to the coordinator (the call's TabID)
	Timeout    time.Duration
	Classifier model.Classifier
	Logger     *slog.Logger
	NewID      func() string
	Clock      func() time.Time
}

type outcome int

const (
	outcomeApproved outcome = iota
	outcomeRejected
	outcomeTimeout
	outcomeAbandoned
)

// pendingDecision is a suspended call waiting for exactly one outcome.
type pendingDecision struct {
	ch    chan outcome
	timer *time.Timer
}

// Interceptor owns the wrapped-provider set and the outstanding decisions
// of one page context. Construct one per proxy process.
type Interceptor struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	wrapped map[provider.Provider]*Wrapped
	pending map[string]*pendingDecision
	active  *Wrapped
}

// New creates an Interceptor. A nil Publisher makes every reviewable call fail closed.
func New(cfg Config) *Interceptor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ContextID == "" {
		cfg.ContextID = uuid.NewString()
	}
	return &Interceptor{
		cfg:     cfg,
		log:     logging.OrDiscard(cfg.Logger),
		wrapped: make(map[provider.Provider]*Wrapped),
		pending: make(map[string]*pendingDecision),
	}
}

// ContextID returns the id decisions must be addressed to.
func (ic *Interceptor) ContextID() string { return ic.cfg.ContextID }

// SetPublisher replaces the relay endpoint, e.g. after a reconnect.
func (ic *Interceptor) SetPublisher(p Publisher) {
	ic.mu.Lock()
	ic.cfg.Publisher = p
	ic.mu.Unlock()
}

// Install wraps p and any nested providers it exposes. Installing the same
// instance twice returns the existing wrapper; installing a wrapper is a no-op.
func (ic *Interceptor) Install(p provider.Provider) (*Wrapped, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot install a nil provider")
	}
	if w, ok := p.(*Wrapped); ok && w.ic == ic {
		return w, nil
	}
	if !provider.Comparable(p) {
		return nil, fmt.Errorf("provider %T cannot be tracked by identity", p)
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.installLocked(p), nil
}

func (ic *Interceptor) installLocked(p provider.Provider) *Wrapped {
	if w, ok := ic.wrapped[p]; ok {
		return w
	}
	w := &Wrapped{ic: ic, inner: p}
	ic.wrapped[p] = w

	if m, ok := p.(provider.Multi); ok {
		for _, n := range m.Providers() {
			switch {
			case n == nil:
				continue
			case isOwnWrapper(ic, n):
				w.nested = append(w.nested, n.(*Wrapped))
			case provider.Comparable(n):
				w.nested = append(w.nested, ic.installLocked(n))
			default:
				// Untrackable nested providers are still wrapped, just not deduplicated.
				w.nested = append(w.nested, &Wrapped{ic: ic, inner: n})
			}
		}
	}
	return w
}

func isOwnWrapper(ic *Interceptor, p provider.Provider) bool {
	w, ok := p.(*Wrapped)
	return ok && w.ic == ic
}

// Attach installs the binding's current provider and every provider bound later.
// The returned function stops following the binding.
func (ic *Interceptor) Attach(b *provider.Binding) (cancel func()) {
	cancel = b.Subscribe(func(ev provider.Event, p provider.Provider) {
		ic.activate(p, ev)
	})
	if p := b.Current(); p != nil {
		ic.activate(p, provider.Available)
	}
	return cancel
}

func (ic *Interceptor) activate(p provider.Provider, ev provider.Event) {
	w, err := ic.Install(p)
	if err != nil {
		ic.log.Error("cannot wrap provider", "event", ev.String(), "error", err)
		return
	}
	ic.mu.Lock()
	ic.active = w
	ic.mu.Unlock()
	ic.log.Info("provider bound", "event", ev.String(), "provider", fmt.Sprintf("%T", p))
}

// Current returns the wrapper of the active provider, or nil before one is bound.
func (ic *Interceptor) Current() *Wrapped {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.active
}

// Outstanding returns the number of calls still waiting for a decision.
func (ic *Interceptor) Outstanding() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.pending)
}

// Deliver resolves the call with the given id. It returns false when the id
// is unknown or was already resolved; later decisions for an id are ignored.
func (ic *Interceptor) Deliver(d model.Decision) bool {
	o := outcomeRejected
	if d.Approved {
		o = outcomeApproved
	}
	ok := ic.resolve(d.ID, o)
	if !ok {
		ic.log.Debug("decision ignored", "id", d.ID, "approved", d.Approved)
	}
	return ok
}

func (ic *Interceptor) register(id string) *pendingDecision {
	d := &pendingDecision{ch: make(chan outcome, 1)}
	ic.mu.Lock()
	ic.pending[id] = d
	ic.mu.Unlock()
	d.timer = time.AfterFunc(ic.cfg.Timeout, func() { ic.resolve(id, outcomeTimeout) })
	return d
}

// resolve removes the pending entry and hands it its single outcome.
func (ic *Interceptor) resolve(id string, o outcome) bool {
	ic.mu.Lock()
	d, ok := ic.pending[id]
	if ok {
		delete(ic.pending, id)
	}
	ic.mu.Unlock()
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.ch <- o
	return true
}

func (ic *Interceptor) publisher() Publisher {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.cfg.Publisher
}

// review suspends a reviewable call until it is approved, rejected or expires.
func (ic *Interceptor) review(ctx context.Context, w *Wrapped, method string, params json.RawMessage) (json.RawMessage, error) {
	call := model.InterceptedCall{
		ID:        ic.cfg.NewID(),
		Method:    method,
		Params:    model.SplitParams(params),
		Origin:    OriginFrom(ctx),
		Timestamp: ic.cfg.Clock().UTC(),
		Status:    model.StatusPending,
		TabID:     ic.cfg.ContextID,
	}
	d := ic.register(call.ID)

	pub := ic.publisher()
	if pub == nil {
		ic.resolve(call.ID, outcomeRejected)
		ic.log.Warn("no relay, rejecting", "id", call.ID, "method", method, "origin", call.Origin)
		return nil, model.ErrRelayUnavailable
	}
	if err := pub.Forward(ctx, call); err != nil {
		ic.resolve(call.ID, outcomeRejected)
		ic.log.Warn("relay forward failed, rejecting", "id", call.ID, "method", method, "error", err)
		return nil, model.ErrRelayUnavailable
	}
	ic.log.Info("call held for review", "id", call.ID, "method", method, "origin", call.Origin)

	select {
	case o := <-d.ch:
		switch o {
		case outcomeApproved:
			ic.log.Info("call approved", "id", call.ID, "method", method)
			return w.inner.Request(ctx, method, params)
		case outcomeTimeout:
			ic.log.Warn("call timed out", "id", call.ID, "method", method, "timeout", ic.cfg.Timeout)
			ic.retire(call.ID)
			return nil, model.ErrApprovalTimeout
		default:
			ic.log.Info("call rejected", "id", call.ID, "method", method)
			return nil, model.ErrUserRejected
		}
	case <-ctx.Done():
		if ic.resolve(call.ID, outcomeAbandoned) {
			ic.retire(call.ID)
		}
		return nil, ctx.Err()
	}
}

// retire asks the coordinator to drop an abandoned call. Failure is only logged.
func (ic *Interceptor) retire(id string) {
	r, ok := ic.publisher().(Retirer)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Retire(ctx, id); err != nil {
			ic.log.Debug("retire failed", "id", id, "error", err)
		}
	}()
}

// Wrapped is a provider whose reviewable calls are held for approval.
type Wrapped struct {
	ic     *Interceptor
	inner  provider.Provider
	nested []*Wrapped
}

// Request classifies the call: pass-through calls reach the original entry
// point untouched, reviewable calls wait for a decision.
func (w *Wrapped) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if !w.ic.cfg.Classifier.Reviewable(method) {
		return w.inner.Request(ctx, method, params)
	}
	return w.ic.review(ctx, w, method, params)
}

// Reviewable reports whether this wrapper would hold method for approval.
func (w *Wrapped) Reviewable(method string) bool {
	return w.ic.cfg.Classifier.Reviewable(method)
}

// Providers returns the wrapped nested providers, in the inner provider's order.
func (w *Wrapped) Providers() []provider.Provider {
	out := make([]provider.Provider, len(w.nested))
	for i, n := range w.nested {
		out[i] = n
	}
	return out
}

// Named returns the wrapped nested provider registered under name.
func (w *Wrapped) Named(name string) (*Wrapped, bool) {
	named, ok := w.inner.(interface{ Names() []string })
	if !ok {
		return nil, false
	}
	for i, n := range named.Names() {
		if n == name && i < len(w.nested) {
			return w.nested[i], true
		}
	}
	return nil, false
}

// Subscribe passes event subscriptions through when the original supports them.
func (w *Wrapped) Subscribe(event string, fn func(json.RawMessage)) (func(), error) {
	s, ok := w.inner.(provider.Subscriber)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return s.Subscribe(event, fn)
}

// Unwrap returns the original provider.
func (w *Wrapped) Unwrap() provider.Provider { return w.inner }

type originKey struct{}

// WithOrigin records the requesting page's origin on ctx.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin recorded by WithOrigin, or "unknown".
func OriginFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(string); ok && o != "" {
		return o
	}
	return "unknown"
}
