// Package coordinator is the single authority over pending and decided calls.
// It persists both collections, routes decisions back to the page context
// that issued each call, and keeps the pending indicator current.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ppiankov/txwatch/internal/alert"
	"github.com/ppiankov/txwatch/internal/audit"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/store"
)

// Defaults.
const (
	DefaultHistoryCapacity = 100
	DefaultPendingTTL      = 5*time.Minute + 30*time.Second
)

// Retirement reasons recorded on calls that were not decided by a human.
const (
	ReasonExpired = "expired"
	ReasonCleared = "cleared"
)

// Notifier delivers a decision to the page context identified by tabID.
type Notifier interface {
	Notify(ctx context.Context, tabID string, d model.Decision) error
}

// Presenter is asked to bring the review surface forward when work arrives.
type Presenter interface {
	Present(ctx context.Context, call model.InterceptedCall)
}

// Auditor records state changes. *audit.Log satisfies it.
type Auditor interface {
	Record(entry audit.Entry) error
}

// Alerter dispatches lifecycle events. *alert.Dispatcher satisfies it.
type Alerter interface {
	Dispatch(event alert.Event)
}

// HistoryPolicy controls whether decided calls are kept.
type HistoryPolicy struct {
	Discard  bool // drop decided calls instead of retaining them
	Capacity int  // oldest entries beyond this are evicted
}

// Options configures a Coordinator. Only Store is required.
type Options struct {
	Store      store.Store
	Notifier   Notifier
	Presenter  Presenter
	History    HistoryPolicy
	PendingTTL time.Duration
	Audit      Auditor
	Alerts     Alerter
	Metrics    *Metrics
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Change describes one state change, for live feeds.
type Change struct {
	Kind  string                `json:"kind"` // pending, approved, rejected, expired, cleared
	Call  model.InterceptedCall `json:"call"`
	Badge Badge                 `json:"badge"`
}

// Coordinator owns the persisted pending and history collections.
// Every read-modify-write runs under mu; reads always go to the store.
type Coordinator struct {
	opts Options
	log  *slog.Logger

	mu sync.Mutex

	subMu     sync.Mutex
	subs      map[int]func(Change)
	nextSub   int
	alerts    Alerter
	presenter Presenter
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("coordinator requires a store")
	}
	if opts.History.Capacity <= 0 {
		opts.History.Capacity = DefaultHistoryCapacity
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		opts:      opts,
		log:       logging.OrDiscard(opts.Logger),
		subs:      make(map[int]func(Change)),
		alerts:    opts.Alerts,
		presenter: opts.Presenter,
	}, nil
}

// SetAlerter swaps the alert destination, e.g. after a config reload.
func (c *Coordinator) SetAlerter(a Alerter) {
	c.subMu.Lock()
	c.alerts = a
	c.subMu.Unlock()
}

// SetPresenter swaps the surface asked to come forward on new work.
func (c *Coordinator) SetPresenter(p Presenter) {
	c.subMu.Lock()
	c.presenter = p
	c.subMu.Unlock()
}

// SetNotifier swaps the decision transport.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.opts.Notifier = n
	c.mu.Unlock()
}

// Subscribe registers fn for every state change. fn runs synchronously
// after the change is persisted and must not block.
func (c *Coordinator) Subscribe(fn func(Change)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Submit records a new pending call owned by the context tabID.
func (c *Coordinator) Submit(ctx context.Context, call model.InterceptedCall, tabID string) error {
	if tabID != "" {
		call.TabID = tabID
	}
	call.Status = model.StatusPending
	call.Reason = ""
	if err := call.Validate(); err != nil {
		return err
	}
	if call.TabID == "" {
		return fmt.Errorf("call %s has no originating context", call.ID)
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = c.opts.Clock().UTC()
	}

	c.mu.Lock()
	pending, history, err := c.load(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if indexOf(pending, call.ID) >= 0 || indexOf(history, call.ID) >= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrDuplicateID, call.ID)
	}
	pending = append(pending, call)
	if err := c.savePending(ctx, pending); err != nil {
		c.mu.Unlock()
		return err
	}
	badge := c.refreshBadge(ctx, len(pending), len(history))
	c.mu.Unlock()

	c.log.Info("call pending", "id", call.ID, "method", call.Method, "origin", call.Origin, "tab", call.TabID)
	c.record(audit.EventPending, call, "")
	c.dispatch(audit.EventPending, call, len(pending))
	c.publish(Change{Kind: audit.EventPending, Call: call, Badge: badge})
	c.subMu.Lock()
	presenter := c.presenter
	c.subMu.Unlock()
	if presenter != nil {
		presenter.Present(ctx, call)
	}
	return nil
}

// Decide moves a pending call to its terminal state and notifies its context.
// Unknown or already decided ids return model.ErrNotFound with no state change.
func (c *Coordinator) Decide(ctx context.Context, id string, approved bool) (model.InterceptedCall, error) {
	status := model.StatusFor(approved)
	calls, notifier, badge, remaining, err := c.finish(ctx, func(p model.InterceptedCall) bool { return p.ID == id }, status, "")
	if err != nil {
		return model.InterceptedCall{}, err
	}
	if len(calls) == 0 {
		return model.InterceptedCall{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	call := calls[0]

	kind := string(status)
	c.opts.Metrics.decided(kind)
	c.log.Info("call decided", "id", id, "status", kind, "method", call.Method)
	c.record(kind, call, "")
	c.dispatch(kind, call, remaining)
	c.publish(Change{Kind: kind, Call: call, Badge: badge})
	c.notify(ctx, notifier, call, approved)
	return call, nil
}

// Retire rejects a pending call the page no longer waits for, without
// notifying the page. Only the owning context tabID may retire a call;
// unknown ids and calls owned by another context return model.ErrNotFound.
func (c *Coordinator) Retire(ctx context.Context, tabID, id, reason string) error {
	owned := func(p model.InterceptedCall) bool { return p.ID == id && p.TabID == tabID }
	calls, _, badge, remaining, err := c.finish(ctx, owned, model.StatusRejected, reason)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	c.opts.Metrics.decided(audit.EventExpired)
	c.log.Info("call retired", "id", id, "tab", tabID, "reason", reason)
	c.record(audit.EventExpired, calls[0], reason)
	c.dispatch(audit.EventExpired, calls[0], remaining)
	c.publish(Change{Kind: audit.EventExpired, Call: calls[0], Badge: badge})
	return nil
}

// ClearPending rejects every pending call and notifies each originating context.
func (c *Coordinator) ClearPending(ctx context.Context) (int, error) {
	calls, notifier, badge, _, err := c.finish(ctx, func(model.InterceptedCall) bool { return true }, model.StatusRejected, ReasonCleared)
	if err != nil {
		return 0, err
	}
	for _, call := range calls {
		c.opts.Metrics.decided(string(model.StatusRejected))
		c.record(audit.EventCleared, call, ReasonCleared)
		c.publish(Change{Kind: audit.EventCleared, Call: call, Badge: badge})
		c.notify(ctx, notifier, call, false)
	}
	if len(calls) > 0 {
		c.log.Info("pending cleared", "count", len(calls))
	}
	return len(calls), nil
}

// Sweep retires pending calls older than the pending TTL. Their pages have
// already timed out locally; a rejection is still sent so nothing waits on them.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	cutoff := c.opts.Clock().Add(-c.opts.PendingTTL)
	stale := func(p model.InterceptedCall) bool { return p.Timestamp.Before(cutoff) }
	calls, notifier, badge, remaining, err := c.finish(ctx, stale, model.StatusRejected, ReasonExpired)
	if err != nil {
		return 0, err
	}
	for _, call := range calls {
		c.opts.Metrics.decided(audit.EventExpired)
		c.log.Warn("call expired", "id", call.ID, "method", call.Method, "age", c.opts.Clock().Sub(call.Timestamp).Round(time.Second))
		c.record(audit.EventExpired, call, ReasonExpired)
		c.dispatch(audit.EventExpired, call, remaining)
		c.publish(Change{Kind: audit.EventExpired, Call: call, Badge: badge})
		c.notify(ctx, notifier, call, false)
	}
	return len(calls), nil
}

// Run sweeps every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// ListPending returns the persisted pending calls, oldest first.
func (c *Coordinator) ListPending(ctx context.Context) ([]model.InterceptedCall, error) {
	return c.read(ctx, store.KeyPending)
}

// ListHistory returns the retained decided calls, oldest first.
func (c *Coordinator) ListHistory(ctx context.Context) ([]model.InterceptedCall, error) {
	return c.read(ctx, store.KeyHistory)
}

// Get finds a call in pending or history.
func (c *Coordinator) Get(ctx context.Context, id string) (model.InterceptedCall, error) {
	for _, key := range []string{store.KeyPending, store.KeyHistory} {
		calls, err := c.read(ctx, key)
		if err != nil {
			return model.InterceptedCall{}, err
		}
		if i := indexOf(calls, id); i >= 0 {
			return calls[i], nil
		}
	}
	return model.InterceptedCall{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
}

// Badge returns the indicator derived from the persisted counts.
func (c *Coordinator) Badge(ctx context.Context) (Badge, error) {
	pending, err := c.ListPending(ctx)
	if err != nil {
		return Badge{}, err
	}
	history, err := c.ListHistory(ctx)
	if err != nil {
		return Badge{}, err
	}
	return BadgeFor(len(pending), len(history)), nil
}

// finish removes every pending call matching sel, marks it status and files
// it into history. It returns the removed calls in pending order.
func (c *Coordinator) finish(ctx context.Context, sel func(model.InterceptedCall) bool, status model.Status, reason string) ([]model.InterceptedCall, Notifier, Badge, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, history, err := c.load(ctx)
	if err != nil {
		return nil, nil, Badge{}, 0, err
	}

	var done []model.InterceptedCall
	kept := pending[:0:0]
	for _, p := range pending {
		if sel(p) {
			p.Status = status
			p.Reason = reason
			done = append(done, p)
			continue
		}
		kept = append(kept, p)
	}
	if len(done) == 0 {
		return nil, c.opts.Notifier, BadgeFor(len(pending), len(history)), len(pending), nil
	}

	// History is written first so a failed write never loses a call: it
	// either stays pending or is already filed.
	if !c.opts.History.Discard {
		prev := history
		history = append(slices.Clone(prev), done...)
		if over := len(history) - c.opts.History.Capacity; over > 0 {
			history = slices.Clone(history[over:])
		}
		if err := c.put(ctx, store.KeyHistory, history); err != nil {
			return nil, nil, Badge{}, 0, err
		}
		if err := c.savePending(ctx, kept); err != nil {
			if rerr := c.put(ctx, store.KeyHistory, prev); rerr != nil {
				c.log.Error("history not restored after failed pending write", "error", rerr)
			}
			return nil, nil, Badge{}, 0, err
		}
	} else if err := c.savePending(ctx, kept); err != nil {
		return nil, nil, Badge{}, 0, err
	}
	badge := c.refreshBadge(ctx, len(kept), len(history))
	return done, c.opts.Notifier, badge, len(kept), nil
}

func (c *Coordinator) load(ctx context.Context) (pending, history []model.InterceptedCall, err error) {
	if pending, err = c.read(ctx, store.KeyPending); err != nil {
		return nil, nil, err
	}
	if c.opts.History.Discard {
		return pending, nil, nil
	}
	if history, err = c.read(ctx, store.KeyHistory); err != nil {
		return nil, nil, err
	}
	return pending, history, nil
}

func (c *Coordinator) read(ctx context.Context, key string) ([]model.InterceptedCall, error) {
	data, err := c.opts.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) == 0 {
		return []model.InterceptedCall{}, nil
	}
	var calls []model.InterceptedCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if calls == nil {
		calls = []model.InterceptedCall{}
	}
	return calls, nil
}

func (c *Coordinator) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.opts.Store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (c *Coordinator) savePending(ctx context.Context, pending []model.InterceptedCall) error {
	return c.put(ctx, store.KeyPending, pending)
}

// refreshBadge persists and exports the indicator. Failures are logged only:
// the collections are already written and the badge is derived state.
func (c *Coordinator) refreshBadge(ctx context.Context, pending, history int) Badge {
	b := BadgeFor(pending, history)
	if err := c.put(ctx, store.KeyBadge, b); err != nil {
		c.log.Warn("badge not persisted", "error", err)
	}
	c.opts.Metrics.observe(pending, history)
	return b
}

func (c *Coordinator) notify(ctx context.Context, n Notifier, call model.InterceptedCall, approved bool) {
	if n == nil {
		c.log.Warn("no notifier, page will time out", "id", call.ID, "tab", call.TabID)
		return
	}
	if err := n.Notify(ctx, call.TabID, model.Decision{ID: call.ID, Approved: approved}); err != nil {
		c.log.Warn("decision not delivered", "id", call.ID, "tab", call.TabID, "error", err)
	}
}

func (c *Coordinator) record(event string, call model.InterceptedCall, reason string) {
	if c.opts.Audit == nil {
		return
	}
	err := c.opts.Audit.Record(audit.Entry{
		Timestamp: c.opts.Clock().UTC().Format(audit.TimestampFormat),
		Event:     event,
		Call:      audit.Call{ID: call.ID, Method: call.Method, Origin: call.Origin, TabID: call.TabID},
		Status:    string(call.Status),
		Reason:    reason,
		Actor:     "coordinator",
	})
	if err != nil {
		c.log.Error("audit record failed", "id", call.ID, "event", event, "error", err)
	}
}

func (c *Coordinator) dispatch(event string, call model.InterceptedCall, pending int) {
	c.subMu.Lock()
	a := c.alerts
	c.subMu.Unlock()
	if a == nil {
		return
	}
	a.Dispatch(alert.Event{
		Timestamp: c.opts.Clock().UTC().Format(audit.TimestampFormat),
		Event:     event,
		CallID:    call.ID,
		Method:    call.Method,
		Origin:    call.Origin,
		TabID:     call.TabID,
		Reason:    call.Reason,
		Pending:   pending,
	})
}

func (c *Coordinator) publish(ch Change) {
	c.subMu.Lock()
	subs := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(ch)
	}
}

func indexOf(calls []model.InterceptedCall, id string) int {
	return slices.IndexFunc(calls, func(c model.InterceptedCall) bool { return c.ID == id })
}

// Presenters fans Present out to several surfaces.
func Presenters(ps ...Presenter) Presenter {
	return presenters(ps)
}

type presenters []Presenter

func (ps presenters) Present(ctx context.Context, call model.InterceptedCall) {
	for _, p := range ps {
		if p != nil {
			p.Present(ctx, call)
		}
	}
}
