package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Event describes a change of the bound provider.
type Event int

const (
	// Available fires when the first provider is bound.
	Available Event = iota
	// Changed fires when a different provider replaces the bound one.
	Changed
)

func (e Event) String() string {
	if e == Available {
		return "available"
	}
	return "changed"
}

// Binding is an observable slot holding the currently active provider.
// The interceptor subscribes to it instead of reading the provider once.
type Binding struct {
	mu      sync.Mutex
	current Provider
	subs    map[int]func(Event, Provider)
	next    int
}

// NewBinding returns an empty binding.
func NewBinding() *Binding {
	return &Binding{subs: make(map[int]func(Event, Provider))}
}

// Set binds p and notifies subscribers. Rebinding the same instance is a no-op.
func (b *Binding) Set(p Provider) {
	if p == nil {
		return
	}
	b.mu.Lock()
	if Same(b.current, p) {
		b.mu.Unlock()
		return
	}
	ev := Changed
	if b.current == nil {
		ev = Available
	}
	b.current = p
	subs := make([]func(Event, Provider), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev, p)
	}
}

// Current returns the bound provider, or nil.
func (b *Binding) Current() Provider {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn for future binding events.
func (b *Binding) Subscribe(fn func(Event, Provider)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Await polls for a bound provider every interval, for at most limit.
// It is the fallback for hosts that bind late without going through Set subscribers.
func (b *Binding) Await(ctx context.Context, interval, limit time.Duration) (Provider, error) {
	if p := b.Current(); p != nil {
		return p, nil
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no provider bound after %s", limit)
		case <-ticker.C:
			if p := b.Current(); p != nil {
				return p, nil
			}
		}
	}
}
