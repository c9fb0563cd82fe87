package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Named pairs a provider with the name it is addressed by.
type Named struct {
	Name     string
	Provider Provider
}

// Group is a multi-wallet host: a primary entry point plus named secondaries.
type Group struct {
	primary     Provider
	secondaries []Named
}

// NewGroup builds a group. Secondary names must be unique and non-empty.
func NewGroup(primary Provider, secondaries ...Named) (*Group, error) {
	if primary == nil {
		return nil, fmt.Errorf("group requires a primary provider")
	}
	seen := make(map[string]bool, len(secondaries))
	for _, n := range secondaries {
		if n.Name == "" || n.Provider == nil {
			return nil, fmt.Errorf("secondary provider needs a name and a provider")
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", n.Name)
		}
		seen[n.Name] = true
	}
	return &Group{primary: primary, secondaries: secondaries}, nil
}

// Request goes to the primary provider.
func (g *Group) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return g.primary.Request(ctx, method, params)
}

// Providers lists the secondary providers in declaration order.
func (g *Group) Providers() []Provider {
	out := make([]Provider, len(g.secondaries))
	for i, n := range g.secondaries {
		out[i] = n.Provider
	}
	return out
}

// Names lists the secondary names in declaration order.
func (g *Group) Names() []string {
	out := make([]string, len(g.secondaries))
	for i, n := range g.secondaries {
		out[i] = n.Name
	}
	return out
}

// Subscribe forwards to the primary when it supports events.
func (g *Group) Subscribe(event string, fn func(json.RawMessage)) (func(), error) {
	if s, ok := g.primary.(Subscriber); ok {
		return s.Subscribe(event, fn)
	}
	return nil, fmt.Errorf("primary provider does not emit events")
}
