// Package provider defines the narrow wallet-provider capability the
// interceptor wraps, plus concrete upstreams and an observable binding.
package provider

import (
	"context"
	"encoding/json"
	"reflect"
)

// Provider is the single request entry point of a wallet.
type Provider interface {
	Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// Subscriber is implemented by providers that emit events (accountsChanged, chainChanged, ...).
type Subscriber interface {
	Subscribe(event string, fn func(json.RawMessage)) (cancel func(), err error)
}

// Multi is implemented by hosts exposing several wallets at once.
type Multi interface {
	Provider
	Providers() []Provider
}

// Comparable reports whether p can be used as a map key and compared with ==.
func Comparable(p Provider) bool {
	if p == nil {
		return false
	}
	return reflect.TypeOf(p).Comparable()
}

// Same reports whether a and b are the same provider instance.
func Same(a, b Provider) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !Comparable(a) || !Comparable(b) {
		return false
	}
	return a == b
}
