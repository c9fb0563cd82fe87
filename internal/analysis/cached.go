package analysis

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes verdicts by call id. Streams are never cached.
type Cached struct {
	inner Service
	cache *lru.Cache[string, Verdict]
}

// NewCached wraps inner with an LRU of the given size.
func NewCached(inner Service, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, Verdict](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

// Analyze returns the cached verdict for req.ID or computes one. Failures
// are not cached.
func (c *Cached) Analyze(ctx context.Context, req Request) (Verdict, error) {
	if v, ok := c.cache.Get(req.ID); ok {
		return v, nil
	}
	v, err := c.inner.Analyze(ctx, req)
	if err != nil {
		return Verdict{}, err
	}
	if req.ID != "" {
		c.cache.Add(req.ID, v)
	}
	return v, nil
}

// Stream delegates to the wrapped backend.
func (c *Cached) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return c.inner.Stream(ctx, req)
}

// Forget drops a cached verdict.
func (c *Cached) Forget(id string) {
	c.cache.Remove(id)
}
