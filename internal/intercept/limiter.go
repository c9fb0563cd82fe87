package intercept

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// originLimiter rate-limits reviewable calls per requesting origin.
type originLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newOriginLimiter(rps float64, burst int) *originLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &originLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     3 * time.Minute,
	}
}

func (l *originLimiter) allow(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[origin]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[origin] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// cleanup drops origins idle for longer than l.idle until ctx is done.
func (l *originLimiter) cleanup(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.prune(time.Now())
		}
	}
}

func (l *originLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for o, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, o)
		}
	}
}
