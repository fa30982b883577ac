// Package ratelimit bounds allocation attempts per requester. The allocator
// takes a Limiter as an injected dependency so tests can swap it out and
// deployments can choose between a process-local window and a shared counter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	count int
	reset time.Time
}

// FixedWindow is an in-memory fixed-window limiter. Stale windows are
// overwritten on next access, so no background sweep is needed; the limit is
// per process, which is acceptable for abuse mitigation.
type FixedWindow struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	keys   map[string]*window
	now    func() time.Time
}

func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		period: period,
		keys:   make(map[string]*window),
		now:    time.Now,
	}
}

func (f *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	w, ok := f.keys[key]
	if !ok || now.After(w.reset) {
		f.keys[key] = &window{count: 1, reset: now.Add(f.period)}
		return Decision{Allowed: true}, nil
	}
	if w.count >= f.limit {
		return Decision{RetryAfter: w.reset.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}
