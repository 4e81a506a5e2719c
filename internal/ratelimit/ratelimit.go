// Package ratelimit implements a fixed-window rate limiter over an atomic
// counter store. The limiter fails open: when the store is unreachable the
// request is allowed, because the limiter must never become a single point
// of failure for the pipeline.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// CounterStore is the minimal counter interface the limiter needs. The store
// is accessed only through atomic increment-and-expire, never read-then-write.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Result is the outcome of a limiter check.
type Result struct {
	Allowed    bool `json:"allowed"`
	Remaining  int  `json:"remaining"`
	RetryAfter int  `json:"retry_after"`
}

// Limiter enforces per-user, per-action fixed windows.
type Limiter struct {
	store CounterStore
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// CheckLimit increments the counter for (action, user) and reports whether
// the call is within the limit. The first increment of a window sets the
// counter's expiry to the window length.
func (l *Limiter) CheckLimit(ctx context.Context, userID, action string, limit int, windowSeconds int) Result {
	key := fmt.Sprintf("rate:%s:%s", action, userID)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return l.failOpen(action, limit, err)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, time.Duration(windowSeconds)*time.Second); err != nil {
			return l.failOpen(action, limit, err)
		}
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return l.failOpen(action, limit, err)
	}

	retryAfter := int(ttl.Seconds())
	if retryAfter <= 0 {
		retryAfter = windowSeconds
	}
	if retryAfter < 1 {
		retryAfter = 1
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:    count <= int64(limit),
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// failOpen allows the request when the counter store is unavailable.
func (l *Limiter) failOpen(action string, limit int, err error) Result {
	logrus.Warnf("Rate limiter unavailable for action %s, allowing request: %v", action, err)
	return Result{Allowed: true, Remaining: limit, RetryAfter: 0}
}
