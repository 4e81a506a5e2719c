package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// memoryStore is an in-memory CounterStore with manual clock control.
type memoryStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiries map[string]time.Time
	now      time.Time
	failing  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		counts:   make(map[string]int64),
		expiries: make(map[string]time.Time),
		now:      time.Now(),
	}
}

var errStoreDown = errors.New("counter store unreachable")

func (s *memoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errStoreDown
	}
	if exp, ok := s.expiries[key]; ok && !s.now.Before(exp) {
		delete(s.counts, key)
		delete(s.expiries, key)
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.expiries[key] = s.now.Add(ttl)
	return nil
}

func (s *memoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errStoreDown
	}
	exp, ok := s.expiries[key]
	if !ok {
		return -1, nil
	}
	return exp.Sub(s.now), nil
}

func (s *memoryStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func TestCheckLimitAllowsUpToLimit(t *testing.T) {
	store := newMemoryStore()
	limiter := NewLimiter(store)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		result := limiter.CheckLimit(ctx, "user-1", "response_scan", 5, 3600)
		assert.True(t, result.Allowed, "call %d should be allowed", i)
		assert.Equal(t, 5-i, result.Remaining)
	}

	result := limiter.CheckLimit(ctx, "user-1", "response_scan", 5, 3600)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.RetryAfter, 0)
	assert.LessOrEqual(t, result.RetryAfter, 3600)
}

func TestCheckLimitWindowReset(t *testing.T) {
	store := newMemoryStore()
	limiter := NewLimiter(store)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		limiter.CheckLimit(ctx, "user-1", "send_request", 5, 60)
	}

	store.advance(61 * time.Second)

	result := limiter.CheckLimit(ctx, "user-1", "send_request", 5, 60)
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestCheckLimitSeparateKeys(t *testing.T) {
	store := newMemoryStore()
	limiter := NewLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.CheckLimit(ctx, "user-1", "response_scan", 3, 3600)
	}
	assert.False(t, limiter.CheckLimit(ctx, "user-1", "response_scan", 3, 3600).Allowed)

	// Other users and other actions are unaffected.
	assert.True(t, limiter.CheckLimit(ctx, "user-2", "response_scan", 3, 3600).Allowed)
	assert.True(t, limiter.CheckLimit(ctx, "user-1", "send_request", 3, 3600).Allowed)
}

func TestCheckLimitFailsOpen(t *testing.T) {
	store := newMemoryStore()
	store.failing = true
	limiter := NewLimiter(store)

	result := limiter.CheckLimit(context.Background(), "user-1", "response_scan", 5, 3600)
	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Remaining)
	assert.Equal(t, 0, result.RetryAfter)
}

func TestCheckLimitRetryAfterFloor(t *testing.T) {
	store := newMemoryStore()
	limiter := NewLimiter(store)
	ctx := context.Background()

	limiter.CheckLimit(ctx, "user-1", "response_scan", 1, 10)
	store.advance(10 * time.Second)

	// TTL is now zero but the key has not been re-created yet; retryAfter
	// falls back to the window and never drops below one second.
	result := limiter.CheckLimit(ctx, "user-1", "response_scan", 1, 10)
	assert.GreaterOrEqual(t, result.RetryAfter, 1)
}
