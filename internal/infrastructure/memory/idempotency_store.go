package memory

import (
	"context"
	"sync"
	"time"
)

type idemEntry struct {
	value   string
	expires time.Time
}

// IdempotencyStore mirrors the Redis SetNX store for single-process runs.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	lockTTL time.Duration
	locks   map[string]time.Time
	results map[string]idemEntry
	now     func() time.Time
}

func NewIdempotencyStore(ttl, lockTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:     ttl,
		lockTTL: lockTTL,
		locks:   make(map[string]time.Time),
		results: make(map[string]idemEntry),
		now:     time.Now,
	}
}

func scoped(scope, key string) string { return scope + ":" + key }

func (s *IdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	k := scoped(scope, key)
	if exp, held := s.locks[k]; held && (s.lockTTL <= 0 || s.now().Before(exp)) {
		return false, nil
	}
	s.locks[k] = s.now().Add(s.lockTTL)
	return true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, scoped(scope, key))
	return nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[scoped(scope, key)] = idemEntry{value: value, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *IdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.results[scoped(scope, key)]
	if !ok {
		return "", false, nil
	}
	if s.ttl > 0 && !s.now().Before(e.expires) {
		delete(s.results, scoped(scope, key))
		return "", false, nil
	}
	return e.value, true, nil
}
