// Package claim provides short-lived exclusive keys used for cross-process
// record locks and idempotency keys.
package claim

import (
	"context"
	"sync"
	"time"
)

// Claimer grants a key to exactly one caller until its ttl expires.
type Claimer interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Memory is a process-local Claimer.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemory builds an empty in-process Claimer.
func NewMemory() *Memory {
	return &Memory{keys: map[string]time.Time{}, now: time.Now}
}

// Acquire reports whether key was free (or expired) and is now held.
func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	m.sweep(now)
	return true, nil
}

// Release frees key.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) sweep(now time.Time) {
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
}
