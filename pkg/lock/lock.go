// Package lock provides the mutex that keeps periodic jobs from overlapping
// across scheduler instances.
package lock

import (
	"context"
	"sync"
	"time"
)

// Unlock releases a held lock. It is safe to call once the lock expired.
type Unlock func(ctx context.Context) error

// Locker hands out named, expiring locks.
type Locker interface {
	// TryLock acquires key for at most ttl without waiting. ok is false when
	// another holder owns the key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu    sync.Mutex
	held  map[string]localHold
	now   func() time.Time
	nonce uint64
}

type localHold struct {
	nonce     uint64
	expiresAt time.Time
}

func NewLocal() *Local {
	return &Local{
		held: make(map[string]localHold),
		now:  time.Now,
	}
}

func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if hold, ok := l.held[key]; ok && now.Before(hold.expiresAt) {
		return nil, false, nil
	}

	l.nonce++
	nonce := l.nonce
	l.held[key] = localHold{nonce: nonce, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if hold, ok := l.held[key]; ok && hold.nonce == nonce {
			delete(l.held, key)
		}

		return nil
	}, true, nil
}
