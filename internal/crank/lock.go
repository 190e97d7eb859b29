package crank

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker guards a work-item key against concurrent execution. Acquire
// returns true only if no unexpired lock exists for the key; Release is
// idempotent. The TTL bounds the damage of a holder that crashes without
// releasing.
//
// Two implementations share this contract: MemoryLocker below for a single
// orchestrator process, and persistence.LockStore for multiple instances
// cranking the same ledger.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type memoryLockEntry struct {
	holder     uuid.UUID
	acquiredAt time.Time
}

// MemoryLocker is the in-process Locker: a TTL-checked map.
type MemoryLocker struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	held map[string]memoryLockEntry
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{
		ttl:  ttl,
		now:  time.Now,
		held: make(map[string]memoryLockEntry),
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[key]; ok && now.Sub(entry.acquiredAt) < l.ttl {
		return false, nil
	}

	l.held[key] = memoryLockEntry{holder: uuid.New(), acquiredAt: now}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// Held reports whether an unexpired lock exists for key.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.held[key]
	return ok && l.now().Sub(entry.acquiredAt) < l.ttl
}
