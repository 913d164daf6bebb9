package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is a process-local Locker. Entries are reference counted and
// dropped once nobody holds or waits for them. A positive wait bounds how
// long Lock blocks, the same as RedisLocker.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	wait    time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*memoryEntry), wait: wait}
}

func (l *MemoryLocker) acquireEntry(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) releaseEntry(key string, e *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalize(keys)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	held := make([]string, 0, len(ordered))
	heldEntries := make([]*memoryEntry, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-heldEntries[i].sem
			l.releaseEntry(held[i], heldEntries[i])
		}
	}

	for _, key := range ordered {
		e := l.acquireEntry(key)
		select {
		case e.sem <- struct{}{}:
			held = append(held, key)
			heldEntries = append(heldEntries, e)
		case <-ctx.Done():
			l.releaseEntry(key, e)
			release()
			return nil, fmt.Errorf("%w %s: %v", ErrLockTimeout, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Len reports how many keys are currently tracked.
func (l *MemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
