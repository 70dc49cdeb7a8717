/*
Package keylock provides per-key mutual exclusion for in-process callers.

Entries are reference counted and removed as soon as the last holder or waiter
releases them, so keys that come and go (instance ids, interaction ids, manifest
paths) never accumulate in memory.
*/
package keylock

import (
	"context"
	"sort"
	"sync"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locker serializes work per key.
type Locker struct {
	mu    sync.Mutex            // guards locks
	locks map[string]*lockEntry // active keys
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock entry.mu, and then call release(key) after unlocking.
func (l *Locker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	if !exists {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}

// WithLock executes fn while holding the lock for key.
// If ctx is already done, fn is not called and ctx.Err() is returned.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := l.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(key)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// WithLocks holds the locks for every key, acquired in sorted order, while fn runs.
// Duplicate keys are locked once.
func (l *Locker) WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) error {
	keys = uniqueSorted(keys)
	var run func(i int, ctx context.Context) error
	run = func(i int, ctx context.Context) error {
		if i == len(keys) {
			return fn(ctx)
		}
		return l.WithLock(ctx, keys[i], func(ctx context.Context) error {
			return run(i+1, ctx)
		})
	}
	return run(0, ctx)
}

// Len reports how many keys currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
