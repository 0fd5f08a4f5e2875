// Package locks provides per-key mutual exclusion for work sharded by task id.
package locks

import (
	"sync"
)

// KeyedMutex hands out one mutex per key, so operations on the same task id
// serialize while operations on different ids run concurrently.
// Entries are reference counted and dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex            // Guards the entries map itself
	locks map[string]*keyedLock // Per-key mutexes
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, exists := k.locks[key]
	if !exists {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	// Acquire outside the manager lock so other keys are not blocked.
	entry.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that is not held is a no-op.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry, exists := k.locks[key]
	if !exists {
		k.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}

// With runs fn while holding the mutex for key.
func (k *KeyedMutex) With(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
