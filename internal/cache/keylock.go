package cache

import "sync"

// keyLocks is a table of lazily-created, reference-counted mutexes,
// one per entity key. It serializes writers to the same logical row
// without blocking unrelated rows behind a global lock.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until the caller holds the lock for key
func (k *keyLocks) acquire(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// release unlocks key and drops the mutex once nobody waits on it
func (k *keyLocks) release(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
