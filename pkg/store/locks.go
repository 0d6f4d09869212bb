package store

import "sync"

// KeyedMutex is a map of per-key mutexes with reference counting so dormant
// keys do not accumulate. The original implementation chained promises per
// key; a refcounted mutex gives the same single-writer ordering. Also used
// outside the store for per-session serialization.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex map.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// With runs fn while holding the lock for key. The lock entry is removed
// once the last holder releases it.
func (k *KeyedMutex) With(key string, fn func() error) error {
	l := k.acquire(key)
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		k.release(key, l)
	}()
	return fn()
}

func (k *KeyedMutex) acquire(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
