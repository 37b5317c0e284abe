// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package disk

import "sync"

// keyLocks hands out one reader/writer lock per key and forgets it once unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

// lock acquires the write lock of key and returns its release function.
func (l *keyLocks) lock(key string) func() {
	kl := l.acquire(key)
	kl.Lock()
	return func() {
		kl.Unlock()
		l.release(key, kl)
	}
}

// rlock acquires the read lock of key and returns its release function.
func (l *keyLocks) rlock(key string) func() {
	kl := l.acquire(key)
	kl.RLock()
	return func() {
		kl.RUnlock()
		l.release(key, kl)
	}
}

func (l *keyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: map[string]*keyLock{}}
}
