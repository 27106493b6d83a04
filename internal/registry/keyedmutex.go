package registry

import (
	"sort"
	"sync"
)

// KeyedMutex hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockMany acquires the mutexes for all keys in sorted order, so concurrent
// callers with overlapping key sets cannot deadlock. Duplicates are ignored.
func (k *KeyedMutex) LockMany(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		unlocks = append(unlocks, k.Lock(key))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
