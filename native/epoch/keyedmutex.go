package epoch

import "sync"

// keyedMutex serialises work per epoch id so that no two postings or
// finalizations for the same epoch run concurrently. The per-key locks are
// never held across a network or datastore suspension initiated elsewhere;
// they only cover the engine's own post/finalize critical sections.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint64]*sync.Mutex)}
}

func (k *keyedMutex) lock(key uint64) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
