package sync

import gosync "sync"

// keyedLocks serializes sync invocations per channel. Two syncs racing on the
// same stored cursor could lose updates or double-advance it; unrelated
// channels proceed concurrently.
type keyedLocks struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*gosync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &gosync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
