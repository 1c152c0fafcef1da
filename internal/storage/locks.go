package storage

import "sync"

// lockRegistry hands out exactly one mutex per shard file path, created
// lazily under the registry's own lock.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) forPath(path string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	mu, ok := r.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[path] = mu
	}
	return mu
}
