package lock

import "sync"

// Keyed serializes operations per entity id. Locks for distinct ids are
// independent, so acting on one file never blocks another. Entries are
// reference-counted and removed once the last holder releases, keeping the
// map bounded by the number of in-flight operations.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed builds an empty lock registry.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held and returns the release
// function. Release must be called exactly once, including on error paths.
func (k *Keyed) Acquire(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}
