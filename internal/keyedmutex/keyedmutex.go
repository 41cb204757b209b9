// Package keyedmutex serializes critical sections that share a string key
// while letting sections with different keys run concurrently.
package keyedmutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one lock per key. Entries exist only while some goroutine
// holds or waits for the key.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock blocks until the caller holds key and returns the matching unlock
// function. Unlock must be called exactly once.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.release(key, e)
		})
	}
}

// Do runs fn while holding key and returns its error.
func (m *Map) Do(key string, fn func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return fn()
}

// Len reports how many keys are currently held or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
