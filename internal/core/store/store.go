// Package store provides the versioned, subscribable key/value map that backs
// island props, the globals slot and the shared-instance registry.
//
// Every mutation is visible to Get before subscribers run, and each mutation
// notifies every current subscriber exactly once. Subscribers are invoked
// outside the store lock so they may read the store again.
package store

import (
	"sync"

	"github.com/google/uuid"
)

// Listener is notified after a mutation has been applied.
type Listener func()

// Unsubscribe removes a listener. Calling it more than once is safe.
type Unsubscribe func()

type subscription struct {
	id       string
	listener Listener
}

// Store is a versioned map from K to V.
type Store[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	subs    []subscription
	version uint64

	// batching
	batchDepth int
	batchDirty bool
}

// New creates an empty store.
func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]V),
	}
}

// Get returns the value stored under key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Has reports whether key is present.
func (s *Store[K, V]) Has(key K) bool {
	_, ok := s.Get(key)
	return ok
}

// Len returns the number of entries.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version returns the number of mutations applied so far.
func (s *Store[K, V]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a shallow copy of all entries.
func (s *Store[K, V]) Snapshot() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[K]V, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Set replaces the value under key and notifies.
func (s *Store[K, V]) Set(key K, value V) {
	s.mu.Lock()
	s.entries[key] = value
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
}

// Update replaces the value under key with fn(old, present) and notifies.
// It is the building block for shallow merges.
func (s *Store[K, V]) Update(key K, fn func(old V, ok bool) V) {
	s.mu.Lock()
	old, ok := s.entries[key]
	s.entries[key] = fn(old, ok)
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
}

// UpdateIf is Update for conditional writes: when fn reports false nothing is
// stored and nobody is notified. The check and the write happen under one lock.
func (s *Store[K, V]) UpdateIf(key K, fn func(old V, ok bool) (V, bool)) bool {
	s.mu.Lock()
	old, ok := s.entries[key]
	next, apply := fn(old, ok)
	if !apply {
		s.mu.Unlock()
		return false
	}
	s.entries[key] = next
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
	return true
}

// Delete removes key. It reports whether the key was present; subscribers are
// only notified when something was removed.
func (s *Store[K, V]) Delete(key K) bool {
	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key)
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
	return true
}

// DeleteFunc removes every entry for which match returns true and notifies
// once if anything was removed.
func (s *Store[K, V]) DeleteFunc(match func(K, V) bool) int {
	s.mu.Lock()
	removed := 0
	for k, v := range s.entries {
		if match(k, v) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
	return removed
}

// Clear removes every entry and notifies.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[K]V)
	listeners := s.commitLocked()
	s.mu.Unlock()
	notify(listeners)
}

// Batch runs fn and coalesces all mutations it performs into a single
// notification delivered after fn returns.
func (s *Store[K, V]) Batch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batchDepth--
		var listeners []Listener
		if s.batchDepth == 0 && s.batchDirty {
			s.batchDirty = false
			listeners = s.listenersLocked()
		}
		s.mu.Unlock()
		notify(listeners)
	}()

	fn()
}

// Subscribe registers listener and returns a function removing it.
func (s *Store[K, V]) Subscribe(listener Listener) Unsubscribe {
	id := uuid.NewString()

	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: id, listener: listener})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of active listeners.
func (s *Store[K, V]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// commitLocked bumps the version and returns the listeners to notify, or nil
// while a batch is open.
func (s *Store[K, V]) commitLocked() []Listener {
	s.version++
	if s.batchDepth > 0 {
		s.batchDirty = true
		return nil
	}
	return s.listenersLocked()
}

func (s *Store[K, V]) listenersLocked() []Listener {
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]Listener, len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.listener
	}
	return out
}

func notify(listeners []Listener) {
	for _, l := range listeners {
		l()
	}
}
