package attribute

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Change describes a single attribute mutation delivered to listeners.
type Change struct {
	Name string
	// Previous is only meaningful when HadPrevious is true.
	Previous    string
	HadPrevious bool
	Current     string
	// Removed is set when the attribute was deleted; Current is empty then.
	Removed bool
}

type Listener interface {
	AttributeChanged(Change)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(Change)

func (f ListenerFunc) AttributeChanged(c Change) {
	f(c)
}

// Handle identifies a listener registration. The zero Handle is inert.
type Handle struct {
	reg *registration
}

type registration struct {
	listener Listener
	filter   map[string]struct{}
	active   atomic.Bool
}

func (r *registration) wants(name string) bool {
	if len(r.filter) == 0 {
		return true
	}
	_, ok := r.filter[name]
	return ok
}

// Store is an observable name->value map. Listeners run synchronously on the goroutine
// calling Set/Delete, in registration order, without the store lock held.
type Store struct {
	mu        sync.RWMutex
	values    map[string]string
	listeners []*registration
}

func (s *Store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether name has been set.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.values))
	for n := range s.values {
		names = append(names, n)
	}
	s.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Snapshot returns a copy of all current values.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) Set(name, value string) {
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	prev, had := s.values[name]
	s.values[name] = value
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	notify(listeners, Change{Name: name, Previous: prev, HadPrevious: had, Current: value})
}

// Delete removes name and notifies listeners. It returns false if name was not set.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	prev, had := s.values[name]
	if !had {
		s.mu.Unlock()
		return false
	}
	delete(s.values, name)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	notify(listeners, Change{Name: name, Previous: prev, HadPrevious: true, Removed: true})
	return true
}

// AddListener registers l for changes to the given attribute names, or to every
// attribute when none are given.
func (s *Store) AddListener(l Listener, names ...string) Handle {
	reg := &registration{listener: l}
	if len(names) > 0 {
		reg.filter = make(map[string]struct{}, len(names))
		for _, n := range names {
			reg.filter[n] = struct{}{}
		}
	}
	reg.active.Store(true)

	s.mu.Lock()
	s.listeners = append(s.listeners, reg)
	s.mu.Unlock()
	return Handle{reg: reg}
}

func (s *Store) RemoveListener(h Handle) {
	if h.reg == nil {
		return
	}
	h.reg.active.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = slices.DeleteFunc(s.listeners, func(r *registration) bool {
		return r == h.reg
	})
}

// ClearListeners detaches every listener.
func (s *Store) ClearListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.listeners {
		r.active.Store(false)
	}
	s.listeners = nil
}

func (s *Store) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func notify(listeners []*registration, c Change) {
	for _, r := range listeners {
		// a registration removed by an earlier listener in this round is skipped
		if !r.active.Load() || !r.wants(c.Name) {
			continue
		}
		r.listener.AttributeChanged(c)
	}
}
