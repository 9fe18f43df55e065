package sharedstate

import "sync"

// Shared is an in-process hub backing any number of attached contexts. Each
// viewer context calls Attach for its own Store handle; a write through one
// handle notifies the subscribers of every other handle.
type Shared struct {
	mu      sync.Mutex
	values  map[string]string
	handles map[*MemoryStore]struct{}
}

// NewShared returns an empty hub.
func NewShared() *Shared {
	return &Shared{
		values:  make(map[string]string),
		handles: make(map[*MemoryStore]struct{}),
	}
}

// Attach creates a new context handle on the hub.
func (s *Shared) Attach() *MemoryStore {
	h := &MemoryStore{hub: s, subs: make(map[string][]*memorySub)}
	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()
	return h
}

// notify runs the matching subscribers of every handle except origin. Called
// after the value map has been updated, so a subscriber reading back sees the
// new state.
func (s *Shared) notify(origin *MemoryStore, key, value string, ok bool) {
	s.mu.Lock()
	var fns []ChangeFunc
	for h := range s.handles {
		if h == origin {
			continue
		}
		fns = append(fns, h.subscribers(key)...)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(value, ok)
	}
}

type memorySub struct {
	fn      ChangeFunc
	removed bool
}

// MemoryStore is one context's handle on a Shared hub.
type MemoryStore struct {
	hub    *Shared
	subMu  sync.Mutex
	subs   map[string][]*memorySub
	closed bool
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	v, ok := m.hub.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.hub.mu.Lock()
	m.hub.values[key] = value
	m.hub.mu.Unlock()
	m.hub.notify(m, key, value, true)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.hub.mu.Lock()
	_, existed := m.hub.values[key]
	delete(m.hub.values, key)
	m.hub.mu.Unlock()
	if existed {
		m.hub.notify(m, key, "", false)
	}
	return nil
}

func (m *MemoryStore) OnChange(key string, fn ChangeFunc) func() {
	sub := &memorySub{fn: fn}
	m.subMu.Lock()
	m.subs[key] = append(m.subs[key], sub)
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		sub.removed = true
		live := m.subs[key][:0]
		for _, s := range m.subs[key] {
			if !s.removed {
				live = append(live, s)
			}
		}
		m.subs[key] = live
		m.subMu.Unlock()
	}
}

func (m *MemoryStore) subscribers(key string) []ChangeFunc {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return nil
	}
	var fns []ChangeFunc
	for _, s := range m.subs[key] {
		if !s.removed {
			fns = append(fns, s.fn)
		}
	}
	return fns
}

// Close detaches the handle from the hub. Shared values stay in place so the
// remaining contexts keep seeing them.
func (m *MemoryStore) Close() error {
	m.hub.mu.Lock()
	delete(m.hub.handles, m)
	m.hub.mu.Unlock()
	m.subMu.Lock()
	m.closed = true
	m.subMu.Unlock()
	return nil
}
