// Package notify delivers change notifications for persisted settings.
//
// Observers subscribe against a scope key (the resolved settings file path)
// and are invoked synchronously, in registration order, after a save for
// that key succeeds. A panicking observer is isolated and reported through
// the registry's panic handler so it can neither break delivery to later
// observers nor corrupt the save that triggered it.
package notify

import (
	"sync"

	"claudecfg/internal/document"
)

// Observer is called with the scope key and the just-persisted document.
// Each observer receives its own deep copy; mutating it affects nothing.
type Observer func(key string, doc document.Document)

// Subscription represents an active observer registration.
type Subscription struct {
	id       uint64
	key      string
	registry *Registry
}

// Unsubscribe removes this subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.registry != nil {
		s.registry.unsubscribe(s.key, s.id)
	}
}

type registration struct {
	id       uint64
	observer Observer
}

// Registry manages settings-change subscriptions.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string][]registration
	nextID  uint64
	onPanic func(key string, recovered any)
}

// Option configures a Registry.
type Option func(*Registry)

// WithPanicHandler sets a handler invoked when an observer panics.
func WithPanicHandler(fn func(key string, recovered any)) Option {
	return func(r *Registry) { r.onPanic = fn }
}

// New creates a new Registry.
func New(opts ...Option) *Registry {
	r := &Registry{subs: make(map[string][]registration)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers an observer for a scope key. There is no automatic
// unsubscribe; callers that rebuild themselves must not re-register without
// releasing the previous subscription.
func (r *Registry) Subscribe(key string, observer Observer) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[key] = append(r.subs[key], registration{id: id, observer: observer})

	return &Subscription{id: id, key: key, registry: r}
}

// Publish invokes every observer registered for key, in registration order.
// Callbacks run outside the registry lock so an observer may subscribe or
// unsubscribe without deadlocking.
func (r *Registry) Publish(key string, doc document.Document) {
	r.mu.RLock()
	regs := make([]registration, len(r.subs[key]))
	copy(regs, r.subs[key])
	r.mu.RUnlock()

	for _, reg := range regs {
		r.safeCall(key, reg.observer, document.Clone(doc))
	}
}

// Count returns the number of observers registered for key.
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key])
}

func (r *Registry) unsubscribe(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.subs[key]
	for i, reg := range regs {
		if reg.id == id {
			r.subs[key] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(r.subs[key]) == 0 {
		delete(r.subs, key)
	}
}

func (r *Registry) safeCall(key string, observer Observer, doc document.Document) {
	defer func() {
		if v := recover(); v != nil && r.onPanic != nil {
			r.onPanic(key, v)
		}
	}()
	observer(key, doc)
}
