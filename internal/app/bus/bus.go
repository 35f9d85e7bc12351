// Package bus is the engine's in-process event emitter. Components publish
// typed events; consumers subscribe by kind.
package bus

import (
	"errors"
	"sync"
)

// Kind identifies an event family.
type Kind string

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
}

// Handler consumes events of one kind. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

var ErrNilBus = errors.New("bus: nil bus")

type subscription struct {
	id      uint64
	handler Handler
}

// Bus keeps subscriptions in memory.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	byKind map[Kind][]subscription
}

func New() *Bus {
	return &Bus{byKind: make(map[Kind][]subscription)}
}

// Subscribe registers h for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	if b == nil || h == nil {
		return func() {}
	}
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.byKind[kind] = append(b.byKind[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(kind, id) })
	}
}

// Publish delivers e to the current subscribers of its kind in subscription order.
// Publishing on a nil bus is a no-op so components can run without one.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.byKind[e.Kind()]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.handler(e)
	}
}

// SubscriberCount returns the number of live subscriptions across all kinds.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.byKind {
		n += len(subs)
	}
	return n
}

func (b *Bus) unsubscribe(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byKind[kind]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.byKind, kind)
		} else {
			b.byKind[kind] = next
		}
		return
	}
}

// On subscribes a typed handler. Events of kind that are not an E are skipped.
func On[E Event](b *Bus, kind Kind, fn func(E)) func() {
	return b.Subscribe(kind, func(raw Event) {
		if evt, ok := raw.(E); ok {
			fn(evt)
		}
	})
}
