package events

import (
	"context"
	"sync"

	"keyflow/internal/workerutil"
)

const defaultBusCapacity = 256

// Bus fans events out to subscribers. Delivery happens on the goroutine
// running Run, one event at a time, in publish order.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	closed sync.Once

	mu     sync.RWMutex
	subs   map[uint64]func(Event)
	order  []uint64
	nextID uint64
}

// NewBus creates a bus buffering up to capacity undelivered events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultBusCapacity
	}
	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
		subs: make(map[uint64]func(Event)),
	}
}

// Subscribe registers fn and returns a function removing it.
// Subscribers are called in subscription order.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish queues ev, waiting for buffer space. It returns without queuing
// once the bus is closed.
func (b *Bus) Publish(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- ev:
	case <-b.done:
	}
}

// TryPublish queues ev only if the buffer has room. Used from the logging
// path, where waiting could deadlock a subscriber that logs.
func (b *Bus) TryPublish(ev Event) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Run delivers events until ctx is cancelled or Close is called. Events
// still buffered at that point are delivered before Run returns.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-ctx.Done():
			b.flush()
			return
		case <-b.done:
			b.flush()
			return
		}
	}
}

// Close stops accepting events and ends Run.
func (b *Bus) Close() {
	b.closed.Do(func() { close(b.done) })
}

func (b *Bus) flush() {
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		callSubscriber(fn, ev)
	}
}

func callSubscriber(fn func(Event), ev Event) {
	defer workerutil.Recover("events:" + ev.Type())
	fn(ev)
}

// Observer adapts a typed callback to a bus subscriber.
func Observer[T Event](fn func(T)) func(Event) {
	return func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	}
}
