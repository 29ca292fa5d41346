// Package events provides the in-process publish/subscribe bus used to notify
// collaborators (loggers, analytics, sinks) of consent lifecycle transitions.
package events

import (
	"sort"
	"sync"
)

// Event is anything that can travel the bus. Concrete events live next to the
// domain that emits them so this package stays dependency-free.
type Event interface {
	Name() string
	StopPropagation()
	IsPropagationStopped() bool
}

// Base gives concrete events propagation control by embedding.
type Base struct {
	stopped bool
}

func (b *Base) StopPropagation() { b.stopped = true }

func (b *Base) IsPropagationStopped() bool { return b.stopped }

// Listener receives dispatched events.
type Listener func(Event)

// Wildcard subscribes a listener to every event name.
const Wildcard = "*"

type registration struct {
	fn       Listener
	priority int
	seq      uint64
}

// Dispatcher is a synchronous event bus. Listeners run in priority order
// (higher first, registration order breaking ties) on the dispatching
// goroutine; wildcard listeners run before name-specific ones.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]registration
	wildcard  []registration
	seq       uint64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[string][]registration)}
}

// On registers a listener for the given event name. Use Wildcard to receive
// every event. Returns an unsubscribe func.
func (d *Dispatcher) On(name string, fn Listener, priority int) (off func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	reg := registration{fn: fn, priority: priority, seq: d.seq}
	if name == Wildcard {
		d.wildcard = sortedInsert(d.wildcard, reg)
	} else {
		d.listeners[name] = sortedInsert(d.listeners[name], reg)
	}

	seq := reg.seq
	return func() { d.remove(name, seq) }
}

// Once registers a listener that unsubscribes itself after the first delivery.
func (d *Dispatcher) Once(name string, fn Listener, priority int) (off func()) {
	var once sync.Once
	var cancel func()
	cancel = d.On(name, func(ev Event) {
		once.Do(func() {
			cancel()
			fn(ev)
		})
	}, priority)
	return cancel
}

// Off removes every listener for the given name (Wildcard clears wildcard
// listeners). Prefer the unsubscribe func returned by On for single removal.
func (d *Dispatcher) Off(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == Wildcard {
		d.wildcard = nil
		return
	}
	delete(d.listeners, name)
}

// Dispatch delivers the event to wildcard listeners first, then name-specific
// ones, honoring StopPropagation between deliveries.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	regs := make([]registration, 0, len(d.wildcard)+len(d.listeners[ev.Name()]))
	regs = append(regs, d.wildcard...)
	regs = append(regs, d.listeners[ev.Name()]...)
	d.mu.RUnlock()

	for _, reg := range regs {
		if ev.IsPropagationStopped() {
			return
		}
		reg.fn(ev)
	}
}

// HasListeners reports whether anything would receive an event with this name.
func (d *Dispatcher) HasListeners(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.wildcard) > 0 || len(d.listeners[name]) > 0
}

// Clear drops every registration.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[string][]registration)
	d.wildcard = nil
}

func (d *Dispatcher) remove(name string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == Wildcard {
		d.wildcard = withoutSeq(d.wildcard, seq)
		return
	}
	d.listeners[name] = withoutSeq(d.listeners[name], seq)
}

func sortedInsert(regs []registration, reg registration) []registration {
	regs = append(regs, reg)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	return regs
}

func withoutSeq(regs []registration, seq uint64) []registration {
	out := regs[:0]
	for _, r := range regs {
		if r.seq != seq {
			out = append(out, r)
		}
	}
	return out
}
