package aureuspay

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies a payment lifecycle event.
type EventKind string

const (
	// EventStatusChange fires on every observed status transition, before the
	// kind-specific event for the same transition.
	EventStatusChange EventKind = "status_change"
	EventConfirmed    EventKind = "confirmed"
	EventExpired      EventKind = "expired"
	EventCancelled    EventKind = "cancelled"
	EventFailed       EventKind = "failed"
	// EventError fires when a synchronizer tick fails; it carries the
	// transport error and does not change payment status.
	EventError EventKind = "error"
)

// Event is delivered to subscribed handlers. Status is set for
// status_change events, Data carries the raw server record for
// confirmed/cancelled/failed, and Err is set for error events.
type Event struct {
	Kind   EventKind
	Status Status
	Data   map[string]interface{}
	Err    error
}

// EventHandler handles a delivered event.
type EventHandler func(Event)

// Subscription identifies one registered handler and can detach it.
type Subscription struct {
	id   uuid.UUID
	kind EventKind
	d    *eventDispatcher
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.d != nil {
		s.d.remove(s.kind, s.id)
	}
}

type registration struct {
	id uuid.UUID
	fn EventHandler
}

// eventDispatcher is a per-payment synchronous dispatcher. Handlers for a
// kind run in registration order on the goroutine that emits the event.
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[EventKind][]registration
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{handlers: make(map[EventKind][]registration)}
}

func (d *eventDispatcher) subscribe(kind EventKind, fn EventHandler) Subscription {
	reg := registration{id: uuid.New(), fn: fn}
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], reg)
	d.mu.Unlock()
	return Subscription{id: reg.id, kind: kind, d: d}
}

func (d *eventDispatcher) remove(kind EventKind, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[kind]
	for i, reg := range regs {
		if reg.id == id {
			d.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (d *eventDispatcher) emit(ev Event) {
	d.mu.RLock()
	regs := append([]registration{}, d.handlers[ev.Kind]...)
	d.mu.RUnlock()

	for _, reg := range regs {
		reg.fn(ev)
	}
}
