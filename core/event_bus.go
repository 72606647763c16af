package core

import (
	"sort"
	"sync"
)

// EventBus fans published events out to in-process subscribers, such as the
// control plane bridge or a host UI. Delivery is synchronous and in publish
// order, so subscribers must hand off slow work.
//
// A nil *EventBus is valid and drops everything.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]func(*EventPacket)
	logger      *Logger
}

func NewEventBus(logger *Logger) *EventBus {
	if logger == nil {
		logger = GetLogger()
	}
	return &EventBus{
		subscribers: make(map[string]func(*EventPacket)),
		logger:      logger.With(map[string]interface{}{"component": "event_bus"}),
	}
}

// Subscribe registers fn under name, replacing any previous subscriber with
// the same name. The returned func removes it.
func (b *EventBus) Subscribe(name string, fn func(*EventPacket)) func() {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	b.subscribers[name] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, name)
		b.mu.Unlock()
	}
}

// Publish wraps the event in a packet and delivers it to every subscriber.
// A panicking subscriber is logged and skipped.
func (b *EventBus) Publish(event IEvent, relayer string) {
	if b == nil || event == nil {
		return
	}
	packet := NewEventPacket(event, relayer)

	b.mu.RLock()
	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func(*EventPacket), 0, len(names))
	for _, name := range names {
		fns = append(fns, b.subscribers[name])
	}
	b.mu.RUnlock()

	for i, fn := range fns {
		b.deliver(names[i], fn, packet)
	}
}

func (b *EventBus) deliver(name string, fn func(*EventPacket), packet *EventPacket) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "subscriber", name, "event", packet.Event.GetId(), "panic", r)
		}
	}()
	fn(packet)
}
