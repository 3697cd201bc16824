package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one event.
type Handler func(e Event)

type subscription struct {
	handler Handler
	types   map[Type]bool
}

// Bus broadcasts events to subscribers and keeps a bounded history so late
// subscribers can catch up.
//
// Bus is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	history []Event
	size    int
	now     func() time.Time
}

// NewBus creates a bus that remembers the last size events. size <= 0
// selects 500.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 500
	}
	return &Bus{
		subs:    make(map[string]*subscription),
		history: make([]Event, 0, size),
		size:    size,
		now:     time.Now,
	}
}

// Subscribe registers handler for the given types, or every type when none
// are given. It returns the subscription ID.
func (b *Bus) Subscribe(handler Handler, types ...Type) string {
	sub := &subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// Emit implements Sink. Handlers run synchronously on the caller's
// goroutine; a panicking handler is logged and skipped.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.Lock()
	if len(b.history) >= b.size {
		b.history = b.history[1:]
	}
	b.history = append(b.history, e)
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		b.invoke(s.handler, e)
	}
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("events: handler panicked",
				zap.String("type", string(e.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}

// History returns a copy of the remembered events.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Since returns remembered events for one investigation.
func (b *Bus) Since(investigationID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.history {
		if e.InvestigationID == investigationID {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
