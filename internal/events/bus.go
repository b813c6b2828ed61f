package events

import (
	"container/ring"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
)

// Handler receives published events.
type Handler func(Event)

// UnsubscribeFunc removes a subscription.
type UnsubscribeFunc func()

// Wildcard subscribes to every event type.
const Wildcard Type = "*"

type handlerEntry struct {
	id      uint64
	handler Handler
}

// Bus is an in-process pub/sub with a ring of recent events.
type Bus struct {
	subscribers map[Type][]handlerEntry
	nextID      atomic.Uint64
	mu          sync.RWMutex
	history     *ring.Ring
	historySize int
	historyMu   sync.RWMutex
}

// NewBus creates a bus keeping the last historySize events.
func NewBus(historySize int) *Bus {
	if historySize < 1 {
		historySize = 100
	}
	return &Bus{
		subscribers: make(map[Type][]handlerEntry),
		history:     ring.New(historySize),
		historySize: historySize,
	}
}

// Subscribe registers handler for t. Use Wildcard for all events.
func (b *Bus) Subscribe(t Type, handler Handler) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscribers[t] = append(b.subscribers[t], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[t]
		for i, h := range handlers {
			if h.id == id {
				handlers[i] = handlers[len(handlers)-1]
				b.subscribers[t] = handlers[:len(handlers)-1]
				return
			}
		}
	}
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) UnsubscribeFunc {
	return b.Subscribe(Wildcard, handler)
}

func (b *Bus) record(e Event) []handlerEntry {
	b.historyMu.Lock()
	b.history.Value = e
	b.history = b.history.Next()
	b.historyMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := make([]handlerEntry, 0, len(b.subscribers[e.Type])+len(b.subscribers[Wildcard]))
	entries = append(entries, b.subscribers[e.Type]...)
	return append(entries, b.subscribers[Wildcard]...)
}

// Publish delivers e to subscribers without waiting for them.
func (b *Bus) Publish(e Event) {
	for _, entry := range b.record(e) {
		go entry.handler(e)
	}
}

// PublishSync delivers e and waits for every handler to return.
func (b *Bus) PublishSync(e Event) {
	var wg sync.WaitGroup
	for _, entry := range b.record(e) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(e)
		}(entry.handler)
	}
	wg.Wait()
}

// History returns up to limit recent events, newest first.
func (b *Bus) History(limit int) []Event {
	if limit <= 0 || limit > b.historySize {
		limit = b.historySize
	}

	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	out := make([]Event, 0, limit)
	r := b.history.Prev()
	for i := 0; i < limit; i++ {
		if e, ok := r.Value.(Event); ok {
			out = append(out, e)
		}
		r = r.Prev()
	}
	return out
}

// Stream writes every event to w as one JSON object per line.
func (b *Bus) Stream(w io.Writer) UnsubscribeFunc {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return b.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	})
}

// Journal forwards every event to l.
func (b *Bus) Journal(l *Logger) UnsubscribeFunc {
	return b.SubscribeAll(func(e Event) {
		_ = l.Log(e)
	})
}

// SubscriberCount returns the number of handlers for t.
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t])
}
