package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uprootiny/manicctl/internal/kvstore"
	"github.com/uprootiny/manicctl/internal/watcher"
)

const (
	// DefaultMaxEvents bounds the in-memory log.
	DefaultMaxEvents = 1000
	// DefaultPersistEvents bounds what Save writes.
	DefaultPersistEvents = 400
	// DefaultRecomputeDelay debounces derived-stat recomputation.
	DefaultRecomputeDelay = 250 * time.Millisecond

	// StorageKey is the kvstore key for persisted events.
	StorageKey = "timeline.events"
)

// Derived holds analytics recomputed from the log.
type Derived struct {
	Events     int          `json:"events"`
	Cadence    Cadence      `json:"cadence"`
	Edges      []Edge       `json:"edges"`
	Counts     map[Kind]int `json:"counts"`
	ComputedAt time.Time    `json:"computed_at"`
}

// Log is a bounded, timestamp-ordered event log. Appends schedule a
// debounced recompute of Derived.
type Log struct {
	mu      sync.Mutex
	events  []Event
	max     int
	persist int
	derived Derived

	recompute *watcher.Debouncer
	onDerived func(Derived)
	now       func() time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithMaxEvents sets the in-memory bound.
func WithMaxEvents(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithPersistEvents sets how many of the newest events Save keeps.
func WithPersistEvents(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.persist = n
		}
	}
}

// WithRecomputeDelay sets the recompute debounce window.
func WithRecomputeDelay(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.recompute = watcher.NewDebouncer(d)
		}
	}
}

// WithOnDerived registers a callback for each completed recompute.
func WithOnDerived(fn func(Derived)) LogOption {
	return func(l *Log) { l.onDerived = fn }
}

// WithLogClock overrides the time source.
func WithLogClock(now func() time.Time) LogOption {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates an empty Log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		max:       DefaultMaxEvents,
		persist:   DefaultPersistEvents,
		recompute: watcher.NewDebouncer(DefaultRecomputeDelay),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds events, keeps the log ordered by timestamp and drops the
// oldest beyond the bound.
func (l *Log) Append(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	l.mu.Lock()
	needSort := false
	for _, e := range evs {
		if n := len(l.events); n > 0 && e.TS.Before(l.events[n-1].TS) {
			needSort = true
		}
		l.events = append(l.events, e)
	}
	if needSort {
		sort.SliceStable(l.events, func(i, j int) bool { return l.events[i].TS.Before(l.events[j].TS) })
	}
	l.trimLocked(l.max)
	l.mu.Unlock()

	l.recompute.Trigger(l.Recompute)
}

// Trim keeps only the n newest events.
func (l *Log) Trim(n int) {
	l.mu.Lock()
	l.trimLocked(n)
	l.mu.Unlock()
	l.recompute.Trigger(l.Recompute)
}

func (l *Log) trimLocked(n int) {
	if n < 0 {
		n = 0
	}
	if over := len(l.events) - n; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}

// Len returns the number of events held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy of the log, oldest first.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Clear drops every event.
func (l *Log) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
	l.recompute.Trigger(l.Recompute)
}

// Recompute refreshes Derived now and notifies the callback.
func (l *Log) Recompute() {
	evs := l.Events()
	d := Derived{
		Events:     len(evs),
		Cadence:    CadenceStats(evs),
		Edges:      LayerEdges(evs),
		Counts:     LayerCounts(evs),
		ComputedAt: l.now(),
	}
	l.mu.Lock()
	l.derived = d
	cb := l.onDerived
	l.mu.Unlock()
	if cb != nil {
		cb(d)
	}
}

// Derived returns the last computed analytics.
func (l *Log) Derived() Derived {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.derived
}

// FlushRecompute runs a pending recompute immediately.
func (l *Log) FlushRecompute() {
	l.recompute.Flush()
}

// Save persists the newest events up to the persist cap.
func (l *Log) Save(ctx context.Context, kv kvstore.Store) error {
	evs := l.Events()
	if over := len(evs) - l.persist; over > 0 {
		evs = evs[over:]
	}
	if err := kvstore.PutJSON(ctx, kv, StorageKey, evs); err != nil {
		return fmt.Errorf("save timeline: %w", err)
	}
	return nil
}

// Load replaces the log with persisted events. A missing record leaves
// the log empty.
func (l *Log) Load(ctx context.Context, kv kvstore.Store) error {
	var evs []Event
	if err := kvstore.GetJSON(ctx, kv, StorageKey, &evs); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load timeline: %w", err)
	}
	l.mu.Lock()
	l.events = Sorted(evs)
	l.trimLocked(l.max)
	l.mu.Unlock()
	l.Recompute()
	return nil
}
