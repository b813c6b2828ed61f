package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/uprootiny/manicctl/internal/kvstore"
	"github.com/uprootiny/manicctl/internal/watcher"
)

// StorageKey is the kvstore key holding persisted counters.
const StorageKey = "telemetry.stats"

const (
	// DefaultHalfLife is applied when no half-life is configured.
	DefaultHalfLife = 24 * time.Hour
	// DefaultFlushDelay is the write-behind debounce window.
	DefaultFlushDelay = 400 * time.Millisecond
)

// Entry is one persisted counter.
type Entry struct {
	Key
	Stored
}

// Store is the reliability memory. Mutations schedule a debounced
// write-behind flush to the backing kvstore.
type Store struct {
	mu       sync.Mutex
	stats    map[Key]Stored
	halfLife time.Duration

	kv      kvstore.Store
	flusher *watcher.Debouncer
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKV sets the persistence backend. Without one the store is memory-only.
func WithKV(kv kvstore.Store) Option {
	return func(s *Store) { s.kv = kv }
}

// WithHalfLife sets the decay half-life used by Load.
func WithHalfLife(d time.Duration) Option {
	return func(s *Store) { s.halfLife = d }
}

// WithFlushDelay overrides the write-behind debounce window.
func WithFlushDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flusher = watcher.NewDebouncer(d)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		stats:    make(map[Key]Stored),
		halfLife: DefaultHalfLife,
		flusher:  watcher.NewDebouncer(DefaultFlushDelay),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "telemetry")
	return s
}

// HalfLife returns the configured decay half-life.
func (s *Store) HalfLife() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfLife
}

// SetHalfLife changes the half-life used by subsequent loads.
func (s *Store) SetHalfLife(d time.Duration) {
	s.mu.Lock()
	s.halfLife = d
	s.mu.Unlock()
}

// Load replaces in-memory counters with the persisted ones, decayed to now.
// A missing record is not an error.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	var entries []Entry
	if err := kvstore.GetJSON(ctx, s.kv, StorageKey, &entries); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load telemetry: %w", err)
	}
	raw := make(map[Key]Stored, len(entries))
	for _, e := range entries {
		if e.Route == "" {
			continue
		}
		raw[e.Key] = e.Stored
	}

	s.mu.Lock()
	s.stats = Decay(raw, s.now(), s.halfLife)
	n := len(s.stats)
	s.mu.Unlock()

	s.logger.Debug("loaded telemetry", "entries", len(entries), "kept", n)
	return nil
}

// Record folds one outcome into the route-global counter and, when target
// is non-empty, into the scoped counter.
func (s *Store) Record(route, target string, ok bool) {
	if route == "" {
		return
	}
	s.mu.Lock()
	now := s.now()
	s.bump(Global(route), ok, now)
	if target != "" {
		s.bump(Scoped(target, route), ok, now)
	}
	s.mu.Unlock()

	s.scheduleFlush()
}

func (s *Store) bump(k Key, ok bool, now time.Time) {
	v := s.stats[k]
	if ok {
		v.Success++
	} else {
		v.Failure++
	}
	v.UpdatedAt = now
	s.stats[k] = v
}

// Stats returns the counter for k.
func (s *Store) Stats(k Key) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[k].Stats
}

// Observations returns the number of scoped observations for target on route.
func (s *Store) Observations(target, route string) int {
	return s.Stats(Scoped(target, route)).Total()
}

// FluencyFor returns the scoped fluency when the target has at least one
// observation on route, else the route-global fluency, else 0.
func (s *Store) FluencyFor(target, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target != "" {
		if v, ok := s.stats[Scoped(target, route)]; ok && v.Total() > 0 {
			return v.Fluency()
		}
	}
	return s.stats[Global(route)].Fluency()
}

// Entries returns every counter sorted by route, then target.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.stats))
	for k, v := range s.stats {
		out = append(out, Entry{Key: k, Stored: v})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Route != out[j].Route {
			return out[i].Route < out[j].Route
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Reset clears all counters and schedules a flush.
func (s *Store) Reset() {
	s.mu.Lock()
	s.stats = make(map[Key]Stored)
	s.mu.Unlock()
	s.scheduleFlush()
}

func (s *Store) scheduleFlush() {
	if s.kv == nil {
		return
	}
	s.flusher.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Save(ctx); err != nil {
			s.logger.Warn("telemetry flush failed", "error", err)
		}
	})
}

// FlushPending runs a scheduled write immediately, if any.
func (s *Store) FlushPending() {
	s.flusher.Flush()
}

// Save writes all counters synchronously.
func (s *Store) Save(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	if err := kvstore.PutJSON(ctx, s.kv, StorageKey, s.Entries()); err != nil {
		return fmt.Errorf("save telemetry: %w", err)
	}
	return nil
}
