// Package lanes tracks per-target scheduling priority and throttles, and
// tunes lanes from observed fluency.
package lanes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Priority is a target's scheduling lane. Lower values rank first.
type Priority int

const (
	Primary Priority = iota
	Secondary
	Quarantine
)

func (p Priority) String() string {
	switch p {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	case Quarantine:
		return "quarantine"
	default:
		return fmt.Sprintf("lane(%d)", int(p))
	}
}

// ParsePriority parses a lane name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "p":
		return Primary, nil
	case "secondary", "s":
		return Secondary, nil
	case "quarantine", "q":
		return Quarantine, nil
	}
	return Secondary, fmt.Errorf("unknown lane %q (want primary, secondary or quarantine)", s)
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Throttle is a per-target override. Nil durations fall back to the
// global settings.
type Throttle struct {
	Cooldown *time.Duration `json:"cooldown,omitempty"`
	Delay    *time.Duration `json:"delay,omitempty"`
	Enabled  bool           `json:"enabled"`
}

// DefaultThrottle is enabled with no overrides.
func DefaultThrottle() Throttle { return Throttle{Enabled: true} }

// UnmarshalJSON defaults Enabled to true when absent.
func (t *Throttle) UnmarshalJSON(data []byte) error {
	type alias Throttle
	v := alias(DefaultThrottle())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Throttle(v)
	return nil
}

// CooldownOr returns the override or global.
func (t Throttle) CooldownOr(global time.Duration) time.Duration {
	if t.Cooldown != nil {
		return *t.Cooldown
	}
	return global
}

// DelayOr returns the override or global.
func (t Throttle) DelayOr(global time.Duration) time.Duration {
	if t.Delay != nil {
		return *t.Delay
	}
	return global
}

// Table holds lanes and throttles. The zero lane for an unknown target is
// Secondary.
type Table struct {
	mu        sync.Mutex
	lanes     map[string]Priority
	throttles map[string]Throttle
	saved     map[string]Priority
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		lanes:     make(map[string]Priority),
		throttles: make(map[string]Throttle),
	}
}

// Lane returns target's lane.
func (t *Table) Lane(target string) Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.laneLocked(target)
}

func (t *Table) laneLocked(target string) Priority {
	if p, ok := t.lanes[target]; ok {
		return p
	}
	return Secondary
}

// SetLane assigns a lane. Entering Quarantine disables the target's
// throttle; leaving it re-enables the throttle.
func (t *Table) SetLane(target string, p Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLaneLocked(target, p)
}

func (t *Table) setLaneLocked(target string, p Priority) {
	prev := t.laneLocked(target)
	t.lanes[target] = p
	th, ok := t.throttles[target]
	if !ok {
		th = DefaultThrottle()
	}
	switch {
	case p == Quarantine:
		th.Enabled = false
		t.throttles[target] = th
	case prev == Quarantine:
		th.Enabled = true
		t.throttles[target] = th
	}
}

// Throttle returns target's throttle.
func (t *Table) Throttle(target string) Throttle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if th, ok := t.throttles[target]; ok {
		return th
	}
	return DefaultThrottle()
}

// SetThrottle replaces target's throttle. A quarantined target stays
// disabled.
func (t *Table) SetThrottle(target string, th Throttle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.laneLocked(target) == Quarantine {
		th.Enabled = false
	}
	t.throttles[target] = th
}

// Enabled reports whether target may be scheduled.
func (t *Table) Enabled(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.laneLocked(target) == Quarantine {
		return false
	}
	if th, ok := t.throttles[target]; ok {
		return th.Enabled
	}
	return true
}

// QuarantineAll saves the current lanes of targets and quarantines them.
// A second call before RestoreSaved keeps the first saved set.
func (t *Table) QuarantineAll(targets []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.saved == nil {
		t.saved = make(map[string]Priority, len(targets))
		for _, target := range targets {
			t.saved[target] = t.laneLocked(target)
		}
	}
	for _, target := range targets {
		t.setLaneLocked(target, Quarantine)
	}
}

// RestoreSaved puts back lanes saved by QuarantineAll. It returns the
// number of targets restored.
func (t *Table) RestoreSaved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.saved)
	for target, p := range t.saved {
		t.setLaneLocked(target, p)
	}
	t.saved = nil
	return n
}

// Entry is one target's lane and throttle.
type Entry struct {
	Target   string   `json:"target"`
	Lane     Priority `json:"lane"`
	Throttle Throttle `json:"throttle"`
}

// Entries lists every target with a lane or throttle, sorted by name.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	for k := range t.lanes {
		seen[k] = true
	}
	for k := range t.throttles {
		seen[k] = true
	}
	out := make([]Entry, 0, len(seen))
	for k := range seen {
		th, ok := t.throttles[k]
		if !ok {
			th = DefaultThrottle()
		}
		out = append(out, Entry{Target: k, Lane: t.laneLocked(k), Throttle: th})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Snapshot is the persisted form of a Table.
type Snapshot struct {
	Lanes     map[string]Priority `json:"lanes"`
	Throttles map[string]Throttle `json:"throttles"`
	Saved     map[string]Priority `json:"saved,omitempty"`
}

// Snapshot copies the table.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		Lanes:     make(map[string]Priority, len(t.lanes)),
		Throttles: make(map[string]Throttle, len(t.throttles)),
	}
	for k, v := range t.lanes {
		s.Lanes[k] = v
	}
	for k, v := range t.throttles {
		s.Throttles[k] = v
	}
	if t.saved != nil {
		s.Saved = make(map[string]Priority, len(t.saved))
		for k, v := range t.saved {
			s.Saved[k] = v
		}
	}
	return s
}

// Restore replaces the table contents with s.
func (t *Table) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lanes = make(map[string]Priority, len(s.Lanes))
	for k, v := range s.Lanes {
		t.lanes[k] = v
	}
	t.throttles = make(map[string]Throttle, len(s.Throttles))
	for k, v := range s.Throttles {
		t.throttles[k] = v
	}
	t.saved = nil
	if s.Saved != nil {
		t.saved = make(map[string]Priority, len(s.Saved))
		for k, v := range s.Saved {
			t.saved[k] = v
		}
	}
}
