// Package breaker implements sliding-window circuit breakers per route and
// per (target, route), plus the degraded-mode backoff derived from them.
package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MinOpenDuration is the floor applied to the configured cooldown.
const MinOpenDuration = 15 * time.Second

// Config is shared by every breaker in a Set.
type Config struct {
	SampleWindow    int           `json:"sample_window"`
	MinFailures     int           `json:"min_failures"`
	FailureRateTrip float64       `json:"failure_rate_trip"`
	OpenCooldown    time.Duration `json:"open_cooldown"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		SampleWindow:    8,
		MinFailures:     3,
		FailureRateTrip: 0.5,
		OpenCooldown:    45 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.SampleWindow < 1 {
		c.SampleWindow = 1
	}
	if c.MinFailures < 1 {
		c.MinFailures = 1
	}
	if c.FailureRateTrip < 0 {
		c.FailureRateTrip = 0
	}
	if c.FailureRateTrip > 1 {
		c.FailureRateTrip = 1
	}
	return c
}

// Key names a target-scoped breaker.
type Key struct {
	Target string
	Route  string
}

// State is one breaker.
type State struct {
	OpenUntil      time.Time
	LastTripReason string
	Recent         []bool
}

// IsOpen reports whether the breaker blocks calls at now.
func (s *State) IsOpen(now time.Time) bool {
	return !s.OpenUntil.IsZero() && now.Before(s.OpenUntil)
}

// record appends ok to the ring and trips when the window is at least half
// full and both thresholds are met. An open breaker keeps collecting samples
// but is not re-tripped.
func (s *State) record(ok bool, cfg Config, now time.Time) bool {
	s.Recent = append(s.Recent, ok)
	if over := len(s.Recent) - cfg.SampleWindow; over > 0 {
		s.Recent = append(s.Recent[:0], s.Recent[over:]...)
	}
	if s.IsOpen(now) {
		return false
	}
	need := cfg.SampleWindow / 2
	if need < 1 {
		need = 1
	}
	if len(s.Recent) < need {
		return false
	}
	failures := 0
	for _, v := range s.Recent {
		if !v {
			failures++
		}
	}
	rate := float64(failures) / float64(len(s.Recent))
	if failures < cfg.MinFailures || rate < cfg.FailureRateTrip {
		return false
	}
	open := cfg.OpenCooldown
	if open < MinOpenDuration {
		open = MinOpenDuration
	}
	s.OpenUntil = now.Add(open)
	s.LastTripReason = fmt.Sprintf("failures=%d/%d rate=%.2f", failures, len(s.Recent), rate)
	return true
}

// Trip describes a breaker that opened on a Record call.
type Trip struct {
	Route  string
	Target string
	Reason string
	Until  time.Time
}

// Status is a read-only view of one breaker.
type Status struct {
	Route          string    `json:"route"`
	Target         string    `json:"target,omitempty"`
	Open           bool      `json:"open"`
	OpenUntil      time.Time `json:"open_until,omitempty"`
	LastTripReason string    `json:"last_trip_reason,omitempty"`
	Samples        int       `json:"samples"`
	Failures       int       `json:"failures"`
}

// Set holds every breaker. It is safe for concurrent use.
type Set struct {
	mu     sync.Mutex
	cfg    Config
	routes map[string]*State
	nodes  map[Key]*State
	now    func() time.Time
}

// New returns an empty Set.
func New(cfg Config, now func() time.Time) *Set {
	if now == nil {
		now = time.Now
	}
	return &Set{
		cfg:    cfg.normalized(),
		routes: make(map[string]*State),
		nodes:  make(map[Key]*State),
		now:    now,
	}
}

// Config returns the current tuning.
func (s *Set) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the tuning. Existing rings are trimmed to the new
// window on their next sample.
func (s *Set) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.normalized()
	s.mu.Unlock()
}

// Record feeds one outcome to the route breaker and, when target is
// non-empty, to the target-scoped breaker. It returns the breakers that
// tripped as a result.
func (s *Set) Record(route, target string, ok bool) []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var trips []Trip

	rs := s.routes[route]
	if rs == nil {
		rs = &State{}
		s.routes[route] = rs
	}
	if rs.record(ok, s.cfg, now) {
		trips = append(trips, Trip{Route: route, Reason: rs.LastTripReason, Until: rs.OpenUntil})
	}

	if target != "" {
		k := Key{Target: target, Route: route}
		ns := s.nodes[k]
		if ns == nil {
			ns = &State{}
			s.nodes[k] = ns
		}
		if ns.record(ok, s.cfg, now) {
			trips = append(trips, Trip{Route: route, Target: target, Reason: ns.LastTripReason, Until: ns.OpenUntil})
		}
	}
	return trips
}

// DenyReason returns why a call to route (optionally on target) is
// blocked, or "" when it is allowed. The target-scoped breaker is
// checked first.
func (s *Set) DenyReason(route, target string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if target != "" {
		if ns := s.nodes[Key{Target: target, Route: route}]; ns != nil && ns.IsOpen(now) {
			return fmt.Sprintf("breaker open for %s on %s (%s), retry in %s",
				target, route, ns.LastTripReason, ns.OpenUntil.Sub(now).Round(time.Second))
		}
	}
	if rs := s.routes[route]; rs != nil && rs.IsOpen(now) {
		return fmt.Sprintf("breaker open for %s (%s), retry in %s",
			route, rs.LastTripReason, rs.OpenUntil.Sub(now).Round(time.Second))
	}
	return ""
}

// Reset clears every breaker.
func (s *Set) Reset() {
	s.mu.Lock()
	s.routes = make(map[string]*State)
	s.nodes = make(map[Key]*State)
	s.mu.Unlock()
}

// OpenCounts returns the number of open route and target-scoped breakers.
func (s *Set) OpenCounts() (routes, nodes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, st := range s.routes {
		if st.IsOpen(now) {
			routes++
		}
	}
	for _, st := range s.nodes {
		if st.IsOpen(now) {
			nodes++
		}
	}
	return routes, nodes
}

// Assess derives the degraded-mode state from the open breakers.
func (s *Set) Assess() Assessment {
	return Assess(s.OpenCounts())
}

// Statuses lists every breaker, route breakers first, each group sorted.
func (s *Set) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Status, 0, len(s.routes)+len(s.nodes))
	for route, st := range s.routes {
		out = append(out, status(route, "", st, now))
	}
	for k, st := range s.nodes {
		out = append(out, status(k.Route, k.Target, st, now))
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Target == "") != (out[j].Target == "") {
			return out[i].Target == ""
		}
		if out[i].Route != out[j].Route {
			return out[i].Route < out[j].Route
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func status(route, target string, st *State, now time.Time) Status {
	failures := 0
	for _, v := range st.Recent {
		if !v {
			failures++
		}
	}
	out := Status{
		Route:          route,
		Target:         target,
		Open:           st.IsOpen(now),
		LastTripReason: st.LastTripReason,
		Samples:        len(st.Recent),
		Failures:       failures,
	}
	if out.Open {
		out.OpenUntil = st.OpenUntil
	}
	return out
}
