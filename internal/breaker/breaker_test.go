package breaker

import (
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSet(cfg Config) (*Set, *fakeClock) {
	c := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(cfg, c.now), c
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 4, MinFailures: 2, FailureRateTrip: 0.5, OpenCooldown: time.Second})

	var trips []Trip
	for _, ok := range []bool{false, false, true, false} {
		trips = append(trips, s.Record("autopilot/run", "", ok)...)
	}
	if len(trips) != 1 {
		t.Fatalf("expected exactly one trip, got %+v", trips)
	}
	reason := s.DenyReason("autopilot/run", "")
	if reason == "" {
		t.Fatal("breaker should be open")
	}
	if !strings.Contains(reason, "failures=") || !strings.Contains(reason, "rate=") {
		t.Errorf("deny reason %q should carry the trip reason", reason)
	}
}

func TestBreakerWaitsForHalfWindow(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 8, MinFailures: 1, FailureRateTrip: 0.5})
	for i := 0; i < 3; i++ {
		s.Record("smoke", "", false)
	}
	if r := s.DenyReason("smoke", ""); r != "" {
		t.Fatalf("should not trip before 4 samples, got %q", r)
	}
	s.Record("smoke", "", false)
	if r := s.DenyReason("smoke", ""); r == "" {
		t.Fatal("should trip once window is half full")
	}
}

func TestBreakerMinimumOpenDuration(t *testing.T) {
	s, clock := newTestSet(Config{SampleWindow: 2, MinFailures: 1, FailureRateTrip: 0.5, OpenCooldown: time.Second})
	s.Record("smoke", "", false)

	clock.advance(14 * time.Second)
	if s.DenyReason("smoke", "") == "" {
		t.Fatal("breaker should stay open for at least 15s")
	}
	clock.advance(2 * time.Second)
	if r := s.DenyReason("smoke", ""); r != "" {
		t.Fatalf("breaker should close after cooldown, got %q", r)
	}
}

func TestBreakerOpenDoesNotExtend(t *testing.T) {
	s, clock := newTestSet(Config{SampleWindow: 2, MinFailures: 1, FailureRateTrip: 0.5, OpenCooldown: 20 * time.Second})
	s.Record("smoke", "", false)
	until := s.Statuses()[0].OpenUntil

	clock.advance(5 * time.Second)
	if trips := s.Record("smoke", "", false); len(trips) != 0 {
		t.Errorf("open breaker should not re-trip, got %+v", trips)
	}
	if got := s.Statuses()[0].OpenUntil; !got.Equal(until) {
		t.Errorf("OpenUntil moved from %v to %v", until, got)
	}
}

func TestDenyReasonChecksTargetFirst(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 2, MinFailures: 1, FailureRateTrip: 0.5, OpenCooldown: time.Minute})
	s.Record("pane/send", "a:0.0", false)

	r := s.DenyReason("pane/send", "a:0.0")
	if !strings.Contains(r, "a:0.0") {
		t.Errorf("expected target-scoped reason, got %q", r)
	}
	// The route breaker saw the same failure and is open too.
	if s.DenyReason("pane/send", "b:0.0") == "" {
		t.Error("route breaker should block other targets")
	}
	if s.DenyReason("smoke", "a:0.0") != "" {
		t.Error("other routes should be unaffected")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 2, MinFailures: 1, FailureRateTrip: 0.1, OpenCooldown: time.Minute})
	for _, route := range []string{"smoke", "state", "autopilot/run"} {
		s.Record(route, "t1", false)
	}
	s.Reset()
	for _, route := range []string{"smoke", "state", "autopilot/run"} {
		if r := s.DenyReason(route, "t1"); r != "" {
			t.Errorf("DenyReason(%s) after Reset = %q", route, r)
		}
	}
	if !(s.Assess() == Assessment{BackoffFactor: 1, Pressure: PressureNone}) {
		t.Errorf("Assess after Reset = %+v", s.Assess())
	}
}

func TestRingIsBounded(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 3, MinFailures: 5, FailureRateTrip: 1})
	for i := 0; i < 10; i++ {
		s.Record("state", "", true)
	}
	if got := s.Statuses()[0].Samples; got != 3 {
		t.Errorf("Samples = %d, want 3", got)
	}
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name         string
		routes       int
		nodes        int
		wantDegraded bool
		wantFactor   float64
		wantPressure Pressure
	}{
		{"idle", 0, 0, false, 1, PressureNone},
		{"one route", 1, 0, false, 1.5, PressureElevated},
		{"two routes", 2, 0, true, 2, PressureHigh},
		{"four nodes", 0, 4, false, 2, PressureElevated},
		{"five nodes", 0, 5, true, 2.25, PressureHigh},
		{"clamped", 6, 10, true, 4, PressureHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(tt.routes, tt.nodes)
			if a.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v", a.Degraded, tt.wantDegraded)
			}
			if a.BackoffFactor != tt.wantFactor {
				t.Errorf("BackoffFactor = %v, want %v", a.BackoffFactor, tt.wantFactor)
			}
			if a.Pressure != tt.wantPressure {
				t.Errorf("Pressure = %v, want %v", a.Pressure, tt.wantPressure)
			}
		})
	}
}

func TestDegradedFromOpenBreakers(t *testing.T) {
	s, _ := newTestSet(Config{SampleWindow: 2, MinFailures: 1, FailureRateTrip: 0.5, OpenCooldown: time.Minute})
	s.Record("smoke", "", false)
	if s.Assess().Degraded {
		t.Fatal("one open route breaker is not degraded")
	}
	s.Record("state", "", false)
	if !s.Assess().Degraded {
		t.Fatal("two open route breakers should be degraded")
	}
}
