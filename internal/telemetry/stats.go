// Package telemetry keeps a decaying success/failure memory per route and
// per (target, route) pair.
package telemetry

import (
	"math"
	"time"
)

// Key identifies a counter. An empty Target is the route-global counter.
type Key struct {
	Target string `json:"target,omitempty"`
	Route  string `json:"route"`
}

// Global returns the route-global key for route.
func Global(route string) Key { return Key{Route: route} }

// Scoped returns the key for route on one target.
func Scoped(target, route string) Key { return Key{Target: target, Route: route} }

// IsScoped reports whether k belongs to a single target.
func (k Key) IsScoped() bool { return k.Target != "" }

func (k Key) String() string {
	if k.Target == "" {
		return k.Route
	}
	return k.Target + " " + k.Route
}

// Stats holds folded call outcomes.
type Stats struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Total returns the number of observations.
func (s Stats) Total() int { return s.Success + s.Failure }

// Fluency returns the success percentage rounded to an integer, or 0 when
// nothing has been observed.
func (s Stats) Fluency() int {
	total := s.Total()
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(s.Success) / float64(total) * 100))
}

// Stored is Stats plus the time it was last touched.
type Stored struct {
	Stats
	UpdatedAt time.Time `json:"updated_at"`
}

// Decay ages every entry by 0.5^(elapsed/halfLife). Counts are rounded and
// entries that reach (0, 0) are dropped. Survivors are stamped with now.
// A non-positive halfLife returns the input unchanged.
func Decay(stats map[Key]Stored, now time.Time, halfLife time.Duration) map[Key]Stored {
	if halfLife <= 0 {
		return stats
	}
	out := make(map[Key]Stored, len(stats))
	for k, v := range stats {
		elapsed := now.Sub(v.UpdatedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		factor := math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
		s := int(math.Round(float64(v.Success) * factor))
		f := int(math.Round(float64(v.Failure) * factor))
		if s > 0 || f > 0 {
			out[k] = Stored{Stats: Stats{Success: s, Failure: f}, UpdatedAt: now}
		}
	}
	return out
}
