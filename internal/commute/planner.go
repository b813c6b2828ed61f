// Package commute ranks targets and assigns each a primary or fallback
// execution strategy.
package commute

import (
	"fmt"
	"sort"

	"github.com/uprootiny/manicctl/internal/lanes"
)

// Strategy is how a plan step is executed.
type Strategy string

const (
	// StrategyPrimary runs the structured autopilot route.
	StrategyPrimary Strategy = "primary"
	// StrategyFallback sends the prompt directly to the pane, then smokes.
	StrategyFallback Strategy = "fallback"
)

// Candidate is a schedulable target as seen on the remote surface.
type Candidate struct {
	Target     string
	Throughput float64
}

// Step is one planned dispatch.
type Step struct {
	Target     string         `json:"target"`
	Lane       lanes.Priority `json:"lane"`
	Fluency    int            `json:"fluency"`
	Throughput float64        `json:"throughput_bps"`
	Strategy   Strategy       `json:"strategy"`
	Reason     string         `json:"reason"`
}

// Fluency reports a target's fluency on a route.
type Fluency interface {
	FluencyFor(target, route string) int
}

// Breakers reports whether a route is blocked for a target.
type Breakers interface {
	DenyReason(route, target string) string
}

// Lanes reports lane and enablement for a target.
type Lanes interface {
	Lane(target string) lanes.Priority
	Enabled(target string) bool
}

// Capabilities are the remote features the primary strategy needs.
type Capabilities struct {
	Autopilot bool
	Smoke     bool
}

// Config tunes strategy selection.
type Config struct {
	FallbackRouting          bool
	FallbackFluencyThreshold int
}

// DefaultConfig enables fallback below 45% fluency.
func DefaultConfig() Config {
	return Config{FallbackRouting: true, FallbackFluencyThreshold: 45}
}

// Planner builds plans. It holds no state of its own.
type Planner struct {
	Fluency  Fluency
	Breakers Breakers
	Lanes    Lanes
	Config   Config
}

// Rank drops disabled targets and orders the rest by lane, fluency
// (desc), throughput (desc), then name. Duplicate targets keep their
// first occurrence.
func (p Planner) Rank(route string, candidates []Candidate) []Step {
	seen := make(map[string]bool, len(candidates))
	steps := make([]Step, 0, len(candidates))
	for _, c := range candidates {
		if c.Target == "" || seen[c.Target] {
			continue
		}
		seen[c.Target] = true
		if !p.Lanes.Enabled(c.Target) {
			continue
		}
		steps = append(steps, Step{
			Target:     c.Target,
			Lane:       p.Lanes.Lane(c.Target),
			Fluency:    p.Fluency.FluencyFor(c.Target, route),
			Throughput: c.Throughput,
		})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Lane != b.Lane {
			return a.Lane < b.Lane
		}
		if a.Fluency != b.Fluency {
			return a.Fluency > b.Fluency
		}
		if a.Throughput != b.Throughput {
			return a.Throughput > b.Throughput
		}
		return a.Target < b.Target
	})
	return steps
}

// Plan ranks candidates, keeps the top fanout and assigns strategies.
// A fanout below 1 is treated as 1.
func (p Planner) Plan(route string, candidates []Candidate, fanout int, caps Capabilities) []Step {
	if fanout < 1 {
		fanout = 1
	}
	steps := p.Rank(route, candidates)
	if len(steps) > fanout {
		steps = steps[:fanout]
	}
	for i := range steps {
		steps[i].Strategy, steps[i].Reason = p.strategy(route, steps[i], caps)
	}
	return steps
}

func (p Planner) strategy(route string, s Step, caps Capabilities) (Strategy, string) {
	primary := fmt.Sprintf("lane=%s fluency=%d%%", s.Lane, s.Fluency)
	if !p.Config.FallbackRouting {
		return StrategyPrimary, primary
	}
	if deny := p.Breakers.DenyReason(route, s.Target); deny != "" {
		return StrategyFallback, "fallback: " + primary + ", " + deny
	}
	if s.Fluency > 0 && s.Fluency < p.Config.FallbackFluencyThreshold {
		return StrategyFallback, fmt.Sprintf("fallback: %s < %d%%", primary, p.Config.FallbackFluencyThreshold)
	}
	if !caps.Autopilot || !caps.Smoke {
		return StrategyFallback, "fallback: " + primary + ", autopilot or smoke route unavailable"
	}
	return StrategyPrimary, primary
}
