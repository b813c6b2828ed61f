package orchestrator

import (
	"context"
	"fmt"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/commute"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/health"
	"github.com/uprootiny/manicctl/internal/panel"
)

// Refresh fetches remote state and rederives everything that depends on
// it. A call made while another is in flight is coalesced: it returns
// immediately and the running refresh performs one more pass when done.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.refreshMu.Lock()
	if o.refreshing {
		o.refreshAgain = true
		o.refreshMu.Unlock()
		return nil
	}
	o.refreshing = true
	o.refreshMu.Unlock()

	for {
		err := o.refreshOnce(ctx)

		o.refreshMu.Lock()
		again := o.refreshAgain && ctx.Err() == nil
		o.refreshAgain = false
		if !again {
			o.refreshing = false
			o.refreshMu.Unlock()
			return err
		}
		o.refreshMu.Unlock()
	}
}

func (o *Orchestrator) refreshOnce(ctx context.Context) error {
	st, err := o.client.State(ctx)
	if err != nil {
		o.mu.Lock()
		o.errorCount++
		o.lastError = err.Error()
		n := o.errorCount
		o.mu.Unlock()
		o.logAction("refresh failed (%d): %v", n, err)
		o.recomputeHealth()
		o.publish(events.New(events.TypeError, panel.RouteState, "", err.Error()).With("consecutive", n))
		return err
	}

	o.rescanCapabilities(ctx)

	o.mu.Lock()
	o.delta = ComputeDelta(o.state, st)
	o.state = st
	o.errorCount = 0
	o.lastError = ""
	o.caps = o.caps.With(panel.RouteState)
	delta := o.delta
	o.mu.Unlock()

	o.rebuildPreview()
	h := o.recomputeHealth()
	if !delta.Empty() {
		o.note("delta: %s", delta.Summary())
	}
	o.publish(events.New(events.TypeRefresh, panel.RouteState, "", delta.Summary()).
		With("health", h.Score).
		With("targets", len(st.Targets())))
	return nil
}

// rescanCapabilities re-sniffs GET / when the last scan is older than
// the rescan interval. Failures keep the previous capabilities.
func (o *Orchestrator) rescanCapabilities(ctx context.Context) {
	o.mu.Lock()
	now := o.now()
	due := o.capsCheckedAt.IsZero() || now.Sub(o.capsCheckedAt) >= o.tuning.CapabilityRescan
	if due {
		o.capsCheckedAt = now
	}
	o.mu.Unlock()
	if !due {
		return
	}
	caps, err := o.client.Capabilities(ctx)
	if err != nil {
		o.note("capability scan failed: %v", err)
		return
	}
	caps.ScannedAt = now
	o.mu.Lock()
	o.caps = caps
	o.mu.Unlock()
	if missing := panel.MissingCriticalRoutes(caps); len(missing) > 0 {
		o.note("capabilities: missing %v", missing)
	}
}

// Capabilities returns the last scanned capabilities.
func (o *Orchestrator) Capabilities() panel.Capabilities {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.caps
}

// State returns the last fetched state, or nil before the first refresh.
func (o *Orchestrator) State() *panel.PanelState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) planner() commute.Planner {
	o.mu.Lock()
	cfg := o.tuning.Commute
	o.mu.Unlock()
	return commute.Planner{Fluency: o.Telemetry, Breakers: o.Breakers, Lanes: o.Lanes, Config: cfg}
}

func (o *Orchestrator) candidates() []commute.Candidate {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return nil
	}
	targets := o.state.Targets()
	out := make([]commute.Candidate, 0, len(targets))
	for _, p := range targets {
		out = append(out, commute.Candidate{Target: p.Target, Throughput: p.ThroughputBps})
	}
	return out
}

// Plan builds a commutation plan for route without executing it.
func (o *Orchestrator) Plan(route string) []commute.Step {
	o.mu.Lock()
	fanout := o.tuning.Fanout
	caps := commute.Capabilities{Autopilot: o.caps.Autopilot(), Smoke: o.caps.Smoke()}
	o.mu.Unlock()
	return o.planner().Plan(route, o.candidates(), fanout, caps)
}

func (o *Orchestrator) rebuildPreview() {
	plan := o.Plan(panel.RouteAutopilot)
	o.mu.Lock()
	o.preview = plan
	o.mu.Unlock()
}

// Preview returns the commutation plan computed at the last refresh.
func (o *Orchestrator) Preview() []commute.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]commute.Step(nil), o.preview...)
}

func (o *Orchestrator) healthInputsLocked() health.Inputs {
	c := o.Scope.Contract()
	l := o.Scope.Ledger()
	in := health.Inputs{
		Panic:             o.panicked,
		Degraded:          o.assessment.Degraded,
		ErrorCount:        o.errorCount,
		RequireLatch:      c.RequireIntentLatch,
		IntentLatched:     o.Scope.CheckLatch() == nil,
		BudgetExhausted:   c.AttentionBudgetActions > 0 && l.Actions >= c.AttentionBudgetActions,
		OpenRouteBreakers: o.assessment.OpenRoutes,
		OpenNodeBreakers:  o.assessment.OpenNodes,
	}
	if o.state != nil {
		in.SmokeFailed = o.state.Smoke.Failed()
		in.QueueDepth = o.state.QueueDepth()
	}
	if !o.caps.ScannedAt.IsZero() {
		in.MissingCriticalRoutes = panel.MissingCriticalRoutes(o.caps)
	}
	return in
}

func (o *Orchestrator) recomputeHealth() health.Interaction {
	o.mu.Lock()
	h := health.Compute(o.healthInputsLocked())
	o.health = h
	o.mu.Unlock()
	return h
}

// Health returns the last computed interaction health.
func (o *Orchestrator) Health() health.Interaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.health
}

// Delta returns the change summary from the last successful refresh.
func (o *Orchestrator) Delta() Delta {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delta
}

// recomputeDegraded reassesses degraded mode from open breakers and
// notes transitions.
func (o *Orchestrator) recomputeDegraded() breaker.Assessment {
	a := o.Breakers.Assess()
	o.mu.Lock()
	prev := o.assessment
	o.assessment = a
	o.mu.Unlock()
	if a.Degraded != prev.Degraded {
		state := "cleared"
		if a.Degraded {
			state = "entered"
		}
		o.note("degraded mode %s: routes=%d nodes=%d backoff=%.2f", state, a.OpenRoutes, a.OpenNodes, a.BackoffFactor)
		o.publish(events.New(events.TypeDegraded, "", "", state).
			With("backoff", a.BackoffFactor).
			With("pressure", string(a.Pressure)))
	}
	o.recomputeHealth()
	return a
}

// Assessment returns the current degraded-mode assessment.
func (o *Orchestrator) Assessment() breaker.Assessment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.assessment
}

// ResetBreakers closes every breaker and reassesses degraded mode.
func (o *Orchestrator) ResetBreakers() {
	o.Breakers.Reset()
	o.logAction("breakers reset")
	o.recomputeDegraded()
}

// Status is a point-in-time view for display.
type Status struct {
	BaseURL     string             `json:"base_url"`
	Project     string             `json:"project,omitempty"`
	Reachable   bool               `json:"reachable"`
	ErrorCount  int                `json:"error_count"`
	LastError   string             `json:"last_error,omitempty"`
	Sessions    int                `json:"sessions"`
	Targets     int                `json:"targets"`
	QueueDepth  int                `json:"queue_depth"`
	Smoke       string             `json:"smoke"`
	Panic       bool               `json:"panic"`
	PanicReason string             `json:"panic_reason,omitempty"`
	Health      health.Interaction `json:"health"`
	Assessment  breaker.Assessment `json:"assessment"`
	Delta       string             `json:"delta"`
	Preview     []commute.Step     `json:"preview"`
	Missing     []string           `json:"missing_critical_routes,omitempty"`
}

// Status snapshots the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		BaseURL:     o.client.BaseURL(),
		Project:     o.projectLocked(),
		Reachable:   o.state != nil && o.errorCount == 0,
		ErrorCount:  o.errorCount,
		LastError:   o.lastError,
		Smoke:       panel.Unknown,
		Panic:       o.panicked,
		PanicReason: o.panicReason,
		Health:      o.health,
		Assessment:  o.assessment,
		Delta:       o.delta.Summary(),
		Preview:     append([]commute.Step(nil), o.preview...),
	}
	if o.state != nil {
		s.Sessions = len(o.state.Sessions)
		s.Targets = len(o.state.Targets())
		s.QueueDepth = o.state.QueueDepth()
		s.Smoke = o.state.Smoke.Status
	}
	if !o.caps.ScannedAt.IsZero() {
		s.Missing = panel.MissingCriticalRoutes(o.caps)
	}
	return s
}

func (s Status) String() string {
	return fmt.Sprintf("%s health=%d(%s) targets=%d queue=%d smoke=%s", s.BaseURL, s.Health.Score, s.Health.Label, s.Targets, s.QueueDepth, s.Smoke)
}
