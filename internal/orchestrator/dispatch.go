package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uprootiny/manicctl/internal/commute"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/timeline"
)

// gate runs every pre-flight check for a mutating call on route, scoped
// to target when non-empty. Nothing here touches the network.
func (o *Orchestrator) gate(route, target string) error {
	o.mu.Lock()
	panicked, reason := o.panicked, o.panicReason
	routeCooldown := o.tuning.RouteCooldown
	globalCooldown := o.tuning.Cooldown
	last, dispatched := o.lastDispatch[target]
	o.mu.Unlock()

	if panicked {
		return &PolicyError{Op: route, Reason: "panic mode active: " + reason, Err: ErrPanic}
	}
	if deny := o.Breakers.DenyReason(route, target); deny != "" {
		return &PolicyError{Op: route, Reason: deny, Err: ErrBreakerOpen}
	}
	if err := o.Scope.Preflight(route, routeCooldown); err != nil {
		return policy(route, err)
	}
	if target != "" && dispatched {
		cd := o.Lanes.Throttle(target).CooldownOr(globalCooldown)
		if wait := cd - o.now().Sub(last); wait > 0 {
			return policy(route, fmt.Errorf("%w: %s ready in %s", ErrCooldown, target, wait.Round(time.Second)))
		}
	}
	return nil
}

// blocked records a rejected call so that failure is observable.
func (o *Orchestrator) blocked(route, target string, err error) error {
	o.logAction("blocked %s %s: %v", route, trackName(target), err)
	ev := timeline.NewEvent(o.now(), route, target, route, timeline.KindService)
	ev.Summary = "blocked: " + err.Error()
	o.Timeline.Append(ev)
	o.publish(events.New(events.TypePolicyBlock, route, target, err.Error()))
	o.recomputeHealth()
	return err
}

// dispatch performs one network call and folds its outcome into
// telemetry, breakers, scope, lanes, the timeline and the journals.
func (o *Orchestrator) dispatch(ctx context.Context, route, target, prompt string, call func(context.Context) (*panel.Result, error)) (*panel.Result, error) {
	res, err := call(ctx)
	ok := err == nil
	now := o.now()

	o.Telemetry.Record(route, target, ok)
	for _, trip := range o.Breakers.Record(route, target, ok) {
		o.note("breaker tripped: %s %s %s", trip.Route, trackName(trip.Target), trip.Reason)
		o.log.Warn("breaker tripped", "route", trip.Route, "target", trip.Target, "reason", trip.Reason, "until", trip.Until)
		o.publish(events.New(events.TypeBreakerTrip, trip.Route, trip.Target, trip.Reason))
	}
	o.recomputeDegraded()

	if ok {
		o.Scope.RecordAction(route)
		if target != "" {
			o.mu.Lock()
			o.lastDispatch[target] = now
			o.mu.Unlock()
		}
	}

	var evs []timeline.Event
	if prompt != "" {
		evs = append(evs, timeline.NewEvent(now, route, target, prompt, ""))
	}
	svc := timeline.NewEvent(now, route, target, route, timeline.KindService)
	status := 0
	if res != nil {
		status = res.StatusCode
		svc.Summary = fmt.Sprintf("HTTP %d: %s", res.StatusCode, res.Summary)
		for _, a := range timeline.ExtractArtifacts(res.Body) {
			art := timeline.NewEvent(now, route, target, a.Text, a.Kind)
			art.Summary = "artifact"
			evs = append(evs, art)
		}
	}
	if !ok {
		svc.Summary = "failed: " + err.Error()
	}
	evs = append(evs, svc)
	o.Timeline.Append(evs...)

	fluency := 0
	if target != "" {
		fluency = o.Telemetry.FluencyFor(target, route)
		o.tune(route, target)
	}

	if ok {
		o.logAction("%s %s ok (%d)", route, trackName(target), status)
	} else {
		o.logAction("%s %s failed: %v", route, trackName(target), err)
	}
	data := events.DispatchData{OK: ok, Status: status, Fluency: fluency}
	if res != nil {
		data.Summary = res.Summary
	}
	e := events.New(events.TypeDispatch, route, target, "")
	e.Data = events.ToMap(data)
	o.publish(e)
	return res, err
}

func (o *Orchestrator) tune(route, target string) {
	o.mu.Lock()
	cfg := o.tuning.Tuner
	o.mu.Unlock()
	fluency := o.Telemetry.FluencyFor(target, route)
	obs := o.Telemetry.Observations(target, route)
	tr, moved := o.Lanes.Tune(cfg, target, fluency, obs)
	if !moved {
		return
	}
	o.note("lane %s: %s -> %s (fluency %d%%)", target, tr.From, tr.To, tr.Fluency)
	o.publish(events.New(events.TypeLaneChange, route, target, "").
		With("from", tr.From.String()).
		With("to", tr.To.String()).
		With("fluency", tr.Fluency))
}

// refreshAfter refreshes after a mutating call. Refresh errors are
// already journaled and do not fail the call.
func (o *Orchestrator) refreshAfter(ctx context.Context) {
	_ = o.Refresh(ctx)
}

// AutopilotOptions configures a single autopilot dispatch.
type AutopilotOptions struct {
	Prompt      string
	Target      string
	MaxTargets  int
	AutoApprove bool
}

// RunAutopilot is the single-target primitive: gates, cooldown,
// dispatch, outcome recording and refresh.
func (o *Orchestrator) RunAutopilot(ctx context.Context, opts AutopilotOptions) (*panel.Result, error) {
	route := panel.RouteAutopilot
	if err := o.gate(route, opts.Target); err != nil {
		return nil, o.blocked(route, opts.Target, err)
	}
	if err := o.requireCapability(route); err != nil {
		return nil, o.blocked(route, opts.Target, err)
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultAutopilotPrompt
	}
	if opts.MaxTargets < 1 {
		opts.MaxTargets = 1
	}
	req := panel.AutopilotRequest{
		Prompt:      opts.Prompt,
		Project:     o.Project(),
		MaxTargets:  opts.MaxTargets,
		AutoApprove: opts.AutoApprove,
		Target:      opts.Target,
	}
	res, err := o.dispatch(ctx, route, opts.Target, opts.Prompt, func(ctx context.Context) (*panel.Result, error) {
		return o.client.Autopilot(ctx, req)
	})
	o.refreshAfter(ctx)
	return res, err
}

// requireCapability fails only when the surface advertises routes and
// route is not among them. A surface that advertises nothing is trusted.
func (o *Orchestrator) requireCapability(route string) error {
	o.mu.Lock()
	caps := o.caps
	o.mu.Unlock()
	if caps.ScannedAt.IsZero() || len(caps.Hints) == 0 || caps.Has(route) {
		return nil
	}
	return policy(route, fmt.Errorf("%w: %s", ErrCapabilityMissing, route))
}

// StepResult is the outcome of one executed plan step.
type StepResult struct {
	Step   commute.Step  `json:"step"`
	Result *panel.Result `json:"result,omitempty"`
	Smoke  *panel.Result `json:"smoke,omitempty"`
	Err    error         `json:"-"`
	Error  string        `json:"error,omitempty"`
}

// RunCommutedAutopilot plans across targets and executes each step in
// order. Primary steps run autopilot on the target; fallback steps send
// the prompt to the pane directly and then run smoke. Steps are spaced by
// the target's delay times the backoff factor.
func (o *Orchestrator) RunCommutedAutopilot(ctx context.Context, prompt string) ([]StepResult, error) {
	o.mu.Lock()
	panicked, reason := o.panicked, o.panicReason
	needState := o.state == nil
	autoApprove := o.tuning.AutoApprove
	globalDelay := o.tuning.ActionDelay
	o.mu.Unlock()

	if panicked {
		err := &PolicyError{Op: "commute", Reason: "panic mode active: " + reason, Err: ErrPanic}
		return nil, o.blocked(panel.RouteAutopilot, "", err)
	}
	if needState {
		if err := o.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	if prompt == "" {
		prompt = DefaultAutopilotPrompt
	}

	plan := o.Plan(panel.RouteAutopilot)
	if len(plan) == 0 {
		o.note("commute: no enabled targets")
		return nil, &PolicyError{Op: "commute", Reason: "no enabled targets", Err: ErrNoTargets}
	}
	o.note("commute plan: %s", planSummary(plan))

	results := make([]StepResult, 0, len(plan))
	failed := 0
	var firstErr error
	for i, step := range plan {
		if i > 0 {
			delay := o.Lanes.Throttle(step.Target).DelayOr(globalDelay)
			delay = time.Duration(float64(delay) * o.Assessment().BackoffFactor)
			if err := o.sleep(ctx, delay); err != nil {
				return results, err
			}
		}

		sr := StepResult{Step: step}
		if step.Strategy == commute.StrategyFallback {
			sr.Result, sr.Smoke, sr.Err = o.runFallback(ctx, step.Target, prompt)
		} else {
			sr.Result, sr.Err = o.RunAutopilot(ctx, AutopilotOptions{
				Prompt:      prompt,
				Target:      step.Target,
				MaxTargets:  1,
				AutoApprove: autoApprove,
			})
		}
		if sr.Err != nil {
			sr.Error = sr.Err.Error()
			failed++
			if firstErr == nil {
				firstErr = sr.Err
			}
		}
		results = append(results, sr)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		if o.Panicked() {
			break
		}
	}
	if failed == len(results) {
		return results, fmt.Errorf("commute: all %d steps failed: %w", failed, firstErr)
	}
	return results, nil
}

// runFallback sends prompt straight to the pane, then runs smoke.
func (o *Orchestrator) runFallback(ctx context.Context, target, prompt string) (*panel.Result, *panel.Result, error) {
	route := panel.RoutePaneSend
	if err := o.gate(route, target); err != nil {
		return nil, nil, o.blocked(route, target, err)
	}
	req := panel.PaneSendRequest{Target: target, Text: prompt, Enter: true}
	res, err := o.dispatch(ctx, route, target, prompt, func(ctx context.Context) (*panel.Result, error) {
		return o.client.PaneSend(ctx, req)
	})
	if err != nil {
		o.refreshAfter(ctx)
		return res, nil, err
	}
	smoke, err := o.Smoke(ctx)
	return res, smoke, err
}

func planSummary(plan []commute.Step) string {
	parts := make([]string, 0, len(plan))
	for _, s := range plan {
		parts = append(parts, fmt.Sprintf("%s[%s]", s.Target, s.Strategy))
	}
	return strings.Join(parts, " ")
}

// ClampNudgePause bounds d to [MinNudgePause, MaxNudgePause].
func ClampNudgePause(d time.Duration) time.Duration {
	return min(MaxNudgePause, max(MinNudgePause, d))
}

// NudgeResult is the outcome of one scripted nudge.
type NudgeResult struct {
	Prompt string       `json:"prompt"`
	Steps  []StepResult `json:"steps"`
	Error  string       `json:"error,omitempty"`
}

// RunScriptedNudges runs each prompt through RunCommutedAutopilot with a
// pause between them. It stops early on cancellation or panic.
func (o *Orchestrator) RunScriptedNudges(ctx context.Context, prompts []string, pause time.Duration) ([]NudgeResult, error) {
	pause = ClampNudgePause(pause)
	var out []NudgeResult
	for i, p := range prompts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i > 0 && len(out) > 0 {
			if err := o.sleep(ctx, pause); err != nil {
				return out, err
			}
		}
		o.note("nudge %d/%d: %s", i+1, len(prompts), p)
		steps, err := o.RunCommutedAutopilot(ctx, p)
		nr := NudgeResult{Prompt: p, Steps: steps}
		if err != nil {
			nr.Error = err.Error()
		}
		out = append(out, nr)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if o.Panicked() {
			return out, &PolicyError{Op: "nudges", Reason: "panic mode active", Err: ErrPanic}
		}
	}
	return out, nil
}

// CycleReport is the outcome of RunHealthyCycle.
type CycleReport struct {
	Steps       []StepResult  `json:"steps"`
	Smoke       *panel.Result `json:"smoke,omitempty"`
	SmokeError  string        `json:"smoke_error,omitempty"`
	SmokePassed bool          `json:"smoke_passed"`
	Completed   bool          `json:"completed"`
	Cycles      int           `json:"cycles"`
	Health      int           `json:"health"`
}

// RunHealthyCycle refreshes, enforces the cycle limit and drift freeze,
// runs a commuted autopilot pass then smoke, and counts the cycle when
// smoke ran and either passed or passing is not required.
func (o *Orchestrator) RunHealthyCycle(ctx context.Context, prompt string) (CycleReport, error) {
	var rep CycleReport
	if o.Panicked() {
		err := &PolicyError{Op: "cycle", Reason: "panic mode active", Err: ErrPanic}
		return rep, o.blocked("cycle", "", err)
	}
	if err := o.Refresh(ctx); err != nil {
		return rep, err
	}
	depth := 0
	if st := o.State(); st != nil {
		depth = st.QueueDepth()
	}
	if err := o.Scope.CheckCycle(depth); err != nil {
		return rep, o.blocked("cycle", "", policy("cycle", err))
	}

	steps, err := o.RunCommutedAutopilot(ctx, prompt)
	rep.Steps = steps
	if err != nil && (ctx.Err() != nil || IsPolicy(err)) {
		return rep, err
	}

	smoke, smokeErr := o.Smoke(ctx)
	rep.Smoke = smoke
	if smokeErr != nil {
		rep.SmokeError = smokeErr.Error()
	}
	if err := o.Refresh(ctx); err != nil {
		return rep, err
	}
	// The reported smoke status decides, never the response body.
	if st := o.State(); st != nil && smokeErr == nil {
		rep.SmokePassed = st.Smoke.Passed()
	}

	outcome := "incomplete"
	switch {
	case smokeErr != nil:
		o.note("cycle incomplete: smoke did not run: %v", smokeErr)
	case rep.SmokePassed || !o.Scope.Contract().RequireSmokePassToStop:
		o.Scope.CompleteCycle()
		rep.Completed = true
		outcome = "completed"
	default:
		o.note("cycle incomplete: smoke not passing")
	}
	rep.Cycles = o.Scope.Ledger().CompletedCycles
	rep.Health = o.recomputeHealth().Score
	o.logAction("cycle %d %s, smoke passed=%v", rep.Cycles, outcome, rep.SmokePassed)
	o.publish(events.New(events.TypeCycle, "", "", "").
		With("completed", rep.Completed).
		With("cycles", rep.Cycles))
	return rep, nil
}

// Mode is an operator workflow.
type Mode string

const (
	ModeVerify Mode = "verify"
	ModePlan   Mode = "plan"
	ModeAct    Mode = "act"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeVerify, ModePlan, ModeAct:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want verify, plan or act)", s)
}

// RunMode runs an ops mode. verify only refreshes; plan sends a single
// diagnose-only autopilot without auto-approve; act runs the commuted
// autopilot, or a fanout autopilot when commuted is false.
func (o *Orchestrator) RunMode(ctx context.Context, mode Mode, prompt string, commuted bool) error {
	switch mode {
	case ModeVerify:
		return o.Refresh(ctx)
	case ModePlan:
		_, err := o.RunAutopilot(ctx, AutopilotOptions{Prompt: PlanPrompt, MaxTargets: 1})
		return err
	case ModeAct:
		if commuted {
			_, err := o.RunCommutedAutopilot(ctx, prompt)
			return err
		}
		t := o.Tuning()
		_, err := o.RunAutopilot(ctx, AutopilotOptions{Prompt: prompt, MaxTargets: max(1, t.Fanout), AutoApprove: t.AutoApprove})
		return err
	}
	return fmt.Errorf("unknown mode %q", mode)
}

func trackName(target string) string {
	if target == "" {
		return timeline.NoTrack
	}
	return target
}
