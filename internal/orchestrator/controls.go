package orchestrator

import (
	"context"
	"sort"

	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/panel"
)

// control gates, dispatches and refreshes one direct call.
func (o *Orchestrator) control(ctx context.Context, route, target, prompt string, call func(context.Context) (*panel.Result, error)) (*panel.Result, error) {
	if err := o.gate(route, target); err != nil {
		return nil, o.blocked(route, target, err)
	}
	if err := o.requireCapability(route); err != nil {
		return nil, o.blocked(route, target, err)
	}
	res, err := o.dispatch(ctx, route, target, prompt, call)
	o.refreshAfter(ctx)
	return res, err
}

// Smoke runs the remote smoke check for the current project.
func (o *Orchestrator) Smoke(ctx context.Context) (*panel.Result, error) {
	req := panel.SmokeRequest{Project: o.Project()}
	return o.control(ctx, panel.RouteSmoke, "", "", func(ctx context.Context) (*panel.Result, error) {
		return o.client.Smoke(ctx, req)
	})
}

// PaneSend types text into target, pressing enter when enter is set.
func (o *Orchestrator) PaneSend(ctx context.Context, target, text string, enter bool) (*panel.Result, error) {
	req := panel.PaneSendRequest{Target: target, Text: text, Enter: enter}
	return o.control(ctx, panel.RoutePaneSend, target, text, func(ctx context.Context) (*panel.Result, error) {
		return o.client.PaneSend(ctx, req)
	})
}

// QueueAdd queues prompt for sessionID in the current project.
func (o *Orchestrator) QueueAdd(ctx context.Context, sessionID, prompt string) (*panel.Result, error) {
	req := panel.QueueAddRequest{Prompt: prompt, Project: o.Project(), SessionID: sessionID}
	return o.control(ctx, panel.RouteQueueAdd, "", prompt, func(ctx context.Context) (*panel.Result, error) {
		return o.client.QueueAdd(ctx, req)
	})
}

// QueueRun drains the queue for sessionID.
func (o *Orchestrator) QueueRun(ctx context.Context, sessionID string) (*panel.Result, error) {
	req := panel.QueueRunRequest{Project: o.Project(), SessionID: sessionID}
	return o.control(ctx, panel.RouteQueueRun, "", "", func(ctx context.Context) (*panel.Result, error) {
		return o.client.QueueRun(ctx, req)
	})
}

// Nudge sends text to a session.
func (o *Orchestrator) Nudge(ctx context.Context, sessionID, text string) (*panel.Result, error) {
	req := panel.NudgeRequest{SessionID: sessionID, Text: text}
	return o.control(ctx, panel.RouteNudge, "", text, func(ctx context.Context) (*panel.Result, error) {
		return o.client.Nudge(ctx, req)
	})
}

// Spawn starts a new session running command.
func (o *Orchestrator) Spawn(ctx context.Context, name, command string) (*panel.Result, error) {
	req := panel.SpawnRequest{SessionName: name, Project: o.Project(), Command: command}
	return o.control(ctx, panel.RouteSpawn, "", "", func(ctx context.Context) (*panel.Result, error) {
		return o.client.Spawn(ctx, req)
	})
}

// SnapshotIngest uploads a named text snapshot.
func (o *Orchestrator) SnapshotIngest(ctx context.Context, name, text string) (*panel.Result, error) {
	req := panel.SnapshotIngestRequest{Name: name, Text: text}
	return o.control(ctx, panel.RouteSnapshotIngest, "", "", func(ctx context.Context) (*panel.Result, error) {
		return o.client.SnapshotIngest(ctx, req)
	})
}

// Panicked reports whether panic mode is engaged.
func (o *Orchestrator) Panicked() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.panicked
}

// EngagePanic quarantines every known target and blocks all mutating
// calls until ClearPanic.
func (o *Orchestrator) EngagePanic(reason string) {
	if reason == "" {
		reason = "operator"
	}
	o.mu.Lock()
	o.panicked = true
	o.panicReason = reason
	o.mu.Unlock()

	targets := o.knownTargets()
	o.Lanes.QuarantineAll(targets)
	o.logAction("PANIC engaged (%s): %d targets quarantined", reason, len(targets))
	o.publish(events.New(events.TypePanic, "", "", "engaged").With("reason", reason))
	o.rebuildPreview()
	o.recomputeHealth()
}

// ClearPanic lifts panic mode and restores lanes saved when it engaged.
func (o *Orchestrator) ClearPanic() {
	o.mu.Lock()
	was := o.panicked
	o.panicked = false
	o.panicReason = ""
	o.mu.Unlock()

	n := o.Lanes.RestoreSaved()
	if was {
		o.logAction("panic cleared: %d lanes restored", n)
		o.publish(events.New(events.TypePanic, "", "", "cleared"))
	}
	o.rebuildPreview()
	o.recomputeHealth()
}

func (o *Orchestrator) knownTargets() []string {
	seen := make(map[string]bool)
	for _, c := range o.candidates() {
		seen[c.Target] = true
	}
	for _, e := range o.Lanes.Entries() {
		seen[e.Target] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IngestSyntheticOutcome feeds an outcome to the breakers without any
// network I/O, then reassesses degraded mode.
func (o *Orchestrator) IngestSyntheticOutcome(route, target string, ok bool) {
	for _, trip := range o.Breakers.Record(route, target, ok) {
		o.note("breaker tripped (synthetic): %s %s %s", trip.Route, trackName(trip.Target), trip.Reason)
		o.publish(events.New(events.TypeBreakerTrip, trip.Route, trip.Target, trip.Reason).With("synthetic", true))
	}
	o.recomputeDegraded()
}
