package orchestrator

import (
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/lanes"
	"github.com/uprootiny/manicctl/internal/scope"
	"github.com/uprootiny/manicctl/internal/util"
)

// Operator actions. Each one is journaled and refreshes the derived
// preview and health, so the next status reflects it.

// SetLane pins a target's lane by hand.
func (o *Orchestrator) SetLane(target string, p lanes.Priority) {
	prev := o.Lanes.Lane(target)
	o.Lanes.SetLane(target, p)
	o.logAction("lane %s: %s -> %s (operator)", target, prev, p)
	o.publish(events.New(events.TypeLaneChange, "", target, "operator").
		With("from", prev.String()).
		With("to", p.String()))
	o.derive()
}

// RestoreLanes puts back lanes saved by a panic quarantine.
func (o *Orchestrator) RestoreLanes() int {
	n := o.Lanes.RestoreSaved()
	o.logAction("lanes restored: %d", n)
	o.derive()
	return n
}

// SetThrottle replaces a target's throttle.
func (o *Orchestrator) SetThrottle(target string, th lanes.Throttle) {
	o.Lanes.SetThrottle(target, th)
	cooldown, delay := "global", "global"
	if th.Cooldown != nil {
		cooldown = util.FormatDuration(*th.Cooldown)
	}
	if th.Delay != nil {
		delay = util.FormatDuration(*th.Delay)
	}
	o.logAction("throttle %s: cooldown=%s delay=%s enabled=%v", target, cooldown, delay, th.Enabled)
	o.derive()
}

// LatchIntent sets the intent and latches it.
func (o *Orchestrator) LatchIntent(text string) string {
	sum := o.Scope.LatchIntent(text)
	o.logAction("intent latched: %q (%s)", text, sum[:min(12, len(sum))])
	o.derive()
	return sum
}

// ClearLatch drops the intent latch.
func (o *Orchestrator) ClearLatch() {
	o.Scope.ClearLatch()
	o.logAction("intent latch cleared")
	o.derive()
}

// SetContract replaces the scope contract, keeping the ledger.
func (o *Orchestrator) SetContract(c scope.Contract) {
	o.Scope.SetContract(c)
	o.logAction("scope contract updated: budget=%d max_cycles=%d latch=%v", c.AttentionBudgetActions, c.MaxCycles, c.RequireIntentLatch)
	o.derive()
}

// ResetCycles zeroes the action and cycle counters and drops the latch.
func (o *Orchestrator) ResetCycles() {
	o.Scope.ResetCycleLedger()
	o.logAction("scope ledger reset")
	o.derive()
}

func (o *Orchestrator) derive() {
	o.rebuildPreview()
	o.recomputeHealth()
}
