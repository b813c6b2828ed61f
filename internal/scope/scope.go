// Package scope enforces the operator's safety envelope: the intent latch,
// the attention budget, per-route cooldowns and the cycle ledger.
package scope

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

var (
	ErrIntentNotLatched = errors.New("intent not latched")
	ErrBudgetExceeded   = errors.New("attention budget exceeded")
	ErrCooldown         = errors.New("cooldown not elapsed")
	ErrCycleLimit       = errors.New("cycle limit reached")
	ErrDriftFreeze      = errors.New("frozen on queue drift")
)

// DefaultDriftQueueDepth is the queue depth above which a healthy cycle
// freezes.
const DefaultDriftQueueDepth = 6

// Contract is the operator-authored envelope. It changes only through
// SetContract, SetIntent or LatchIntent.
type Contract struct {
	Objective              string `json:"objective"`
	DoneCriteria           string `json:"done_criteria"`
	Intent                 string `json:"intent"`
	RequireIntentLatch     bool   `json:"require_intent_latch"`
	AttentionBudgetActions int    `json:"attention_budget_actions"`
	MaxCycles              int    `json:"max_cycles"`
	RequireSmokePassToStop bool   `json:"require_smoke_pass_to_stop"`
	FreezeOnDrift          bool   `json:"freeze_on_drift"`
	DriftQueueDepth        int    `json:"drift_queue_depth"`
}

// DefaultContract returns the stock envelope.
func DefaultContract() Contract {
	return Contract{
		RequireIntentLatch:     true,
		AttentionBudgetActions: 6,
		MaxCycles:              3,
		RequireSmokePassToStop: true,
		FreezeOnDrift:          true,
		DriftQueueDepth:        DefaultDriftQueueDepth,
	}
}

// Ledger counts work done in the current scope.
type Ledger struct {
	CompletedCycles int       `json:"completed_cycles"`
	Actions         int       `json:"actions"`
	LatchChecksum   string    `json:"latch_checksum,omitempty"`
	LatchedAt       time.Time `json:"latched_at,omitempty"`
}

// Checksum returns the hex blake3 digest of the lowercased, trimmed text,
// or "" for blank text.
func Checksum(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// Guard holds the contract and ledger. Check methods have no side effects.
type Guard struct {
	mu        sync.Mutex
	contract  Contract
	ledger    Ledger
	lastRoute map[string]time.Time
	now       func() time.Time
}

// NewGuard creates a guard for contract.
func NewGuard(contract Contract, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{contract: contract, lastRoute: make(map[string]time.Time), now: now}
}

// Contract returns the current contract.
func (g *Guard) Contract() Contract {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contract
}

// SetContract replaces the contract. The latch is kept and will fail if
// the intent text changed.
func (g *Guard) SetContract(c Contract) {
	g.mu.Lock()
	g.contract = c
	g.mu.Unlock()
}

// SetIntent changes the intent text without relatching.
func (g *Guard) SetIntent(text string) {
	g.mu.Lock()
	g.contract.Intent = text
	g.mu.Unlock()
}

// LatchIntent sets the intent text and latches its checksum. It returns
// the checksum.
func (g *Guard) LatchIntent(text string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contract.Intent = text
	g.ledger.LatchChecksum = Checksum(text)
	g.ledger.LatchedAt = g.now()
	return g.ledger.LatchChecksum
}

// IntentLatched reports whether a latch exists, regardless of drift.
func (g *Guard) IntentLatched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger.LatchChecksum != ""
}

// ClearLatch drops the latch. The intent text is kept.
func (g *Guard) ClearLatch() {
	g.mu.Lock()
	g.ledger.LatchChecksum = ""
	g.ledger.LatchedAt = time.Time{}
	g.mu.Unlock()
}

// Ledger returns the current ledger.
func (g *Guard) Ledger() Ledger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger
}

// CheckLatch fails when a latch is required and is missing or no longer
// matches the intent text.
func (g *Guard) CheckLatch() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLatchLocked()
}

func (g *Guard) checkLatchLocked() error {
	if !g.contract.RequireIntentLatch {
		return nil
	}
	if g.ledger.LatchChecksum == "" {
		return ErrIntentNotLatched
	}
	if g.ledger.LatchChecksum != Checksum(g.contract.Intent) {
		return fmt.Errorf("%w: intent changed since latch", ErrIntentNotLatched)
	}
	return nil
}

// CheckBudget fails when the action budget is spent. A non-positive
// budget is unlimited.
func (g *Guard) CheckBudget() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkBudgetLocked()
}

func (g *Guard) checkBudgetLocked() error {
	budget := g.contract.AttentionBudgetActions
	if budget > 0 && g.ledger.Actions >= budget {
		return fmt.Errorf("%w: %d/%d actions used", ErrBudgetExceeded, g.ledger.Actions, budget)
	}
	return nil
}

// CheckRouteCooldown fails when route last succeeded less than cooldown ago.
func (g *Guard) CheckRouteCooldown(route string, cooldown time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkCooldownLocked(route, cooldown)
}

func (g *Guard) checkCooldownLocked(route string, cooldown time.Duration) error {
	last, ok := g.lastRoute[route]
	if !ok || cooldown <= 0 {
		return nil
	}
	if wait := cooldown - g.now().Sub(last); wait > 0 {
		return fmt.Errorf("%w: %s ready in %s", ErrCooldown, route, wait.Round(time.Second))
	}
	return nil
}

// Preflight runs the latch, budget and cooldown checks in order. A zero
// cooldown skips the cooldown check.
func (g *Guard) Preflight(route string, cooldown time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLatchLocked(); err != nil {
		return err
	}
	if err := g.checkBudgetLocked(); err != nil {
		return err
	}
	return g.checkCooldownLocked(route, cooldown)
}

// RecordAction counts one successful dispatch on route.
func (g *Guard) RecordAction(route string) {
	g.mu.Lock()
	g.ledger.Actions++
	g.lastRoute[route] = g.now()
	g.mu.Unlock()
}

// LastDispatch returns when route last succeeded.
func (g *Guard) LastDispatch(route string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastRoute[route]
	return t, ok
}

// CheckCycle fails when the cycle limit is reached or, with freeze on
// drift, when queueDepth exceeds the drift threshold.
func (g *Guard) CheckCycle(queueDepth int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.contract
	if c.MaxCycles > 0 && g.ledger.CompletedCycles >= c.MaxCycles {
		return fmt.Errorf("%w: %d/%d cycles", ErrCycleLimit, g.ledger.CompletedCycles, c.MaxCycles)
	}
	limit := c.DriftQueueDepth
	if limit <= 0 {
		limit = DefaultDriftQueueDepth
	}
	if c.FreezeOnDrift && queueDepth > limit {
		return fmt.Errorf("%w: queue depth %d > %d", ErrDriftFreeze, queueDepth, limit)
	}
	return nil
}

// CompleteCycle counts one finished healthy cycle.
func (g *Guard) CompleteCycle() {
	g.mu.Lock()
	g.ledger.CompletedCycles++
	g.mu.Unlock()
}

// ResetCycleLedger zeroes cycles and actions and clears the latch.
func (g *Guard) ResetCycleLedger() {
	g.mu.Lock()
	g.ledger = Ledger{}
	g.mu.Unlock()
}

// State is the persisted form of a Guard.
type State struct {
	Contract  Contract             `json:"contract"`
	Ledger    Ledger               `json:"ledger"`
	LastRoute map[string]time.Time `json:"last_route,omitempty"`
}

// State copies the guard.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := State{Contract: g.contract, Ledger: g.ledger, LastRoute: make(map[string]time.Time, len(g.lastRoute))}
	for k, v := range g.lastRoute {
		s.LastRoute[k] = v
	}
	return s
}

// Restore replaces the guard contents with s.
func (g *Guard) Restore(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contract = s.Contract
	g.ledger = s.Ledger
	g.lastRoute = make(map[string]time.Time, len(s.LastRoute))
	for k, v := range s.LastRoute {
		g.lastRoute[k] = v
	}
}
