// Package orchestrator is the control-plane root. It owns all mutable
// scheduling state and sequences dispatches against the panel surface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/commute"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/health"
	"github.com/uprootiny/manicctl/internal/kvstore"
	"github.com/uprootiny/manicctl/internal/lanes"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/scope"
	"github.com/uprootiny/manicctl/internal/telemetry"
	"github.com/uprootiny/manicctl/internal/timeline"
)

const (
	// StorageKey holds the persisted orchestrator state.
	StorageKey = "orchestrator.state"

	// MaxJournalLines bounds the action log and scheduler notes.
	MaxJournalLines = 200

	// MinWatchInterval is the floor for the background refresh interval.
	MinWatchInterval = 2 * time.Second

	// MinNudgePause and MaxNudgePause bound the pause between nudges.
	MinNudgePause = 4 * time.Second
	MaxNudgePause = 60 * time.Second

	// DefaultAutopilotPrompt is sent when no prompt is given.
	DefaultAutopilotPrompt = "run smoke checks, fix first blocker, rerun smoke, report concise status"

	// PlanPrompt is the diagnose-only prompt used by the plan ops mode.
	PlanPrompt = "diagnose blockers only, no writes, suggest minimal next action"
)

// Tuning is the operator-adjustable scheduling configuration.
type Tuning struct {
	Cooldown         time.Duration     `json:"cooldown"`
	ActionDelay      time.Duration     `json:"action_delay"`
	Fanout           int               `json:"fanout"`
	RefreshInterval  time.Duration     `json:"refresh_interval"`
	CapabilityRescan time.Duration     `json:"capability_rescan"`
	RouteCooldown    time.Duration     `json:"route_cooldown"`
	AutoApprove      bool              `json:"auto_approve"`
	NudgePause       time.Duration     `json:"nudge_pause"`
	Tuner            lanes.TunerConfig `json:"tuner"`
	Commute          commute.Config    `json:"commute"`
}

// DefaultTuning returns the stock tuning.
func DefaultTuning() Tuning {
	return Tuning{
		Cooldown:         12 * time.Second,
		ActionDelay:      1200 * time.Millisecond,
		Fanout:           2,
		RefreshInterval:  6 * time.Second,
		CapabilityRescan: 30 * time.Second,
		NudgePause:       12 * time.Second,
		Tuner:            lanes.DefaultTunerConfig(),
		Commute:          commute.DefaultConfig(),
	}
}

// Orchestrator is the control-plane client. Its exported components may
// be read freely; mutations should go through Orchestrator methods so
// that journals, timeline and health stay consistent.
type Orchestrator struct {
	client *panel.Client
	kv     kvstore.Store
	log    *slog.Logger
	bus    *events.Bus
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error

	Telemetry *telemetry.Store
	Breakers  *breaker.Set
	Lanes     *lanes.Table
	Scope     *scope.Guard
	Timeline  *timeline.Log

	mu            sync.Mutex
	tuning        Tuning
	project       string
	state         *panel.PanelState
	caps          panel.Capabilities
	capsCheckedAt time.Time
	errorCount    int
	lastError     string
	panicked      bool
	panicReason   string
	lastDispatch  map[string]time.Time
	assessment    breaker.Assessment
	health        health.Interaction
	delta         Delta
	preview       []commute.Step
	journal       *Journal
	notes         *Journal

	refreshMu    sync.Mutex
	refreshing   bool
	refreshAgain bool
}

// Option configures an Orchestrator.
type Option func(*config)

type config struct {
	kv          kvstore.Store
	log         *slog.Logger
	bus         *events.Bus
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	tuning      Tuning
	breakers    breaker.Config
	contract    scope.Contract
	halfLife    time.Duration
	flushDelay  time.Duration
	maxEvents   int
	persistEvts int
	recompute   time.Duration
}

// WithKV sets the durable store. Without it state lives in memory only.
func WithKV(kv kvstore.Store) Option { return func(c *config) { c.kv = kv } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// WithBus sets the notification bus.
func WithBus(b *events.Bus) Option { return func(c *config) { c.bus = b } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithSleep injects the pause used between steps.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *config) { c.sleep = fn }
}

// WithTuning sets the scheduling tuning.
func WithTuning(t Tuning) Option { return func(c *config) { c.tuning = t } }

// WithBreakerConfig sets the breaker tuning.
func WithBreakerConfig(b breaker.Config) Option { return func(c *config) { c.breakers = b } }

// WithContract sets the initial scope contract. A persisted contract
// replaces it on Load.
func WithContract(sc scope.Contract) Option { return func(c *config) { c.contract = sc } }

// WithHalfLife sets the telemetry decay half-life.
func WithHalfLife(d time.Duration) Option { return func(c *config) { c.halfLife = d } }

// WithFlushDelay sets the telemetry write-behind delay.
func WithFlushDelay(d time.Duration) Option { return func(c *config) { c.flushDelay = d } }

// WithTimelineLimits bounds the in-memory and persisted event counts.
func WithTimelineLimits(maxEvents, persist int) Option {
	return func(c *config) { c.maxEvents, c.persistEvts = maxEvents, persist }
}

// WithRecomputeDelay sets the timeline derived-stat debounce.
func WithRecomputeDelay(d time.Duration) Option { return func(c *config) { c.recompute = d } }

// New creates an Orchestrator driving client.
func New(client *panel.Client, opts ...Option) *Orchestrator {
	cfg := config{
		now:         time.Now,
		sleep:       sleepCtx,
		tuning:      DefaultTuning(),
		breakers:    breaker.DefaultConfig(),
		contract:    scope.DefaultContract(),
		halfLife:    telemetry.DefaultHalfLife,
		flushDelay:  telemetry.DefaultFlushDelay,
		maxEvents:   timeline.DefaultMaxEvents,
		persistEvts: timeline.DefaultPersistEvents,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.kv == nil {
		cfg.kv = kvstore.NewMemory()
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.bus == nil {
		cfg.bus = events.NewBus(200)
	}

	o := &Orchestrator{
		client:       client,
		kv:           cfg.kv,
		log:          cfg.log.With("component", "orchestrator"),
		bus:          cfg.bus,
		now:          cfg.now,
		sleep:        cfg.sleep,
		tuning:       cfg.tuning,
		lastDispatch: make(map[string]time.Time),
		journal:      NewJournal(MaxJournalLines, cfg.now),
		notes:        NewJournal(MaxJournalLines, cfg.now),
	}
	o.Telemetry = telemetry.New(
		telemetry.WithKV(cfg.kv),
		telemetry.WithHalfLife(cfg.halfLife),
		telemetry.WithFlushDelay(cfg.flushDelay),
		telemetry.WithLogger(cfg.log),
		telemetry.WithClock(cfg.now),
	)
	o.Breakers = breaker.New(cfg.breakers, cfg.now)
	o.Lanes = lanes.NewTable()
	o.Scope = scope.NewGuard(cfg.contract, cfg.now)
	o.Timeline = timeline.NewLog(
		timeline.WithMaxEvents(cfg.maxEvents),
		timeline.WithPersistEvents(cfg.persistEvts),
		timeline.WithLogClock(cfg.now),
		timeline.WithRecomputeDelay(cfg.recompute),
	)
	o.assessment = breaker.Assess(0, 0)
	o.health = health.Compute(o.healthInputsLocked())
	return o
}

// Client returns the panel client.
func (o *Orchestrator) Client() *panel.Client { return o.client }

// Bus returns the notification bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Tuning returns the current tuning.
func (o *Orchestrator) Tuning() Tuning {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tuning
}

// SetTuning replaces the tuning. A running watch loop picks it up on its
// next iteration.
func (o *Orchestrator) SetTuning(t Tuning) {
	o.mu.Lock()
	o.tuning = t
	o.mu.Unlock()
	o.note("tuning updated: cooldown=%s delay=%s fanout=%d", t.Cooldown, t.ActionDelay, t.Fanout)
}

// SetProject pins the project path sent with dispatches. Empty means the
// first project reported by the surface.
func (o *Orchestrator) SetProject(path string) {
	o.mu.Lock()
	o.project = path
	o.mu.Unlock()
}

// Project returns the effective project path.
func (o *Orchestrator) Project() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.projectLocked()
}

func (o *Orchestrator) projectLocked() string {
	if o.project != "" {
		return o.project
	}
	if o.state != nil && len(o.state.Projects) > 0 {
		return o.state.Projects[0].Path
	}
	return ""
}

// SetBaseURL switches surfaces. Invalid URLs are rejected and the
// current surface is kept.
func (o *Orchestrator) SetBaseURL(raw string) error {
	if err := o.client.SetBaseURL(raw); err != nil {
		o.logAction("base url rejected: %v", err)
		return err
	}
	o.mu.Lock()
	o.caps = panel.Capabilities{}
	o.capsCheckedAt = time.Time{}
	o.state = nil
	o.mu.Unlock()
	o.logAction("base url set to %s", o.client.BaseURL())
	return nil
}

// ActionLog returns the action log, newest first.
func (o *Orchestrator) ActionLog() []string { return o.journal.Lines() }

// Notes returns the scheduler notes, newest first.
func (o *Orchestrator) Notes() []string { return o.notes.Lines() }

func (o *Orchestrator) logAction(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	o.journal.Add(line)
	o.log.Info(line)
}

func (o *Orchestrator) note(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	o.notes.Add(line)
	o.log.Debug(line)
}

func (o *Orchestrator) publish(e events.Event) {
	e.Timestamp = o.now().UTC()
	o.bus.PublishSync(e)
}

// persisted is the KV form of the orchestrator's own state.
type persisted struct {
	BaseURL      string               `json:"base_url,omitempty"`
	Project      string               `json:"project,omitempty"`
	Tuning       *Tuning              `json:"tuning,omitempty"`
	ActionLog    []string             `json:"action_log,omitempty"`
	Notes        []string             `json:"notes,omitempty"`
	Lanes        lanes.Snapshot       `json:"lanes"`
	Scope        scope.State          `json:"scope"`
	Panic        bool                 `json:"panic,omitempty"`
	PanicReason  string               `json:"panic_reason,omitempty"`
	LastDispatch map[string]time.Time `json:"last_dispatch,omitempty"`
}

// Load restores persisted state. Tuning overrides are applied only when
// keepTuning is false.
func (o *Orchestrator) Load(ctx context.Context, keepTuning bool) error {
	if err := o.Telemetry.Load(ctx); err != nil {
		return err
	}
	if err := o.Timeline.Load(ctx, o.kv); err != nil {
		return err
	}

	var p persisted
	if err := kvstore.GetJSON(ctx, o.kv, StorageKey, &p); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load orchestrator state: %w", err)
	}
	if p.BaseURL != "" {
		if err := o.client.SetBaseURL(p.BaseURL); err != nil {
			o.log.Warn("ignoring persisted base url", "url", p.BaseURL, "error", err)
		}
	}
	o.Lanes.Restore(p.Lanes)
	if p.Scope.Ledger != (scope.Ledger{}) || p.Scope.Contract != (scope.Contract{}) {
		o.Scope.Restore(p.Scope)
	}

	o.mu.Lock()
	o.project = p.Project
	if p.Tuning != nil && !keepTuning {
		o.tuning = *p.Tuning
	}
	o.panicked, o.panicReason = p.Panic, p.PanicReason
	for k, v := range p.LastDispatch {
		o.lastDispatch[k] = v
	}
	o.mu.Unlock()
	o.journal.Restore(p.ActionLog)
	o.notes.Restore(p.Notes)
	o.recomputeHealth()
	return nil
}

// Save persists orchestrator state, telemetry and the timeline.
// saveTuning records the current tuning as an override.
func (o *Orchestrator) Save(ctx context.Context, saveTuning bool) error {
	o.mu.Lock()
	p := persisted{
		BaseURL:      o.client.BaseURL(),
		Project:      o.project,
		Panic:        o.panicked,
		PanicReason:  o.panicReason,
		LastDispatch: make(map[string]time.Time, len(o.lastDispatch)),
	}
	for k, v := range o.lastDispatch {
		p.LastDispatch[k] = v
	}
	if saveTuning {
		t := o.tuning
		p.Tuning = &t
	}
	o.mu.Unlock()

	if !saveTuning {
		var prev persisted
		if err := kvstore.GetJSON(ctx, o.kv, StorageKey, &prev); err == nil {
			p.Tuning = prev.Tuning
		}
	}
	p.ActionLog = o.journal.Lines()
	p.Notes = o.notes.Lines()
	p.Lanes = o.Lanes.Snapshot()
	p.Scope = o.Scope.State()

	if err := kvstore.PutJSON(ctx, o.kv, StorageKey, p); err != nil {
		return fmt.Errorf("save orchestrator state: %w", err)
	}
	o.Telemetry.FlushPending()
	if err := o.Telemetry.Save(ctx); err != nil {
		return err
	}
	return o.Timeline.Save(ctx, o.kv)
}

// ClearTuningOverride drops any persisted tuning override.
func (o *Orchestrator) ClearTuningOverride(ctx context.Context) error {
	var p persisted
	if err := kvstore.GetJSON(ctx, o.kv, StorageKey, &p); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return err
	}
	p.Tuning = nil
	return kvstore.PutJSON(ctx, o.kv, StorageKey, p)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
