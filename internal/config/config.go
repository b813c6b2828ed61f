package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/commute"
	"github.com/uprootiny/manicctl/internal/export"
	"github.com/uprootiny/manicctl/internal/lanes"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/scope"
	"github.com/uprootiny/manicctl/internal/telemetry"
	"github.com/uprootiny/manicctl/internal/timeline"
	"github.com/uprootiny/manicctl/internal/util"
)

// Environment variables that override file settings.
const (
	EnvBaseURL      = "MANICCTL_BASE_URL"
	EnvStateDB      = "MANICCTL_STATE_DB"
	EnvOutputFormat = "MANICCTL_OUTPUT_FORMAT"
)

// Config represents the main configuration
type Config struct {
	Panel     PanelConfig     `toml:"panel"`
	Throttle  ThrottleConfig  `toml:"throttle"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Lanes     LanesConfig     `toml:"lanes"`
	Commute   CommuteConfig   `toml:"commute"`
	Scope     ScopeConfig     `toml:"scope"`
	Timeline  TimelineConfig  `toml:"timeline"`
	Storage   StorageConfig   `toml:"storage"`
	Output    OutputConfig    `toml:"output"`

	// Runtime-only fields (populated by Load and project config merging)
	Path        string   `toml:"-"`
	ProjectDir  string   `toml:"-"`
	NudgeScript string   `toml:"-"`
	UnknownKeys []string `toml:"-"`
}

// PanelConfig addresses the panel surface.
type PanelConfig struct {
	BaseURL          string        `toml:"base_url"`
	Presets          []string      `toml:"presets"`
	RequestTimeout   util.Duration `toml:"request_timeout"`
	ResourceTimeout  util.Duration `toml:"resource_timeout"`
	CapabilityRescan util.Duration `toml:"capability_rescan"`
}

// ThrottleConfig holds the dispatch cadence.
type ThrottleConfig struct {
	Profile         string        `toml:"profile"`
	Cooldown        util.Duration `toml:"cooldown"`
	ActionDelay     util.Duration `toml:"action_delay"`
	Fanout          int           `toml:"fanout"`
	RefreshInterval util.Duration `toml:"refresh_interval"`
	RouteCooldown   util.Duration `toml:"route_cooldown"`
	NudgePause      util.Duration `toml:"nudge_pause"`
	AutoApprove     bool          `toml:"auto_approve"`
}

// TelemetryConfig tunes the reliability memory.
type TelemetryConfig struct {
	HalfLife   util.Duration `toml:"half_life"`
	FlushDelay util.Duration `toml:"flush_delay"`
}

// BreakerConfig mirrors breaker.Config.
type BreakerConfig struct {
	SampleWindow    int           `toml:"sample_window"`
	MinFailures     int           `toml:"min_failures"`
	FailureRateTrip float64       `toml:"failure_rate_trip"`
	OpenCooldown    util.Duration `toml:"open_cooldown"`
}

// LanesConfig holds the lane auto-tune thresholds, in fluency percent.
type LanesConfig struct {
	AutoTune         bool `toml:"auto_tune"`
	PrimaryThreshold int  `toml:"primary_threshold"`
	SecondaryFloor   int  `toml:"secondary_floor"`
	QuarantineFloor  int  `toml:"quarantine_floor"`
	QuarantineMargin int  `toml:"quarantine_margin"`
	MinObservations  int  `toml:"min_observations"`
}

// CommuteConfig controls fallback routing.
type CommuteConfig struct {
	FallbackRouting          bool `toml:"fallback_routing"`
	FallbackFluencyThreshold int  `toml:"fallback_fluency_threshold"`
}

// ScopeConfig seeds the scope contract for a fresh state database.
type ScopeConfig struct {
	Objective              string `toml:"objective"`
	DoneCriteria           string `toml:"done_criteria"`
	RequireIntentLatch     bool   `toml:"require_intent_latch"`
	AttentionBudgetActions int    `toml:"attention_budget_actions"`
	MaxCycles              int    `toml:"max_cycles"`
	RequireSmokePassToStop bool   `toml:"require_smoke_pass_to_stop"`
	FreezeOnDrift          bool   `toml:"freeze_on_drift"`
	DriftQueueDepth        int    `toml:"drift_queue_depth"`
}

// TimelineConfig bounds the prompt event log.
type TimelineConfig struct {
	MaxEvents         int           `toml:"max_events"`
	PersistEvents     int           `toml:"persist_events"`
	RecomputeDebounce util.Duration `toml:"recompute_debounce"`
}

// StorageConfig locates local state.
type StorageConfig struct {
	StateDB         string `toml:"state_db"`
	ExportDir       string `toml:"export_dir"`
	CompressHistory bool   `toml:"compress_history"`
}

// OutputConfig selects the CLI output format.
type OutputConfig struct {
	Format  string `toml:"format"` // auto, text or json
	NoColor bool   `toml:"no_color"`
}

// DefaultPath returns the default config file path
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "manicctl", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "manicctl", "config.toml")
}

// DefaultStateDB returns the default SQLite state path.
func DefaultStateDB() string {
	return filepath.Join(export.DataDir(), "state.db")
}

// Default returns the default configuration
func Default() *Config {
	tuning := orchestrator.DefaultTuning()
	br := breaker.DefaultConfig()
	tuner := lanes.DefaultTunerConfig()
	sc := scope.DefaultContract()
	return &Config{
		Panel: PanelConfig{
			BaseURL:          panel.DefaultBaseURL,
			Presets:          append([]string(nil), panel.DefaultPresets...),
			RequestTimeout:   util.D(panel.DefaultRequestTimeout),
			ResourceTimeout:  util.D(panel.DefaultResourceTimeout),
			CapabilityRescan: util.D(tuning.CapabilityRescan),
		},
		Throttle: ThrottleConfig{
			Cooldown:        util.D(tuning.Cooldown),
			ActionDelay:     util.D(tuning.ActionDelay),
			Fanout:          tuning.Fanout,
			RefreshInterval: util.D(tuning.RefreshInterval),
			RouteCooldown:   util.D(tuning.RouteCooldown),
			NudgePause:      util.D(tuning.NudgePause),
		},
		Telemetry: TelemetryConfig{
			HalfLife:   util.D(telemetry.DefaultHalfLife),
			FlushDelay: util.D(telemetry.DefaultFlushDelay),
		},
		Breaker: BreakerConfig{
			SampleWindow:    br.SampleWindow,
			MinFailures:     br.MinFailures,
			FailureRateTrip: br.FailureRateTrip,
			OpenCooldown:    util.D(br.OpenCooldown),
		},
		Lanes: LanesConfig{
			AutoTune:         tuner.Enabled,
			PrimaryThreshold: tuner.PrimaryThreshold,
			SecondaryFloor:   tuner.SecondaryFloor,
			QuarantineFloor:  tuner.QuarantineFloor,
			QuarantineMargin: tuner.QuarantineMargin,
			MinObservations:  tuner.MinObservations,
		},
		Commute: CommuteConfig{
			FallbackRouting:          tuning.Commute.FallbackRouting,
			FallbackFluencyThreshold: tuning.Commute.FallbackFluencyThreshold,
		},
		Scope: ScopeConfig{
			RequireIntentLatch:     sc.RequireIntentLatch,
			AttentionBudgetActions: sc.AttentionBudgetActions,
			MaxCycles:              sc.MaxCycles,
			RequireSmokePassToStop: sc.RequireSmokePassToStop,
			FreezeOnDrift:          sc.FreezeOnDrift,
			DriftQueueDepth:        sc.DriftQueueDepth,
		},
		Timeline: TimelineConfig{
			MaxEvents:         timeline.DefaultMaxEvents,
			PersistEvents:     timeline.DefaultPersistEvents,
			RecomputeDebounce: util.D(timeline.DefaultRecomputeDelay),
		},
		Storage: StorageConfig{
			StateDB:   DefaultStateDB(),
			ExportDir: export.DataDir(),
		},
		Output: OutputConfig{Format: "auto"},
	}
}

// Load reads the config file at path, or DefaultPath when path is empty.
// Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Path = path
	for _, k := range md.Undecoded() {
		cfg.UnknownKeys = append(cfg.UnknownKeys, k.String())
	}

	// A profile sets the throttle baseline; keys written next to it win.
	if name := cfg.Throttle.Profile; name != "" {
		explicit := cfg.Throttle
		if err := cfg.ApplyProfile(name); err != nil {
			return nil, err
		}
		if md.IsDefined("throttle", "cooldown") {
			cfg.Throttle.Cooldown = explicit.Cooldown
		}
		if md.IsDefined("throttle", "action_delay") {
			cfg.Throttle.ActionDelay = explicit.ActionDelay
		}
		if md.IsDefined("throttle", "fanout") {
			cfg.Throttle.Fanout = explicit.Fanout
		}
		if md.IsDefined("throttle", "refresh_interval") {
			cfg.Throttle.RefreshInterval = explicit.RefreshInterval
		}
	}

	cfg.ApplyEnv()
	cfg.backfill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults (with environment
// overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return cfg, err
}

// ApplyEnv applies environment variable overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Panel.BaseURL = v
	}
	if v := os.Getenv(EnvStateDB); v != "" {
		c.Storage.StateDB = v
	}
	if v := os.Getenv(EnvOutputFormat); v != "" {
		c.Output.Format = strings.ToLower(v)
	}
}

// backfill replaces zero values the file may have written with defaults.
func (c *Config) backfill() {
	d := Default()
	if c.Panel.BaseURL == "" {
		c.Panel.BaseURL = d.Panel.BaseURL
	}
	if len(c.Panel.Presets) == 0 {
		c.Panel.Presets = d.Panel.Presets
	}
	if c.Panel.RequestTimeout.Duration <= 0 {
		c.Panel.RequestTimeout = d.Panel.RequestTimeout
	}
	if c.Panel.ResourceTimeout.Duration <= 0 {
		c.Panel.ResourceTimeout = d.Panel.ResourceTimeout
	}
	if c.Throttle.Fanout < 1 {
		c.Throttle.Fanout = 1
	}
	if c.Throttle.RefreshInterval.Duration <= 0 {
		c.Throttle.RefreshInterval = d.Throttle.RefreshInterval
	}
	if c.Telemetry.HalfLife.Duration <= 0 {
		c.Telemetry.HalfLife = d.Telemetry.HalfLife
	}
	if c.Telemetry.FlushDelay.Duration <= 0 {
		c.Telemetry.FlushDelay = d.Telemetry.FlushDelay
	}
	if c.Breaker.SampleWindow < 1 {
		c.Breaker.SampleWindow = d.Breaker.SampleWindow
	}
	if c.Breaker.MinFailures < 1 {
		c.Breaker.MinFailures = d.Breaker.MinFailures
	}
	if c.Timeline.MaxEvents < 1 {
		c.Timeline.MaxEvents = d.Timeline.MaxEvents
	}
	if c.Timeline.PersistEvents < 1 {
		c.Timeline.PersistEvents = d.Timeline.PersistEvents
	}
	if c.Storage.StateDB == "" {
		c.Storage.StateDB = d.Storage.StateDB
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = d.Storage.ExportDir
	}
	if c.Output.Format == "" {
		c.Output.Format = d.Output.Format
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := panel.NormalizeBaseURL(c.Panel.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("panel.base_url: %w", err))
	}
	if r := c.Breaker.FailureRateTrip; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("breaker.failure_rate_trip must be in (0, 1], got %g", r))
	}
	if c.Lanes.SecondaryFloor > c.Lanes.PrimaryThreshold {
		errs = append(errs, fmt.Errorf("lanes.secondary_floor %d above primary_threshold %d",
			c.Lanes.SecondaryFloor, c.Lanes.PrimaryThreshold))
	}
	if t := c.Commute.FallbackFluencyThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("commute.fallback_fluency_threshold must be 0-100, got %d", t))
	}
	switch c.Output.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("output.format must be auto, text or json, got %q", c.Output.Format))
	}
	return errors.Join(errs...)
}

// Tuning maps the config onto orchestrator tuning.
func (c *Config) Tuning() orchestrator.Tuning {
	return orchestrator.Tuning{
		Cooldown:         c.Throttle.Cooldown.Duration,
		ActionDelay:      c.Throttle.ActionDelay.Duration,
		Fanout:           c.Throttle.Fanout,
		RefreshInterval:  c.Throttle.RefreshInterval.Duration,
		CapabilityRescan: c.Panel.CapabilityRescan.Duration,
		RouteCooldown:    c.Throttle.RouteCooldown.Duration,
		AutoApprove:      c.Throttle.AutoApprove,
		NudgePause:       c.Throttle.NudgePause.Duration,
		Tuner: lanes.TunerConfig{
			Enabled:          c.Lanes.AutoTune,
			PrimaryThreshold: c.Lanes.PrimaryThreshold,
			SecondaryFloor:   c.Lanes.SecondaryFloor,
			QuarantineFloor:  c.Lanes.QuarantineFloor,
			QuarantineMargin: c.Lanes.QuarantineMargin,
			MinObservations:  c.Lanes.MinObservations,
		},
		Commute: commute.Config{
			FallbackRouting:          c.Commute.FallbackRouting,
			FallbackFluencyThreshold: c.Commute.FallbackFluencyThreshold,
		},
	}
}

// BreakerSettings maps the [breaker] section.
func (c *Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		SampleWindow:    c.Breaker.SampleWindow,
		MinFailures:     c.Breaker.MinFailures,
		FailureRateTrip: c.Breaker.FailureRateTrip,
		OpenCooldown:    c.Breaker.OpenCooldown.Duration,
	}
}

// Contract maps the [scope] section.
func (c *Config) Contract() scope.Contract {
	return scope.Contract{
		Objective:              c.Scope.Objective,
		DoneCriteria:           c.Scope.DoneCriteria,
		RequireIntentLatch:     c.Scope.RequireIntentLatch,
		AttentionBudgetActions: c.Scope.AttentionBudgetActions,
		MaxCycles:              c.Scope.MaxCycles,
		RequireSmokePassToStop: c.Scope.RequireSmokePassToStop,
		FreezeOnDrift:          c.Scope.FreezeOnDrift,
		DriftQueueDepth:        c.Scope.DriftQueueDepth,
	}
}

// PanelOptions returns client options for the [panel] section.
func (c *Config) PanelOptions() []panel.Option {
	return []panel.Option{
		panel.WithBaseURL(c.Panel.BaseURL),
		panel.WithTimeouts(c.Panel.RequestTimeout.Duration, c.Panel.ResourceTimeout.Duration),
	}
}

// OrchestratorOptions returns the orchestrator options derived from the
// config. Callers append their own kv, logger and bus.
func (c *Config) OrchestratorOptions() []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithTuning(c.Tuning()),
		orchestrator.WithBreakerConfig(c.BreakerSettings()),
		orchestrator.WithContract(c.Contract()),
		orchestrator.WithHalfLife(c.Telemetry.HalfLife.Duration),
		orchestrator.WithFlushDelay(c.Telemetry.FlushDelay.Duration),
		orchestrator.WithTimelineLimits(c.Timeline.MaxEvents, c.Timeline.PersistEvents),
		orchestrator.WithRecomputeDelay(c.Timeline.RecomputeDebounce.Duration),
	}
}

// ApplyTo pushes the reloadable settings into a running orchestrator.
func (c *Config) ApplyTo(o *orchestrator.Orchestrator) {
	o.SetTuning(c.Tuning())
	o.Breakers.SetConfig(c.BreakerSettings())
	o.Telemetry.SetHalfLife(c.Telemetry.HalfLife.Duration)
}

// CreateDefault writes the default config to DefaultPath if it does not
// exist and returns the path.
func CreateDefault() (string, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := Print(Default(), f); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, f.Close()
}

func dur(d util.Duration) string {
	return util.FormatDuration(d.Duration)
}

// floatLit always carries a decimal point so TOML reads it back as a float.
func floatLit(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Print writes cfg as an annotated TOML document.
func Print(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}
	p := ew.printf

	p("# manicctl configuration\n")
	p("# Durations accept 30s, 5m, 1h, 1d, 1w and Go forms such as 1500ms.\n\n")

	p("[panel]\n")
	p("# Environment variable: %s\n", EnvBaseURL)
	p("base_url = %q\n", cfg.Panel.BaseURL)
	p("# Surfaces offered to `manicctl recon`\n")
	p("presets = [\n")
	for _, u := range cfg.Panel.Presets {
		p("  %q,\n", u)
	}
	p("]\n")
	p("request_timeout = %q\n", dur(cfg.Panel.RequestTimeout))
	p("resource_timeout = %q\n", dur(cfg.Panel.ResourceTimeout))
	p("capability_rescan = %q\n\n", dur(cfg.Panel.CapabilityRescan))

	p("[throttle]\n")
	p("# Cadence profile: %s (explicit keys below override it)\n", strings.Join(ProfileNames(), ", "))
	if cfg.Throttle.Profile != "" {
		p("profile = %q\n", cfg.Throttle.Profile)
	} else {
		p("# profile = \"stabilize\"\n")
	}
	p("cooldown = %q\n", dur(cfg.Throttle.Cooldown))
	p("action_delay = %q\n", dur(cfg.Throttle.ActionDelay))
	p("fanout = %d\n", cfg.Throttle.Fanout)
	p("refresh_interval = %q\n", dur(cfg.Throttle.RefreshInterval))
	p("# Minimum gap between two dispatches on one route (0s disables)\n")
	p("route_cooldown = %q\n", dur(cfg.Throttle.RouteCooldown))
	p("nudge_pause = %q\n", dur(cfg.Throttle.NudgePause))
	p("auto_approve = %t\n\n", cfg.Throttle.AutoApprove)

	p("[telemetry]\n")
	p("# Stored counters halve every half_life\n")
	p("half_life = %q\n", dur(cfg.Telemetry.HalfLife))
	p("flush_delay = %q\n\n", dur(cfg.Telemetry.FlushDelay))

	p("[breaker]\n")
	p("sample_window = %d\n", cfg.Breaker.SampleWindow)
	p("min_failures = %d\n", cfg.Breaker.MinFailures)
	p("failure_rate_trip = %s\n", floatLit(cfg.Breaker.FailureRateTrip))
	p("open_cooldown = %q\n\n", dur(cfg.Breaker.OpenCooldown))

	p("[lanes]\n")
	p("# Fluency thresholds in percent\n")
	p("auto_tune = %t\n", cfg.Lanes.AutoTune)
	p("primary_threshold = %d\n", cfg.Lanes.PrimaryThreshold)
	p("secondary_floor = %d\n", cfg.Lanes.SecondaryFloor)
	p("quarantine_floor = %d\n", cfg.Lanes.QuarantineFloor)
	p("quarantine_margin = %d\n", cfg.Lanes.QuarantineMargin)
	p("min_observations = %d\n\n", cfg.Lanes.MinObservations)

	p("[commute]\n")
	p("fallback_routing = %t\n", cfg.Commute.FallbackRouting)
	p("fallback_fluency_threshold = %d\n\n", cfg.Commute.FallbackFluencyThreshold)

	p("[scope]\n")
	p("# Seeds the contract of a fresh state database\n")
	p("objective = %q\n", cfg.Scope.Objective)
	p("done_criteria = %q\n", cfg.Scope.DoneCriteria)
	p("require_intent_latch = %t\n", cfg.Scope.RequireIntentLatch)
	p("attention_budget_actions = %d\n", cfg.Scope.AttentionBudgetActions)
	p("max_cycles = %d\n", cfg.Scope.MaxCycles)
	p("require_smoke_pass_to_stop = %t\n", cfg.Scope.RequireSmokePassToStop)
	p("freeze_on_drift = %t\n", cfg.Scope.FreezeOnDrift)
	p("drift_queue_depth = %d\n\n", cfg.Scope.DriftQueueDepth)

	p("[timeline]\n")
	p("max_events = %d\n", cfg.Timeline.MaxEvents)
	p("persist_events = %d\n", cfg.Timeline.PersistEvents)
	p("recompute_debounce = %q\n\n", dur(cfg.Timeline.RecomputeDebounce))

	p("[storage]\n")
	p("# Environment variable: %s\n", EnvStateDB)
	p("state_db = %q\n", cfg.Storage.StateDB)
	p("export_dir = %q\n", cfg.Storage.ExportDir)
	p("compress_history = %t\n\n", cfg.Storage.CompressHistory)

	p("[output]\n")
	p("# auto, text or json. Environment variable: %s\n", EnvOutputFormat)
	p("format = %q\n", cfg.Output.Format)
	p("no_color = %t\n", cfg.Output.NoColor)
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
