package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/lanes"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/util"
)

type laneRow struct {
	lanes.Entry
	Fluency      int `json:"fluency"`
	Observations int `json:"observations"`
}

func laneRows(o *orchestrator.Orchestrator) []laneRow {
	rows := make([]laneRow, 0)
	for _, e := range o.Lanes.Entries() {
		rows = append(rows, laneRow{
			Entry:        e,
			Fluency:      o.Telemetry.FluencyFor(e.Target, panel.RouteAutopilot),
			Observations: o.Telemetry.Observations(e.Target, panel.RouteAutopilot),
		})
	}
	return rows
}

func renderLanes(f *output.Formatter, rows []laneRow) {
	if len(rows) == 0 {
		f.Textln("No lane or throttle overrides; every target is secondary.")
		return
	}
	t := f.Table("TARGET", "LANE", "ENABLED", "COOLDOWN", "DELAY", "FLUENCY", "N")
	for _, r := range rows {
		cooldown, delay := "-", "-"
		if r.Throttle.Cooldown != nil {
			cooldown = util.FormatDuration(*r.Throttle.Cooldown)
		}
		if r.Throttle.Delay != nil {
			delay = util.FormatDuration(*r.Throttle.Delay)
		}
		t.AddRow(r.Target, r.Lane.String(), strconv.FormatBool(r.Throttle.Enabled), cooldown, delay,
			strconv.Itoa(r.Fluency)+"%", strconv.Itoa(r.Observations))
	}
	t.Render()
}

func newLanesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "Show and pin target lanes",
		Long: `Lanes rank targets for commuted dispatch: primary before secondary
before quarantine. Quarantined targets are never scheduled. The tuner
moves targets automatically from their autopilot fluency; 'lanes set'
pins a lane by hand.

Examples:
  manicctl lanes
  manicctl lanes set main:0.1 primary
  manicctl lanes set main:0.3 quarantine
  manicctl lanes restore            # Undo a panic quarantine`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				rows := laneRows(s.o)
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(rows)
				}
				renderLanes(f, rows)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <target> <primary|secondary|quarantine>",
		Short: "Pin a target's lane",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := lanes.ParsePriority(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.o.SetLane(args[0], p)
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(laneRows(s.o))
				}
				f.Textln("%s %s -> %s", f.Styles().OK.Render("OK"), args[0], f.Styles().Level(p.String()))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Restore lanes saved by a panic quarantine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				n := s.o.RestoreLanes()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(map[string]int{"restored": n})
				}
				f.Textln("Restored %s", output.CountStr(n, "lane", "lanes"))
				return nil
			})
		},
	})

	return cmd
}

type tuningView struct {
	orchestrator.Tuning
}

func (v tuningView) Text(f *output.Formatter) error {
	f.Header("Tuning")
	f.KV("cooldown", util.FormatDuration(v.Cooldown))
	f.KV("action delay", util.FormatDuration(v.ActionDelay))
	f.KV("fanout", v.Fanout)
	f.KV("refresh", util.FormatDuration(v.RefreshInterval))
	f.KV("route cooldown", util.FormatDuration(v.RouteCooldown))
	f.KV("nudge pause", util.FormatDuration(v.NudgePause))
	f.KV("auto approve", v.AutoApprove)
	f.KV("auto tune", v.Tuner.Enabled)
	f.KV("fallback", fmt.Sprintf("%v below %d%%", v.Commute.FallbackRouting, v.Commute.FallbackFluencyThreshold))
	return nil
}

func (v tuningView) JSON() interface{} { return v.Tuning }

func durationFlag(cmd *cobra.Command, name, raw string, dst *time.Duration) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	d, err := util.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", name, err)
	}
	*dst = d
	return nil
}

func newThrottleCmd() *cobra.Command {
	var (
		cooldown, delay, refresh, routeCooldown string
		fanout                                  int
		autoApprove                             bool
		profile                                 string
		reset                                   bool
	)

	cmd := &cobra.Command{
		Use:   "throttle",
		Short: "Show or override dispatch cadence",
		Long: `Show the dispatch cadence, or override it. Overrides persist across
invocations until --reset, which returns to the configured values.

Examples:
  manicctl throttle
  manicctl throttle --cooldown 20s --fanout 1
  manicctl throttle --profile deepwork
  manicctl throttle --reset
  manicctl throttle target main:0.1 --cooldown 30s --delay 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if reset {
					if err := s.o.ClearTuningOverride(ctx); err != nil {
						return err
					}
					s.o.SetTuning(cfg.Tuning())
					return formatter(cmd).Output(tuningView{s.o.Tuning()})
				}

				t := s.o.Tuning()
				if profile != "" {
					p, err := config.LookupProfile(profile)
					if err != nil {
						return err
					}
					t.RefreshInterval, t.Cooldown, t.ActionDelay, t.Fanout = p.RefreshInterval, p.Cooldown, p.ActionDelay, p.Fanout
				}
				for _, fl := range []struct {
					name string
					raw  string
					dst  *time.Duration
				}{
					{"cooldown", cooldown, &t.Cooldown},
					{"delay", delay, &t.ActionDelay},
					{"refresh", refresh, &t.RefreshInterval},
					{"route-cooldown", routeCooldown, &t.RouteCooldown},
				} {
					if err := durationFlag(cmd, fl.name, fl.raw, fl.dst); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("fanout") {
					if fanout < 1 {
						return fmt.Errorf("--fanout must be at least 1")
					}
					t.Fanout = fanout
				}
				if cmd.Flags().Changed("auto-approve") {
					t.AutoApprove = autoApprove
				}

				if t != s.o.Tuning() {
					s.o.SetTuning(t)
					s.saveTuning = true
				} else {
					s.readOnly = true
				}
				return formatter(cmd).Output(tuningView{s.o.Tuning()})
			})
		},
	}

	cmd.Flags().StringVar(&cooldown, "cooldown", "", "Per-target cooldown between dispatches")
	cmd.Flags().StringVar(&delay, "delay", "", "Delay between commuted steps")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Watch refresh interval")
	cmd.Flags().StringVar(&routeCooldown, "route-cooldown", "", "Per-route cooldown (0 disables)")
	cmd.Flags().IntVar(&fanout, "fanout", 0, "Targets per commuted plan")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Let the surface approve agent prompts")
	cmd.Flags().StringVar(&profile, "profile", "", "Apply a cadence profile (stabilize, throughput, deepwork)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop overrides and use the configured cadence")

	cmd.AddCommand(newThrottleTargetCmd())
	return cmd
}

func newThrottleTargetCmd() *cobra.Command {
	var (
		cooldown, delay string
		disable, enable bool
		clear           bool
	)

	cmd := &cobra.Command{
		Use:   "target <target>",
		Short: "Override cooldown and delay for one target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			return withSession(cmd, func(ctx context.Context, s *session) error {
				th := s.o.Lanes.Throttle(target)
				if clear {
					th = lanes.DefaultThrottle()
				}
				if cmd.Flags().Changed("cooldown") {
					d, err := util.ParseDuration(cooldown)
					if err != nil {
						return fmt.Errorf("invalid --cooldown: %w", err)
					}
					th.Cooldown = &d
				}
				if cmd.Flags().Changed("delay") {
					d, err := util.ParseDuration(delay)
					if err != nil {
						return fmt.Errorf("invalid --delay: %w", err)
					}
					th.Delay = &d
				}
				switch {
				case disable:
					th.Enabled = false
				case enable:
					th.Enabled = true
				}
				s.o.SetThrottle(target, th)

				rows := laneRows(s.o)
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(rows)
				}
				renderLanes(f, rows)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cooldown, "cooldown", "", "Cooldown for this target")
	cmd.Flags().StringVar(&delay, "delay", "", "Delay before this target's commuted step")
	cmd.Flags().BoolVar(&disable, "disable", false, "Exclude the target from plans")
	cmd.Flags().BoolVar(&enable, "enable", false, "Include the target in plans")
	cmd.Flags().BoolVar(&clear, "clear", false, "Drop the target's overrides first")
	cmd.MarkFlagsMutuallyExclusive("disable", "enable")
	return cmd
}

type breakersView struct {
	Assessment breaker.Assessment `json:"assessment"`
	Config     breaker.Config     `json:"config"`
	Breakers   []breaker.Status   `json:"breakers"`
}

func (v breakersView) Text(f *output.Formatter) error {
	s := f.Styles()
	a := v.Assessment
	mode := s.OK.Render("normal")
	if a.Degraded {
		mode = s.Warn.Render("degraded")
	}
	f.Textln("%s: %d routes, %d nodes open, backoff x%.2f, pressure %s", mode, a.OpenRoutes, a.OpenNodes, a.BackoffFactor, a.Pressure)
	if len(v.Breakers) == 0 {
		f.Textln("No samples recorded in this process; breakers are rebuilt from live outcomes.")
		return nil
	}
	t := f.Table("ROUTE", "TARGET", "STATE", "FAILURES", "UNTIL", "REASON")
	for _, b := range v.Breakers {
		state, until := "closed", "-"
		if b.Open {
			state = "open"
			until = output.FormatTime(b.OpenUntil)
		}
		target := b.Target
		if target == "" {
			target = "*"
		}
		t.AddRow(b.Route, target, state, fmt.Sprintf("%d/%d", b.Failures, b.Samples), until, output.Truncate(b.LastTripReason, 40))
	}
	t.Render()
	return nil
}

func (v breakersView) JSON() interface{} { return v }

func breakerSnapshot(o *orchestrator.Orchestrator) breakersView {
	return breakersView{Assessment: o.Assessment(), Config: o.Breakers.Config(), Breakers: o.Breakers.Statuses()}
}

func newBreakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breakers and degraded mode",
		Long: `Breakers trip per route and per (target, route) when the failure rate
over the sample window crosses the trip rate. They live in memory only,
so outside 'watch' this shows the current process view.

Examples:
  manicctl breakers
  manicctl breakers reset
  manicctl breakers drill autopilot/run main:0.1 --fail 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				return formatter(cmd).Output(breakerSnapshot(s.o))
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Close every breaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.o.ResetBreakers()
				return formatter(cmd).Output(breakerSnapshot(s.o))
			})
		},
	})

	var fails, oks int
	drill := &cobra.Command{
		Use:   "drill <route> [target]",
		Short: "Feed synthetic outcomes to the breakers",
		Long: `Feed synthetic failures then successes to a breaker without any
network call, and show the resulting breaker and degraded-mode state.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, target := args[0], ""
			if len(args) > 1 {
				target = args[1]
			}
			if _, ok := panel.LookupRoute(route); !ok {
				return fmt.Errorf("unknown route %q", route)
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				for i := 0; i < fails; i++ {
					s.o.IngestSyntheticOutcome(route, target, false)
				}
				for i := 0; i < oks; i++ {
					s.o.IngestSyntheticOutcome(route, target, true)
				}
				return formatter(cmd).Output(breakerSnapshot(s.o))
			})
		},
	}
	drill.Flags().IntVar(&fails, "fail", 3, "Synthetic failures")
	drill.Flags().IntVar(&oks, "ok", 0, "Synthetic successes after the failures")
	cmd.AddCommand(drill)

	return cmd
}

func newTelemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Show the decaying reliability memory",
		Long: `Show success and failure counts per route and per (target, route),
with fluency. Counts halve every half-life.

Examples:
  manicctl telemetry
  manicctl telemetry reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				entries := s.o.Telemetry.Entries()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(entries)
				}
				f.KV("half-life", util.FormatDuration(s.o.Telemetry.HalfLife()))
				if len(entries) == 0 {
					f.Textln("No outcomes recorded.")
					return nil
				}
				t := f.Table("ROUTE", "TARGET", "OK", "FAIL", "FLUENCY", "UPDATED")
				for _, e := range entries {
					target := e.Target
					if target == "" {
						target = "*"
					}
					t.AddRow(e.Route, target, strconv.Itoa(e.Success), strconv.Itoa(e.Failure),
						strconv.Itoa(e.Fluency())+"%", output.FormatTime(e.UpdatedAt))
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget every recorded outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.o.Telemetry.Reset()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(map[string]bool{"reset": true})
				}
				f.Textln("%s telemetry cleared", f.Styles().OK.Render("OK"))
				return nil
			})
		},
	})

	return cmd
}
