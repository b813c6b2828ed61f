package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/util"
)

type validateView struct {
	panel.ValidationReport
}

func (v validateView) Text(f *output.Formatter) error {
	f.Header("Validating " + v.Base)
	if len(v.RouteHints) > 0 {
		f.KV("route hints", len(v.RouteHints))
	}
	steps := f.Steps().SetTotal(len(v.Checks))
	for _, c := range v.Checks {
		name := fmt.Sprintf("%-4s %s", c.Method, c.Path)
		if c.Critical {
			name += " (critical)"
		}
		steps.Start(name)
		switch {
		case c.Skipped && c.OK:
			steps.Skip("hinted, not probed")
		case c.Skipped:
			steps.Warn("no route hint")
		case c.OK:
			steps.Done()
		default:
			reason := "unreachable"
			if c.Status > 0 {
				reason = "HTTP " + strconv.Itoa(c.Status)
			}
			if c.Preview != "" {
				reason += ": " + output.Truncate(c.Preview, 50)
			}
			steps.Fail(reason)
		}
	}
	f.Line()
	if v.Pass() {
		f.Textln("%s every critical route is available", f.Styles().OK.Render("PASS"))
	} else {
		f.Textln("%s missing critical routes: %v", f.Styles().Error.Render("FAIL"), v.MissingCritical)
	}
	return nil
}

func (v validateView) JSON() interface{} { return v.ValidationReport }

func newValidateCmd() *cobra.Command {
	var probePost bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the surface's control-plane routes",
		Long: `Check every control-plane route. GET routes are requested; POST routes
pass on a route hint from the surface index unless --probe-post, which
sends no-op payloads. Exits non-zero when a critical route is missing.

Examples:
  manicctl validate
  manicctl validate --probe-post --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				rep, err := s.o.Client().Validate(ctx, probePost)
				if err != nil {
					return err
				}
				if err := formatter(cmd).Output(validateView{rep}); err != nil {
					return err
				}
				if !rep.Pass() {
					return fmt.Errorf("%w: %v", errValidationFailed, rep.MissingCritical)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&probePost, "probe-post", false, "Send no-op payloads to POST routes")
	return cmd
}

var errValidationFailed = errors.New("validation failed: missing critical routes")

type reconView struct {
	Selected string        `json:"selected,omitempty"`
	Probes   []panel.Probe `json:"probes"`
}

func (v reconView) Text(f *output.Formatter) error {
	s := f.Styles()
	t := f.Table("", "BASE", "SCORE", "STATE", "HEALTH", "TMUX", "SESSIONS", "SMOKE", "LATENCY")
	ok := func(b bool) string {
		if b {
			return s.OK.Render("ok")
		}
		return s.Error.Render("fail")
	}
	for _, p := range v.Probes {
		mark := ""
		if p.BaseURL == v.Selected {
			mark = s.OK.Render("*")
		}
		t.AddRow(mark, p.BaseURL, strconv.Itoa(p.Score()), ok(p.StateReachable), ok(p.Healthy), ok(p.TmuxReachable),
			strconv.Itoa(p.Sessions), p.SmokeStatus, p.StateLatency.Round(time.Millisecond).String())
	}
	t.Render()
	if v.Selected == "" {
		f.Textln("%s no reachable surface", s.Error.Render("FAIL"))
	} else {
		f.Textln("Selected %s", v.Selected)
	}
	return nil
}

func (v reconView) JSON() interface{} { return v }

func newReconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recon [base-url...]",
		Short: "Probe candidate surfaces and select the best",
		Long: `Probe each candidate base URL concurrently (state, health, tmux), score
them, and switch to the best reachable one. The selection persists.
Candidates default to the configured presets; arguments are added.

Examples:
  manicctl recon
  manicctl recon http://10.0.0.5:8787 http://panel.lan:8787`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				bases := append(append([]string(nil), cfg.Panel.Presets...), args...)
				best, probes, err := s.o.Client().ProbeAndSelectBestEndpoint(ctx, dedupe(bases))
				v := reconView{Probes: probes}
				if err == nil {
					v.Selected = best.BaseURL
					err = s.o.SetBaseURL(best.BaseURL)
				}
				if outErr := formatter(cmd).Output(v); outErr != nil {
					return outErr
				}
				return err
			})
		},
	}
	return cmd
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func newWatchCmd() *cobra.Command {
	var (
		interval string
		forDur   string
		once     bool
		replay   bool
		speed    float64
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh continuously and stream status or events",
		Long: `Refresh the surface on the tuned interval, stretched by degraded-mode
backoff and consecutive errors. Text mode prints one status line per
pass; --json streams every event as a JSON line. The config file is
watched and cadence changes apply on the next pass.

With --replay the recorded timeline is played back onto the event
stream instead, at --speed.

Examples:
  manicctl watch
  manicctl watch --json | jq 'select(.type=="breaker_trip")'
  manicctl watch --interval 10s --for 5m
  manicctl watch --replay --speed 8 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var bound time.Duration
			if forDur != "" {
				d, err := util.ParseDuration(forDur)
				if err != nil {
					return fmt.Errorf("invalid --for: %w", err)
				}
				bound = d
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if bound > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, bound)
					defer cancel()
				}
				f := formatter(cmd)
				if f.IsJSON() {
					defer s.o.Bus().Stream(cmd.OutOrStdout())()
				}

				if replay {
					if speed <= 0 {
						return fmt.Errorf("--speed must be positive")
					}
					// Replayed events are already in the journal.
					s.live = true
					if !f.IsJSON() {
						defer s.o.Bus().SubscribeAll(func(e events.Event) {
							f.Textln("%s %-14s %-12s %s", e.Timestamp.Format("15:04:05"), e.Route, e.Target, output.Truncate(e.Message, 60))
						})()
					}
					return ignoreDone(s.o.Replay(ctx, speed))
				}
				defer s.follow()()

				if interval != "" {
					d, err := util.ParseDuration(interval)
					if err != nil {
						return fmt.Errorf("invalid --interval: %w", err)
					}
					t := s.o.Tuning()
					t.RefreshInterval = d
					s.o.SetTuning(t)
				}

				tick := func(context.Context) {
					if !f.IsJSON() {
						f.Textln("%s %s", f.Styles().Dim.Render(time.Now().Format("15:04:05")), s.o.Status().String())
					}
				}
				if once {
					err := s.o.Refresh(ctx)
					tick(ctx)
					return err
				}

				stop, err := config.Watch(cfgFile, "", s.log, func(c *config.Config) {
					c.ApplyTo(s.o)
					s.log.Info("config reloaded")
				})
				if err != nil {
					s.log.Warn("config hot reload disabled", "error", err)
				} else {
					defer stop()
				}

				return ignoreDone(s.o.Watch(ctx, tick))
			})
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "Refresh interval for this run (default: tuned)")
	cmd.Flags().StringVar(&forDur, "for", "", "Stop after this long (e.g. 10m)")
	cmd.Flags().BoolVar(&once, "once", false, "Refresh once and exit")
	cmd.Flags().BoolVar(&replay, "replay", false, "Replay the recorded timeline instead of refreshing")
	cmd.Flags().Float64Var(&speed, "speed", 4, "Replay speed multiplier")
	return cmd
}

// ignoreDone treats a cancelled or expired context as a clean stop.
func ignoreDone(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
