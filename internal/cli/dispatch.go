package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/timeline"
	"github.com/uprootiny/manicctl/internal/util"
)

func newAutopilotCmd() *cobra.Command {
	var (
		target      string
		fanout      int
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "autopilot [prompt]",
		Short: "Dispatch one autopilot run",
		Long: `Dispatch a single autopilot run. Without --target the surface picks up
to --fanout targets itself; with --target the run is pinned to that pane
and its cooldown and breakers apply.

The prompt defaults to the guarded fix loop.

Examples:
  manicctl autopilot
  manicctl autopilot "fix the failing lint step" --target main:0.1
  manicctl autopilot --fanout 3 --auto-approve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				t := s.o.Tuning()
				opts := orchestrator.AutopilotOptions{
					Target:      target,
					MaxTargets:  t.Fanout,
					AutoApprove: t.AutoApprove || autoApprove,
				}
				if len(args) > 0 {
					opts.Prompt = args[0]
				}
				if cmd.Flags().Changed("fanout") {
					opts.MaxTargets = fanout
				}
				if target != "" {
					opts.MaxTargets = 1
				}
				res, err := s.o.RunAutopilot(ctx, opts)
				if err != nil {
					return err
				}
				return formatter(cmd).Output(resultView{Route: panel.RouteAutopilot, Target: target, Result: res})
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Pin the run to one target (e.g. main:0.1)")
	cmd.Flags().IntVar(&fanout, "fanout", 0, "Maximum targets for an unpinned run (default: tuned fanout)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Let the surface approve agent prompts")
	return cmd
}

type commuteView struct {
	Prompt string                    `json:"prompt"`
	Steps  []orchestrator.StepResult `json:"steps"`
	Error  string                    `json:"error,omitempty"`
}

func (v commuteView) Text(f *output.Formatter) error {
	f.Header("Commuted autopilot")
	f.KV("prompt", output.Truncate(v.Prompt, f.Width()-20))
	stepResultTable(f, v.Steps)
	if v.Error != "" {
		f.Textln("%s %s", f.Styles().Error.Render("error:"), v.Error)
	}
	return nil
}

func (v commuteView) JSON() interface{} { return v }

func newCommuteCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "commute [prompt]",
		Short: "Ranked dispatch across targets with primary/fallback strategy",
		Long: `Plan across the enabled targets and execute each step in order.

Targets are ranked by lane, fluency and throughput. Primary steps run
autopilot on the target; fallback steps send the prompt straight to the
pane and then run smoke. Steps are spaced by the target delay scaled by
the degraded-mode backoff factor.

Examples:
  manicctl commute
  manicctl commute "rerun smoke and report"
  manicctl commute --dry-run       # Show the plan only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				f := formatter(cmd)
				if dryRun {
					s.readOnly = true
					if err := s.o.Refresh(ctx); err != nil {
						return err
					}
					plan := s.o.Plan(panel.RouteAutopilot)
					if f.IsJSON() {
						return f.JSON(plan)
					}
					planTable(f, plan)
					return nil
				}
				if prompt == "" {
					prompt = orchestrator.DefaultAutopilotPrompt
				}
				steps, err := s.o.RunCommutedAutopilot(ctx, prompt)
				if steps == nil {
					return err
				}
				v := commuteView{Prompt: prompt, Steps: steps}
				if err != nil {
					v.Error = err.Error()
				}
				if outErr := f.Output(v); outErr != nil {
					return outErr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without dispatching")
	return cmd
}

// resolveScript picks the nudge script: an explicit file, then a named
// profile, then the project script, then the configured profile.
func resolveScript(file, profile string) (timeline.Script, error) {
	switch {
	case file != "":
		return timeline.LoadScript(file)
	case profile != "":
		p, err := config.LookupProfile(profile)
		if err != nil {
			return timeline.Script{}, err
		}
		return p.NudgeScript(), nil
	case cfg.NudgeScript != "":
		return timeline.LoadScript(cfg.NudgeScript)
	case cfg.Throttle.Profile != "":
		p, err := config.LookupProfile(cfg.Throttle.Profile)
		if err != nil {
			return timeline.Script{}, err
		}
		return p.NudgeScript(), nil
	}
	return timeline.Script{}, errors.New("no nudge script: pass prompts, --file or --profile")
}

type nudgesView struct {
	Script  string                     `json:"script,omitempty"`
	Pause   string                     `json:"pause"`
	Results []orchestrator.NudgeResult `json:"results"`
}

func (v nudgesView) Text(f *output.Formatter) error {
	title := "Scripted nudges"
	if v.Script != "" {
		title += " (" + v.Script + ")"
	}
	f.Header(title)
	f.KV("pause", v.Pause)
	for i, r := range v.Results {
		f.Textln("%d. %s", i+1, output.Truncate(r.Prompt, f.Width()-4))
		if len(r.Steps) > 0 {
			stepResultTable(f, r.Steps)
		}
		if r.Error != "" {
			f.Textln("   %s %s", f.Styles().Error.Render("error:"), r.Error)
		}
	}
	return nil
}

func (v nudgesView) JSON() interface{} { return v }

func newNudgesCmd() *cobra.Command {
	var (
		file    string
		profile string
		pause   string
	)

	cmd := &cobra.Command{
		Use:   "nudges [prompt...]",
		Short: "Run a sequence of prompts through commuted autopilot",
		Long: `Run each prompt through commuted autopilot with a pause between them.
The pause is clamped to 4s..60s. The run stops early on panic or Ctrl-C.

Prompts come from the arguments, a YAML script (--file), a cadence
profile's default script (--profile), the project nudge script, or the
configured profile, in that order.

Script format:
  name: guarded
  pause: 12s
  steps:
    - run smoke checks, fix first blocker
    - summarize the remaining blockers

Examples:
  manicctl nudges "fix lint" "rerun smoke"
  manicctl nudges --file .manicctl/nudges.yaml
  manicctl nudges --profile deepwork --pause 20s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sc timeline.Script
			if len(args) > 0 {
				sc = timeline.Script{Steps: args, Pause: cfg.Throttle.NudgePause}
			} else {
				var err error
				if sc, err = resolveScript(file, profile); err != nil {
					return err
				}
			}
			if pause != "" {
				d, err := util.ParseDuration(pause)
				if err != nil {
					return fmt.Errorf("invalid --pause: %w", err)
				}
				sc.Pause = util.D(d)
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				results, err := s.o.RunScriptedNudges(ctx, sc.Steps, sc.Pause.Duration)
				v := nudgesView{Script: sc.Name, Pause: util.FormatDuration(orchestrator.ClampNudgePause(sc.Pause.Duration)), Results: results}
				if outErr := formatter(cmd).Output(v); outErr != nil {
					return outErr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML nudge script")
	cmd.Flags().StringVar(&profile, "profile", "", "Use a cadence profile's script: "+strings.Join(config.ProfileNames(), ", "))
	cmd.Flags().StringVar(&pause, "pause", "", "Pause between prompts (e.g. 12s), clamped to 4s..60s")
	return cmd
}

type cycleView struct {
	orchestrator.CycleReport
}

func (r cycleView) Text(f *output.Formatter) error {
	s := f.Styles()
	f.Header("Healthy cycle")
	stepResultTable(f, r.Steps)
	smoke := s.Error.Render("not passing")
	switch {
	case r.SmokeError != "":
		smoke = s.Error.Render("did not run: " + output.Truncate(r.SmokeError, 60))
	case r.SmokePassed:
		smoke = s.OK.Render("passed")
	}
	f.KV("smoke", smoke)
	done := "no"
	if r.Completed {
		done = "yes"
	}
	f.KV("completed", done)
	f.KV("cycles", r.Cycles)
	f.KV("health", r.Health)
	return nil
}

func (r cycleView) JSON() interface{} { return r.CycleReport }

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle [prompt]",
		Short: "Run one healthy cycle: commuted autopilot, then smoke",
		Long: `Refresh, check the cycle limit and queue drift freeze, run a commuted
autopilot pass, then smoke. The cycle counts toward max_cycles when smoke
passes, or always when the scope does not require a passing smoke.

Examples:
  manicctl cycle
  manicctl cycle "fix the flaky integration test"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				rep, err := s.o.RunHealthyCycle(ctx, prompt)
				if err != nil {
					return err
				}
				return formatter(cmd).Output(cycleView{rep})
			})
		},
	}
}

func newModeCmd() *cobra.Command {
	var fanout bool

	cmd := &cobra.Command{
		Use:   "mode <verify|plan|act> [prompt]",
		Short: "Run an ops mode",
		Long: `Run an ops mode:

  verify   refresh only
  plan     single-target diagnose-only autopilot, no auto-approve
  act      commuted autopilot, or a fanout autopilot with --fanout

Examples:
  manicctl mode verify
  manicctl mode plan
  manicctl mode act "ship the fix" --fanout`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := orchestrator.ParseMode(args[0])
			if err != nil {
				return err
			}
			prompt := orchestrator.DefaultAutopilotPrompt
			if len(args) > 1 {
				prompt = args[1]
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.o.RunMode(ctx, mode, prompt, !fanout); err != nil {
					return err
				}
				st := s.o.Status()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(map[string]any{"mode": mode, "status": st})
				}
				f.Textln("%s %s: %s", f.Styles().OK.Render("OK"), mode, st.String())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fanout, "fanout", false, "act: one fanout autopilot instead of commuted dispatch")
	return cmd
}
