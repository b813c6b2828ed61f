package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
)

type statusView struct {
	orchestrator.Status
	RefreshError string `json:"refresh_error,omitempty"`
}

func (v statusView) Text(f *output.Formatter) error {
	s := f.Styles()
	f.Header("Panel surface")
	reach := s.OK.Render("yes")
	if !v.Reachable {
		reach = s.Error.Render("no")
	}
	f.KV("base url", v.BaseURL)
	if v.Project != "" {
		f.KV("project", v.Project)
	}
	f.KV("reachable", reach)
	if v.LastError != "" {
		f.KV("last error", output.Truncate(v.LastError, f.Width()-20))
	}
	f.KV("sessions", v.Sessions)
	f.KV("targets", v.Targets)
	f.KV("queue", v.QueueDepth)
	f.KV("smoke", s.Level(v.Smoke))
	f.KV("delta", v.Delta)
	f.Line()

	f.Header("Health")
	f.KV("score", fmt.Sprintf("%d (%s)", v.Health.Score, s.Level(string(v.Health.Label))))
	a := v.Assessment
	mode := "normal"
	if a.Degraded {
		mode = s.Warn.Render("degraded")
	}
	f.KV("mode", fmt.Sprintf("%s, backoff x%.2f, pressure %s", mode, a.BackoffFactor, a.Pressure))
	if v.Panic {
		f.KV("panic", s.Error.Render("ENGAGED")+" "+v.PanicReason)
	}
	for _, n := range v.Health.Notes {
		f.Textln("  - %s", n)
	}
	if len(v.Missing) > 0 {
		f.Textln("  %s missing critical routes: %s", s.Warn.Render("!"), strings.Join(v.Missing, ", "))
	}
	f.Line()

	f.Header("Commutation preview")
	planTable(f, v.Preview)
	return nil
}

func (v statusView) JSON() interface{} { return v }

func newStatusCmd() *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show surface state, interaction health and the commutation preview",
		Long: `Refresh the surface and show a summary: reachability, sessions,
targets, queue depth, smoke status, interaction health with its notes,
degraded-mode backoff and the ranked commutation preview.

An unreachable surface is reported, not treated as a failure.

Examples:
  manicctl status
  manicctl status --cached     # Last persisted view, no network
  manicctl status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				var v statusView
				if !cached {
					if err := s.o.Refresh(ctx); err != nil {
						v.RefreshError = err.Error()
					}
				}
				v.Status = s.o.Status()
				return formatter(cmd).Output(v)
			})
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "Do not refresh; show persisted state only")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch remote state once and print the delta",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.o.Refresh(ctx); err != nil {
					return err
				}
				d := s.o.Delta()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(map[string]any{"status": s.o.Status(), "delta": d})
				}
				f.Textln("%s", s.o.Status().String())
				f.Textln("delta: %s", d.Summary())
				return nil
			})
		},
	}
}

func newJournalCmd() *cobra.Command {
	var (
		notes bool
		evs   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the action log, scheduler notes or the event journal",
		Long: `Show the operator journals. The action log records every dispatch,
block and operator action; scheduler notes record refresh, lane and
breaker decisions. Both hold the newest 200 lines.

--events reads the JSONL event journal kept next to the state store.

Examples:
  manicctl journal
  manicctl journal --notes
  manicctl journal --events --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd)
			if evs {
				list, err := events.ReadRecent(journalPath(), limit)
				if err != nil {
					return err
				}
				if f.IsJSON() {
					return f.JSON(list)
				}
				for _, e := range list {
					line := fmt.Sprintf("%s %-13s %s %s %s", output.FormatTime(e.Timestamp), e.Type, e.Route, e.Target, e.Message)
					f.Lines([]string{strings.Join(strings.Fields(line), " ")})
				}
				return nil
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				lines := s.o.ActionLog()
				if notes {
					lines = s.o.Notes()
				}
				if limit > 0 && len(lines) > limit {
					lines = lines[:limit]
				}
				if f.IsJSON() {
					return f.JSON(lines)
				}
				if len(lines) == 0 {
					f.Textln("(empty)")
					return nil
				}
				f.Lines(lines)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&notes, "notes", false, "Show scheduler notes instead of the action log")
	cmd.Flags().BoolVar(&evs, "events", false, "Show the JSONL event journal")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most N entries (0 = all)")
	return cmd
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <target1> <target2>",
		Short: "Compare the captures of two targets",
		Long: `Refresh the surface and diff the pane captures of two targets.

Examples:
  manicctl diff main:0.1 main:0.2
  manicctl diff main:0.1 main:0.2 --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				if err := s.o.Refresh(ctx); err != nil {
					return err
				}
				st := s.o.State()
				a, ok := st.Pane(args[0])
				if !ok {
					return fmt.Errorf("target %q not found", args[0])
				}
				b, ok := st.Pane(args[1])
				if !ok {
					return fmt.Errorf("target %q not found", args[1])
				}
				d := output.ComputeDiff(a.Target, a.Capture, b.Target, b.Capture)
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(d)
				}
				f.KV(d.Target1, output.CountStr(d.LineCount1, "line", "lines"))
				f.KV(d.Target2, output.CountStr(d.LineCount2, "line", "lines"))
				f.KV("similarity", fmt.Sprintf("%.1f%%", d.Similarity*100))
				if d.UnifiedDiff != "" {
					f.Line()
					f.Text("%s", d.UnifiedDiff)
				}
				return nil
			})
		},
	}
}
