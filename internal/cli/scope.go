package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/scope"
)

type scopeView struct {
	Contract scope.Contract `json:"contract"`
	Ledger   scope.Ledger   `json:"ledger"`
	Latched  bool           `json:"latched"`
}

func (v scopeView) Text(f *output.Formatter) error {
	s := f.Styles()
	c, l := v.Contract, v.Ledger

	f.Header("Scope contract")
	f.KV("objective", orDash(c.Objective))
	f.KV("done when", orDash(c.DoneCriteria))
	f.KV("intent", orDash(c.Intent))
	latch := s.Warn.Render("not latched")
	if v.Latched {
		latch = s.OK.Render("latched") + " " + s.Dim.Render(l.LatchChecksum[:min(12, len(l.LatchChecksum))]+" at "+output.FormatTime(l.LatchedAt))
	} else if !c.RequireIntentLatch {
		latch = s.Dim.Render("not required")
	}
	f.KV("latch", latch)
	f.KV("budget", fmt.Sprintf("%d/%d actions", l.Actions, c.AttentionBudgetActions))
	f.KV("cycles", fmt.Sprintf("%d/%d", l.CompletedCycles, c.MaxCycles))
	f.KV("smoke to stop", c.RequireSmokePassToStop)
	drift := "off"
	if c.FreezeOnDrift {
		drift = fmt.Sprintf("queue depth >= %d", c.DriftQueueDepth)
	}
	f.KV("drift freeze", drift)
	return nil
}

func (v scopeView) JSON() interface{} { return v }

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func scopeSnapshot(s *session) scopeView {
	return scopeView{
		Contract: s.o.Scope.Contract(),
		Ledger:   s.o.Scope.Ledger(),
		Latched:  s.o.Scope.IntentLatched(),
	}
}

func newScopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Show and manage the scope contract and intent latch",
		Long: `The scope contract bounds what dispatch may do: an intent that must be
latched, an attention budget of actions, a cycle limit, and a drift
freeze on deep queues. Mutating calls are refused until the intent is
latched.

Examples:
  manicctl scope
  manicctl scope latch "Stabilize the smoke suite, no refactors"
  manicctl scope contract --budget 10 --max-cycles 5
  manicctl scope reset             # Zero counters and drop the latch
  manicctl scope clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "latch [intent]",
		Short: "Latch the intent, replacing it when given",
		Long: `Latch the intent. The checksum of the intent text is recorded; any later
change to the intent invalidates the latch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				text := s.o.Scope.Contract().Intent
				if len(args) > 0 {
					text = args[0]
				}
				if text == "" {
					return fmt.Errorf("no intent to latch: pass one or set it with 'scope intent'")
				}
				s.o.LatchIntent(text)
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "intent <text>",
		Short: "Set the intent without latching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c := s.o.Scope.Contract()
				c.Intent = args[0]
				s.o.SetContract(c)
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the intent latch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.o.ClearLatch()
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero the action and cycle counters and drop the latch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.o.ResetCycles()
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	})

	cmd.AddCommand(newScopeContractCmd())
	return cmd
}

func newScopeContractCmd() *cobra.Command {
	var (
		objective, done           string
		budget, maxCycles, drift  int
		requireLatch, smokeToStop bool
		freeze                    bool
	)

	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Edit the scope contract",
		Long: `Change contract fields; only the flags given are applied. The ledger is
kept.

Examples:
  manicctl scope contract --objective "green CI" --done "smoke passes twice"
  manicctl scope contract --budget 12 --max-cycles 4
  manicctl scope contract --freeze-on-drift=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			for name, v := range map[string]int{"budget": budget, "max-cycles": maxCycles, "drift-depth": drift} {
				if fl.Changed(name) && v < 1 {
					return fmt.Errorf("--%s must be at least 1", name)
				}
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c := s.o.Scope.Contract()
				if fl.Changed("objective") {
					c.Objective = objective
				}
				if fl.Changed("done") {
					c.DoneCriteria = done
				}
				if fl.Changed("budget") {
					c.AttentionBudgetActions = budget
				}
				if fl.Changed("max-cycles") {
					c.MaxCycles = maxCycles
				}
				if fl.Changed("drift-depth") {
					c.DriftQueueDepth = drift
				}
				if fl.Changed("require-latch") {
					c.RequireIntentLatch = requireLatch
				}
				if fl.Changed("smoke-to-stop") {
					c.RequireSmokePassToStop = smokeToStop
				}
				if fl.Changed("freeze-on-drift") {
					c.FreezeOnDrift = freeze
				}
				if c == s.o.Scope.Contract() {
					s.readOnly = true
				} else {
					s.o.SetContract(c)
				}
				return formatter(cmd).Output(scopeSnapshot(s))
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&objective, "objective", "", "What the session is for")
	fl.StringVar(&done, "done", "", "Done criteria")
	fl.IntVar(&budget, "budget", 0, "Attention budget in actions")
	fl.IntVar(&maxCycles, "max-cycles", 0, "Maximum completed cycles")
	fl.IntVar(&drift, "drift-depth", 0, "Queue depth that freezes cycles")
	fl.BoolVar(&requireLatch, "require-latch", true, "Refuse dispatch until the intent is latched")
	fl.BoolVar(&smokeToStop, "smoke-to-stop", true, "Only count cycles whose smoke passed")
	fl.BoolVar(&freeze, "freeze-on-drift", true, "Freeze cycles when the queue drifts")
	return cmd
}
