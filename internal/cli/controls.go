package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
)

// control runs one gated direct control and prints its result.
func control(cmd *cobra.Command, route, target string, call func(ctx context.Context, s *session) (*panel.Result, error)) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		res, err := call(ctx, s)
		if err != nil {
			return err
		}
		return formatter(cmd).Output(resultView{Route: route, Target: target, Result: res})
	})
}

func newSendCmd() *cobra.Command {
	var noEnter bool

	cmd := &cobra.Command{
		Use:   "send <target> <text>",
		Short: "Type text into a pane",
		Long: `Send text to a target pane, followed by Enter unless --no-enter.
The same gates as autopilot apply.

Examples:
  manicctl send main:0.1 "rerun the failing test"
  manicctl send main:0.1 "y" --no-enter`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, panel.RoutePaneSend, args[0], func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.PaneSend(ctx, args[0], args[1], !noEnter)
			})
		},
	}

	cmd.Flags().BoolVar(&noEnter, "no-enter", false, "Do not press Enter after the text")
	return cmd
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue prompts for a session and run the queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <session-id> <prompt>",
		Short: "Add a prompt to a session's queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, panel.RouteQueueAdd, args[0], func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.QueueAdd(ctx, args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <session-id>",
		Short: "Run a session's queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, panel.RouteQueueRun, args[0], func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.QueueRun(ctx, args[0])
			})
		},
	})

	return cmd
}

func newNudgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nudge <session-id> <text>",
		Short: "Nudge a session with a short message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, panel.RouteNudge, args[0], func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.Nudge(ctx, args[0], args[1])
			})
		},
	}
}

func newSpawnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn <session-name> [command]",
		Short: "Spawn a new session on the surface",
		Long: `Ask the surface to spawn a session running command in the current
project.

Examples:
  manicctl spawn fixer "claude"
  manicctl spawn scratch`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := ""
			if len(args) > 1 {
				command = args[1]
			}
			return control(cmd, panel.RouteSpawn, "", func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.Spawn(ctx, args[0], command)
			})
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "snapshot <name> [text]",
		Short: "Ingest a named text snapshot",
		Long: `Send a named text snapshot to the surface. The text comes from the
argument, --file, or stdin when --file is "-".

Examples:
  manicctl snapshot build-log --file build.log
  go test ./... 2>&1 | manicctl snapshot test-run --file -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			switch {
			case len(args) > 1:
				text = args[1]
			case file == "-":
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(data)
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("snapshot text is empty")
			}
			return control(cmd, panel.RouteSnapshotIngest, "", func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.SnapshotIngest(ctx, args[0], text)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the snapshot from a file (- for stdin)")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run the project smoke checks on the surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(cmd, panel.RouteSmoke, "", func(ctx context.Context, s *session) (*panel.Result, error) {
				return s.o.Smoke(ctx)
			})
		},
	}
}

func newPanicCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "panic [reason]",
		Short: "Engage or clear panic mode",
		Long: `Panic mode quarantines every known target and blocks every mutating
call until cleared. Clearing restores the lanes saved when panic was
engaged.

Examples:
  manicctl panic "agents looping on the migration"
  manicctl panic --clear`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				f := formatter(cmd)
				if clear {
					s.o.ClearPanic()
				} else {
					reason := "operator"
					if len(args) > 0 {
						reason = args[0]
					}
					// Best effort: quarantine targets from a fresh state.
					_ = s.o.Refresh(ctx)
					s.o.EngagePanic(reason)
				}
				st := s.o.Status()
				if f.IsJSON() {
					return f.JSON(map[string]any{"panic": st.Panic, "reason": st.PanicReason})
				}
				if st.Panic {
					f.Textln("%s %s", f.Styles().Error.Render("PANIC ENGAGED"), st.PanicReason)
					f.Textln("%s", output.HintPanic)
				} else {
					f.Textln("%s panic cleared", f.Styles().OK.Render("OK"))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear panic mode and restore lanes")
	return cmd
}
