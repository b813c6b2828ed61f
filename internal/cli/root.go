package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/events"
	"github.com/uprootiny/manicctl/internal/kvstore"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
)

// Build information. Set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

var (
	cfgFile     string
	cfg         *config.Config
	jsonOutput  bool
	baseURLFlag string
	projectFlag string
	verbose     bool
	logJSON     bool
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "manicctl",
	Short: "Control-plane client for a remote multi-agent panel surface",
	Long: `manicctl drives a remote panel surface: an HTTP API exposing terminal
takeover targets running coding agents.

Every mutating command passes the same gates: panic mode, circuit
breakers, the scope intent latch and attention budget, and per-target
cooldowns. Outcomes feed a decaying reliability memory that ranks
targets for commuted dispatch.

Quick start:
  manicctl validate              # Check the surface serves the critical routes
  manicctl scope latch "Stabilize the build"
  manicctl commute               # Ranked dispatch across targets
  manicctl watch                 # Background refresh loop`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Assigned here rather than in the literal: isConfigCmd refers to
	// rootCmd, which would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Config commands must work with a broken config file.
		if cmd.Name() == "help" || cmd.Name() == "version" || isConfigCmd(cmd) {
			return nil
		}
		loaded, err := config.LoadMerged("", cfgFile)
		if err != nil {
			return configError(err)
		}
		cfg = loaded
		return nil
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/manicctl/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (machine-readable)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Panel surface base URL for this invocation (e.g. http://127.0.0.1:8788)")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project path sent with dispatches (persisted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		// State
		newStatusCmd(),
		newRefreshCmd(),
		newJournalCmd(),
		newDiffCmd(),

		// Dispatch
		newAutopilotCmd(),
		newCommuteCmd(),
		newNudgesCmd(),
		newCycleCmd(),
		newModeCmd(),
		newSendCmd(),
		newQueueCmd(),
		newNudgeCmd(),
		newSpawnCmd(),
		newSnapshotCmd(),
		newSmokeCmd(),

		// Safety
		newPanicCmd(),
		newScopeCmd(),
		newLanesCmd(),
		newThrottleCmd(),
		newBreakersCmd(),
		newTelemetryCmd(),

		// Surface
		newValidateCmd(),
		newReconCmd(),
		newWatchCmd(),

		// History
		newTimelineCmd(),
		newExportCmd(),

		// Utilities
		newConfigCmd(),
		newVersionCmd(),
	)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running loops stop after their current iteration.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// SilenceErrors is set so JSON mode can print its own shape.
		printError(rootCmd.OutOrStdout(), rootCmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

func isConfigCmd(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" && c.Parent() == rootCmd {
			return true
		}
	}
	return false
}

// IsJSONOutput reports whether JSON output was requested, either by flag
// or by the configured output format.
func IsJSONOutput() bool {
	configured := ""
	if cfg != nil {
		configured = cfg.Output.Format
	}
	return output.DetectFormat(jsonOutput, configured) == output.FormatJSON
}

// formatter returns a formatter on the command's stdout.
func formatter(cmd *cobra.Command) *output.Formatter {
	w := cmd.OutOrStdout()
	plain := noColor || os.Getenv("NO_COLOR") != "" || (cfg != nil && cfg.Output.NoColor)
	return output.New(
		output.WithWriter(w),
		output.WithJSON(IsJSONOutput()),
		output.WithStyles(output.NewStyles(w, plain)),
	)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// session is one invocation's view of the control plane: the
// orchestrator over the persisted state store, plus the event journal.
type session struct {
	o       *orchestrator.Orchestrator
	kv      kvstore.Store
	journal *events.Logger
	log     *slog.Logger

	live       bool // journal is fed by a bus subscription
	saveTuning bool
	readOnly   bool
}

func journalPath() string {
	return filepath.Join(filepath.Dir(cfg.Storage.StateDB), "journal.jsonl")
}

func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := newLogger(cmd.ErrOrStderr())

	kv, err := kvstore.OpenSQLite(ctx, cfg.Storage.StateDB)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	journal, err := events.NewLogger(events.LoggerOptions{
		Path:    journalPath(),
		Enabled: true,
		Logger:  log,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}

	client := panel.NewClient(append(cfg.PanelOptions(), panel.WithUserAgent("manicctl/"+Version))...)
	opts := append(cfg.OrchestratorOptions(),
		orchestrator.WithKV(kv),
		orchestrator.WithLogger(log),
	)
	o := orchestrator.New(client, opts...)
	s := &session{o: o, kv: kv, journal: journal, log: log}

	if err := o.Load(ctx, false); err != nil {
		s.close(ctx)
		return nil, err
	}
	// Flag and environment beat a persisted base URL; the config file
	// does not, so recon results stick.
	switch {
	case baseURLFlag != "":
		err = o.SetBaseURL(baseURLFlag)
	case os.Getenv(config.EnvBaseURL) != "":
		err = o.SetBaseURL(cfg.Panel.BaseURL)
	}
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	if projectFlag != "" {
		o.SetProject(projectFlag)
	} else if o.Project() == "" && cfg.ProjectDir != "" {
		o.SetProject(cfg.ProjectDir)
	}
	return s, nil
}

// follow feeds the journal live from the bus, for long-running commands.
func (s *session) follow() events.UnsubscribeFunc {
	s.live = true
	return s.o.Bus().Journal(s.journal)
}

// close persists state, journals this invocation's events and releases
// the store. It returns the first error.
func (s *session) close(ctx context.Context) error {
	var errs []error
	if !s.readOnly {
		errs = append(errs, s.o.Save(ctx, s.saveTuning))
	}
	if !s.live {
		hist := s.o.Bus().History(0)
		for i := len(hist) - 1; i >= 0; i-- {
			errs = append(errs, s.journal.Log(hist[i]))
		}
	}
	errs = append(errs, s.journal.Close(), s.kv.Close())
	return errors.Join(errs...)
}

// withSession opens a session, runs fn, and closes the session. The
// error from fn wins over a close error.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	runErr := fn(ctx, s)
	closeErr := s.close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func goVersion() string {
	return runtime.Version()
}

func goPlatform() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
