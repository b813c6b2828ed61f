package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/export"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/timeline"
)

func eventTable(f *output.Formatter, evs []timeline.Event, offset int) {
	if len(evs) == 0 {
		f.Textln("(no events)")
		return
	}
	t := f.Table("#", "TIME", "TRACK", "ROUTE", "KIND", "PROMPT")
	for i, e := range evs {
		t.AddRow(strconv.Itoa(offset+i), e.TS.Local().Format("01-02 15:04:05"), e.Track(), e.Route, string(e.Kind),
			output.Truncate(e.Prompt, 48))
	}
	t.Render()
}

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect the recorded dispatch timeline",
		Long: `The timeline records every dispatched prompt and commit-like output
line, classified into layers (prompt, duplex, ontology, git, file,
service) and grouped into one track per target.

Examples:
  manicctl timeline                     # Tracks
  manicctl timeline events --track main:0.1
  manicctl timeline events --from 10 --to 20
  manicctl timeline report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				tracks := timeline.Tracks(s.o.Timeline.Events())
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(tracks)
				}
				if len(tracks) == 0 {
					f.Textln("(no events)")
					return nil
				}
				t := f.Table("TRACK", "EVENTS", "FIRST", "LAST")
				for _, tr := range tracks {
					first, last := tr.Events[0].TS, tr.Events[len(tr.Events)-1].TS
					t.AddRow(tr.Name, strconv.Itoa(len(tr.Events)), output.FormatTime(first), output.FormatTime(last))
				}
				t.Render()
				return nil
			})
		},
	}

	var (
		track    string
		from, to int
	)
	evCmd := &cobra.Command{
		Use:   "events",
		Short: "List events, optionally for one track or an index range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				evs := timeline.ForTrack(s.o.Timeline.Events(), track)
				offset := 0
				if cmd.Flags().Changed("from") || cmd.Flags().Changed("to") {
					hi := to
					if !cmd.Flags().Changed("to") {
						hi = len(evs) - 1
					}
					evs = timeline.Range(evs, from, hi)
					offset = min(from, hi)
				}
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(evs)
				}
				eventTable(f, evs, max(0, offset))
				return nil
			})
		},
	}
	evCmd.Flags().StringVar(&track, "track", timeline.AllTracks, "Track (target) to list, or ALL")
	evCmd.Flags().IntVar(&from, "from", 0, "First event index")
	evCmd.Flags().IntVar(&to, "to", 0, "Last event index (inclusive)")
	cmd.AddCommand(evCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Cadence analysis: gaps, bursts, per-route and per-track pacing, layer edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				rep := timeline.BuildReport(s.o.Timeline.Events())
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(rep)
				}
				return rep.WriteText(f.Writer())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every recorded event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				n := s.o.Timeline.Len()
				s.o.Timeline.Clear()
				f := formatter(cmd)
				if f.IsJSON() {
					return f.JSON(map[string]int{"cleared": n})
				}
				f.Textln("Cleared %s", output.CountStr(n, "event", "events"))
				return nil
			})
		},
	})

	return cmd
}

type exportView struct {
	Kind  string   `json:"kind"`
	Paths []string `json:"paths"`
	Count int      `json:"events,omitempty"`
}

func (v exportView) Text(f *output.Formatter) error {
	for _, p := range v.Paths {
		f.Textln("%s %s %s", f.Styles().OK.Render("wrote"), v.Kind, p)
	}
	return nil
}

func (v exportView) JSON() interface{} { return v }

func exporter(compress bool) *export.Exporter {
	return export.New(cfg.Storage.ExportDir, compress || cfg.Storage.CompressHistory)
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history, cadence reports and session profiles",
		Long: `Write timestamped artifacts to the export directory (storage.export_dir,
default ~/.local/share/manicctl).

Examples:
  manicctl export history --zstd
  manicctl export report
  manicctl export profile --render
  manicctl export import history-20260101-120000.ndjson.zst`,
	}

	var compress bool
	histCmd := &cobra.Command{
		Use:   "history",
		Short: "Export the timeline as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				evs := s.o.Timeline.Events()
				path, err := exporter(compress).History(evs)
				if err != nil {
					return err
				}
				return formatter(cmd).Output(exportView{Kind: "history", Paths: []string{path}, Count: len(evs)})
			})
		},
	}
	histCmd.Flags().BoolVar(&compress, "zstd", false, "Compress with zstd")
	cmd.AddCommand(histCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Write the cadence report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				evs := s.o.Timeline.Events()
				path, err := exporter(false).CadenceReport(evs)
				if err != nil {
					return err
				}
				return formatter(cmd).Output(exportView{Kind: "report", Paths: []string{path}, Count: len(evs)})
			})
		},
	})

	var render bool
	profCmd := &cobra.Command{
		Use:   "profile",
		Short: "Write a session profile as JSON and Markdown",
		Long: `Write a profile of the session: surface, tuning, lanes, breakers,
telemetry, scope, recent actions and notes. With --render the Markdown
is also printed for the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				s.readOnly = true
				p := export.BuildProfile(s.o, time.Now())
				jsonPath, mdPath, err := exporter(false).Profile(p)
				if err != nil {
					return err
				}
				f := formatter(cmd)
				if err := f.Output(exportView{Kind: "profile", Paths: []string{jsonPath, mdPath}}); err != nil {
					return err
				}
				if render && !f.IsJSON() {
					out, err := export.Render(p.Markdown(), output.TerminalWidth())
					if err != nil {
						return err
					}
					f.Text("%s", out)
				}
				return nil
			})
		},
	}
	profCmd.Flags().BoolVar(&render, "render", false, "Print the rendered Markdown")
	cmd.AddCommand(profCmd)

	var show bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an exported history into the timeline",
		Long: `Read an exported history (.ndjson or .ndjson.zst) and append its events
to the timeline. Malformed lines are skipped and counted. With --show the
events are listed without importing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, skipped, err := export.OpenHistory(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				f := formatter(cmd)
				if show {
					s.readOnly = true
					if f.IsJSON() {
						return f.JSON(evs)
					}
					eventTable(f, evs, 0)
				} else {
					s.o.Timeline.Append(evs...)
					if f.IsJSON() {
						return f.JSON(map[string]int{"imported": len(evs), "skipped": skipped})
					}
					f.Textln("Imported %s", output.CountStr(len(evs), "event", "events"))
				}
				if skipped > 0 && !f.IsJSON() {
					f.Textln("%s skipped %s", f.Styles().Warn.Render("warning:"), output.CountStr(skipped, "malformed line", "malformed lines"))
				}
				return nil
			})
		},
	}
	importCmd.Flags().BoolVar(&show, "show", false, "List the events without importing")
	cmd.AddCommand(importCmd)

	return cmd
}
