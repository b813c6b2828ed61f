package cli

import (
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/util"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Configuration is read from ~/.config/manicctl/config.toml, then merged
with the nearest .manicctl/config.toml above the working directory.
MANICCTL_BASE_URL, MANICCTL_STATE_DB and MANICCTL_OUTPUT_FORMAT override both.`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigProfilesCmd())
	cmd.AddCommand(newConfigProjectCmd())
	return cmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault()
			if err != nil {
				return err
			}
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(map[string]string{"path": path})
			}
			f.Textln("Created %s", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadMerged("", cfgFile)
			if err != nil {
				return configError(err)
			}
			cfg = c
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(c)
			}
			return config.Print(c, f.Writer())
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			_, statErr := os.Stat(path)
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(map[string]any{"path": path, "exists": statErr == nil})
			}
			f.Textln("%s", path)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadMerged("", cfgFile)
			if err == nil {
				err = c.Validate()
			}
			if err != nil {
				return configError(err)
			}
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(map[string]any{"valid": true, "path": configPath(), "project": c.ProjectDir})
			}
			f.Textln("%s %s", f.Styles().OK.Render("OK"), configPath())
			if c.ProjectDir != "" {
				f.KV("project", c.ProjectDir)
			}
			return nil
		},
	}
}

func newConfigProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [name]",
		Short: "List cadence profiles, or show one",
		Long: `Cadence profiles preset refresh, cooldown, delay and fanout, and carry a
default nudge script. Select one with throttle.profile in the config,
'throttle --profile', or 'nudges --profile'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd)
			if len(args) == 1 {
				p, err := config.LookupProfile(args[0])
				if err != nil {
					return err
				}
				if f.IsJSON() {
					return f.JSON(p)
				}
				f.Header(p.Name)
				f.KV("refresh", util.FormatDuration(p.RefreshInterval))
				f.KV("cooldown", util.FormatDuration(p.Cooldown))
				f.KV("delay", util.FormatDuration(p.ActionDelay))
				f.KV("fanout", p.Fanout)
				f.Textln("script:")
				for i, step := range p.Script {
					f.Textln("  %d. %s", i+1, step)
				}
				return nil
			}

			names := config.ProfileNames()
			sort.Strings(names)
			if f.IsJSON() {
				out := make([]config.Profile, 0, len(names))
				for _, n := range names {
					p, _ := config.LookupProfile(n)
					out = append(out, p)
				}
				return f.JSON(out)
			}
			t := f.Table("NAME", "REFRESH", "COOLDOWN", "DELAY", "FANOUT", "STEPS")
			for _, n := range names {
				p, _ := config.LookupProfile(n)
				t.AddRow(p.Name, util.FormatDuration(p.RefreshInterval), util.FormatDuration(p.Cooldown),
					util.FormatDuration(p.ActionDelay), strconv.Itoa(p.Fanout), strconv.Itoa(len(p.Script)))
			}
			t.Render()
			return nil
		},
	}
}

func newConfigProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the per-project .manicctl directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold .manicctl/config.toml and a nudge script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			path, err := config.InitProjectConfig(dir)
			if err != nil {
				return err
			}
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(map[string]string{"path": path})
			}
			f.Textln("Created %s", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the project config in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir, pc, err := config.FindProjectConfig(cwd)
			if err != nil {
				return configError(err)
			}
			f := formatter(cmd)
			if pc == nil {
				if f.IsJSON() {
					return f.JSON(map[string]any{"found": false})
				}
				f.Textln("No %s/config.toml above %s", config.ProjectDirName, cwd)
				return nil
			}
			if f.IsJSON() {
				return f.JSON(map[string]any{"found": true, "dir": dir, "config": pc})
			}
			f.Header("Project " + dir)
			f.KV("base url", orDash(pc.Panel.BaseURL))
			f.KV("profile", orDash(pc.Throttle.Profile))
			f.KV("objective", orDash(pc.Scope.Objective))
			f.KV("done when", orDash(pc.Scope.DoneCriteria))
			f.KV("nudge script", orDash(pc.Nudges.Script))
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd)
			if f.IsJSON() {
				return f.JSON(map[string]string{
					"version":    Version,
					"commit":     Commit,
					"built_at":   Date,
					"built_by":   BuiltBy,
					"go_version": goVersion(),
					"platform":   goPlatform(),
				})
			}
			if short {
				f.Textln("%s", Version)
				return nil
			}
			f.Textln("manicctl version %s", Version)
			f.Textln("  commit:    %s", Commit)
			f.Textln("  built:     %s", Date)
			f.Textln("  builder:   %s", BuiltBy)
			f.Textln("  go:        %s", goVersion())
			f.Textln("  platform:  %s", goPlatform())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	return cmd
}
