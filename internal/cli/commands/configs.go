package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/trilogyctl/internal/cli/output"
	intconfig "github.com/leapstack-labs/trilogyctl/internal/config"
	"github.com/leapstack-labs/trilogyctl/internal/registry"
)

// NewConfigsCommand creates the configs command.
func NewConfigsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "configs",
		Aliases: []string{"config"},
		Short:   "List and select trilogy.toml project configs",
		Long: `Discover trilogy.toml files under the workspace folders and manage the
active selection. The active config decides the query dialect, the setup
scripts run when a query session opens and the default preview folder.

The selection is saved in the workspace state database and restored on the
next run.`,
		Example: `  # List discovered configs
  trilogyctl configs

  # Select a config by its workspace-relative path
  trilogyctl configs use analytics/trilogy.toml

  # Clear the selection
  trilogyctl configs clear`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigsList(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigsList(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "use <path>",
		Short: "Select the active config",
		Long: `Select the active config. The path may be the workspace-relative path shown
by "configs list", a path to the file, or a directory containing trilogy.toml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigsUse(cmd, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the active config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigsClear(cmd)
		},
	})

	return cmd
}

func runConfigsList(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	st := services.Discover(cmd.Context())
	return renderState(cmdCtx.Renderer, st, "")
}

func runConfigsUse(cmd *cobra.Command, arg string) error {
	cmdCtx := NewCommandContext(cmd)
	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	st := services.Discover(cmd.Context())
	path, err := matchRecord(st, arg)
	if err != nil {
		return err
	}
	if err := services.Registry.SetActivePath(cmd.Context(), path); err != nil {
		return fmt.Errorf("failed to select %s: %w", arg, err)
	}
	st = services.Registry.State()
	notice := ""
	if st.Active != nil {
		notice = "Active config: " + st.Active.DisplayPath
	}
	return renderState(cmdCtx.Renderer, st, notice)
}

func runConfigsClear(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	services.Discover(cmd.Context())
	services.Registry.ClearActive(cmd.Context())
	return renderState(cmdCtx.Renderer, services.Registry.State(), "Active config cleared")
}

// matchRecord finds the record named by arg among the discovered configs.
func matchRecord(st registry.State, arg string) (string, error) {
	slashed := filepath.ToSlash(arg)
	for _, rec := range st.Records {
		if rec.DisplayPath == slashed || rec.DisplayPath == slashed+"/"+intconfig.FileName {
			return rec.AbsolutePath, nil
		}
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, intconfig.FileName)
	}
	for _, rec := range st.Records {
		if rec.AbsolutePath == abs {
			return rec.AbsolutePath, nil
		}
	}

	known := make([]string, 0, len(st.Records))
	for _, rec := range st.Records {
		known = append(known, rec.DisplayPath)
	}
	return "", fmt.Errorf("no discovered config matches %q (known: %s)", arg, strings.Join(known, ", "))
}

// renderState lists the configs. A non-empty notice is printed as a
// confirmation after the table.
func renderState(r *output.Renderer, st registry.State, notice string) error {
	return r.Render(st, func(w io.Writer) error {
		rows := make([][]any, 0, len(st.Records))
		for _, rec := range st.Records {
			marker := ""
			if st.Active != nil && st.Active.AbsolutePath == rec.AbsolutePath {
				marker = r.Styles().Success.Render("*")
			}
			parallelism := "-"
			if rec.Parallelism > 0 {
				parallelism = fmt.Sprint(rec.Parallelism)
			}
			rows = append(rows, []any{marker, rec.DisplayPath, rec.DialectOrDefault(), parallelism, strings.Join(rec.SetupScripts, ", ")})
		}
		output.WriteTable(w, []string{"Active", "Path", "Dialect", "Parallelism", "Setup"}, rows)
		switch {
		case notice != "":
			r.Success(notice)
		case st.Active == nil:
			_, _ = fmt.Fprintln(w, r.Styles().Muted.Render("No active config."))
		}
		return nil
	})
}
