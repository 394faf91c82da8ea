package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/trilogyctl/internal/cli/output"
	"github.com/leapstack-labs/trilogyctl/internal/serve"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Open bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve [folder]",
		Short: "Run the trilogy preview server for a folder",
		Long: `Run "trilogy serve <folder>" and report its status until interrupted.

Without a folder the directory of the active config is served. The trilogy
executable is taken from serve.command when set, otherwise from the Python
interpreter's directory, a virtual environment in the folder or workspace,
or PATH.`,
		Example: `  # Serve the active config's folder
  trilogyctl serve

  # Serve a folder and open the browser once it is ready
  trilogyctl serve ./analytics --open

  # Use a specific command
  trilogyctl serve --serve-command "python -m trilogy"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) > 0 {
				folder = args[0]
			}
			return runServe(cmd, folder, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Open, "open", false, "Open the browser once the server reports its URL")
	cmd.Flags().String("serve-command", "", "Command used to run trilogy (overrides resolution)")
	cmd.Flags().String("interpreter", "", "Python interpreter whose scripts directory is searched first")
	cmd.Flags().Duration("grace-period", 0, "Time without output before the server is assumed running")
	cmd.Flags().Duration("kill-timeout", 0, "Time to wait after terminating before killing")

	return cmd
}

func runServe(cmd *cobra.Command, folder string, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	services, cleanup, err := cmdCtx.OpenServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	services.Discover(ctx)

	updates, dispose := services.Serve.StatusChannel(16)
	defer dispose()

	disposeNotice := services.Serve.OnNotice(func(n serve.Notice) {
		if n.Link != "" {
			cmdCtx.Renderer.Warn("%s: %s (%s)", n.Level, n.Message, n.Link)
			return
		}
		cmdCtx.Renderer.Warn("%s: %s", n.Level, n.Message)
	})
	defer disposeNotice()

	if err := services.Serve.Start(ctx, folder); err != nil {
		return err
	}

	opened := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if err := renderServeState(cmdCtx, st); err != nil {
				return err
			}
			switch st.Phase {
			case serve.PhaseRunning:
				if opts.Open && !opened && st.URL != "" {
					opened = true
					openURL(ctx, cmdCtx, services.Serve)
				}
			case serve.PhaseFailed:
				return fmt.Errorf("preview server failed: %s", st.Error)
			case serve.PhaseIdle, serve.PhaseStopped:
				return nil
			}
		}
	}
}

func openURL(ctx context.Context, cmdCtx *CommandContext, sup *serve.Supervisor) {
	if err := sup.OpenURL(ctx); err != nil {
		cmdCtx.Renderer.Warn("failed to open browser: %v", err)
	}
}

func renderServeState(cmdCtx *CommandContext, st serve.State) error {
	r := cmdCtx.Renderer
	return r.Render(st, func(io.Writer) error {
		line := describeState(st)
		if st.Phase == serve.PhaseRunning && st.URL != "" {
			line = "Preview server running at " + r.Styles().URL.Render(st.URL)
		}
		r.StatusLine(line, phaseStatus(st.Phase), "")
		return nil
	})
}

func phaseStatus(p serve.Phase) string {
	switch p {
	case serve.PhaseStarting:
		return output.StatusPending
	case serve.PhaseRunning:
		return output.StatusSuccess
	case serve.PhaseFailed:
		return output.StatusFailed
	default:
		return output.StatusStopped
	}
}

func describeState(st serve.State) string {
	switch st.Phase {
	case serve.PhaseStarting:
		return fmt.Sprintf("Starting preview server for %s (pid %d)", st.FolderPath, st.Pid)
	case serve.PhaseRunning:
		if st.URL != "" {
			return fmt.Sprintf("Preview server running at %s", st.URL)
		}
		return "Preview server running"
	case serve.PhaseFailed:
		return fmt.Sprintf("Preview server failed: %s", st.Error)
	case serve.PhaseIdle, serve.PhaseStopped:
		return "Preview server stopped"
	default:
		return string(st.Phase)
	}
}
