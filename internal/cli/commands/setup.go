package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/trilogyctl/internal/app"
	"github.com/leapstack-labs/trilogyctl/internal/cli/config"
	"github.com/leapstack-labs/trilogyctl/internal/cli/output"
)

// closeTimeout bounds service shutdown when a command finishes.
const closeTimeout = 5 * time.Second

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext builds a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}
}

// OpenServices constructs the control plane services from configuration.
// The returned cleanup function must be called (typically via defer).
func (c *CommandContext) OpenServices(ctx context.Context) (*app.Services, func(), error) {
	services, err := app.New(ctx, app.Options{
		Roots:     c.Cfg.Workspace,
		StatePath: c.Cfg.StatePath,
		PageSize:  c.Cfg.Query.PageSize,
		Serve: app.ServeOptions{
			Command:      c.Cfg.Serve.Command,
			Interpreter:  c.Cfg.Serve.Interpreter,
			GracePeriod:  c.Cfg.Serve.GracePeriod,
			KillTimeout:  c.Cfg.Serve.KillTimeout,
			ProbeTimeout: c.Cfg.Serve.ProbeTimeout,
		},
		Logger: c.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := services.Close(ctx); err != nil {
			c.Logger.Warn("failed to close services", "error", err)
		}
	}
	return services, cleanup, nil
}
