package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/trilogyctl/internal/api"
)

// NewAPICommand creates the api command.
func NewAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the control plane over HTTP",
		Long: `Start a local HTTP server exposing configs, query sessions and the preview
server supervisor as JSON endpoints. GET /serve/events streams preview server
status as server-sent events.`,
		Example: `  # Start on the default address
  trilogyctl api

  # Start on a custom address without watching for config changes
  trilogyctl api --addr 127.0.0.1:9000 --watch=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAPI(cmd)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: api.addr)")
	cmd.Flags().Bool("watch", true, "Watch workspace folders for trilogy.toml changes")

	return cmd
}

func runAPI(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)

	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	server := api.NewServer(api.Config{
		Services: services,
		Addr:     cmdCtx.Cfg.API.Addr,
		Watch:    cmdCtx.Cfg.Watch,
		Logger:   cmdCtx.Logger.With("component", "api"),
	})
	return server.Serve(cmd.Context())
}
