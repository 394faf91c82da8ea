package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/trilogyctl/internal/hostrpc"
)

// NewBridgeCommand creates the bridge command.
func NewBridgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the editor host over stdio",
		Long: `Start the host bridge for editor integration.

The bridge communicates over stdin/stdout using JSON-RPC 2.0 with
Content-Length framing. Config changes, preview server status and query
messages are pushed to the host as notifications. The bridge exits when the
host sends "exit" or closes stdin.`,
		Example: `  # Start the bridge (usually spawned by the editor extension)
  trilogyctl bridge`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd)
		},
	}

	cmd.Flags().Bool("watch", true, "Watch workspace folders for trilogy.toml changes")

	return cmd
}

func runBridge(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)

	services, cleanup, err := cmdCtx.OpenServices(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	server := hostrpc.NewServer(services, cmd.InOrStdin(), cmd.OutOrStdout(), cmdCtx.Logger.With("component", "bridge"))

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return services.Run(egctx, cmdCtx.Cfg.Watch)
	})

	// Run blocks on stdin, so it is not part of the group: an interrupted
	// bridge returns without waiting for the host to close the stream.
	served := make(chan error, 1)
	go func() {
		served <- server.Run(egctx)
	}()

	var serveErr error
	select {
	case serveErr = <-served:
	case <-egctx.Done():
	}
	cancel()
	return errors.Join(serveErr, eg.Wait())
}
