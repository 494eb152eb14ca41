package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joejulian/sshmount/pkg/config"
	"github.com/joejulian/sshmount/pkg/node"
	"github.com/joejulian/sshmount/pkg/remotemount"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CSI node plugin",
		Long: `Serves the CSI node and identity services on --endpoint. Each published
volume is an sshfs mount described by its volume context (host, user, port,
remotePath, identityFile, volumeName, options, attrCache, reconnect).

The server stops on SIGINT or SIGTERM.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr := a.manager(remotemount.WithMountPointMode(0o750))
			n := node.NewNode(a.cfg.Node.NodeID, a.cfg.Node.Endpoint, mgr)
			errc := make(chan error, 1)
			go func() { errc <- n.Run() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				a.logger.Info("shutting down node gRPC server", zap.String("endpoint", a.cfg.Node.Endpoint))
				n.Stop()
				return <-errc
			}
		},
	}
	cmd.Flags().String("endpoint", config.DefaultEndpoint, "CSI endpoint (unix:// or tcp://)")
	cmd.Flags().String("node-id", "", "node ID reported to the orchestrator (default: hostname)")
	return cmd
}
