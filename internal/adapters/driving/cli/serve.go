package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run reconciliation in the foreground",
	Long: `Starts one reconciliation task per backend, periodic index snapshots
and pending anchor retries, and follows the config file for backend
changes. Runs until interrupted, then shuts down within the configured
grace period.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if rt == nil {
		return errors.New("runtime not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serve: running with %d backends", len(rt.Memory().Backends()))
	return rt.Serve(ctx)
}
