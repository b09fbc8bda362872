// Package cli provides the memweave command line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/memweave/internal/core/ports/driving"
	"github.com/custodia-labs/memweave/internal/logger"
)

// Runtime is an assembled orchestrator the commands run against.
type Runtime interface {
	Memory() driving.MemoryService
	Reconciler() driving.Reconciler
	Hydrate(ctx context.Context) error
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// BootstrapFunc builds a Runtime from a configuration path.
type BootstrapFunc func(ctx context.Context, configPath string) (Runtime, error)

// annotationRuntime controls how a command is bootstrapped.
const annotationRuntime = "memweave/runtime"

const (
	// runtimeNone commands never touch the orchestrator.
	runtimeNone = "none"

	// runtimeHydrate commands read the index and need it warm first.
	runtimeHydrate = "hydrate"
)

var (
	version = "dev"

	configPath string
	verbose    bool
	logFormat  string

	bootstrap BootstrapFunc
	rt        Runtime

	memoryService     driving.MemoryService
	reconcilerService driving.Reconciler
)

var rootCmd = &cobra.Command{
	Use:   "memweave",
	Short: "Multi-backend memory orchestrator",
	Long: `memweave writes every memory to a set of storage backends, keeps a
unified index reconciled across them, and fuses search results and
forensic reports from all of them.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $MEMWEAVE_CONFIG or ~/.memweave/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetBootstrap installs the function that builds the runtime on demand.
func SetBootstrap(fn BootstrapFunc) {
	bootstrap = fn
}

// Execute runs the root command and releases the runtime afterwards,
// whether or not the command succeeded.
func Execute() error {
	err := rootCmd.Execute()
	if cerr := closeRuntime(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func setupRuntime(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	logger.SetFormat(format)

	mode := cmd.Annotations[annotationRuntime]
	if mode == runtimeNone || memoryService != nil || bootstrap == nil {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	rt = r
	memoryService = r.Memory()
	reconcilerService = r.Reconciler()

	if mode == runtimeHydrate {
		if err := r.Hydrate(ctx); err != nil {
			logger.Warn("index may be incomplete: %v", err)
		}
	}
	return nil
}

func closeRuntime(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	err := rt.Close(ctx)
	rt = nil
	memoryService = nil
	reconcilerService = nil
	return err
}

// wantJSON reports whether output should be JSON: when asked for, or when
// stdout is redirected away from a terminal.
func wantJSON(cmd *cobra.Command, asked bool) bool {
	if asked {
		return true
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && !term.IsTerminal(int(f.Fd()))
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// readInput returns args joined by spaces, or stdin when no args were
// given and stdin is not a terminal.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
