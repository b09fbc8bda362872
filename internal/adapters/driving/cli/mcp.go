package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/adapters/driving/mcp"
	"github.com/custodia-labs/memweave/internal/logger"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can store,
search and fuse memories.

By default, the server communicates over stdio using JSON-RPC.
Use --port to serve streamable HTTP instead.

Reconciliation runs in the background for as long as the server is up.

Examples:
  # Stdio mode
  memweave mcp serve

  # HTTP mode
  memweave mcp serve --port 8080`,
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ports := &mcp.Ports{
		Memory:     memoryService,
		Reconciler: reconcilerService,
	}

	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rt != nil {
		background := rt
		go func() {
			if err := background.Serve(ctx); err != nil {
				logger.Error("mcp: background reconciliation stopped: %v", err)
			}
		}()
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}

	return server.Run(ctx)
}
