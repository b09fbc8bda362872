package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var backendsJSON bool

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered backends",
	Long: `Lists every registered backend in priority order with its role,
reconciliation interval and the high-water mark of its last successful
delta pull.`,
	Args: cobra.NoArgs,
	RunE: runBackends,
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsJSON, "json", false, "output backends as JSON")
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, _ []string) error {
	if memoryService == nil {
		return errors.New("memory service not configured")
	}

	backends := memoryService.Backends()
	if wantJSON(cmd, backendsJSON) {
		if backends == nil {
			backends = []domain.BackendDescriptor{}
		}
		return printJSON(cmd, backends)
	}

	if len(backends) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No backends registered.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tROLE\tPRIORITY\tINTERVAL\tLAST SYNC")
	for _, b := range backends {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.Name, b.Kind, b.Role, b.Priority, b.ReconcileInterval, formatTime(b.LastSync))
	}
	return w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
