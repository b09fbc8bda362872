package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var (
	fuseKind string
	fuseJSON bool
)

var fuseCmd = &cobra.Command{
	Use:   "fuse [id...]",
	Short: "Correlate memories into a forensic report",
	Long: `Loads the named records from the unified index and runs a fusion
policy over them. The contradiction policy compares every metadata field
the records share; the timeline policy compares only time values.

The report carries an admissibility score in [0,1] and a forensic hash
of its own content.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runFuse,
}

func init() {
	fuseCmd.Flags().StringVar(&fuseKind, "kind", string(domain.FusionContradiction), "fusion policy (contradiction or timeline)")
	fuseCmd.Flags().BoolVar(&fuseJSON, "json", false, "output report as JSON")
	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	if memoryService == nil {
		return errors.New("memory service not configured")
	}

	report, err := memoryService.Fuse(context.Background(), args, domain.FusionKind(fuseKind))
	if err != nil {
		return fmt.Errorf("fuse failed: %w", err)
	}

	if wantJSON(cmd, fuseJSON) {
		return printJSON(cmd, report)
	}
	outputFusionReport(cmd, report)
	return nil
}

func outputFusionReport(cmd *cobra.Command, r domain.FusionReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Fusion %s (%s)\n", r.FusionID, r.Kind)
	fmt.Fprintf(w, "Records analysed: %d\n", len(r.RecordsAnalyzed))
	for _, id := range r.Missing {
		fmt.Fprintf(w, "  missing: %s\n", id)
	}

	if len(r.Contradictions) == 0 {
		fmt.Fprintln(w, "No contradictions.")
	} else {
		fmt.Fprintln(w, "Contradictions:")
		for _, c := range r.Contradictions {
			fmt.Fprintf(w, "  %s: %s=%q vs %s=%q\n", c.Field, c.RecordA, c.ValueA, c.RecordB, c.ValueB)
		}
	}

	if len(r.CriticalFindings) > 0 {
		fmt.Fprintln(w, "Critical findings:")
		for _, f := range r.CriticalFindings {
			fmt.Fprintf(w, "  %s: %s\n", f.RecordID, f.Reason)
		}
	}

	fmt.Fprintf(w, "Admissibility: %.2f\n", r.AdmissibilityScore)
	fmt.Fprintf(w, "Forensic hash: %s\n", r.ForensicHash)
}
