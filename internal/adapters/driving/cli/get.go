package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var (
	getVerify bool
	getJSON   bool
)

var getCmd = &cobra.Command{
	Use:         "get [id]",
	Short:       "Show a memory from the unified index",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getVerify, "verify", false, "recompute and check the integrity hash")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output record as JSON")
	rootCmd.AddCommand(getCmd)
}

type getOutput struct {
	domain.Record
	Verified *bool `json:"verified,omitempty"`
}

func runGet(cmd *cobra.Command, args []string) error {
	if memoryService == nil {
		return errors.New("memory service not configured")
	}

	ctx := context.Background()
	rec, err := memoryService.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}

	out := getOutput{Record: rec}
	if getVerify {
		ok, err := memoryService.Verify(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}
		out.Verified = &ok
	}

	if wantJSON(cmd, getJSON) {
		return printJSON(cmd, out)
	}
	outputRecord(cmd, out)
	return nil
}

func outputRecord(cmd *cobra.Command, out getOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "ID:        %s\n", out.ID)
	if out.Namespace != "" {
		fmt.Fprintf(w, "Namespace: %s\n", out.Namespace)
	}
	fmt.Fprintf(w, "Timestamp: %s\n", out.Timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Integrity: %s\n", out.IntegrityHash)
	if out.Anchored {
		fmt.Fprintf(w, "Anchored:  %s\n", out.AnchorRef)
	}
	if out.Verified != nil {
		if *out.Verified {
			fmt.Fprintln(w, "Verified: ", color.GreenString("yes"))
		} else {
			fmt.Fprintln(w, "Verified: ", color.RedString("NO, content does not match its integrity hash"))
		}
	}
	if len(out.Metadata) > 0 {
		fmt.Fprintln(w, "Metadata:")
		keys := make([]string, 0, len(out.Metadata))
		for k := range out.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, domain.FormatValue(out.Metadata[k]))
		}
	}
	if len(out.Outcomes) > 0 {
		fmt.Fprintln(w, "Backends:")
		for _, o := range out.Outcomes {
			status := string(o.Status)
			if o.Error != "" {
				status += ": " + o.Error
			}
			fmt.Fprintf(w, "  %-16s %s\n", o.Backend, status)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, out.Content)
}
