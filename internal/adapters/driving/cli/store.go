package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var (
	storeNamespace string
	storeMeta      []string
	storeReplace   string
	storeJSON      bool
)

var storeCmd = &cobra.Command{
	Use:   "store [content]",
	Short: "Store a memory in every backend",
	Long: `Writes a memory to every registered backend in parallel.
The write succeeds when at least one backend accepts it; the per-backend
outcome is printed either way. Content is read from stdin when no
argument is given.

Metadata values are parsed as JSON when possible, so --meta count=3 stores
a number and --meta tags='["a","b"]' stores a list.`,
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runStore,
}

func init() {
	storeCmd.Flags().StringVar(&storeNamespace, "namespace", "", "namespace for the record")
	storeCmd.Flags().StringArrayVarP(&storeMeta, "meta", "m", nil, "metadata as key=value (repeatable)")
	storeCmd.Flags().StringVar(&storeReplace, "replace", "", "replace the record with this ID")
	storeCmd.Flags().BoolVar(&storeJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(storeCmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	if memoryService == nil {
		return errors.New("memory service not configured")
	}

	content, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	content = strings.TrimRight(content, "\n")
	if strings.TrimSpace(content) == "" {
		return errors.New("content is required")
	}

	metadata, err := parseMeta(storeMeta)
	if err != nil {
		return err
	}
	if storeNamespace != "" {
		metadata[domain.MetaNamespace] = storeNamespace
	}

	ctx := context.Background()
	var res domain.StoreResult
	if storeReplace != "" {
		res, err = memoryService.Replace(ctx, storeReplace, content, metadata)
	} else {
		res, err = memoryService.Store(ctx, content, metadata)
	}
	if err != nil {
		return fmt.Errorf("store failed: %w", err)
	}

	if wantJSON(cmd, storeJSON) {
		return printJSON(cmd, res)
	}
	outputStoreTable(cmd, res)
	return nil
}

// parseMeta turns key=value pairs into metadata. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseMeta(pairs []string) (domain.Metadata, error) {
	md := domain.Metadata{}
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		md[key] = v
	}
	return md, nil
}

func outputStoreTable(cmd *cobra.Command, res domain.StoreResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Stored %s (%d/%d backends)\n", res.ID, res.BackendsAccepted, res.BackendsTotal)
	for _, o := range res.Outcomes {
		if o.Succeeded() {
			fmt.Fprintf(w, "  %-16s %s\n", o.Backend, color.GreenString("ok"))
			continue
		}
		fmt.Fprintf(w, "  %-16s %s\n", o.Backend, color.RedString("failed: %s", o.Error))
	}
	fmt.Fprintf(w, "Integrity: %s\n", res.IntegrityHash)
	if res.Anchored {
		fmt.Fprintf(w, "Anchored:  %s\n", res.AnchorRef)
	}
}
