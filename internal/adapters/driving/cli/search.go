package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var (
	searchLimit     int
	searchNamespace string
	searchMeta      []string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories across every backend",
	Long: `Sends the query to every backend in parallel and fuses the hits.
A record found by several backends appears once with its highest score.
Backends that miss the search deadline are listed but do not fail the search.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationRuntime: runtimeHydrate},
	RunE:        runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchNamespace, "namespace", "", "restrict results to a namespace")
	searchCmd.Flags().StringArrayVarP(&searchMeta, "meta", "m", nil, "require metadata key=value (repeatable)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	if memoryService == nil {
		return errors.New("memory service not configured")
	}

	required, err := parseMeta(searchMeta)
	if err != nil {
		return err
	}
	opts := domain.SearchOptions{
		Namespace: searchNamespace,
		Limit:     searchLimit,
	}
	if len(required) > 0 {
		opts.RequiredMetadata = required
	}

	resp, err := memoryService.Search(context.Background(), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if wantJSON(cmd, searchJSON) {
		if resp.Results == nil {
			resp.Results = []domain.SearchResult{}
		}
		return printJSON(cmd, resp)
	}
	outputSearchTable(cmd, resp)
	return nil
}

func outputSearchTable(cmd *cobra.Command, resp domain.SearchResponse) {
	w := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
	} else {
		fmt.Fprintln(w, "Results:")
		fmt.Fprintln(w)
		for i, r := range resp.Results {
			fmt.Fprintf(w, "  [%d] %s (%.2f)\n", i+1, r.Record.ID, r.Score)
			fmt.Fprintf(w, "      Backends: %s\n", strings.Join(r.ContributingBackends, ", "))
			if r.Record.Namespace != "" {
				fmt.Fprintf(w, "      Namespace: %s\n", r.Record.Namespace)
			}
			fmt.Fprintf(w, "      %s\n", truncate(oneLine(r.Record.Content), 120))
			fmt.Fprintln(w)
		}
	}

	for _, f := range resp.Failed {
		fmt.Fprintf(w, "Unavailable: %s (%s)\n", f.Backend, f.Error)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
