package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

var (
	reconcileAll  bool
	reconcileFull bool
	tasksJSON     bool
	tasksHistory  int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [backend...]",
	Short: "Run reconciliation now",
	Long: `Pulls changes from the named backends since their last successful sync,
merges them into the unified index and propagates them to the other
backends.

With --full, every indexed record is pushed to the named backends instead;
use it to repopulate a backend that lost its data.`,
	RunE: runReconcile,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show reconciliation task status",
	Long: `Shows one reconciliation task per backend. Tasks of deregistered
backends stay listed as disabled until the next serve start.

With --history N, the last N ticks of every task are listed as well.`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every registered backend")
	reconcileCmd.Flags().BoolVar(&reconcileFull, "full", false, "push the whole index to the backend")
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "output tasks as JSON")
	tasksCmd.Flags().IntVar(&tasksHistory, "history", 0, "also show the last N ticks per task")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcilerService == nil || memoryService == nil {
		return errors.New("reconciler not configured")
	}

	names := args
	if reconcileAll {
		names = nil
		for _, b := range memoryService.Backends() {
			names = append(names, b.Name)
		}
	}
	if len(names) == 0 {
		return errors.New("name a backend or pass --all")
	}

	ctx := context.Background()
	w := cmd.OutOrStdout()
	var failed int
	for _, name := range names {
		if reconcileFull {
			n, err := reconcilerService.FullResync(ctx, name)
			if err != nil {
				failed++
				fmt.Fprintf(w, "%s: %s\n", name, color.RedString("resync failed: %v", err))
				continue
			}
			fmt.Fprintf(w, "%s: pushed %d records\n", name, n)
			continue
		}

		res, err := reconcilerService.RunOnce(ctx, name)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %s\n", name, color.RedString("failed: %v", err))
			continue
		}
		fmt.Fprintf(w, "%s: pulled %d records", name, res.ItemsProcessed)
		if res.PropagationFailures > 0 {
			fmt.Fprintf(w, ", %s", color.YellowString("%d peers rejected propagation", res.PropagationFailures))
		}
		fmt.Fprintln(w)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backends failed to reconcile", failed, len(names))
	}
	return nil
}

type taskOutput struct {
	domain.ScheduledTask
	History []domain.TaskResult `json:",omitempty"`
}

func runTasks(cmd *cobra.Command, _ []string) error {
	if reconcilerService == nil {
		return errors.New("reconciler not configured")
	}

	ctx := context.Background()
	tasks, err := reconcilerService.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	out := make([]taskOutput, 0, len(tasks))
	for _, t := range tasks {
		o := taskOutput{ScheduledTask: t}
		if tasksHistory > 0 {
			o.History, err = reconcilerService.History(ctx, t.Backend, tasksHistory)
			if err != nil {
				return fmt.Errorf("task history for %s: %w", t.Backend, err)
			}
		}
		out = append(out, o)
	}

	if wantJSON(cmd, tasksJSON) {
		return printJSON(cmd, out)
	}

	if len(out) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reconciliation tasks.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tSTATE\tINTERVAL\tLAST RUN\tLAST SUCCESS\tLAST ERROR")
	for _, t := range out {
		lastErr := t.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		state := "active"
		if !t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Backend, state, t.Interval, formatTime(t.LastRun), formatTime(t.LastSuccess), lastErr)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, t := range out {
		if len(t.History) == 0 {
			continue
		}
		outputHistory(cmd, t)
	}
	return nil
}

func outputHistory(cmd *cobra.Command, t taskOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%s:\n", t.Backend)
	for _, r := range t.History {
		status := color.GreenString("ok")
		if !r.Success {
			status = color.RedString("failed: %s", r.Error)
		}
		fmt.Fprintf(w, "  %s  %-8s pulled %d, %d peer failures  %s\n",
			formatTime(r.StartedAt), r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.ItemsProcessed, r.PropagationFailures, status)
	}
}
