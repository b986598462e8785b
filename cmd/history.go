package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harshul/droidpanel/internal/history/sqlite"
	"github.com/harshul/droidpanel/internal/model"
	"github.com/harshul/droidpanel/internal/tasktimer"
	"github.com/harshul/droidpanel/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the finished tasks",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show, 0 shows all")
	historyCmd.Flags().Bool("clear", false, "Delete the history")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	clearHistory, _ := cmd.Flags().GetBool("clear")

	logger, err := getLogger(os.Stderr)
	if err != nil {
		return err
	}
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: opts.DBPath, Logger: logger})
	if err != nil {
		return err
	}
	defer repo.Close()

	if clearHistory {
		if ui.Interactive() {
			ok, err := ui.Confirm("Delete the task history?", false)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := repo.DeleteTaskRuns(ctx); err != nil {
			return err
		}
		ui.PrintSuccess("History deleted")
		return nil
	}

	runs, err := repo.ListTaskRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No tasks run yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTASK\tOUTCOME\tDURATION\tDETAIL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.StartedAt), r.Label, r.Outcome, tasktimer.Format(r.Duration()), detail(r))
	}
	return w.Flush()
}

func detail(r model.TaskRun) string {
	if r.Outcome != model.OutcomeFailed {
		return ""
	}
	if r.FailedStep != "" {
		return fmt.Sprintf("%s (code %d)", r.FailedStep, r.ExitCode)
	}
	return fmt.Sprintf("code %d", r.ExitCode)
}
