package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/model"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered pipelines",
}

// -- dlq list --

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered pipelines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.ListDeadLetters(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDeadLetters(os.Stdout, entries)
		return nil
	},
}

// -- dlq retry --

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <process-id>",
	Short: "Re-run a dead-lettered pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		processID := args[0]

		env, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListDeadLetters(ctx, 0)
		if err != nil {
			return eris.Wrap(err, "dlq retry")
		}

		var entry *model.DeadLetterEntry
		for i := range entries {
			if entries[i].ProcessID == processID {
				entry = &entries[i]
				break
			}
		}
		if entry == nil {
			return eris.Errorf("no dead letter for process %s", processID)
		}

		if err := env.Store.DeleteDeadLetter(ctx, processID); err != nil {
			zap.L().Warn("dead letter delete failed", zap.Error(err))
		}

		// Retry keeps the process id so the run history stays on one row.
		pc := model.NewPipelineContext(entry.Subject, entry.Category, "")
		pc.ProcessID = entry.ProcessID

		summary, err := env.Orchestrator.Execute(ctx, pc)
		if err != nil {
			return eris.Wrap(err, "pipeline retry")
		}

		zap.L().Info("retry complete",
			zap.String("process_id", summary.ProcessID),
			zap.Int("stages_completed", summary.StagesCompleted),
		)

		if env.Deliverer != nil {
			if err := env.Deliverer.Deliver(ctx, summary); err != nil {
				return eris.Wrap(err, "deliver summary")
			}
		}
		return nil
	},
}

func init() {
	dlqListCmd.Flags().Int("limit", 100, "max number of entries to display")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatDeadLetters writes a tabular list of dead-letter entries to w.
func formatDeadLetters(out io.Writer, entries []model.DeadLetterEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROCESS_ID\tSUBJECT\tFAILED_STAGE\tRETRIES\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "----------\t-------\t------------\t-------\t-------\t-----")

	for _, e := range entries {
		errMsg := e.Error
		if len(errMsg) > 50 {
			errMsg = errMsg[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(e.ProcessID),
			e.Subject,
			e.FailedStage,
			e.RetryCount,
			e.CreatedAt.Format(time.RFC3339),
			errMsg,
		)
	}
	_ = w.Flush()
}
