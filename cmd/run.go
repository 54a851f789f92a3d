package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/model"
)

var (
	runSubject      string
	runCategory     string
	runQuery        string
	runTemperatures []float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collection pipeline for a single subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		pc := model.NewPipelineContext(runSubject, runCategory, runQuery)
		pc.Temperatures = runTemperatures

		summary, err := env.Orchestrator.Execute(ctx, pc)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("collection complete",
			zap.String("process_id", summary.ProcessID),
			zap.String("subject", summary.Subject),
			zap.Int("stages_completed", summary.StagesCompleted),
			zap.Float64("total_cost", summary.TotalCost),
		)

		if env.Deliverer != nil {
			if err := env.Deliverer.Deliver(ctx, summary); err != nil {
				return eris.Wrap(err, "deliver summary")
			}
			zap.L().Info("summary delivered", zap.String("process_id", summary.ProcessID))
		}

		// Print summary JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runSubject, "subject", "", "research subject (required)")
	runCmd.Flags().StringVar(&runCategory, "category", "", "subject category (e.g. pharma, finance)")
	runCmd.Flags().StringVar(&runQuery, "query", "", "search query (defaults to the subject)")
	runCmd.Flags().Float64SliceVar(&runTemperatures, "temperatures", nil, "sweep each provider across these temperatures (e.g. 0.2,0.7)")
	_ = runCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(runCmd)
}
