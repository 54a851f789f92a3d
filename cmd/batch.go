package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-engine/internal/model"
	"github.com/sells-group/intel-engine/internal/registry"
	"github.com/sells-group/intel-engine/pkg/notion"
)

var batchCmdLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process pending subjects from the Notion queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		limit := batchCmdLimit
		if limit == 0 {
			limit = cfg.Batch.Limit
		}

		subjects := registry.NewSubjectQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.SubjectDB)

		pending, err := subjects.Pending(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "query pending subjects")
		}

		return processBatch(ctx, env, subjects, pending, cfg.Batch.MaxConcurrentSubjects)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchCmdLimit, "limit", 0, "max number of subjects to process (default from config, 0 = all)")
	rootCmd.AddCommand(batchCmd)
}

// processBatch runs the pipeline for each pending subject concurrently,
// updating the Notion queue status as subjects progress. Individual failures
// do not abort the batch.
func processBatch(ctx context.Context, env *engineEnv, subjects *registry.SubjectQueue, pending []registry.Subject, concurrency int) error {
	if len(pending) == 0 {
		zap.L().Info("no pending subjects found")
		return nil
	}

	zap.L().Info("processing batch",
		zap.Int("subjects", len(pending)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, subject := range pending {
		g.Go(func() error {
			pc := model.NewPipelineContext(subject.Name, subject.Category, subject.Query)
			log := zap.L().With(
				zap.String("subject", subject.Name),
				zap.String("process_id", pc.ProcessID),
			)

			if err := subjects.MarkRunning(gctx, subject.PageID); err != nil {
				log.Warn("failed to mark subject running in notion", zap.Error(err))
			}

			summary, err := env.Orchestrator.Execute(gctx, pc)
			if err != nil {
				failed.Add(1)
				log.Error("pipeline failed", zap.Error(err))
				if nErr := subjects.MarkFailed(gctx, subject.PageID, pc.ProcessID); nErr != nil {
					log.Warn("failed to mark subject failed in notion", zap.Error(nErr))
				}
				return nil // don't abort batch on individual failure
			}

			if env.Deliverer != nil {
				if err := env.Deliverer.Deliver(gctx, summary); err != nil {
					log.Error("delivery failed", zap.Error(err))
				}
			}

			succeeded.Add(1)
			log.Info("pipeline complete",
				zap.Int("stages_completed", summary.StagesCompleted),
				zap.Float64("total_cost", summary.TotalCost),
			)
			if nErr := subjects.MarkCompleted(gctx, subject.PageID, pc.ProcessID); nErr != nil {
				log.Warn("failed to mark subject completed in notion", zap.Error(nErr))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
