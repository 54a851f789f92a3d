package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-engine/internal/ingest"
	"github.com/sells-group/intel-engine/internal/registry"
	"github.com/sells-group/intel-engine/pkg/notion"
)

var (
	importFile     string
	importSheet    string
	importNameCol  string
	importCategory string
	importToNotion bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import subjects from a spreadsheet into the run queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		subjects, err := ingest.ReadSubjects(importFile, ingest.Options{
			SheetName:      importSheet,
			NameColumn:     importNameCol,
			CategoryColumn: importCategory,
		})
		if err != nil {
			return eris.Wrap(err, "read subjects")
		}

		var queued int
		if importToNotion {
			if cfg.Notion.Token == "" || cfg.Notion.SubjectDB == "" {
				return eris.New("--to-notion requires notion.token and notion.subject_db")
			}
			queue := registry.NewSubjectQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.SubjectDB)
			for _, s := range subjects {
				if err := queue.Add(ctx, registry.Subject{Name: s.Name, Category: s.Category}); err != nil {
					zap.L().Warn("failed to add subject to notion",
						zap.String("subject", s.Name),
						zap.Error(err),
					)
					continue
				}
				queued++
			}
		} else {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
			if queued, err = st.QueueSubjects(ctx, subjects); err != nil {
				return eris.Wrap(err, "queue subjects")
			}
		}

		zap.L().Info("import complete",
			zap.Int("queued", queued),
			zap.Int("parsed", len(subjects)),
			zap.String("file", importFile),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to .xlsx or .csv file (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name (default: first sheet)")
	importCmd.Flags().StringVar(&importNameCol, "name-column", "", "subject name column header (default: subject/name/company)")
	importCmd.Flags().StringVar(&importCategory, "category-column", "", "category column header (default: category)")
	importCmd.Flags().BoolVar(&importToNotion, "to-notion", false, "seed the Notion subject database instead of the local run queue")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
