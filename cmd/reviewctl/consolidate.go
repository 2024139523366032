package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
)

var (
	consolidateDataset   string
	consolidateCanonical string
	consolidateReport    string
	consolidatePeriod    string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <batch.json>...",
	Short: "Merge reviewer batches into a canonical file",
	Long: `Merge batches into the canonical revision map stored at --canonical.
Without --dataset, stale-reference detection is disabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		canonical, report, err := consolidateFiles(consolidateDataset, consolidateCanonical, consolidatePeriod, args, sample)
		if err != nil {
			return err
		}
		if err := writeJSON(consolidateCanonical, canonical); err != nil {
			return err
		}
		if consolidateReport != "" {
			if err := writeJSON(consolidateReport, report); err != nil {
				return err
			}
		}
		t := report.Totals
		fmt.Fprintf(cmd.OutOrStdout(), "batches %d, records %d, applied %d, conflicts %d, stale %d\n",
			t.Batches, t.Records, t.Applied, t.Conflicts, t.Stale)
		for _, c := range report.Conflicts {
			fmt.Fprintf(cmd.OutOrStdout(), "conflict\t%s\tkept %s %s\tdropped %s %s\n",
				c.Key, c.Winner.ReviewerID, c.Winner.Action, c.Loser.ReviewerID, c.Loser.Action)
		}
		return nil
	},
}

func consolidateFiles(datasetPath, canonicalPath, period string, batchPaths []string, sampleRows int) (models.CanonicalRevisionMap, models.ConsolidationReport, error) {
	batches := make([]models.Batch, 0, len(batchPaths))
	for _, path := range batchPaths {
		batch, err := loadBatch(path)
		if err != nil {
			return models.CanonicalRevisionMap{}, models.ConsolidationReport{}, err
		}
		if period == "" {
			period = batch.Period
		}
		if batch.Period != "" && batch.Period != period {
			return models.CanonicalRevisionMap{}, models.ConsolidationReport{},
				fmt.Errorf("batch %s belongs to period %s, not %s", path, batch.Period, period)
		}
		batches = append(batches, batch)
	}

	var base service.ConsolidationBase
	if datasetPath != "" {
		snapshot, err := loadSnapshot(datasetPath, sampleRows)
		if err != nil {
			return models.CanonicalRevisionMap{}, models.ConsolidationReport{}, err
		}
		base = service.BaseFromSnapshot(snapshot)
		if period == "" {
			period = snapshot.Period
		}
	} else {
		logr.Warn("no dataset given, stale references will not be detected")
	}

	existing, err := loadCanonical(canonicalPath, period)
	if err != nil {
		return models.CanonicalRevisionMap{}, models.ConsolidationReport{}, err
	}
	canonical, report := service.Consolidate(existing, service.SortBatches(batches), base)
	logr.Debug("consolidated", zap.Int("records", len(canonical.Records)), zap.Int("conflicts", report.Totals.Conflicts))
	return canonical, report, nil
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.Flags().StringVarP(&consolidateDataset, "dataset", "d", "", "Current dataset file")
	consolidateCmd.Flags().StringVarP(&consolidateCanonical, "canonical", "c", "canonical.json", "Canonical map file, updated in place")
	consolidateCmd.Flags().StringVar(&consolidateReport, "report", "", "Write the full consolidation report here")
	consolidateCmd.Flags().StringVar(&consolidatePeriod, "period", "", "Review period YYYY-MM (default from batches)")
}
