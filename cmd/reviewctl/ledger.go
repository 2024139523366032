package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/portfolio-review-api/internal/models"
)

var (
	ledgerDataset  string
	ledgerFile     string
	ledgerReviewer string

	recordOrder         string
	recordMaterial      string
	recordAction        string
	recordDueDate       string
	recordJustification string

	exportOut    string
	progressList bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Record decisions in a local reviewer ledger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCmd.PersistentPreRun(cmd, args)
		if ledgerFile == "" {
			ledgerFile = defaultLedgerPath(ledgerReviewer)
		}
		return nil
	},
}

var ledgerRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a decision for one order line",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(ledgerDataset, ledgerFile, ledgerReviewer, sample)
		if err != nil {
			return err
		}
		record, err := ledger.Record(models.RecordInput{
			OrderID:       recordOrder,
			MaterialID:    recordMaterial,
			Action:        models.Action(recordAction),
			NewDueDate:    recordDueDate,
			Justification: recordJustification,
		})
		if err != nil {
			return err
		}
		if err := writeJSON(ledgerFile, ledger.Export()); err != nil {
			return err
		}
		decided, total := ledger.Progress()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d/%d decided)\n", record.Key, record.Action, decided, total)
		return nil
	},
}

var ledgerProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show decided and pending order lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(ledgerDataset, ledgerFile, ledgerReviewer, sample)
		if err != nil {
			return err
		}
		decided, total := ledger.Progress()
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d decided\n", ledger.ReviewerID(), decided, total)
		if progressList {
			for _, key := range ledger.Pending() {
				fmt.Fprintf(cmd.OutOrStdout(), "pending\t%s\n", key)
			}
		}
		return nil
	},
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger as a batch file for submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(ledgerDataset, ledgerFile, ledgerReviewer, sample)
		if err != nil {
			return err
		}
		batch := ledger.Export()
		if exportOut == "" {
			exportOut = fmt.Sprintf("batch-%s-%s.json", ledger.ReviewerID(), batch.ExportedAt.Format("20060102T150405Z"))
		}
		if err := writeJSON(exportOut, batch); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records written to %s\n", len(batch.Records), exportOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerRecordCmd, ledgerProgressCmd, ledgerExportCmd)

	ledgerCmd.PersistentFlags().StringVarP(&ledgerDataset, "dataset", "d", "", "Dataset file the ledger is opened against")
	ledgerCmd.PersistentFlags().StringVarP(&ledgerFile, "ledger", "l", "", "Ledger file (default ledger-<reviewer>.json)")
	ledgerCmd.PersistentFlags().StringVarP(&ledgerReviewer, "reviewer", "r", "", "Reviewer id")
	ledgerCmd.MarkPersistentFlagRequired("dataset")
	ledgerCmd.MarkPersistentFlagRequired("reviewer")

	ledgerRecordCmd.Flags().StringVar(&recordOrder, "order", "", "Order id")
	ledgerRecordCmd.Flags().StringVar(&recordMaterial, "material", "", "Material id")
	ledgerRecordCmd.Flags().StringVar(&recordAction, "action", string(models.ActionConfirmed), "CONFIRMED or RESCHEDULED")
	ledgerRecordCmd.Flags().StringVar(&recordDueDate, "due", "", "New due date (YYYY-MM-DD) for RESCHEDULED")
	ledgerRecordCmd.Flags().StringVar(&recordJustification, "justification", "", "Free-text justification")
	ledgerRecordCmd.MarkFlagRequired("order")

	ledgerProgressCmd.Flags().BoolVar(&progressList, "pending", false, "List pending order lines")

	ledgerExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Batch file to write")
}
