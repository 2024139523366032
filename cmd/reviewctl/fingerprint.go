package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <dataset.json>",
	Short: "Print the fingerprint of a dataset file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := loadSnapshot(args[0], sample)
		if err != nil {
			return err
		}
		logr.Debug("dataset loaded")
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows\t%d reviewers\n", snapshot.Fingerprint, len(snapshot.Rows), len(snapshot.Reviewers()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}
