package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/portfolio-review-api/internal/service"
)

var (
	verbose bool
	sample  int
	logr    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "reviewctl",
	Short: "Offline tooling for portfolio reviews",
	Long: `reviewctl works on dataset, ledger and batch files without a server.
Reviewers record decisions into a local ledger and export it as a batch;
administrators fingerprint datasets, issue links and consolidate batches.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zapcore.WarnLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stderr"}
		cfg.EncoderConfig.TimeKey = ""
		if l, err := cfg.Build(); err == nil {
			logr = l
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().IntVar(&sample, "sample", service.DefaultFingerprintSample, "Rows hashed into the dataset fingerprint")
}
