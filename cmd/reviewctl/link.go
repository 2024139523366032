package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
)

var (
	linkReviewers   []string
	linkMonth       int
	linkYear        int
	linkBaseURL     string
	linkFingerprint string
	linkTokenLength int
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Print reviewer access links",
	Long: `Print one access link per reviewer. The token secret is read from
ACCESS_TOKEN_SECRET and must match the server's.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := models.NewReviewPeriod(linkMonth, linkYear)
		if err != nil {
			return err
		}
		access := service.NewAccessService(service.AccessServiceConfig{
			Secret:      os.Getenv("ACCESS_TOKEN_SECRET"),
			TokenLength: linkTokenLength,
			BaseURL:     linkBaseURL,
		}, nil, nil, logr)
		if !access.Keyed() {
			logr.Warn("ACCESS_TOKEN_SECRET is empty, tokens are derivable from public data")
		}
		for _, reviewer := range linkReviewers {
			link, err := access.BuildLink("", reviewer, period, linkFingerprint)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", reviewer, link)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().StringSliceVarP(&linkReviewers, "reviewer", "r", nil, "Reviewer id (repeatable)")
	linkCmd.Flags().IntVar(&linkMonth, "month", 0, "Review month")
	linkCmd.Flags().IntVar(&linkYear, "year", 0, "Review year")
	linkCmd.Flags().StringVar(&linkBaseURL, "base-url", "http://localhost:8080/api/v1/access", "Access endpoint")
	linkCmd.Flags().StringVar(&linkFingerprint, "fingerprint", "", "Pin links to a snapshot fingerprint")
	linkCmd.Flags().IntVar(&linkTokenLength, "token-length", service.DefaultTokenLength, "Token length in hex characters")
	linkCmd.MarkFlagRequired("reviewer")
	linkCmd.MarkFlagRequired("month")
	linkCmd.MarkFlagRequired("year")
}
