package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

func newRetryCmd() *cobra.Command {
	var (
		limit         int
		lowConfidence bool
		threshold     int
	)

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-classify failed or low-confidence domains",
		Long: `Forces re-classification for domains whose previous attempt recorded a
classifier error, or (with --low-confidence) for domains labeled below the
confidence threshold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var results []pipeline.ClassificationResult
			if lowConfidence {
				results, err = a.Orchestrator.RetryLowConfidence(cmd.Context(), threshold, limit)
			} else {
				results, err = a.Orchestrator.RetryFailed(cmd.Context(), limit)
			}
			if err != nil {
				return fmt.Errorf("retry classifications: %w", err)
			}

			a.Logger.Info("retry finished", zap.Int("total", len(results)))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "max domains to retry")
	cmd.Flags().BoolVar(&lowConfidence, "low-confidence", false, "retry low-confidence labels instead of failures")
	cmd.Flags().IntVar(&threshold, "threshold", 5, "confidence threshold for --low-confidence")
	return cmd
}
