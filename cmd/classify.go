package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

func newClassifyCmd() *cobra.Command {
	var (
		limit int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "classify [domain...]",
		Short: "Classify scraped domains into topical categories",
		Long: `Labels scraped-but-unclassified domains in batches using the configured
classification backend. Low-quality or errored scrape text is classified
from the domain name alone. With explicit domain arguments only those
domains are labeled; --force reclassifies them even if already labeled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var results []pipeline.ClassificationResult
			if len(args) > 0 {
				results = a.Orchestrator.LabelBatches(cmd.Context(), args, force)
			} else {
				results, err = a.Orchestrator.ClassifyUnclassified(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("classify domains: %w", err)
				}
			}

			errored := 0
			for _, r := range results {
				if r.Error != nil {
					errored++
				}
			}
			a.Logger.Info("classification finished",
				zap.Int("total", len(results)),
				zap.Int("errored", errored),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "max domains to classify")
	cmd.Flags().BoolVar(&force, "force", false, "reclassify explicit domains even if already labeled")
	return cmd
}
