package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/source"
)

func newScrapeCmd() *cobra.Command {
	var (
		limit int
		input string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch page content for ranked domains",
		Long: `Loads the configured ranked domain list and fetches representative page
content for each domain through the bounded worker pool. Domains already
recorded as scraped are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.Config.Source.Limit
			}

			src := a.Source
			if input != "" {
				src = source.NewCSV(input, a.Logger)
			}

			ranked, err := src.Load(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load domain list: %w", err)
			}
			domains := make([]string, len(ranked))
			for i, r := range ranked {
				domains[i] = r.Domain
			}

			summary := a.Runner.Run(cmd.Context(), domains)
			a.Logger.Info("scrape finished",
				zap.Int("total", summary.Total),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max domains to load (0 uses source.limit)")
	cmd.Flags().StringVar(&input, "input", "", "ranked domain CSV (overrides source.path)")
	return cmd
}
