package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls unscraped organizations batch by batch",
		Long: `Drains the crawl queue: repeatedly takes a batch of organizations with a
start URL that have not been scraped, crawls each batch inside its domain
boundary, and records visited pages, discovered PDFs, and fetch failures
in the ledger. Finishes by recomputing scrape and document aggregates.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			sum, err := a.pipelineFor().Crawl(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl phase: %w", err)
			}

			a.logger.Info("crawl phase finished",
				zap.Int("batches", sum.Batches),
				zap.Int("organizations", sum.Organizations),
				zap.Int64("pages", sum.PagesVisited),
				zap.Int64("documents", sum.DocumentsFound),
				zap.Int64("failures", sum.FetchFailures),
			)
			return nil
		},
	}
}
