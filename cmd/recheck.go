package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/recheck"
)

func newRecheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recheck",
		Short: "Reprocesses URLs that failed during crawl batches",
		Long: `Walks the recorded crawl failures with the trust-degrading fetcher: where
the crawl gave up on certificate errors, the recheck descends through the
OS trust store, a bundled root set, and finally unverified TLS. Recovered
PDFs are stored and classified inline; recovered HTML pages have their PDF
links followed.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			client, err := a.fetcherFor()
			if err != nil {
				return fmt.Errorf("build fetcher: %w", err)
			}

			runner := &recheck.Runner{
				Store:    a.store,
				Fetch:    client,
				Docs:     a.docs,
				MaxPages: a.cfg.Classifier.MaxPages,
				Metrics:  a.metrics,
				Logger:   a.logger,
			}

			sum, err := runner.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("recheck phase: %w", err)
			}

			a.logger.Info("recheck phase finished",
				zap.Int("attempted", sum.Attempted),
				zap.Int("recovered", sum.Recovered),
				zap.Int("still_failing", sum.StillFailing),
				zap.Int("documents", sum.Documents),
				zap.Int("sbcs", sum.SBCs),
			)
			return nil
		},
	}
}
