package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedCmd() *cobra.Command {
	var advanceRank int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Resolves start URLs for organizations that have none",
		Long: `Queries the configured search API for organizations with no start URL and
no external domain override, records the ranked candidates, and applies
the top-ranked URL. With --advance-rank N, instead moves every unscraped
organization to its rank-N candidate, giving stalled crawls a fresh URL.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if advanceRank > 0 {
				if err := a.store.AdvanceStartURL(cmd.Context(), advanceRank); err != nil {
					return fmt.Errorf("advance start urls: %w", err)
				}
				a.logger.Info("start urls advanced", zap.Int("rank", advanceRank))
				return nil
			}

			sum, err := a.pipelineFor().Seed(cmd.Context(), a.cfg.Seed.QueryLimit)
			if err != nil {
				return fmt.Errorf("seed phase: %w", err)
			}

			a.logger.Info("seed phase finished",
				zap.Int("queried", sum.Queried),
				zap.Int("resolved", sum.Resolved),
				zap.Int("failed", sum.Failed),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&advanceRank, "advance-rank", 0, "move unscraped organizations to this seed-result rank instead of querying")
	return cmd
}
