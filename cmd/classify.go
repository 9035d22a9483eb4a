package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classifies downloaded documents that have no verdict yet",
		Long: `Runs the parallel classifier over every stored document with neither a
verdict nor a recorded exception. Each document gets a hard per-item time
budget; documents that exceed it stay pending and are retried on the next
run, while extraction failures are recorded as exceptions. Finishes by
recomputing per-organization SBC counts.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			sum, err := a.pipelineFor().Classify(cmd.Context())
			if err != nil {
				return fmt.Errorf("classify phase: %w", err)
			}

			a.logger.Info("classify phase finished",
				zap.Int("pending", sum.Pending),
				zap.Int("sbcs", sum.SBCs),
				zap.Int("non_sbcs", sum.NonSBCs),
				zap.Int("exceptions", sum.Exceptions),
				zap.Int("timeouts", sum.Timeouts),
			)
			return nil
		},
	}
}
