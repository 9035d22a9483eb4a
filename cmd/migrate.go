package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the registry tables when missing",

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.store.EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("registry schema ensured")
			return nil
		},
	}
}
