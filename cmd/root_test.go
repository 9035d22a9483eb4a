package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	require.ElementsMatch(t, []string{"migrate", "seed", "crawl", "classify", "recheck"}, names)

	seedCmd, _, err := root.Find([]string{"seed"})
	require.NoError(t, err)
	require.NotNil(t, seedCmd.Flags().Lookup("advance-rank"))

	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveAppRequiresInitialization(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
