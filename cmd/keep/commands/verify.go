package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Round-trip a probe record through the configured store",
		Long: `Verify opens the configured store and runs a full session cycle against
it: insert a probe record, reload it in a fresh session, update it, query
it back, and delete it. The probe is removed again before verify returns,
so the store is left as it was found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return c.app.Verify(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}
}
