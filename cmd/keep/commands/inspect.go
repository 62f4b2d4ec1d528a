package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the record types and keys in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			showKeys, _ := cmd.Flags().GetBool("keys")
			return c.app.Inspect(cmd.Context(), cmd.OutOrStdout(), configPath, showKeys)
		},
	}
	cmd.Flags().BoolP("keys", "k", false, "List every key instead of record counts")
	return cmd
}
